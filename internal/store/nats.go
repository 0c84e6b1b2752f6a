package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NotifierConfig holds NATS connection settings for the snapshot bridge.
type NotifierConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNotifierConfig returns the default bridge configuration.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "jemima.doc",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Notifier publishes committed document snapshots to NATS and feeds remote
// subscriptions from them. Subjects are <prefix>.<collection>.<id>, so a
// subscriber of one document sees that document's snapshots in publish order.
type Notifier struct {
	nc     *nats.Conn
	prefix string
}

// wireSnapshot is the NATS payload for one committed snapshot.
type wireSnapshot struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// NewNotifier connects to NATS with reconnect handling in place.
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Notifier{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

func (n *Notifier) subject(ref Ref) string {
	return fmt.Sprintf("%s.%s.%s", n.prefix, ref.Collection, ref.ID)
}

// Publish sends a committed snapshot. Failures are logged, not surfaced: the
// database remains the source of truth and subscribers re-seed on subscribe.
func (n *Notifier) Publish(snap Snapshot) {
	payload, err := json.Marshal(wireSnapshot{
		Collection: snap.Ref.Collection,
		ID:         snap.Ref.ID,
		Data:       snap.Data,
		Version:    snap.Version,
		UpdatedAt:  snap.UpdatedAt,
	})
	if err != nil {
		log.Error().Err(err).Str("doc", snap.Ref.String()).Msg("encode snapshot for publish")
		return
	}
	if err := n.nc.Publish(n.subject(snap.Ref), payload); err != nil {
		log.Error().Err(err).Str("doc", snap.Ref.String()).Msg("publish snapshot")
	}
}

// Subscribe invokes fn for every snapshot of ref published after the
// subscription is made.
func (n *Notifier) Subscribe(ref Ref, fn func(Snapshot)) (Unsubscribe, error) {
	sub, err := n.nc.Subscribe(n.subject(ref), func(msg *nats.Msg) {
		var w wireSnapshot
		if err := json.Unmarshal(msg.Data, &w); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("decode snapshot")
			return
		}
		fn(Snapshot{
			Ref:       Ref{Collection: w.Collection, ID: w.ID},
			Data:      w.Data,
			Version:   w.Version,
			UpdatedAt: w.UpdatedAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ref, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Str("doc", ref.String()).Msg("unsubscribe")
		}
	}, nil
}

// Close drains the underlying connection.
func (n *Notifier) Close() {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
	}
}
