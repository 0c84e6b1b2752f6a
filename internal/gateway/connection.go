package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mkbray/jemima/internal/engine"
	"github.com/mkbray/jemima/internal/models"
)

const (
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is the deployment's concern; the engine is safe
		// against any caller.
		return true
	},
}

// command is one inbound client message.
type command struct {
	Type     string                             `json:"type"`
	Round    int                                `json:"round,omitempty"`
	Choices  [models.TripletSize]string         `json:"choices,omitempty"`
	Verdicts [models.TripletSize]models.Verdict `json:"verdicts,omitempty"`
	Index    int                                `json:"index,omitempty"`
	Verdict  models.Verdict                     `json:"verdict,omitempty"`
	Answer   string                             `json:"answer,omitempty"`
}

// serverMsg is one outbound message: either a view projection or an error.
type serverMsg struct {
	Type  string       `json:"type"`
	View  *engine.View `json:"view,omitempty"`
	Error string       `json:"error,omitempty"`
}

// handleWS upgrades the connection and binds it to an engine session. Each
// websocket gets its own session; several tabs of the same peer simply mean
// several subscribers of the same documents, which the store is built for.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	uid := r.URL.Query().Get("uid")
	if !models.ValidRoomCode(code) || uid == "" {
		httpError(w, http.StatusBadRequest, "room code and uid are required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("websocket upgrade failed")
		return
	}
	connID := uuid.New().String()[:8]

	send := make(chan serverMsg, sendBuffer)
	sess, err := engine.NewSession(r.Context(), s.repo, code, uid, engine.Options{
		Config: s.cfg.Engine,
		Clock:  s.clock,
		OnView: func(v engine.View) {
			select {
			case send <- serverMsg{Type: "view", View: &v}:
			default:
				log.Warn().Str("conn", connID).Str("room", code).Msg("send buffer full, dropping view")
			}
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("room", code).Str("uid", uid).Msg("session refused")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "no seat in room"),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
		return
	}

	log.Info().Str("conn", connID).Str("room", code).Str("side", string(sess.Side())).Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	go s.writePump(ctx, conn, connID, send)

	// Initial projection so the client renders without waiting for a change.
	send <- serverMsg{Type: "view", View: viewPtr(sess.View())}

	s.readPump(ctx, conn, connID, sess, send)
	cancel()
	sess.Close()
	_ = conn.Close()
}

func viewPtr(v engine.View) *engine.View { return &v }

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, connID string, sess *engine.Session, send chan<- serverMsg) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn", connID).Msg("websocket read failed")
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			send <- serverMsg{Type: "error", Error: "malformed command"}
			continue
		}
		if err := s.dispatch(ctx, sess, cmd); err != nil {
			send <- serverMsg{Type: "error", Error: err.Error()}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sess *engine.Session, cmd command) error {
	switch cmd.Type {
	case "start_countdown":
		return sess.StartCountdown(ctx)
	case "submit_answers":
		return sess.SubmitAnswers(ctx, cmd.Round, cmd.Choices)
	case "stage_verdict":
		return sess.StageVerdict(cmd.Round, cmd.Index, cmd.Verdict)
	case "submit_verdicts":
		return sess.SubmitVerdicts(ctx, cmd.Round, cmd.Verdicts)
	case "ack_award":
		return sess.AcknowledgeAward(ctx, cmd.Round)
	case "submit_maths":
		return sess.SubmitMaths(ctx, cmd.Answer)
	case "resolve_race":
		// Escape hatch: either peer may volunteer the resolver; the
		// transaction's guards make it safe.
		return sess.ResolveRace(ctx, cmd.Round)
	default:
		return ErrUnknownCommand
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, connID string, send <-chan serverMsg) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("conn", connID).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
