package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Schema is the single table every document lives in.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	version    BIGINT      NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
`

// ChangeNotifier carries committed snapshots between processes. The NATS
// bridge implements it; see Notifier.
type ChangeNotifier interface {
	Publish(snap Snapshot)
	Subscribe(ref Ref, fn func(Snapshot)) (Unsubscribe, error)
}

// Postgres is a Store backed by a single documents table. Transactions run
// with row locks (SELECT ... FOR UPDATE), so every read inside a transaction
// observes the state its writes will land on. Change notification rides an
// external ChangeNotifier because LISTEN-style delivery has to cross
// processes.
type Postgres struct {
	pool     *pgxpool.Pool
	notifier ChangeNotifier
}

// NewPostgres wraps an existing pool. The notifier receives every committed
// snapshot and backs Subscribe.
func NewPostgres(pool *pgxpool.Pool, notifier ChangeNotifier) *Postgres {
	return &Postgres{pool: pool, notifier: notifier}
}

// EnsureSchema creates the documents table if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return Transient(fmt.Errorf("ensure schema: %w", err))
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, ref Ref) (Snapshot, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT data, version, updated_at FROM documents WHERE collection = $1 AND id = $2`,
		ref.Collection, ref.ID)
	return scanSnapshot(ref, row)
}

func (p *Postgres) Create(ctx context.Context, ref Ref, doc any) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	row := p.pool.QueryRow(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		 RETURNING data, version, updated_at`,
		ref.Collection, ref.ID, data)
	snap, err := scanSnapshot(ref, row)
	if err != nil {
		return err
	}
	p.publish(snap)
	return nil
}

func (p *Postgres) Update(ctx context.Context, ref Ref, fields map[string]any) error {
	return p.RunTransaction(ctx, func(tx Tx) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Update(ref, fields)
	})
}

func (p *Postgres) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	pgtx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return Transient(fmt.Errorf("begin transaction: %w", err))
	}

	tx := &pgTx{ctx: ctx, tx: pgtx}
	if err := fn(tx); err != nil {
		_ = pgtx.Rollback(ctx)
		return err
	}
	if err := tx.flush(); err != nil {
		_ = pgtx.Rollback(ctx)
		return mapPgError(err)
	}
	if err := pgtx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	for _, snap := range tx.committed {
		p.publish(snap)
	}
	return nil
}

func (p *Postgres) Subscribe(ref Ref, fn func(Snapshot)) (Unsubscribe, error) {
	if p.notifier == nil {
		return nil, fmt.Errorf("postgres store has no change notifier")
	}
	unsub, err := p.notifier.Subscribe(ref, fn)
	if err != nil {
		return nil, err
	}
	// Seed with the current state; a stale double-delivery is harmless since
	// subscribers are expected to handle replayed snapshots.
	if snap, err := p.Get(context.Background(), ref); err == nil {
		fn(snap)
	}
	return unsub, nil
}

func (p *Postgres) publish(snap Snapshot) {
	if p.notifier == nil {
		return
	}
	p.notifier.Publish(snap)
}

// pgTx buffers writes like the in-memory store: reads lock rows FOR UPDATE,
// writes execute at flush time in call order, and committed snapshots are
// captured for post-commit notification.
type pgTx struct {
	ctx       context.Context
	tx        pgx.Tx
	writes    []func() error
	committed []Snapshot
}

func (t *pgTx) Get(ref Ref) (Snapshot, error) {
	row := t.tx.QueryRow(t.ctx,
		`SELECT data, version, updated_at FROM documents
		 WHERE collection = $1 AND id = $2 FOR UPDATE`,
		ref.Collection, ref.ID)
	snap, err := scanSnapshot(ref, row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Snapshot{}, mapPgError(err)
	}
	return snap, err
}

func (t *pgTx) Set(ref Ref, doc any) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, func() error {
		row := t.tx.QueryRow(t.ctx,
			`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
			 ON CONFLICT (collection, id)
			 DO UPDATE SET data = EXCLUDED.data, version = documents.version + 1, updated_at = now()
			 RETURNING data, version, updated_at`,
			ref.Collection, ref.ID, data)
		snap, err := scanSnapshot(ref, row)
		if err != nil {
			return err
		}
		t.committed = append(t.committed, snap)
		return nil
	})
	return nil
}

func (t *pgTx) Update(ref Ref, fields map[string]any) error {
	t.writes = append(t.writes, func() error {
		row := t.tx.QueryRow(t.ctx,
			`SELECT data, version, updated_at FROM documents
			 WHERE collection = $1 AND id = $2 FOR UPDATE`,
			ref.Collection, ref.ID)
		snap, err := scanSnapshot(ref, row)
		if err != nil {
			return err
		}
		var data map[string]any
		if err := snap.DataTo(&data); err != nil {
			return err
		}
		if err := applyFieldPaths(data, fields); err != nil {
			return err
		}
		row = t.tx.QueryRow(t.ctx,
			`UPDATE documents SET data = $3, version = version + 1, updated_at = now()
			 WHERE collection = $1 AND id = $2
			 RETURNING data, version, updated_at`,
			ref.Collection, ref.ID, data)
		snap, err = scanSnapshot(ref, row)
		if err != nil {
			return err
		}
		t.committed = append(t.committed, snap)
		return nil
	})
	return nil
}

func (t *pgTx) flush() error {
	for _, apply := range t.writes {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanSnapshot(ref Ref, row pgRow) (Snapshot, error) {
	var (
		data      []byte
		version   int64
		updatedAt time.Time
	)
	if err := row.Scan(&data, &version, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return Snapshot{}, mapPgError(fmt.Errorf("read %s: %w", ref, err))
	}
	return Snapshot{Ref: ref, Data: data, Version: version, UpdatedAt: updatedAt}, nil
}

// mapPgError folds Postgres failure modes onto the store taxonomy:
// serialization and deadlock aborts mean another writer won, unique violations
// mean the document exists, everything else is infrastructure.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrPreconditionFailed) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrPreconditionFailed, pgErr.Code)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.ConstraintName)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	log.Debug().Err(err).Msg("treating store error as transient")
	return Transient(err)
}
