package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mkbray/jemima/internal/store"
)

// errSuperseded is returned inside a transaction closure when the re-checked
// preconditions show another writer already did the work. Treated as
// success-by-other, never surfaced.
var errSuperseded = errors.New("superseded by another writer")

// withRetry applies the uniform retry policy to a store operation: transient
// failures back off exponentially for a bounded number of attempts, benign
// outcomes (precondition lost, superseded) succeed immediately, everything
// else surfaces as-is.
func (s *Session) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := s.cfg.RetryBackoff
	var err error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		err = fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errSuperseded), errors.Is(err, store.ErrPreconditionFailed):
			log.Debug().Str("room", s.code).Str("op", op).Msg("already done by another writer")
			return nil
		case store.IsTransient(err):
			if attempt == s.cfg.RetryAttempts {
				break
			}
			log.Warn().Err(err).Str("room", s.code).Str("op", op).Int("attempt", attempt).
				Msg("transient store failure, backing off")
			select {
			case <-s.clock.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		default:
			return err
		}
	}
	log.Warn().Err(err).Str("room", s.code).Str("op", op).Msg("retries exhausted")
	return err
}
