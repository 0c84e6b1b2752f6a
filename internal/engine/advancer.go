package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mkbray/jemima/internal/models"
	"github.com/mkbray/jemima/internal/room"
	"github.com/mkbray/jemima/internal/store"
)

// advanceRound moves the room on once both sides have dismissed the award
// screen: another countdown while rounds remain, the maths phase after the
// fifth. Same idempotence discipline as the resolver: phase and both acks
// are re-checked inside the transaction.
func (s *Session) advanceRound(ctx context.Context, rnd int) error {
	return s.st.RunTransaction(ctx, func(tx store.Tx) error {
		snap, err := tx.Get(store.RoomRef(s.code))
		if err != nil {
			return err
		}
		rm, err := room.DecodeRoom(snap)
		if err != nil {
			return err
		}
		next, nextRound := room.NextAfterAward(rnd)
		if rm.Round != rnd || !room.ValidTransition(rm.Phase, next) {
			return errSuperseded
		}
		if !room.BothAcknowledgedAward(rm, rnd) {
			return errSuperseded
		}

		fields := map[string]any{
			"phase": next,
			"round": nextRound,
		}
		if next == models.PhaseCountdown {
			fields["countdownDeadline"] = s.clock.Now().Add(s.cfg.CountdownLead)
		} else {
			fields["countdownDeadline"] = nil
		}
		if err := tx.Update(store.RoomRef(s.code), fields); err != nil {
			return err
		}
		log.Info().Str("room", s.code).Int("round", rnd).
			Str("next_phase", string(next)).Int("next_round", nextRound).
			Msg("award acknowledged by both sides, advancing")
		return nil
	})
}

// finishMaths flips Maths -> Final once both puzzle answers are recorded.
func (s *Session) finishMaths(ctx context.Context) error {
	return s.st.RunTransaction(ctx, func(tx store.Tx) error {
		snap, err := tx.Get(store.RoomRef(s.code))
		if err != nil {
			return err
		}
		rm, err := room.DecodeRoom(snap)
		if err != nil {
			return err
		}
		if !room.ValidTransition(rm.Phase, models.PhaseFinal) {
			return errSuperseded
		}
		if !room.BothMathsIn(rm) {
			return errSuperseded
		}
		if err := tx.Update(store.RoomRef(s.code), map[string]any{
			"phase": models.PhaseFinal,
		}); err != nil {
			return err
		}
		log.Info().Str("room", s.code).Msg("both puzzle answers in, room final")
		return nil
	})
}
