package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mkbray/jemima/internal/models"
	"github.com/mkbray/jemima/internal/room"
	"github.com/mkbray/jemima/internal/store"
)

// beginMarking performs the Questions -> Marking transition once both answer
// triplets are in. Host-triggered by convention; the in-transaction re-check
// is what makes concurrent or stale attempts safe. The effective phase must
// be Questions, which also requires the countdown deadline to have passed.
func (s *Session) beginMarking(ctx context.Context, rnd int) error {
	return s.st.RunTransaction(ctx, func(tx store.Tx) error {
		snap, err := tx.Get(store.RoomRef(s.code))
		if err != nil {
			return err
		}
		rm, err := room.DecodeRoom(snap)
		if err != nil {
			return err
		}
		if rm.Round != rnd ||
			!room.ValidTransition(room.EffectivePhase(rm, s.clock.Now()), models.PhaseMarking) {
			return errSuperseded
		}
		if !room.BothAnswersIn(rm, rnd) {
			return errSuperseded
		}
		log.Info().Str("room", s.code).Int("round", rnd).Msg("both answer sets in, opening marking")
		return tx.Update(store.RoomRef(s.code), map[string]any{
			"phase": models.PhaseMarking,
		})
	})
}

// resolveRace decides the round's timing race and advances to Award, exactly
// once. Everything it depends on (phase, both verdict acks, both elapsed
// totals) is re-read inside the transaction: Room and Round snapshots carry
// no cross-document ordering, so previously observed state is only a trigger,
// never an input.
func (s *Session) resolveRace(ctx context.Context, rnd int) error {
	return s.st.RunTransaction(ctx, func(tx store.Tx) error {
		roomSnap, err := tx.Get(store.RoomRef(s.code))
		if err != nil {
			return err
		}
		rm, err := room.DecodeRoom(roomSnap)
		if err != nil {
			return err
		}
		// Step 1: phase + ack guard. A stale trigger, or losing the race to
		// the other client, lands here and becomes a no-op.
		if rm.Round != rnd || !room.ValidTransition(rm.Phase, models.PhaseAward) {
			return errSuperseded
		}
		if !room.BothVerdictsIn(rm, rnd) {
			return errSuperseded
		}

		// Step 2: fresh timing for both peers, same transaction.
		roundSnap, err := tx.Get(store.RoundRef(s.code, rnd))
		if err != nil {
			return err
		}
		rd, err := room.DecodeRound(roundSnap)
		if err != nil {
			return err
		}
		if rd.RaceOutcome != nil {
			return errSuperseded
		}
		hostMs, hostOK := rd.ElapsedFor(rm.Seats.HostID)
		guestMs, guestOK := rd.ElapsedFor(rm.Seats.GuestID)
		if !hostOK || !guestOK {
			// Both acks true but a total missing is a consistency violation:
			// log it and stand down, the missing field arrives on a later
			// snapshot and re-triggers us.
			log.Warn().Str("room", s.code).Int("round", rnd).
				Bool("host_total", hostOK).Bool("guest_total", guestOK).
				Msg("verdicts acked but timing incomplete, not resolving")
			return errSuperseded
		}

		// Steps 3-4: classify and score.
		result := room.ClassifyRace(hostMs, guestMs, s.cfg.TieEpsilon)
		outcome := models.RaceOutcome{IsTie: result.Tie}
		if !result.Tie {
			outcome.WinnerID = rm.PeerID(result.Winner)
		}
		hostScore := rm.Score[models.SideHost] + room.RoundScore(rm.AnswersFor(models.SideHost, rnd))
		guestScore := rm.Score[models.SideGuest] + room.RoundScore(rm.AnswersFor(models.SideGuest, rnd))

		// Step 5: one atomic commit across both documents. Round keeps the
		// outcome, Room gets the scores and the Award phase; the round
		// pointer is untouched so the award screen reviews this round.
		if err := tx.Update(store.RoundRef(s.code, rnd), map[string]any{
			"raceOutcome": outcome,
		}); err != nil {
			return err
		}
		if err := tx.Update(store.RoomRef(s.code), map[string]any{
			"phase":       models.PhaseAward,
			"score.host":  hostScore,
			"score.guest": guestScore,
		}); err != nil {
			return err
		}

		log.Info().Str("room", s.code).Int("round", rnd).
			Int64("host_ms", hostMs).Int64("guest_ms", guestMs).
			Bool("tie", outcome.IsTie).Str("winner", outcome.WinnerID).
			Int("host_score", hostScore).Int("guest_score", guestScore).
			Msg("timing race resolved")
		return nil
	})
}

// ResolveRace exposes the resolver for a peer that wants to volunteer (for
// instance the guest, when the host has gone quiet). Safe to call at any
// time; a transaction whose preconditions no longer hold is a no-op.
func (s *Session) ResolveRace(ctx context.Context, rnd int) error {
	if rnd < 1 || rnd > models.MaxRound {
		return fmt.Errorf("round %d: %w", rnd, models.ErrBadRound)
	}
	return s.withRetry(ctx, fmt.Sprintf("resolve-%d", rnd), func(ctx context.Context) error {
		return s.resolveRace(ctx, rnd)
	})
}
