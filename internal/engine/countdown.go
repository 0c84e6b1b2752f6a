package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkbray/jemima/internal/models"
	"github.com/mkbray/jemima/internal/room"
	"github.com/mkbray/jemima/internal/store"
)

// StartCountdown performs the host's KeyRoom -> Countdown transition once the
// guest seat is claimed. The deadline it schedules is the shared anchor both
// clients measure the round's timing race from.
func (s *Session) StartCountdown(ctx context.Context) error {
	if !s.isHost() {
		return fmt.Errorf("only the host starts the game")
	}
	return s.withRetry(ctx, "start countdown", func(ctx context.Context) error {
		return s.st.RunTransaction(ctx, func(tx store.Tx) error {
			snap, err := tx.Get(store.RoomRef(s.code))
			if err != nil {
				return err
			}
			rm, err := room.DecodeRoom(snap)
			if err != nil {
				return err
			}
			if rm.Phase != models.PhaseKeyRoom {
				return errSuperseded
			}
			if !room.CanStartCountdown(rm) {
				return fmt.Errorf("guest has not joined room %s yet", s.code)
			}
			deadline := s.clock.Now().Add(s.cfg.CountdownLead)
			return tx.Update(store.RoomRef(s.code), map[string]any{
				"phase":             models.PhaseCountdown,
				"round":             1,
				"countdownDeadline": deadline,
			})
		})
	})
}

// armCountdownLocked schedules the local Countdown -> Questions flip. No
// store write happens on expiry: the deadline itself is the shared state and
// both clients converge on it independently.
func (s *Session) armCountdownLocked(rm *models.Room) {
	if rm.Phase != models.PhaseCountdown || rm.CountdownDeadline == nil {
		return
	}
	rnd := rm.Round
	if s.localQuestions[rnd] || s.countdownRound == rnd {
		return
	}
	stopTimer(s.countdownTimer)
	s.countdownRound = rnd

	wait := rm.CountdownDeadline.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	timer := s.clock.NewTimer(wait)
	s.countdownTimer = timer
	go func() {
		select {
		case <-timer.Chan():
			s.mu.Lock()
			s.localQuestions[rnd] = true
			if s.countdownRound == rnd {
				s.countdownRound = 0
			}
			s.mu.Unlock()
			log.Debug().Str("room", s.code).Int("round", rnd).Msg("countdown elapsed, entering questions")
			s.emitView()
		case <-s.ctx.Done():
			stopTimer(timer)
		}
	}()
}

// armMarkingWindowLocked bounds how long this side may deliberate. When the
// window closes without a submission, undecided verdicts become UNKNOWN and
// the triplet is force-submitted.
func (s *Session) armMarkingWindowLocked(rm *models.Room) {
	if rm.Phase != models.PhaseMarking {
		return
	}
	rnd := rm.Round
	if s.markingRound == rnd || s.verdictsPublished[rnd] {
		return
	}
	stopTimer(s.markingTimer)
	s.markingRound = rnd

	timer := s.clock.NewTimer(s.cfg.MarkingWindow)
	s.markingTimer = timer
	go func() {
		select {
		case <-timer.Chan():
			s.autoSubmitVerdicts(rnd)
		case <-s.ctx.Done():
			stopTimer(timer)
		}
	}()
}

// autoSubmitVerdicts fires when the marking window closes: whatever the UI
// staged is kept, the rest defaults to UNKNOWN.
func (s *Session) autoSubmitVerdicts(rnd int) {
	s.mu.Lock()
	if s.verdictsPublished[rnd] || s.room == nil ||
		s.room.Phase != models.PhaseMarking || s.room.Round != rnd {
		s.mu.Unlock()
		return
	}
	var triplet [models.TripletSize]models.Verdict
	for i := 0; i < models.TripletSize; i++ {
		if v, ok := s.staged[rnd][i]; ok {
			triplet[i] = v
		} else {
			triplet[i] = models.VerdictUnknown
		}
	}
	s.mu.Unlock()

	log.Info().Str("room", s.code).Str("side", string(s.side)).Int("round", rnd).
		Msg("marking window closed, force-submitting verdicts")
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	if err := s.SubmitVerdicts(ctx, rnd, triplet); err != nil {
		log.Warn().Err(err).Str("room", s.code).Int("round", rnd).Msg("auto-submit verdicts failed")
	}
}
