package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mkbray/jemima/internal/models"
	"github.com/mkbray/jemima/internal/room"
)

var (
	// ErrWrongPhase rejects an operation the current phase does not allow.
	ErrWrongPhase = errors.New("operation not allowed in current phase")

	// ErrWrongRound rejects an operation aimed at a round other than the
	// room's current one.
	ErrWrongRound = errors.New("not the current round")

	// ErrNoQuestions means the client has no round content to answer yet.
	ErrNoQuestions = errors.New("round questions not available")
)

// SubmitAnswers publishes this side's answer triplet for the round, exactly
// once. choices are option keys ("A" or "B"), one per question in order. A
// repeat call after a successful publish is an idempotent no-op; a failed
// write rolls the local guard back so the caller can retry.
func (s *Session) SubmitAnswers(ctx context.Context, rnd int, choices [models.TripletSize]string) error {
	s.mu.Lock()
	rm, rd := s.room, s.round
	if rm.Round != rnd {
		s.mu.Unlock()
		return fmt.Errorf("%w: room is on round %d", ErrWrongRound, rm.Round)
	}
	// The store never holds "questions": the countdown expiry is a local
	// transition, so answering is legal while the stored phase is still
	// Countdown with an elapsed deadline.
	if room.EffectivePhase(rm, s.clock.Now()) != models.PhaseQuestions {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongPhase, rm.Phase)
	}
	if s.answersPublished[rnd] || len(rm.AnswersFor(s.side, rnd)) == models.TripletSize {
		s.mu.Unlock()
		log.Debug().Str("room", s.code).Int("round", rnd).Msg("answers already submitted, ignoring")
		return nil
	}
	if rd == nil || rd.Number != rnd || len(rd.Items[s.side]) != models.TripletSize {
		s.mu.Unlock()
		return ErrNoQuestions
	}
	items := rd.Items[s.side]
	s.answersPublished[rnd] = true
	s.mu.Unlock()

	triplet := make([]models.Answer, 0, models.TripletSize)
	for i, choice := range choices {
		if !models.ValidOption(choice) {
			s.rollbackAnswersGuard(rnd)
			return fmt.Errorf("%w: choice %d is %q", models.ErrBadItem, i, choice)
		}
		triplet = append(triplet, models.Answer{
			QuestionText:  items[i].Prompt,
			ChosenOption:  choice,
			CorrectOption: items[i].Correct,
		})
	}

	err := s.withRetry(ctx, "submit answers", func(ctx context.Context) error {
		return s.repo.PublishAnswers(ctx, s.code, s.side, rnd, triplet)
	})
	if err != nil {
		s.rollbackAnswersGuard(rnd)
		return fmt.Errorf("submit answers: %w", err)
	}
	log.Info().Str("room", s.code).Str("side", string(s.side)).Int("round", rnd).Msg("answers submitted")
	return nil
}

func (s *Session) rollbackAnswersGuard(rnd int) {
	s.mu.Lock()
	s.answersPublished[rnd] = false
	s.mu.Unlock()
}

// StageVerdict records an in-progress verdict selection for the current
// round. Staged selections are not persisted; they survive only to be picked
// up by SubmitVerdicts or the marking-window auto-submit.
func (s *Session) StageVerdict(rnd, index int, v models.Verdict) error {
	if index < 0 || index >= models.TripletSize {
		return fmt.Errorf("verdict index %d out of range", index)
	}
	switch v {
	case models.VerdictRight, models.VerdictWrong, models.VerdictUnknown:
	default:
		return fmt.Errorf("invalid verdict %q", v)
	}
	s.mu.Lock()
	if s.staged[rnd] == nil {
		s.staged[rnd] = make(map[int]models.Verdict)
	}
	s.staged[rnd][index] = v
	s.mu.Unlock()
	return nil
}

// SubmitVerdicts publishes this side's verdicts on the opponent's answers,
// together with the timing record the race resolver consumes: the shared
// countdown anchor, the submission instant, and the derived elapsed total.
// Same at-most-once guard discipline as SubmitAnswers.
func (s *Session) SubmitVerdicts(ctx context.Context, rnd int, verdicts [models.TripletSize]models.Verdict) error {
	s.mu.Lock()
	rm := s.room
	if rm.Round != rnd {
		s.mu.Unlock()
		return fmt.Errorf("%w: room is on round %d", ErrWrongRound, rm.Round)
	}
	if rm.Phase != models.PhaseMarking {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongPhase, rm.Phase)
	}
	if s.verdictsPublished[rnd] || len(rm.VerdictsFor(s.side, rnd)) == models.TripletSize {
		s.mu.Unlock()
		log.Debug().Str("room", s.code).Int("round", rnd).Msg("verdicts already submitted, ignoring")
		return nil
	}
	anchor := rm.CountdownDeadline
	if anchor == nil {
		// Should not happen: the countdown that opened this round set it.
		s.mu.Unlock()
		return fmt.Errorf("room %s has no countdown anchor for round %d", s.code, rnd)
	}
	s.verdictsPublished[rnd] = true
	s.mu.Unlock()

	triplet := verdicts[:]
	if err := models.ValidateVerdicts(triplet); err != nil {
		s.rollbackVerdictsGuard(rnd)
		return err
	}

	now := s.clock.Now()
	timing := models.SideTiming{
		Side:                s.side,
		QuestionsFinishedAt: anchor,
		VerdictsFinishedAt:  &now,
	}
	err := s.withRetry(ctx, "submit verdicts", func(ctx context.Context) error {
		// Timing first: the resolver only fires once both verdict acks AND
		// both totals exist, so the ack write must come last.
		if err := s.repo.PublishTiming(ctx, s.code, rnd, s.peerID, timing); err != nil {
			return err
		}
		return s.repo.PublishVerdicts(ctx, s.code, s.side, rnd, triplet)
	})
	if err != nil {
		s.rollbackVerdictsGuard(rnd)
		return fmt.Errorf("submit verdicts: %w", err)
	}

	s.mu.Lock()
	delete(s.staged, rnd)
	s.mu.Unlock()
	log.Info().Str("room", s.code).Str("side", string(s.side)).Int("round", rnd).
		Int64("elapsed_ms", now.Sub(*anchor).Milliseconds()).Msg("verdicts submitted")
	return nil
}

func (s *Session) rollbackVerdictsGuard(rnd int) {
	s.mu.Lock()
	s.verdictsPublished[rnd] = false
	s.mu.Unlock()
}

// AcknowledgeAward dismisses the award screen for the round. Idempotent.
func (s *Session) AcknowledgeAward(ctx context.Context, rnd int) error {
	s.mu.Lock()
	rm := s.room
	if rm.Phase != models.PhaseAward || rm.Round != rnd {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s round %d", ErrWrongPhase, rm.Phase, rm.Round)
	}
	if rm.Ack(models.AckAward, s.side, rnd) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.withRetry(ctx, "ack award", func(ctx context.Context) error {
		return s.repo.AcknowledgeAward(ctx, s.code, s.side, rnd)
	})
	if err != nil {
		return fmt.Errorf("acknowledge award: %w", err)
	}
	return nil
}

// SubmitMaths records this side's closing puzzle answer. First write wins;
// repeat submissions are ignored.
func (s *Session) SubmitMaths(ctx context.Context, answer string) error {
	s.mu.Lock()
	rm := s.room
	if rm.Phase != models.PhaseMaths {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongPhase, rm.Phase)
	}
	if rm.MathsAnswers[s.side] != "" {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if answer == "" {
		return fmt.Errorf("empty puzzle answer")
	}
	err := s.withRetry(ctx, "submit maths", func(ctx context.Context) error {
		return s.repo.PublishMathsAnswer(ctx, s.code, s.side, answer)
	})
	if err != nil {
		return fmt.Errorf("submit maths answer: %w", err)
	}
	log.Info().Str("room", s.code).Str("side", string(s.side)).Msg("maths answer submitted")
	return nil
}
