// Package room holds the pure game logic evaluated against Room and Round
// snapshots: the phase state machine, race classification and round scoring,
// plus a typed repository over the document store.
package room

import (
	"time"

	"github.com/mkbray/jemima/internal/models"
)

// transitions is the phase transition table. Every transition except the
// countdown expiry is caused by a write to the Room document; clients react to
// the resulting snapshot rather than to their own optimistic state.
var transitions = map[models.Phase][]models.Phase{
	models.PhaseKeyRoom:   {models.PhaseCountdown},
	models.PhaseCountdown: {models.PhaseQuestions},
	models.PhaseQuestions: {models.PhaseMarking},
	models.PhaseMarking:   {models.PhaseAward},
	models.PhaseAward:     {models.PhaseCountdown, models.PhaseMaths},
	models.PhaseMaths:     {models.PhaseFinal},
	models.PhaseFinal:     nil,
}

// ValidTransition reports whether the machine may move from one phase to
// another.
func ValidTransition(from, to models.Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the phase has no outgoing transitions.
func Terminal(p models.Phase) bool {
	return len(transitions[p]) == 0
}

// CanStartCountdown checks the KeyRoom -> Countdown preconditions: the guest
// seat must be claimed.
func CanStartCountdown(r *models.Room) bool {
	return r.Phase == models.PhaseKeyRoom && r.Seats.GuestID != ""
}

// CountdownElapsed reports whether the countdown deadline has passed. This is
// the one transition that needs no store write: the deadline itself is the
// shared state, so both clients converge locally.
func CountdownElapsed(r *models.Room, now time.Time) bool {
	return r.Phase == models.PhaseCountdown &&
		r.CountdownDeadline != nil &&
		!now.Before(*r.CountdownDeadline)
}

// EffectivePhase is the phase a client should render at the given instant:
// the stored phase, except that an elapsed countdown reads as Questions.
func EffectivePhase(r *models.Room, now time.Time) models.Phase {
	if CountdownElapsed(r, now) {
		return models.PhaseQuestions
	}
	return r.Phase
}

// BothAnswersIn reports whether both sides have published their answer
// triplets for the round: the Questions -> Marking precondition.
func BothAnswersIn(r *models.Room, round int) bool {
	return r.Ack(models.AckAnswers, models.SideHost, round) &&
		r.Ack(models.AckAnswers, models.SideGuest, round)
}

// BothVerdictsIn reports whether both sides have published their verdict
// triplets for the round. Together with both timing totals this gates the
// race resolver.
func BothVerdictsIn(r *models.Room, round int) bool {
	return r.Ack(models.AckVerdicts, models.SideHost, round) &&
		r.Ack(models.AckVerdicts, models.SideGuest, round)
}

// BothAcknowledgedAward reports whether both sides have dismissed the award
// screen for the round: the advancer's precondition.
func BothAcknowledgedAward(r *models.Room, round int) bool {
	return r.Ack(models.AckAward, models.SideHost, round) &&
		r.Ack(models.AckAward, models.SideGuest, round)
}

// BothMathsIn reports whether both sides have submitted a closing puzzle
// answer: the Maths -> Final precondition.
func BothMathsIn(r *models.Room) bool {
	return r.MathsAnswers[models.SideHost] != "" && r.MathsAnswers[models.SideGuest] != ""
}

// NextAfterAward returns the phase and round that follow an acknowledged
// award screen: another countdown while rounds remain, otherwise maths.
func NextAfterAward(round int) (models.Phase, int) {
	if round < models.MaxRound {
		return models.PhaseCountdown, round + 1
	}
	return models.PhaseMaths, round
}
