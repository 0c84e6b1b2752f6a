package engine

import (
	"time"

	"github.com/mkbray/jemima/internal/models"
	"github.com/mkbray/jemima/internal/room"
)

// MarkingEntry pairs one opponent answer with this side's staged verdict, for
// rendering the marking screen.
type MarkingEntry struct {
	QuestionText string         `json:"questionText"`
	ChosenOption string         `json:"chosenOption"`
	Verdict      models.Verdict `json:"verdict,omitempty"`
}

// View is the read-only projection a UI needs to render the current phase.
// It is derived entirely from the latest Room/Round snapshots plus local
// session state (staged verdicts, local countdown expiry).
type View struct {
	Code  string       `json:"code"`
	Side  models.Side  `json:"side"`
	Phase models.Phase `json:"phase"`
	Round int          `json:"round"`

	CountdownDeadline *time.Time `json:"countdownDeadline,omitempty"`

	// Items this side must answer during Questions.
	Items []models.Item `json:"items,omitempty"`
	// Marking holds the opponent's answers awaiting this side's verdicts.
	Marking []MarkingEntry `json:"marking,omitempty"`

	AnswersSubmitted  bool `json:"answersSubmitted"`
	VerdictsSubmitted bool `json:"verdictsSubmitted"`
	AwardAcked        bool `json:"awardAcked"`

	Score       map[models.Side]int   `json:"score,omitempty"`
	RaceOutcome *models.RaceOutcome   `json:"raceOutcome,omitempty"`
	Interlude   string                `json:"interlude,omitempty"`
	Puzzle      *models.ClosingPuzzle `json:"puzzle,omitempty"`

	OpponentJoined bool `json:"opponentJoined"`
}

// View builds the current projection.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	rm := s.room
	rnd := rm.Round
	v := View{
		Code:              s.code,
		Side:              s.side,
		Phase:             room.EffectivePhase(rm, s.clock.Now()),
		Round:             rnd,
		CountdownDeadline: rm.CountdownDeadline,
		AnswersSubmitted:  s.answersPublished[rnd] || len(rm.AnswersFor(s.side, rnd)) == models.TripletSize,
		VerdictsSubmitted: s.verdictsPublished[rnd] || len(rm.VerdictsFor(s.side, rnd)) == models.TripletSize,
		AwardAcked:        rm.Ack(models.AckAward, s.side, rnd),
		Score:             rm.Score,
		OpponentJoined:    rm.Seats.GuestID != "",
	}
	// The countdown timer may not have fired yet on this goroutine's view;
	// trust local expiry too so tabs converge.
	if rm.Phase == models.PhaseCountdown && s.localQuestions[rnd] {
		v.Phase = models.PhaseQuestions
	}

	if s.round != nil && s.round.Number == rnd {
		rd := s.round
		v.Interlude = rd.Interlude
		v.RaceOutcome = rd.RaceOutcome
		if v.Phase == models.PhaseQuestions {
			v.Items = rd.Items[s.side]
		}
	}

	if v.Phase == models.PhaseMarking && !v.VerdictsSubmitted {
		opp := rm.AnswersFor(s.side.Opponent(), rnd)
		for i, a := range opp {
			entry := MarkingEntry{QuestionText: a.QuestionText, ChosenOption: a.ChosenOption}
			if sv, ok := s.staged[rnd][i]; ok {
				entry.Verdict = sv
			}
			v.Marking = append(v.Marking, entry)
		}
	}

	if v.Phase == models.PhaseMaths || v.Phase == models.PhaseFinal {
		v.Puzzle = rm.ClosingPuzzle
	}
	return v
}

func (s *Session) emitView() {
	if s.onView == nil {
		return
	}
	s.onView(s.View())
}
