package models

import (
	"fmt"
	"regexp"
	"time"
)

// Phase defines the stage of the room-level state machine.
type Phase string

const (
	PhaseKeyRoom   Phase = "keyroom"
	PhaseCountdown Phase = "countdown"
	PhaseQuestions Phase = "questions"
	PhaseMarking   Phase = "marking"
	PhaseAward     Phase = "award"
	PhaseMaths     Phase = "maths"
	PhaseFinal     Phase = "final"
)

// Side is one of the two fixed participant roles in a room.
type Side string

const (
	SideHost  Side = "host"
	SideGuest Side = "guest"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == SideHost {
		return SideGuest
	}
	return SideHost
}

// Verdict is one side's judgment of a single opponent answer.
type Verdict string

const (
	VerdictRight   Verdict = "RIGHT"
	VerdictWrong   Verdict = "WRONG"
	VerdictUnknown Verdict = "UNKNOWN"
)

// AckKind names the per-round boolean flags a side can set.
type AckKind string

const (
	AckAnswers  AckKind = "submittedAnswers"
	AckVerdicts AckKind = "submittedVerdicts"
	AckAward    AckKind = "awardAcknowledged"
)

// TripletSize is the number of questions each side answers per round.
const TripletSize = 3

// MaxRound is the number of question rounds before the maths phase.
const MaxRound = 5

// Answer records one answered question as published by a side.
type Answer struct {
	QuestionText  string `json:"questionText"`
	ChosenOption  string `json:"chosenOption"`
	CorrectOption string `json:"correctOption"`
}

// Correct reports whether the chosen option matches the correct one.
func (a Answer) Correct() bool {
	return a.ChosenOption == a.CorrectOption
}

// Seats holds the two opaque peer identifiers. GuestID is empty until claimed.
type Seats struct {
	HostID  string `json:"hostId"`
	GuestID string `json:"guestId,omitempty"`
}

// ClosingPuzzle is the payload for the final maths phase. The engine carries it
// opaquely; only the gateway and the seeder look inside.
type ClosingPuzzle struct {
	Location string   `json:"location,omitempty"`
	Prompts  []string `json:"prompts,omitempty"`
}

// Room is the single authoritative coordination document for one session.
// Per-side submissions live in disjoint namespaces (keyed by Side then round),
// so a side's own writes never conflict with its opponent's.
type Room struct {
	Code              string                            `json:"code"`
	Seats             Seats                             `json:"seats"`
	Phase             Phase                             `json:"phase"`
	Round             int                               `json:"round"`
	CountdownDeadline *time.Time                        `json:"countdownDeadline,omitempty"`
	Answers           map[Side]map[int][]Answer         `json:"answers,omitempty"`
	Verdicts          map[Side]map[int][]Verdict        `json:"verdicts,omitempty"`
	Acks              map[AckKind]map[Side]map[int]bool `json:"ack,omitempty"`
	Score             map[Side]int                      `json:"score,omitempty"`
	ClosingPuzzle     *ClosingPuzzle                    `json:"closingPuzzle,omitempty"`
	MathsAnswers      map[Side]string                   `json:"maths,omitempty"`
	CreatedAt         time.Time                         `json:"createdAt"`
	UpdatedAt         time.Time                         `json:"updatedAt"`
}

var roomCodeRe = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidRoomCode reports whether code is a well-formed room code
// (exactly three uppercase letters).
func ValidRoomCode(code string) bool {
	return roomCodeRe.MatchString(code)
}

// AnswersFor returns the answer triplet a side published for a round, or nil.
func (r *Room) AnswersFor(side Side, round int) []Answer {
	if r.Answers == nil || r.Answers[side] == nil {
		return nil
	}
	return r.Answers[side][round]
}

// VerdictsFor returns the verdict triplet a side published for a round, or nil.
func (r *Room) VerdictsFor(side Side, round int) []Verdict {
	if r.Verdicts == nil || r.Verdicts[side] == nil {
		return nil
	}
	return r.Verdicts[side][round]
}

// Ack reports whether a side has set the given flag for a round.
func (r *Room) Ack(kind AckKind, side Side, round int) bool {
	if r.Acks == nil || r.Acks[kind] == nil || r.Acks[kind][side] == nil {
		return false
	}
	return r.Acks[kind][side][round]
}

// SetAck sets a flag, allocating nested maps as needed.
func (r *Room) SetAck(kind AckKind, side Side, round int, v bool) {
	if r.Acks == nil {
		r.Acks = make(map[AckKind]map[Side]map[int]bool)
	}
	if r.Acks[kind] == nil {
		r.Acks[kind] = make(map[Side]map[int]bool)
	}
	if r.Acks[kind][side] == nil {
		r.Acks[kind][side] = make(map[int]bool)
	}
	r.Acks[kind][side][round] = v
}

// SetAnswers stores a side's answer triplet for a round.
func (r *Room) SetAnswers(side Side, round int, triplet []Answer) {
	if r.Answers == nil {
		r.Answers = make(map[Side]map[int][]Answer)
	}
	if r.Answers[side] == nil {
		r.Answers[side] = make(map[int][]Answer)
	}
	r.Answers[side][round] = triplet
}

// SetVerdicts stores a side's verdict triplet for a round.
func (r *Room) SetVerdicts(side Side, round int, triplet []Verdict) {
	if r.Verdicts == nil {
		r.Verdicts = make(map[Side]map[int][]Verdict)
	}
	if r.Verdicts[side] == nil {
		r.Verdicts[side] = make(map[int][]Verdict)
	}
	r.Verdicts[side][round] = triplet
}

// SideOf maps a peer ID to its seat, if it holds one.
func (r *Room) SideOf(peerID string) (Side, bool) {
	switch peerID {
	case r.Seats.HostID:
		return SideHost, true
	case r.Seats.GuestID:
		if peerID == "" {
			return "", false
		}
		return SideGuest, true
	}
	return "", false
}

// PeerID maps a seat back to the peer ID occupying it.
func (r *Room) PeerID(side Side) string {
	if side == SideHost {
		return r.Seats.HostID
	}
	return r.Seats.GuestID
}

// ValidateTripletLen enforces the answers/verdicts length invariant: absent or
// exactly three entries.
func ValidateTripletLen(n int) error {
	if n != TripletSize {
		return fmt.Errorf("%w: got %d entries, need exactly %d", ErrBadTriplet, n, TripletSize)
	}
	return nil
}

// ValidateVerdicts checks every entry is one of the three verdict values.
func ValidateVerdicts(vs []Verdict) error {
	if err := ValidateTripletLen(len(vs)); err != nil {
		return err
	}
	for i, v := range vs {
		switch v {
		case VerdictRight, VerdictWrong, VerdictUnknown:
		default:
			return fmt.Errorf("%w: verdict %d has value %q", ErrBadTriplet, i, v)
		}
	}
	return nil
}
