package models

import "time"

// Item is one question assigned to a side for a round. Options has exactly two
// entries keyed positionally; Correct is the option key "A" or "B".
type Item struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Correct string   `json:"correct"`
}

// OptionKeys are the valid values for Item.Correct and Answer.ChosenOption.
var OptionKeys = []string{"A", "B"}

// ValidOption reports whether key is one of the option keys.
func ValidOption(key string) bool {
	for _, k := range OptionKeys {
		if k == key {
			return true
		}
	}
	return false
}

// SideTiming is one peer's timing record for a round. TotalElapsedMs is derived
// from the two timestamps and treated as advisory by the resolver.
type SideTiming struct {
	Side                Side       `json:"side"`
	QuestionsFinishedAt *time.Time `json:"questionsFinishedAt,omitempty"`
	VerdictsFinishedAt  *time.Time `json:"verdictsFinishedAt,omitempty"`
	TotalElapsedMs      *int64     `json:"totalElapsedMs,omitempty"`
}

// RaceOutcome is the resolved timing race for a round. Written at most once.
type RaceOutcome struct {
	WinnerID string `json:"winnerId,omitempty"`
	IsTie    bool   `json:"isTie"`
}

// Round is one of the five per-round sub-documents.
type Round struct {
	Code        string                `json:"code"`
	Number      int                   `json:"number"`
	Items       map[Side][]Item       `json:"items"`
	Interlude   string                `json:"interlude,omitempty"`
	Timing      map[string]SideTiming `json:"timing,omitempty"` // keyed by peer ID
	RaceOutcome *RaceOutcome          `json:"raceOutcome,omitempty"`
}

// TimingFor returns the timing record for a peer, if present.
func (r *Round) TimingFor(peerID string) (SideTiming, bool) {
	if r.Timing == nil {
		return SideTiming{}, false
	}
	t, ok := r.Timing[peerID]
	return t, ok
}

// ElapsedFor returns a peer's total elapsed milliseconds. When both
// timestamps are present the total is re-derived from them, so the stored
// TotalElapsedMs is advisory; it only serves records missing a timestamp.
func (r *Round) ElapsedFor(peerID string) (int64, bool) {
	t, ok := r.TimingFor(peerID)
	if !ok {
		return 0, false
	}
	if t.QuestionsFinishedAt != nil && t.VerdictsFinishedAt != nil {
		return t.VerdictsFinishedAt.Sub(*t.QuestionsFinishedAt).Milliseconds(), true
	}
	if t.TotalElapsedMs == nil {
		return 0, false
	}
	return *t.TotalElapsedMs, true
}
