package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Pack payload versions, as produced by the pack tooling. Decryption and
// integrity checking happen upstream; we only consume the plaintext payloads.
const (
	QuestionPackVersion = "jemima-questions-1"
	MathsPackVersion    = "jemima-maths-1"
)

// PackMeta identifies the room and peers a pack was generated for.
type PackMeta struct {
	RoomCode    string `json:"roomCode"`
	GeneratedAt string `json:"generatedAt,omitempty"`
	HostUID     string `json:"hostUid"`
	GuestUID    string `json:"guestUid,omitempty"`
}

// PackRound is one round's worth of content inside a question pack.
type PackRound struct {
	HostItems  []Item `json:"hostItems"`
	GuestItems []Item `json:"guestItems"`
	Interlude  string `json:"interlude,omitempty"`
}

// QuestionPack is the validated plaintext payload of a sealed question pack.
// Rounds are keyed "1".."5".
type QuestionPack struct {
	Version string               `json:"version"`
	Meta    PackMeta             `json:"meta"`
	Rounds  map[string]PackRound `json:"rounds"`
}

// MathsPack is the validated plaintext payload of a sealed maths pack.
type MathsPack struct {
	Version  string   `json:"version"`
	Meta     PackMeta `json:"meta"`
	Location string   `json:"location,omitempty"`
	Prompts  []string `json:"prompts,omitempty"`
}

// ValidateItem checks one question item: non-empty prompt, exactly two
// non-empty options, correct key "A" or "B".
func ValidateItem(it Item) error {
	if strings.TrimSpace(it.Prompt) == "" {
		return fmt.Errorf("%w: empty prompt", ErrBadItem)
	}
	if len(it.Options) != 2 {
		return fmt.Errorf("%w: need exactly 2 options, got %d", ErrBadItem, len(it.Options))
	}
	for i, opt := range it.Options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("%w: option %d is empty", ErrBadItem, i)
		}
	}
	if !ValidOption(it.Correct) {
		return fmt.Errorf("%w: correct must be one of %v, got %q", ErrBadItem, OptionKeys, it.Correct)
	}
	return nil
}

// Validate checks a question pack against the canonical schema.
func (p *QuestionPack) Validate() error {
	if p.Version != QuestionPackVersion {
		return fmt.Errorf("unsupported question pack version %q", p.Version)
	}
	if !ValidRoomCode(p.Meta.RoomCode) {
		return fmt.Errorf("%w: %q", ErrBadRoomCode, p.Meta.RoomCode)
	}
	if strings.TrimSpace(p.Meta.HostUID) == "" {
		return fmt.Errorf("pack meta missing hostUid")
	}
	for n := 1; n <= MaxRound; n++ {
		rd, ok := p.Rounds[strconv.Itoa(n)]
		if !ok {
			return fmt.Errorf("pack missing round %d", n)
		}
		for side, items := range map[Side][]Item{SideHost: rd.HostItems, SideGuest: rd.GuestItems} {
			if len(items) != TripletSize {
				return fmt.Errorf("round %d: need %d %s items, got %d", n, TripletSize, side, len(items))
			}
			for _, it := range items {
				if err := ValidateItem(it); err != nil {
					return fmt.Errorf("round %d (%s): %w", n, side, err)
				}
			}
		}
	}
	return nil
}

// Validate checks a maths pack: matching room code and at least one prompt.
func (p *MathsPack) Validate() error {
	if p.Version != MathsPackVersion {
		return fmt.Errorf("unsupported maths pack version %q", p.Version)
	}
	if !ValidRoomCode(p.Meta.RoomCode) {
		return fmt.Errorf("%w: %q", ErrBadRoomCode, p.Meta.RoomCode)
	}
	if len(p.Prompts) == 0 {
		return fmt.Errorf("maths pack has no prompts")
	}
	return nil
}
