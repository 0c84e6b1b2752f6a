package room

import (
	"time"

	"github.com/mkbray/jemima/internal/models"
)

// DefaultTieEpsilon absorbs clock and serialization jitter when comparing
// elapsed totals. Tunable via engine configuration, not a contract.
const DefaultTieEpsilon = 2 * time.Millisecond

// RaceResult classifies one round's timing race.
type RaceResult struct {
	Winner models.Side // meaningful only when !Tie
	Tie    bool
}

// ClassifyRace compares the two elapsed totals under the given epsilon.
// Totals within epsilon of each other are a dead heat regardless of sign;
// otherwise the smaller total wins. Deterministic for fixed inputs.
func ClassifyRace(hostMs, guestMs int64, epsilon time.Duration) RaceResult {
	diff := hostMs - guestMs
	if diff < 0 {
		diff = -diff
	}
	if diff <= epsilon.Milliseconds() {
		return RaceResult{Tie: true}
	}
	if hostMs < guestMs {
		return RaceResult{Winner: models.SideHost}
	}
	return RaceResult{Winner: models.SideGuest}
}

// RoundScore counts the answers in a triplet whose chosen option matched the
// correct one. Applied additively to the cumulative score exactly once per
// round, inside the resolver's transaction.
func RoundScore(answers []models.Answer) int {
	score := 0
	for _, a := range answers {
		if a.Correct() {
			score++
		}
	}
	return score
}
