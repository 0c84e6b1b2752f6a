package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mkbray/jemima/internal/models"
)

func TestClassifyRace(t *testing.T) {
	tests := []struct {
		name     string
		host     int64
		guest    int64
		epsilon  time.Duration
		wantTie  bool
		wantSide models.Side
	}{
		{name: "host clearly faster", host: 6000, guest: 6050, epsilon: DefaultTieEpsilon, wantSide: models.SideHost},
		{name: "guest clearly faster", host: 7200, guest: 5100, epsilon: DefaultTieEpsilon, wantSide: models.SideGuest},
		{name: "within epsilon is a tie", host: 4000, guest: 4001, epsilon: DefaultTieEpsilon, wantTie: true},
		{name: "exactly epsilon apart is a tie", host: 4002, guest: 4000, epsilon: DefaultTieEpsilon, wantTie: true},
		{name: "one past epsilon decides", host: 4003, guest: 4000, epsilon: DefaultTieEpsilon, wantSide: models.SideGuest},
		{name: "equal totals", host: 5000, guest: 5000, epsilon: 0, wantTie: true},
		{name: "zero epsilon still decides", host: 5000, guest: 5001, epsilon: 0, wantSide: models.SideHost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRace(tt.host, tt.guest, tt.epsilon)
			assert.Equal(t, tt.wantTie, got.Tie)
			if !tt.wantTie {
				assert.Equal(t, tt.wantSide, got.Winner)
			}

			// Symmetric under side swap.
			swapped := ClassifyRace(tt.guest, tt.host, tt.epsilon)
			assert.Equal(t, got.Tie, swapped.Tie)
			if !got.Tie {
				assert.NotEqual(t, got.Winner, swapped.Winner)
			}
		})
	}
}

func TestClassifyRaceDeterministic(t *testing.T) {
	first := ClassifyRace(4000, 4001, DefaultTieEpsilon)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, ClassifyRace(4000, 4001, DefaultTieEpsilon))
	}
}

func TestRoundScore(t *testing.T) {
	answers := []models.Answer{
		{QuestionText: "q1", ChosenOption: "A", CorrectOption: "A"},
		{QuestionText: "q2", ChosenOption: "B", CorrectOption: "A"},
		{QuestionText: "q3", ChosenOption: "B", CorrectOption: "B"},
	}
	assert.Equal(t, 2, RoundScore(answers))
	assert.Equal(t, 0, RoundScore(nil))
	assert.Equal(t, 0, RoundScore([]models.Answer{{ChosenOption: "A", CorrectOption: "B"}}))
}
