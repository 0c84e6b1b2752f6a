package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidRoomCode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"CAT", true},
		{"SEA", true},
		{"cat", false},
		{"CATS", false},
		{"CA", false},
		{"C4T", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidRoomCode(tc.code))
		})
	}
}

func TestTripletValidation(t *testing.T) {
	require.Error(t, ValidateTripletLen(0))
	require.Error(t, ValidateTripletLen(2))
	require.Error(t, ValidateTripletLen(4))
	require.NoError(t, ValidateTripletLen(3))

	require.NoError(t, ValidateVerdicts([]Verdict{VerdictRight, VerdictWrong, VerdictUnknown}))
	err := ValidateVerdicts([]Verdict{VerdictRight, "MAYBE", VerdictUnknown})
	require.ErrorIs(t, err, ErrBadTriplet)
	require.ErrorIs(t, ValidateVerdicts([]Verdict{VerdictRight}), ErrBadTriplet)
}

func TestRoomAckHelpers(t *testing.T) {
	rm := &Room{}
	assert.False(t, rm.Ack(AckAnswers, SideHost, 1))

	rm.SetAck(AckAnswers, SideHost, 1, true)
	assert.True(t, rm.Ack(AckAnswers, SideHost, 1))
	assert.False(t, rm.Ack(AckAnswers, SideGuest, 1))
	assert.False(t, rm.Ack(AckAnswers, SideHost, 2))
	assert.False(t, rm.Ack(AckVerdicts, SideHost, 1))
}

func TestRoomSideOf(t *testing.T) {
	rm := &Room{Seats: Seats{HostID: "host-uid"}}

	side, ok := rm.SideOf("host-uid")
	require.True(t, ok)
	assert.Equal(t, SideHost, side)

	// No guest claimed yet: nobody else holds a seat, and the empty ID in
	// particular must not read as the guest.
	_, ok = rm.SideOf("someone-else")
	assert.False(t, ok)
	_, ok = rm.SideOf("")
	assert.False(t, ok)

	rm.Seats.GuestID = "guest-uid"
	side, ok = rm.SideOf("guest-uid")
	require.True(t, ok)
	assert.Equal(t, SideGuest, side)
}

func TestSideOpponent(t *testing.T) {
	assert.Equal(t, SideGuest, SideHost.Opponent())
	assert.Equal(t, SideHost, SideGuest.Opponent())
}

func TestAnswerCorrect(t *testing.T) {
	assert.True(t, Answer{ChosenOption: "A", CorrectOption: "A"}.Correct())
	assert.False(t, Answer{ChosenOption: "B", CorrectOption: "A"}.Correct())
}
