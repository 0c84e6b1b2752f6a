package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidOption(t *testing.T) {
	for _, k := range OptionKeys {
		assert.Truef(t, ValidOption(k), "key %q", k)
	}
	assert.False(t, ValidOption("C"))
	assert.False(t, ValidOption("a"))
	assert.False(t, ValidOption(""))
}

func TestElapsedForRederivesFromTimestamps(t *testing.T) {
	anchor := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	finished := anchor.Add(6 * time.Second)
	bogus := int64(999999)

	rd := &Round{Timing: map[string]SideTiming{
		"host-uid": {
			Side:                SideHost,
			QuestionsFinishedAt: &anchor,
			VerdictsFinishedAt:  &finished,
			TotalElapsedMs:      &bogus,
		},
	}}

	// The stored total is advisory: with both timestamps present the elapsed
	// value comes from them, not from a possibly tampered total.
	ms, ok := rd.ElapsedFor("host-uid")
	require.True(t, ok)
	assert.Equal(t, int64(6000), ms)

	// A record carrying only a total is still readable.
	only := int64(1234)
	rd.Timing["guest-uid"] = SideTiming{Side: SideGuest, TotalElapsedMs: &only}
	ms, ok = rd.ElapsedFor("guest-uid")
	require.True(t, ok)
	assert.Equal(t, int64(1234), ms)

	// No record, or a record with neither source, yields nothing.
	_, ok = rd.ElapsedFor("stranger-uid")
	assert.False(t, ok)
	rd.Timing["empty-uid"] = SideTiming{Side: SideGuest}
	_, ok = rd.ElapsedFor("empty-uid")
	assert.False(t, ok)
}
