package room

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkbray/jemima/internal/models"
	"github.com/mkbray/jemima/internal/store"
)

func seedRoom(t *testing.T, st store.Store, code string, rm models.Room) {
	t.Helper()
	rm.Code = code
	require.NoError(t, st.Create(context.Background(), store.RoomRef(code), rm))
}

func TestClaimGuestSeat(t *testing.T) {
	st := store.NewMemory(clockwork.NewFakeClock())
	repo := NewRepository(st)
	ctx := context.Background()

	seedRoom(t, st, "SEA", models.Room{
		Phase: models.PhaseKeyRoom,
		Seats: models.Seats{HostID: "host-uid"},
	})

	require.NoError(t, repo.ClaimGuestSeat(ctx, "SEA", "guest-uid"))
	rm, err := repo.GetRoom(ctx, "SEA")
	require.NoError(t, err)
	assert.Equal(t, "guest-uid", rm.Seats.GuestID)

	// Re-claiming with the same ID is idempotent.
	require.NoError(t, repo.ClaimGuestSeat(ctx, "SEA", "guest-uid"))

	// A second player is turned away.
	err = repo.ClaimGuestSeat(ctx, "SEA", "latecomer-uid")
	require.ErrorIs(t, err, store.ErrAlreadyExists)
	rm, err = repo.GetRoom(ctx, "SEA")
	require.NoError(t, err)
	assert.Equal(t, "guest-uid", rm.Seats.GuestID)
}

func TestPublishAnswersWritesTripletAndFlagTogether(t *testing.T) {
	st := store.NewMemory(clockwork.NewFakeClock())
	repo := NewRepository(st)
	ctx := context.Background()

	seedRoom(t, st, "SEA", models.Room{Phase: models.PhaseCountdown, Round: 1})

	triplet := []models.Answer{
		{QuestionText: "q1", ChosenOption: "A", CorrectOption: "A"},
		{QuestionText: "q2", ChosenOption: "B", CorrectOption: "A"},
		{QuestionText: "q3", ChosenOption: "A", CorrectOption: "B"},
	}
	require.NoError(t, repo.PublishAnswers(ctx, "SEA", models.SideHost, 1, triplet))

	rm, err := repo.GetRoom(ctx, "SEA")
	require.NoError(t, err)
	assert.Len(t, rm.AnswersFor(models.SideHost, 1), 3)
	assert.True(t, rm.Ack(models.AckAnswers, models.SideHost, 1))
	assert.False(t, rm.Ack(models.AckAnswers, models.SideGuest, 1))

	// A short triplet is rejected before anything is written.
	snapBefore, err := st.Get(ctx, store.RoomRef("SEA"))
	require.NoError(t, err)
	err = repo.PublishAnswers(ctx, "SEA", models.SideGuest, 1, triplet[:2])
	require.ErrorIs(t, err, models.ErrBadTriplet)
	snapAfter, err := st.Get(ctx, store.RoomRef("SEA"))
	require.NoError(t, err)
	assert.Equal(t, snapBefore.Version, snapAfter.Version)
}

func TestPublishVerdictsRejectsUnknownValue(t *testing.T) {
	st := store.NewMemory(clockwork.NewFakeClock())
	repo := NewRepository(st)
	ctx := context.Background()

	seedRoom(t, st, "SEA", models.Room{Phase: models.PhaseMarking, Round: 2})

	err := repo.PublishVerdicts(ctx, "SEA", models.SideHost, 2,
		[]models.Verdict{models.VerdictRight, "maybe", models.VerdictWrong})
	require.Error(t, err)

	good := []models.Verdict{models.VerdictRight, models.VerdictWrong, models.VerdictUnknown}
	require.NoError(t, repo.PublishVerdicts(ctx, "SEA", models.SideHost, 2, good))

	rm, err := repo.GetRoom(ctx, "SEA")
	require.NoError(t, err)
	assert.Equal(t, good, rm.VerdictsFor(models.SideHost, 2))
	assert.True(t, rm.Ack(models.AckVerdicts, models.SideHost, 2))
}

func TestPublishTimingDerivesTotal(t *testing.T) {
	st := store.NewMemory(clockwork.NewFakeClock())
	repo := NewRepository(st)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, store.RoundRef("SEA", 1), models.Round{Code: "SEA", Number: 1}))

	anchor := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	finished := anchor.Add(6 * time.Second)
	timing := models.SideTiming{
		Side:                models.SideHost,
		QuestionsFinishedAt: &anchor,
		VerdictsFinishedAt:  &finished,
	}
	require.NoError(t, repo.PublishTiming(ctx, "SEA", 1, "host-uid", timing))

	rd, err := repo.GetRound(ctx, "SEA", 1)
	require.NoError(t, err)
	got, ok := rd.TimingFor("host-uid")
	require.True(t, ok)
	require.NotNil(t, got.TotalElapsedMs)
	assert.Equal(t, int64(6000), *got.TotalElapsedMs)

	// Both timestamps are mandatory.
	err = repo.PublishTiming(ctx, "SEA", 1, "guest-uid", models.SideTiming{
		Side:                models.SideGuest,
		QuestionsFinishedAt: &anchor,
	})
	require.Error(t, err)
}

func TestPublishTimingDottedPeerID(t *testing.T) {
	st := store.NewMemory(clockwork.NewFakeClock())
	repo := NewRepository(st)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, store.RoundRef("SEA", 1), models.Round{Code: "SEA", Number: 1}))

	// Peer IDs are opaque; one containing dots must land under a single
	// timing key, not nest and lose the record.
	anchor := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	finished := anchor.Add(4 * time.Second)
	require.NoError(t, repo.PublishTiming(ctx, "SEA", 1, "guest.uid@v2", models.SideTiming{
		Side:                models.SideGuest,
		QuestionsFinishedAt: &anchor,
		VerdictsFinishedAt:  &finished,
	}))

	rd, err := repo.GetRound(ctx, "SEA", 1)
	require.NoError(t, err)
	ms, ok := rd.ElapsedFor("guest.uid@v2")
	require.True(t, ok)
	assert.Equal(t, int64(4000), ms)
	assert.NotContains(t, rd.Timing, "guest")
}

func TestWatchRoomDecodesSnapshots(t *testing.T) {
	st := store.NewMemory(clockwork.NewFakeClock())
	repo := NewRepository(st)
	ctx := context.Background()

	seedRoom(t, st, "SEA", models.Room{Phase: models.PhaseKeyRoom, Round: 1})

	rooms := make(chan *models.Room, 8)
	unsub, err := repo.WatchRoom("SEA", func(rm *models.Room) { rooms <- rm })
	require.NoError(t, err)
	defer unsub()

	select {
	case rm := <-rooms:
		assert.Equal(t, models.PhaseKeyRoom, rm.Phase)
	case <-time.After(2 * time.Second):
		t.Fatal("no seed snapshot delivered")
	}

	require.NoError(t, repo.PublishMathsAnswer(ctx, "SEA", models.SideHost, "42"))
	select {
	case rm := <-rooms:
		assert.Equal(t, "42", rm.MathsAnswers[models.SideHost])
	case <-time.After(2 * time.Second):
		t.Fatal("update snapshot not delivered")
	}
}

func TestGetRoundRejectsOutOfRange(t *testing.T) {
	st := store.NewMemory(clockwork.NewFakeClock())
	repo := NewRepository(st)

	_, err := repo.GetRound(context.Background(), "SEA", 0)
	require.ErrorIs(t, err, models.ErrBadRound)
	_, err = repo.GetRound(context.Background(), "SEA", models.MaxRound+1)
	require.ErrorIs(t, err, models.ErrBadRound)
}
