package pack

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkbray/jemima/internal/models"
	"github.com/mkbray/jemima/internal/store"
)

func testQuestionPack(code string) *models.QuestionPack {
	rounds := make(map[string]models.PackRound, models.MaxRound)
	for n := 1; n <= models.MaxRound; n++ {
		var host, guest []models.Item
		for i := 0; i < models.TripletSize; i++ {
			host = append(host, models.Item{
				Prompt:  fmt.Sprintf("host r%d q%d", n, i),
				Options: []string{"yes", "no"},
				Correct: "A",
			})
			guest = append(guest, models.Item{
				Prompt:  fmt.Sprintf("guest r%d q%d", n, i),
				Options: []string{"left", "right"},
				Correct: "B",
			})
		}
		rounds[strconv.Itoa(n)] = models.PackRound{
			HostItems:  host,
			GuestItems: guest,
			Interlude:  fmt.Sprintf("interlude %d", n),
		}
	}
	return &models.QuestionPack{
		Version: models.QuestionPackVersion,
		Meta:    models.PackMeta{RoomCode: code, HostUID: "host-uid"},
		Rounds:  rounds,
	}
}

func testMathsPack(code string) *models.MathsPack {
	return &models.MathsPack{
		Version:  models.MathsPackVersion,
		Meta:     models.PackMeta{RoomCode: code},
		Location: "under the stairs",
		Prompts:  []string{"first clue", "second clue"},
	}
}

func TestSeedCreatesRoomAndRounds(t *testing.T) {
	st := store.NewMemory(clockwork.NewFakeClock())
	seeder := NewSeeder(st, clockwork.NewFakeClock())
	ctx := context.Background()

	rm, err := seeder.Seed(ctx, testQuestionPack("SEA"), testMathsPack("SEA"))
	require.NoError(t, err)

	assert.Equal(t, "SEA", rm.Code)
	assert.Equal(t, models.PhaseKeyRoom, rm.Phase)
	assert.Equal(t, 1, rm.Round)
	assert.Equal(t, "host-uid", rm.Seats.HostID)
	assert.Empty(t, rm.Seats.GuestID)
	assert.Equal(t, 0, rm.Score[models.SideHost])
	assert.Equal(t, 0, rm.Score[models.SideGuest])
	require.NotNil(t, rm.ClosingPuzzle)
	assert.Equal(t, "under the stairs", rm.ClosingPuzzle.Location)
	assert.Len(t, rm.ClosingPuzzle.Prompts, 2)

	snap, err := st.Get(ctx, store.RoomRef("SEA"))
	require.NoError(t, err)
	var stored models.Room
	require.NoError(t, snap.DataTo(&stored))
	assert.Equal(t, models.PhaseKeyRoom, stored.Phase)

	for n := 1; n <= models.MaxRound; n++ {
		snap, err := st.Get(ctx, store.RoundRef("SEA", n))
		require.NoError(t, err)
		var rd models.Round
		require.NoError(t, snap.DataTo(&rd))
		assert.Equal(t, n, rd.Number)
		assert.Len(t, rd.Items[models.SideHost], models.TripletSize)
		assert.Len(t, rd.Items[models.SideGuest], models.TripletSize)
		assert.Equal(t, fmt.Sprintf("interlude %d", n), rd.Interlude)
		assert.Nil(t, rd.RaceOutcome)
	}
}

func TestSeedWithoutMathsPack(t *testing.T) {
	st := store.NewMemory(clockwork.NewFakeClock())
	seeder := NewSeeder(st, clockwork.NewFakeClock())

	rm, err := seeder.Seed(context.Background(), testQuestionPack("DOG"), nil)
	require.NoError(t, err)
	assert.Nil(t, rm.ClosingPuzzle)
}

func TestSeedPinsGuestSeat(t *testing.T) {
	st := store.NewMemory(clockwork.NewFakeClock())
	seeder := NewSeeder(st, clockwork.NewFakeClock())

	qp := testQuestionPack("CAT")
	qp.Meta.GuestUID = "guest-uid"
	rm, err := seeder.Seed(context.Background(), qp, nil)
	require.NoError(t, err)
	assert.Equal(t, "guest-uid", rm.Seats.GuestID)
}

func TestSeedDuplicateRoom(t *testing.T) {
	st := store.NewMemory(clockwork.NewFakeClock())
	seeder := NewSeeder(st, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := seeder.Seed(ctx, testQuestionPack("SEA"), nil)
	require.NoError(t, err)

	_, err = seeder.Seed(ctx, testQuestionPack("SEA"), nil)
	require.ErrorIs(t, err, ErrRoomExists)
}

func TestSeedRejectsInvalidPacksWithoutWriting(t *testing.T) {
	st := store.NewMemory(clockwork.NewFakeClock())
	seeder := NewSeeder(st, clockwork.NewFakeClock())
	ctx := context.Background()

	qp := testQuestionPack("SEA")
	delete(qp.Rounds, "3")
	_, err := seeder.Seed(ctx, qp, nil)
	require.Error(t, err)
	_, err = st.Get(ctx, store.RoomRef("SEA"))
	require.ErrorIs(t, err, store.ErrNotFound)

	// Mismatched room codes between the two packs.
	_, err = seeder.Seed(ctx, testQuestionPack("SEA"), testMathsPack("DOG"))
	require.Error(t, err)
	_, err = st.Get(ctx, store.RoomRef("SEA"))
	require.ErrorIs(t, err, store.ErrNotFound)
}
