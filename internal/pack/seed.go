// Package pack consumes validated pack payloads and seeds the documents a
// room session runs on: one Room in the key-room phase plus five pre-populated
// Round documents. Sealing, decryption and integrity checking happen upstream;
// this package only sees plaintext payloads.
package pack

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mkbray/jemima/internal/models"
	"github.com/mkbray/jemima/internal/store"
)

// ErrRoomExists means the room code is already seeded.
var ErrRoomExists = errors.New("room already seeded")

// Seeder creates the initial document set for a room.
type Seeder struct {
	st    store.Store
	clock clockwork.Clock
}

// NewSeeder wraps a store.
func NewSeeder(st store.Store, clock clockwork.Clock) *Seeder {
	return &Seeder{st: st, clock: clock}
}

// Seed validates both payloads and writes the Room plus all five Rounds in a
// single transaction: either the whole room exists afterwards or none of it.
func (s *Seeder) Seed(ctx context.Context, qp *models.QuestionPack, mp *models.MathsPack) (*models.Room, error) {
	if err := qp.Validate(); err != nil {
		return nil, fmt.Errorf("question pack: %w", err)
	}
	if mp != nil {
		if err := mp.Validate(); err != nil {
			return nil, fmt.Errorf("maths pack: %w", err)
		}
		if mp.Meta.RoomCode != qp.Meta.RoomCode {
			return nil, fmt.Errorf("pack room codes differ: %s vs %s", qp.Meta.RoomCode, mp.Meta.RoomCode)
		}
	}

	code := qp.Meta.RoomCode
	now := s.clock.Now()
	rm := &models.Room{
		Code: code,
		Seats: models.Seats{
			HostID: qp.Meta.HostUID,
		},
		Phase: models.PhaseKeyRoom,
		Round: 1,
		Score: map[models.Side]int{
			models.SideHost:  0,
			models.SideGuest: 0,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if mp != nil {
		rm.ClosingPuzzle = &models.ClosingPuzzle{
			Location: mp.Location,
			Prompts:  mp.Prompts,
		}
	}
	// The guest seat stays empty unless the pack pins a guest identity.
	if qp.Meta.GuestUID != "" {
		rm.Seats.GuestID = qp.Meta.GuestUID
	}

	err := s.st.RunTransaction(ctx, func(tx store.Tx) error {
		if _, err := tx.Get(store.RoomRef(code)); err == nil {
			return fmt.Errorf("%w: %s", ErrRoomExists, code)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.Set(store.RoomRef(code), rm); err != nil {
			return err
		}
		for n := 1; n <= models.MaxRound; n++ {
			pr := qp.Rounds[strconv.Itoa(n)]
			rd := &models.Round{
				Code:   code,
				Number: n,
				Items: map[models.Side][]models.Item{
					models.SideHost:  pr.HostItems,
					models.SideGuest: pr.GuestItems,
				},
				Interlude: pr.Interlude,
			}
			if err := tx.Set(store.RoundRef(code, n), rd); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("seed room %s: %w", code, err)
	}

	log.Info().Str("room", code).Str("host", rm.Seats.HostID).Msg("room seeded from pack")
	return rm, nil
}
