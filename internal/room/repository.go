package room

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mkbray/jemima/internal/models"
	"github.com/mkbray/jemima/internal/store"
)

// Repository is the typed access layer over the document store. Simple
// own-field writes go through Update without a transaction: each side owns a
// disjoint namespace inside the documents, so no other writer touches those
// paths. Anything that depends on current shared state belongs in the engine's
// transactions instead.
type Repository struct {
	st store.Store
}

// NewRepository wraps a Store.
func NewRepository(st store.Store) *Repository {
	return &Repository{st: st}
}

// Store exposes the underlying document store for transactional callers.
func (r *Repository) Store() store.Store {
	return r.st
}

// GetRoom reads and decodes the Room document.
func (r *Repository) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	snap, err := r.st.Get(ctx, store.RoomRef(code))
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", code, err)
	}
	return DecodeRoom(snap)
}

// GetRound reads and decodes one Round document.
func (r *Repository) GetRound(ctx context.Context, code string, round int) (*models.Round, error) {
	if round < 1 || round > models.MaxRound {
		return nil, fmt.Errorf("round %d: %w", round, models.ErrBadRound)
	}
	snap, err := r.st.Get(ctx, store.RoundRef(code, round))
	if err != nil {
		return nil, fmt.Errorf("get round %s/%d: %w", code, round, err)
	}
	return DecodeRound(snap)
}

// WatchRoom subscribes fn to Room snapshots. Snapshots that fail to decode
// are logged and dropped rather than tearing the subscription down.
func (r *Repository) WatchRoom(code string, fn func(*models.Room)) (store.Unsubscribe, error) {
	return r.st.Subscribe(store.RoomRef(code), func(snap store.Snapshot) {
		rm, err := DecodeRoom(snap)
		if err != nil {
			log.Error().Err(err).Str("room", code).Msg("dropping undecodable room snapshot")
			return
		}
		fn(rm)
	})
}

// WatchRound subscribes fn to one Round document's snapshots.
func (r *Repository) WatchRound(code string, round int, fn func(*models.Round)) (store.Unsubscribe, error) {
	return r.st.Subscribe(store.RoundRef(code, round), func(snap store.Snapshot) {
		rd, err := DecodeRound(snap)
		if err != nil {
			log.Error().Err(err).Str("room", code).Int("round", round).Msg("dropping undecodable round snapshot")
			return
		}
		fn(rd)
	})
}

// ClaimGuestSeat sets seats.guestId at most once. Claiming again with the
// same peer ID is a no-op; a different peer is rejected.
func (r *Repository) ClaimGuestSeat(ctx context.Context, code, peerID string) error {
	err := r.st.RunTransaction(ctx, func(tx store.Tx) error {
		snap, err := tx.Get(store.RoomRef(code))
		if err != nil {
			return err
		}
		rm, err := DecodeRoom(snap)
		if err != nil {
			return err
		}
		switch rm.Seats.GuestID {
		case "":
			return tx.Update(store.RoomRef(code), map[string]any{
				"seats.guestId": peerID,
			})
		case peerID:
			return nil
		default:
			return fmt.Errorf("guest seat already taken: %w", store.ErrAlreadyExists)
		}
	})
	if err != nil {
		return fmt.Errorf("claim guest seat %s: %w", code, err)
	}
	log.Info().Str("room", code).Str("peer", peerID).Msg("guest seat claimed")
	return nil
}

// PublishAnswers writes a side's answer triplet and its submitted flag in a
// single write. The caller guards against double submission; the write itself
// only touches paths owned by that side.
func (r *Repository) PublishAnswers(ctx context.Context, code string, side models.Side, round int, triplet []models.Answer) error {
	if err := models.ValidateTripletLen(len(triplet)); err != nil {
		return err
	}
	fields := map[string]any{
		fmt.Sprintf("answers.%s.%d", side, round):              triplet,
		fmt.Sprintf("ack.submittedAnswers.%s.%d", side, round): true,
	}
	if err := r.st.Update(ctx, store.RoomRef(code), fields); err != nil {
		return fmt.Errorf("publish answers %s/%s/r%d: %w", code, side, round, err)
	}
	return nil
}

// PublishVerdicts writes a side's verdict triplet and its submitted flag.
func (r *Repository) PublishVerdicts(ctx context.Context, code string, side models.Side, round int, triplet []models.Verdict) error {
	if err := models.ValidateVerdicts(triplet); err != nil {
		return err
	}
	fields := map[string]any{
		fmt.Sprintf("verdicts.%s.%d", side, round):              triplet,
		fmt.Sprintf("ack.submittedVerdicts.%s.%d", side, round): true,
	}
	if err := r.st.Update(ctx, store.RoomRef(code), fields); err != nil {
		return fmt.Errorf("publish verdicts %s/%s/r%d: %w", code, side, round, err)
	}
	return nil
}

// PublishTiming records a peer's timing for a round. The total is derived
// from the two timestamps here; the resolver re-derives it as a cross-check.
func (r *Repository) PublishTiming(ctx context.Context, code string, round int, peerID string, timing models.SideTiming) error {
	if timing.QuestionsFinishedAt == nil || timing.VerdictsFinishedAt == nil {
		return fmt.Errorf("timing for %s needs both timestamps", peerID)
	}
	total := timing.VerdictsFinishedAt.Sub(*timing.QuestionsFinishedAt).Milliseconds()
	timing.TotalElapsedMs = &total
	// Peer IDs are opaque and may contain dots; escape so the record lands
	// under one key instead of nesting.
	fields := map[string]any{
		fmt.Sprintf("timing.%s", store.EscapeSegment(peerID)): timing,
	}
	if err := r.st.Update(ctx, store.RoundRef(code, round), fields); err != nil {
		return fmt.Errorf("publish timing %s/r%d: %w", code, round, err)
	}
	return nil
}

// AcknowledgeAward flips a side's award flag for a round.
func (r *Repository) AcknowledgeAward(ctx context.Context, code string, side models.Side, round int) error {
	fields := map[string]any{
		fmt.Sprintf("ack.awardAcknowledged.%s.%d", side, round): true,
	}
	if err := r.st.Update(ctx, store.RoomRef(code), fields); err != nil {
		return fmt.Errorf("acknowledge award %s/%s/r%d: %w", code, side, round, err)
	}
	return nil
}

// PublishMathsAnswer records a side's closing puzzle answer.
func (r *Repository) PublishMathsAnswer(ctx context.Context, code string, side models.Side, answer string) error {
	fields := map[string]any{
		fmt.Sprintf("maths.%s", side): answer,
	}
	if err := r.st.Update(ctx, store.RoomRef(code), fields); err != nil {
		return fmt.Errorf("publish maths answer %s/%s: %w", code, side, err)
	}
	return nil
}

// DecodeRoom unmarshals a Room snapshot.
func DecodeRoom(snap store.Snapshot) (*models.Room, error) {
	var rm models.Room
	if err := snap.DataTo(&rm); err != nil {
		return nil, err
	}
	return &rm, nil
}

// DecodeRound unmarshals a Round snapshot.
func DecodeRound(snap store.Snapshot) (*models.Round, error) {
	var rd models.Round
	if err := snap.DataTo(&rd); err != nil {
		return nil, err
	}
	return &rd, nil
}
