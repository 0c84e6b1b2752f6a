package models

import "errors"

var (
	// ErrBadTriplet rejects answer/verdict sets that are not exactly three entries.
	ErrBadTriplet = errors.New("triplet must have exactly 3 entries")

	// ErrBadRoomCode rejects room codes that are not three uppercase letters.
	ErrBadRoomCode = errors.New("room code must be 3 uppercase letters")

	// ErrBadRound rejects round numbers outside 1..5.
	ErrBadRound = errors.New("round must be between 1 and 5")

	// ErrBadItem rejects malformed question items.
	ErrBadItem = errors.New("invalid question item")
)
