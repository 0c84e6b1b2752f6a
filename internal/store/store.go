// Package store abstracts the shared document database the two peers
// coordinate through: point reads, per-document change subscriptions, and
// atomic read-modify-write transactions whose preconditions are re-evaluated
// against committed state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Collections used by the engine.
const (
	CollectionRooms  = "rooms"
	CollectionRounds = "rounds"
)

// Ref identifies one document.
type Ref struct {
	Collection string
	ID         string
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// RoomRef returns the Room document reference for a room code.
func RoomRef(code string) Ref {
	return Ref{Collection: CollectionRooms, ID: code}
}

// RoundRef returns the Round document reference for a room code and round number.
func RoundRef(code string, round int) Ref {
	return Ref{Collection: CollectionRounds, ID: fmt.Sprintf("%s-%d", code, round)}
}

// Snapshot is one observed version of a document. Subscribers of a given
// document see its snapshots in commit order; no ordering is guaranteed
// across documents.
type Snapshot struct {
	Ref       Ref
	Data      json.RawMessage
	Version   int64
	UpdatedAt time.Time
}

// DataTo unmarshals the snapshot payload into v.
func (s Snapshot) DataTo(v any) error {
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", s.Ref, err)
	}
	return nil
}

var (
	// ErrNotFound is returned by reads and updates of absent documents.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned by Create when the document is present.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrPreconditionFailed means a conflicting writer committed first. Callers
	// that re-check their preconditions inside the transaction treat this as
	// success-by-other.
	ErrPreconditionFailed = errors.New("transaction precondition failed")
)

// TransientError marks infrastructure failures worth retrying with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient store error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Tx is the handle passed to a transaction closure. Reads observe committed
// state; writes are buffered until the closure returns without error.
type Tx interface {
	Get(ref Ref) (Snapshot, error)
	Set(ref Ref, doc any) error
	Update(ref Ref, fields map[string]any) error
}

// Unsubscribe detaches a change subscription.
type Unsubscribe func()

// Store is the narrow interface the engine coordinates through.
type Store interface {
	// Get performs a point read. Returns ErrNotFound for absent documents.
	Get(ctx context.Context, ref Ref) (Snapshot, error)

	// Create writes a new document, failing with ErrAlreadyExists if present.
	Create(ctx context.Context, ref Ref, doc any) error

	// Update merges dotted field paths into an existing document. Fails with
	// ErrNotFound if the document is absent.
	Update(ctx context.Context, ref Ref, fields map[string]any) error

	// Subscribe registers fn for every committed snapshot of ref, starting
	// with the current one if the document exists. fn is invoked sequentially
	// per subscription.
	Subscribe(ref Ref, fn func(Snapshot)) (Unsubscribe, error)

	// RunTransaction executes fn atomically. If a conflicting commit wins,
	// the error is ErrPreconditionFailed; infrastructure failures are
	// TransientError.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// marshalDoc normalizes an arbitrary document value to a JSON object map.
func marshalDoc(doc any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("document is not a JSON object: %w", err)
	}
	return m, nil
}

// EscapeSegment makes an arbitrary string safe to embed as a single segment
// of a dotted field path. Needed for segments built from opaque identifiers
// such as peer IDs, which may themselves contain dots.
func EscapeSegment(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, ".", `\.`)
}

// splitFieldPath splits a dotted path into segments, honoring backslash
// escapes so a segment value may contain literal dots.
func splitFieldPath(path string) []string {
	var (
		segs    []string
		cur     strings.Builder
		escaped bool
	)
	for _, r := range path {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '.':
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(segs, cur.String())
}

// applyFieldPaths merges values into m under dotted paths, creating
// intermediate objects as needed. "a.b.c" -> m["a"]["b"]["c"].
func applyFieldPaths(m map[string]any, fields map[string]any) error {
	for path, val := range fields {
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", path, err)
		}
		var norm any
		if err := json.Unmarshal(raw, &norm); err != nil {
			return fmt.Errorf("normalize field %s: %w", path, err)
		}

		parts := splitFieldPath(path)
		cur := m
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = norm
	}
	return nil
}
