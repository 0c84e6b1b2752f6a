package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Memory is an in-process Store. A single mutex serializes all commits, which
// makes every transaction trivially atomic; subscribers receive committed
// snapshots in commit order on their own goroutine.
type Memory struct {
	clock clockwork.Clock

	mu   sync.Mutex
	docs map[Ref]*memDoc
	subs map[Ref]map[*memSub]struct{}

	// mirror, when set, receives every committed snapshot (used to bridge
	// snapshots onto NATS for out-of-process observers).
	mirror func(Snapshot)
}

type memDoc struct {
	data    map[string]any
	version int64
}

// NewMemory creates an empty in-memory store.
func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		clock: clock,
		docs:  make(map[Ref]*memDoc),
		subs:  make(map[Ref]map[*memSub]struct{}),
	}
}

// SetMirror installs a hook invoked with every committed snapshot.
func (m *Memory) SetMirror(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirror = fn
}

func (m *Memory) snapshotLocked(ref Ref, d *memDoc) (Snapshot, error) {
	raw, err := json.Marshal(d.data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode %s: %w", ref, err)
	}
	return Snapshot{Ref: ref, Data: raw, Version: d.version, UpdatedAt: m.clock.Now()}, nil
}

func (m *Memory) Get(_ context.Context, ref Ref) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[ref]
	if !ok {
		return Snapshot{}, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return m.snapshotLocked(ref, d)
}

func (m *Memory) Create(_ context.Context, ref Ref, doc any) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[ref]; ok {
		return fmt.Errorf("%s: %w", ref, ErrAlreadyExists)
	}
	m.docs[ref] = &memDoc{data: data, version: 1}
	m.publishLocked(ref)
	return nil
}

func (m *Memory) Update(_ context.Context, ref Ref, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[ref]
	if !ok {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err := applyFieldPaths(d.data, fields); err != nil {
		return err
	}
	d.version++
	m.publishLocked(ref)
	return nil
}

func (m *Memory) RunTransaction(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}
	for _, apply := range tx.writes {
		if err := apply(); err != nil {
			return err
		}
	}
	for ref := range tx.touched {
		m.publishLocked(ref)
	}
	return nil
}

func (m *Memory) Subscribe(ref Ref, fn func(Snapshot)) (Unsubscribe, error) {
	sub := newMemSub(fn)

	m.mu.Lock()
	if m.subs[ref] == nil {
		m.subs[ref] = make(map[*memSub]struct{})
	}
	m.subs[ref][sub] = struct{}{}
	// Seed the subscriber with the current state so late joiners and
	// re-subscribing tabs converge immediately.
	if d, ok := m.docs[ref]; ok {
		if snap, err := m.snapshotLocked(ref, d); err == nil {
			sub.enqueue(snap)
		}
	}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs[ref], sub)
		m.mu.Unlock()
		sub.close()
	}, nil
}

// publishLocked fans the current state of ref out to its subscribers.
// Callers hold m.mu, so snapshots are enqueued in commit order.
func (m *Memory) publishLocked(ref Ref) {
	d, ok := m.docs[ref]
	if !ok {
		return
	}
	snap, err := m.snapshotLocked(ref, d)
	if err != nil {
		return
	}
	for sub := range m.subs[ref] {
		sub.enqueue(snap)
	}
	if m.mirror != nil {
		m.mirror(snap)
	}
}

// memTx buffers writes until the closure succeeds. Reads observe committed
// state, which is exactly the precondition re-evaluation the engine relies on:
// the whole transaction runs under the store mutex, so anything read here is
// the state the writes will land on.
type memTx struct {
	store   *Memory
	writes  []func() error
	touched map[Ref]struct{}
}

func (t *memTx) Get(ref Ref) (Snapshot, error) {
	d, ok := t.store.docs[ref]
	if !ok {
		return Snapshot{}, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return t.store.snapshotLocked(ref, d)
}

func (t *memTx) touch(ref Ref) {
	if t.touched == nil {
		t.touched = make(map[Ref]struct{})
	}
	t.touched[ref] = struct{}{}
}

func (t *memTx) Set(ref Ref, doc any) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	t.touch(ref)
	t.writes = append(t.writes, func() error {
		d, ok := t.store.docs[ref]
		if !ok {
			t.store.docs[ref] = &memDoc{data: data, version: 1}
			return nil
		}
		d.data = data
		d.version++
		return nil
	})
	return nil
}

func (t *memTx) Update(ref Ref, fields map[string]any) error {
	t.touch(ref)
	t.writes = append(t.writes, func() error {
		d, ok := t.store.docs[ref]
		if !ok {
			return fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		if err := applyFieldPaths(d.data, fields); err != nil {
			return err
		}
		d.version++
		return nil
	})
	return nil
}

// memSub delivers snapshots to one subscriber callback in order without
// blocking commits.
type memSub struct {
	fn     func(Snapshot)
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Snapshot
	closed bool
}

func newMemSub(fn func(Snapshot)) *memSub {
	s := &memSub{fn: fn}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func (s *memSub) enqueue(snap Snapshot) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, snap)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *memSub) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *memSub) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		snap := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.fn(snap)
	}
}
