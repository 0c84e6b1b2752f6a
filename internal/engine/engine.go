// Package engine implements the per-client room synchronization session: the
// submission protocol, the timing-race resolver, the round advancer and
// countdown handling. Two independent sessions (one per side) coordinate
// exclusively through the document store; every decision that mutates shared
// state re-validates its preconditions inside a store transaction.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mkbray/jemima/internal/models"
	"github.com/mkbray/jemima/internal/room"
	"github.com/mkbray/jemima/internal/store"
)

// Config tunes the session. Zero values are replaced by defaults.
type Config struct {
	// TieEpsilon is the dead-heat tolerance for the timing race.
	TieEpsilon time.Duration
	// MarkingWindow bounds how long a side may sit on its verdicts before
	// undecided entries are auto-assigned UNKNOWN and force-submitted.
	MarkingWindow time.Duration
	// CountdownLead is how far in the future round countdowns are scheduled.
	CountdownLead time.Duration
	// RetryAttempts and RetryBackoff define the uniform transactional retry
	// policy (RetryAttempts total tries, backoff doubling per retry).
	RetryAttempts int
	RetryBackoff  time.Duration
}

// DefaultConfig returns the baseline tuning.
func DefaultConfig() Config {
	return Config{
		TieEpsilon:    room.DefaultTieEpsilon,
		MarkingWindow: 45 * time.Second,
		CountdownLead: 5 * time.Second,
		RetryAttempts: 3,
		RetryBackoff:  400 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TieEpsilon <= 0 {
		c.TieEpsilon = d.TieEpsilon
	}
	if c.MarkingWindow <= 0 {
		c.MarkingWindow = d.MarkingWindow
	}
	if c.CountdownLead <= 0 {
		c.CountdownLead = d.CountdownLead
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	return c
}

// Session is one client's live connection to a room. It reacts to Room and
// Round snapshots, never to its own optimistic state. The host session also
// attempts the aggregating transitions; that is a convention to avoid
// redundant transaction attempts, not a correctness requirement; the
// transactions themselves are safe for either peer.
type Session struct {
	repo   *room.Repository
	st     store.Store
	clock  clockwork.Clock
	cfg    Config
	code   string
	peerID string
	side   models.Side

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	room       *models.Room
	round      *models.Round
	watchedRnd int
	unsubRoom  store.Unsubscribe
	unsubRound store.Unsubscribe

	// Local submission guards, per round. Rolled back on write failure so a
	// retry remains possible.
	answersPublished  map[int]bool
	verdictsPublished map[int]bool

	// Verdicts staged by the UI before submission, per round.
	staged map[int]map[int]models.Verdict

	// localQuestions marks rounds whose countdown this client has seen
	// elapse; the store still says Countdown but we render Questions.
	localQuestions map[int]bool

	countdownTimer clockwork.Timer
	countdownRound int
	markingTimer   clockwork.Timer
	markingRound   int

	// In-flight aggregation attempts, to avoid piling up goroutines when
	// snapshots arrive faster than transactions complete.
	inFlight map[string]bool

	onView func(View)
}

// Options for NewSession beyond the required wiring.
type Options struct {
	Config Config
	Clock  clockwork.Clock
	// OnView is invoked with a fresh projection after every state change.
	OnView func(View)
}

// NewSession binds a peer to a room. The peer must hold one of the two seats.
func NewSession(ctx context.Context, repo *room.Repository, code, peerID string, opts Options) (*Session, error) {
	rm, err := repo.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	side, ok := rm.SideOf(peerID)
	if !ok {
		return nil, fmt.Errorf("peer %s holds no seat in room %s", peerID, code)
	}

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		repo:              repo,
		st:                repo.Store(),
		clock:             clock,
		cfg:               opts.Config.withDefaults(),
		code:              code,
		peerID:            peerID,
		side:              side,
		ctx:               sctx,
		cancel:            cancel,
		room:              rm,
		answersPublished:  make(map[int]bool),
		verdictsPublished: make(map[int]bool),
		staged:            make(map[int]map[int]models.Verdict),
		localQuestions:    make(map[int]bool),
		inFlight:          make(map[string]bool),
		onView:            opts.OnView,
	}

	unsub, err := repo.WatchRoom(code, s.onRoomSnapshot)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch room %s: %w", code, err)
	}
	s.mu.Lock()
	s.unsubRoom = unsub
	s.ensureRoundWatchLocked()
	s.mu.Unlock()

	log.Info().Str("room", code).Str("side", string(side)).Msg("session started")
	return s, nil
}

// Side returns the seat this session holds.
func (s *Session) Side() models.Side { return s.side }

// Close detaches subscriptions and stops timers.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubRoom != nil {
		s.unsubRoom()
		s.unsubRoom = nil
	}
	if s.unsubRound != nil {
		s.unsubRound()
		s.unsubRound = nil
	}
	stopTimer(s.countdownTimer)
	stopTimer(s.markingTimer)
	log.Info().Str("room", s.code).Str("side", string(s.side)).Msg("session closed")
}

func (s *Session) isHost() bool { return s.side == models.SideHost }

// onRoomSnapshot is the heart of the reactive loop: cache the new state,
// keep the round subscription aligned, arm timers, and (for the host) kick
// off whichever aggregation the snapshot makes ready.
func (s *Session) onRoomSnapshot(rm *models.Room) {
	s.mu.Lock()
	s.room = rm
	s.ensureRoundWatchLocked()
	s.armCountdownLocked(rm)
	s.armMarkingWindowLocked(rm)
	s.maybeAggregateLocked()
	s.mu.Unlock()

	s.emitView()
}

func (s *Session) onRoundSnapshot(rd *models.Round) {
	s.mu.Lock()
	if rd.Number == s.watchedRnd {
		s.round = rd
	}
	// Timing totals can land after the verdict acks; re-check triggers here.
	s.maybeAggregateLocked()
	s.mu.Unlock()

	s.emitView()
}

// ensureRoundWatchLocked keeps exactly one Round subscription, matching the
// Room's current round pointer.
func (s *Session) ensureRoundWatchLocked() {
	rnd := s.room.Round
	if rnd < 1 || rnd > models.MaxRound || rnd == s.watchedRnd {
		return
	}
	if s.unsubRound != nil {
		s.unsubRound()
		s.unsubRound = nil
	}
	s.round = nil
	s.watchedRnd = rnd
	unsub, err := s.repo.WatchRound(s.code, rnd, s.onRoundSnapshot)
	if err != nil {
		log.Error().Err(err).Str("room", s.code).Int("round", rnd).Msg("watch round failed")
		s.watchedRnd = 0
		return
	}
	s.unsubRound = unsub
}

// maybeAggregateLocked inspects the cached snapshots and spawns at most one
// attempt per ready aggregation. Only the host volunteers; the transactions
// re-check everything, so a stale trigger is harmless.
func (s *Session) maybeAggregateLocked() {
	if !s.isHost() || s.room == nil {
		return
	}
	rm := s.room
	if room.Terminal(rm.Phase) {
		return
	}
	switch rm.Phase {
	case models.PhaseCountdown:
		// Questions is a local phase: the store still says Countdown while
		// both sides answer, so the Questions -> Marking trigger fires here.
		if room.CountdownElapsed(rm, s.clock.Now()) && room.BothAnswersIn(rm, rm.Round) {
			s.spawnLocked(fmt.Sprintf("marking-%d", rm.Round), func(ctx context.Context) error {
				return s.beginMarking(ctx, rm.Round)
			})
		}
	case models.PhaseMarking:
		if room.BothVerdictsIn(rm, rm.Round) && s.bothTotalsLocked(rm) {
			s.spawnLocked(fmt.Sprintf("resolve-%d", rm.Round), func(ctx context.Context) error {
				return s.resolveRace(ctx, rm.Round)
			})
		}
	case models.PhaseAward:
		if room.BothAcknowledgedAward(rm, rm.Round) {
			s.spawnLocked(fmt.Sprintf("advance-%d", rm.Round), func(ctx context.Context) error {
				return s.advanceRound(ctx, rm.Round)
			})
		}
	case models.PhaseMaths:
		if room.BothMathsIn(rm) {
			s.spawnLocked("finish-maths", s.finishMaths)
		}
	}
}

// bothTotalsLocked reports whether the cached round snapshot carries both
// peers' elapsed totals. Advisory only: the resolver re-reads inside its
// transaction, because Room and Round snapshots carry no cross-document
// ordering guarantee.
func (s *Session) bothTotalsLocked(rm *models.Room) bool {
	if s.round == nil || s.round.Number != rm.Round {
		return false
	}
	_, hostOK := s.round.ElapsedFor(rm.Seats.HostID)
	_, guestOK := s.round.ElapsedFor(rm.Seats.GuestID)
	return hostOK && guestOK
}

// spawnLocked runs op on its own goroutine unless an identical attempt is
// already in flight.
func (s *Session) spawnLocked(key string, op func(ctx context.Context) error) {
	if s.inFlight[key] {
		return
	}
	s.inFlight[key] = true
	go func() {
		err := s.withRetry(s.ctx, key, op)
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Str("room", s.code).Str("op", key).Msg("aggregation attempt failed; awaiting next snapshot")
		}
	}()
}

func stopTimer(t clockwork.Timer) {
	if t != nil {
		t.Stop()
	}
}

// snapshotState returns copies of the cached room/round pointers.
func (s *Session) snapshotState() (*models.Room, *models.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.round
}
