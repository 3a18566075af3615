package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/marib00/flashcard-app/internal/domain"
	"github.com/marib00/flashcard-app/internal/policy"
)

// prefetchThreshold is the buffer length at or below which a background
// prefetch is kicked off after serving a card.
const prefetchThreshold = 3

// prefetchTimeout bounds the fire-and-forget prefetch call so an
// unresponsive store cannot leak goroutines.
const prefetchTimeout = 30 * time.Second

// Fetcher executes one batch request described by a FetchSpec.
type Fetcher interface {
	Fetch(ctx context.Context, spec policy.FetchSpec) ([]domain.Card, error)
}

// State is the queue lifecycle state.
type State int

const (
	// Empty: no buffered cards; the next demand fetches synchronously.
	Empty State = iota
	// Filled: cards are buffered and served from the head.
	Filled
	// Exhausted: the policy produced nothing; terminal until an
	// external trigger (Recheck or a priority change).
	Exhausted
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Filled:
		return "filled"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrExhausted is the sentinel wrapped by ExhaustedError.
var ErrExhausted = errors.New("queue exhausted")

// ErrStale reports that a synchronous fetch was superseded by a reset
// or priority change while in flight; its result was discarded.
var ErrStale = errors.New("fetch superseded")

// ExhaustedError reports that no cards match the current policy. The
// preset distinguishes "nothing due" from "nothing matches filters".
type ExhaustedError struct {
	Preset domain.Preset
}

func (e *ExhaustedError) Error() string {
	if e.Preset == domain.PresetCustom {
		return "queue exhausted: no cards match the current priority filters"
	}
	return "queue exhausted: nothing is due and no new cards remain"
}

func (e *ExhaustedError) Unwrap() error { return ErrExhausted }

// Manager owns the session-scoped buffer of unseen cards. It is the
// only component that mutates the buffer; fetches are always mediated
// by the policy resolver.
type Manager struct {
	fetcher Fetcher
	log     *slog.Logger

	mu     sync.Mutex
	cfg    domain.PriorityConfig
	state  State
	buffer []domain.Card
	// seen holds every id served this session, so a card is presented
	// at most once per session.
	seen map[int64]struct{}
	rng  *rand.Rand

	// gen invalidates in-flight prefetches: a completed prefetch may
	// merge only while it is still the latest outstanding request.
	gen         uint64
	prefetching bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for background prefetch reporting.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithRand sets the random source used for batch shuffling.
func WithRand(rng *rand.Rand) Option {
	return func(m *Manager) { m.rng = rng }
}

// New creates an empty queue for one session.
func New(fetcher Fetcher, cfg domain.PriorityConfig, opts ...Option) *Manager {
	m := &Manager{
		fetcher: fetcher,
		log:     slog.Default(),
		cfg:     cfg,
		state:   Empty,
		seen:    make(map[int64]struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Len returns the number of buffered cards.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

// Buffered returns a snapshot of the buffered card ids in serve order.
func (m *Manager) Buffered() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, len(m.buffer))
	for i, c := range m.buffer {
		ids[i] = c.ID
	}
	return ids
}

// Priorities returns the active selection policy.
func (m *Manager) Priorities() domain.PriorityConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Next serves the next card. excludeID is the card currently (or just)
// displayed; it is excluded from any synchronous refill. Returns an
// ExhaustedError when the policy has nothing left; the queue then stays
// Exhausted until Recheck or SetPriorities.
func (m *Manager) Next(ctx context.Context, excludeID int64) (domain.Card, error) {
	m.mu.Lock()

	if m.state == Exhausted {
		preset := m.cfg.Preset
		m.mu.Unlock()
		return domain.Card{}, &ExhaustedError{Preset: preset}
	}

	if card, ok := m.pop(); ok {
		m.maybePrefetch(card.ID)
		m.mu.Unlock()
		return card, nil
	}

	// Buffer empty: fetch synchronously, excluding the just-shown
	// card, and supersede any in-flight prefetch.
	m.gen++
	gen := m.gen
	m.prefetching = false
	spec := policy.Resolve(m.cfg, excludeID)
	m.mu.Unlock()

	cards, err := m.fetcher.Fetch(ctx, spec)
	if err != nil {
		return domain.Card{}, fmt.Errorf("fetch next batch: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		// A reset or priority change superseded this fetch; the
		// batch must not overwrite the newer state.
		return domain.Card{}, ErrStale
	}
	m.enqueue(cards)
	if card, ok := m.pop(); ok {
		return card, nil
	}
	m.state = Exhausted
	return domain.Card{}, &ExhaustedError{Preset: m.cfg.Preset}
}

// Recheck re-arms an exhausted queue so the next demand fetches again.
// Typically driven by the user after receiving a "nothing left" state.
func (m *Manager) Recheck() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Exhausted {
		m.state = Empty
	}
}

// SetPriorities swaps the selection policy, discards the buffer and
// re-arms the queue. Cards already served this session stay excluded.
func (m *Manager) SetPriorities(cfg domain.PriorityConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.buffer = nil
	m.state = Empty
	m.gen++
	m.prefetching = false
}

// Reset discards everything, including the served-card memory. Used at
// session teardown and after a full progress reset.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = nil
	m.seen = make(map[int64]struct{})
	m.state = Empty
	m.gen++
	m.prefetching = false
}

// pop removes and returns the buffer head. Caller holds m.mu.
func (m *Manager) pop() (domain.Card, bool) {
	if len(m.buffer) == 0 {
		return domain.Card{}, false
	}
	card := m.buffer[0]
	m.buffer = m.buffer[1:]
	m.seen[card.ID] = struct{}{}
	if len(m.buffer) == 0 {
		m.state = Empty
	}
	return card, true
}

// enqueue shuffles a fetched batch and appends it to the tail, skipping
// cards already served or currently buffered. Buffered-but-unserved
// cards discarded by a priority change become eligible again. Caller
// holds m.mu.
func (m *Manager) enqueue(cards []domain.Card) {
	if len(cards) == 0 {
		return
	}
	buffered := make(map[int64]struct{}, len(m.buffer))
	for _, c := range m.buffer {
		buffered[c.ID] = struct{}{}
	}
	batch := append([]domain.Card(nil), cards...)
	m.rng.Shuffle(len(batch), func(i, j int) {
		batch[i], batch[j] = batch[j], batch[i]
	})
	for _, c := range batch {
		if _, dup := m.seen[c.ID]; dup {
			continue
		}
		if _, dup := buffered[c.ID]; dup {
			continue
		}
		buffered[c.ID] = struct{}{}
		m.buffer = append(m.buffer, c)
	}
	if len(m.buffer) > 0 {
		m.state = Filled
	}
}

// maybePrefetch starts a background refill when the buffer is running
// low but not yet empty. Caller holds m.mu.
func (m *Manager) maybePrefetch(excludeID int64) {
	if m.state != Filled || len(m.buffer) > prefetchThreshold || m.prefetching {
		return
	}
	m.prefetching = true
	m.gen++
	gen := m.gen
	spec := policy.Resolve(m.cfg, excludeID)
	go m.prefetch(spec, gen)
}

// prefetch is fire-and-forget: failures are logged, never surfaced, and
// a batch that lost the race to a newer request is dropped. Successful
// merges only ever append to the tail.
func (m *Manager) prefetch(spec policy.FetchSpec, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
	defer cancel()

	cards, err := m.fetcher.Fetch(ctx, spec)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.gen {
		m.prefetching = false
	}
	if err != nil {
		m.log.Warn("background prefetch failed", "error", err)
		return
	}
	if gen != m.gen {
		m.log.Debug("discarding superseded prefetch batch", "cards", len(cards))
		return
	}
	m.enqueue(cards)
}
