package queue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marib00/flashcard-app/internal/domain"
	"github.com/marib00/flashcard-app/internal/policy"
)

// fakeFetcher serves scripted batches and records the specs it saw.
type fakeFetcher struct {
	mu      sync.Mutex
	batches [][]domain.Card
	specs   []policy.FetchSpec
	err     error
	block   chan struct{} // if set, Fetch waits on it
}

func (f *fakeFetcher) Fetch(ctx context.Context, spec policy.FetchSpec) ([]domain.Card, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeFetcher) specCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

func cards(ids ...int64) []domain.Card {
	out := make([]domain.Card, len(ids))
	for i, id := range ids {
		out[i] = domain.Card{ID: id}
	}
	return out
}

func newManager(f Fetcher) *Manager {
	return New(f, domain.DefaultPriorities(), WithRand(rand.New(rand.NewSource(1))))
}

func TestNextFillsFromEmpty(t *testing.T) {
	f := &fakeFetcher{batches: [][]domain.Card{cards(1, 2, 3)}}
	m := newManager(f)

	require.Equal(t, Empty, m.State())

	served := map[int64]bool{}
	for i := 0; i < 3; i++ {
		card, err := m.Next(context.Background(), 0)
		require.NoError(t, err)
		assert.False(t, served[card.ID], "card %d served twice", card.ID)
		served[card.ID] = true
	}
	assert.Len(t, served, 3)
}

func TestNextExhaustsWhenFetchEmpty(t *testing.T) {
	f := &fakeFetcher{}
	m := newManager(f)

	_, err := m.Next(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, Exhausted, m.State())

	// Exhausted is terminal: no further fetches are issued.
	before := f.specCount()
	_, err = m.Next(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, before, f.specCount())
}

func TestExhaustedMessagePerPreset(t *testing.T) {
	auto := &ExhaustedError{Preset: domain.PresetAuto}
	custom := &ExhaustedError{Preset: domain.PresetCustom}
	assert.Contains(t, auto.Error(), "nothing is due")
	assert.Contains(t, custom.Error(), "priority filters")
}

func TestRecheckRearmsExhausted(t *testing.T) {
	f := &fakeFetcher{}
	m := newManager(f)

	_, err := m.Next(context.Background(), 0)
	require.Error(t, err)
	require.Equal(t, Exhausted, m.State())

	m.Recheck()
	assert.Equal(t, Empty, m.State())

	f.mu.Lock()
	f.batches = [][]domain.Card{cards(7)}
	f.mu.Unlock()

	card, err := m.Next(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), card.ID)
}

func TestPrefetchAppendsToTail(t *testing.T) {
	f := &fakeFetcher{batches: [][]domain.Card{
		cards(1, 2, 3, 4),
		cards(5, 6),
	}}
	m := newManager(f)

	// First serve fills the buffer with 4 cards; after popping one,
	// 3 remain, which hits the prefetch threshold.
	first, err := m.Next(context.Background(), 0)
	require.NoError(t, err)

	head := m.Buffered()
	require.Len(t, head, 3)

	require.Eventually(t, func() bool {
		return m.Len() == 5
	}, time.Second, 5*time.Millisecond)

	// The pre-existing head order is untouched; new cards landed at
	// the tail.
	after := m.Buffered()
	assert.Equal(t, head, after[:3])
	for _, id := range after {
		assert.NotEqual(t, first.ID, id)
	}
}

func TestPrefetchFailureIsSilent(t *testing.T) {
	f := &fakeFetcher{batches: [][]domain.Card{cards(1, 2, 3, 4)}}
	m := newManager(f)

	_, err := m.Next(context.Background(), 0)
	require.NoError(t, err)

	f.mu.Lock()
	f.err = errors.New("store down")
	f.mu.Unlock()

	// Wait for the background prefetch attempt to run.
	require.Eventually(t, func() bool {
		return f.specCount() >= 2
	}, time.Second, 5*time.Millisecond)

	// Buffered cards still serve fine.
	for i := 0; i < 3; i++ {
		_, err := m.Next(context.Background(), 0)
		require.NoError(t, err)
	}
}

func TestStalePrefetchDiscarded(t *testing.T) {
	block := make(chan struct{})
	f := &fakeFetcher{
		batches: [][]domain.Card{cards(1, 2, 3, 4), cards(5, 6)},
		block:   block,
	}
	// First fetch must go through; unblock it immediately.
	go func() { block <- struct{}{} }()
	m := newManager(f)

	_, err := m.Next(context.Background(), 0)
	require.NoError(t, err)

	// A prefetch is now blocked in flight. Changing priorities
	// supersedes it.
	cfg := m.Priorities()
	cfg.SetLevel(domain.ClassEasy, domain.PriorityOff)
	m.SetPriorities(cfg)
	require.Equal(t, Empty, m.State())

	close(block)
	// The superseded batch must never land in the buffer.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, m.Len())
}

func TestSetPrioritiesDiscardsBuffer(t *testing.T) {
	f := &fakeFetcher{batches: [][]domain.Card{cards(1, 2, 3, 4, 5)}}
	m := newManager(f)

	served, err := m.Next(context.Background(), 0)
	require.NoError(t, err)
	require.Greater(t, m.Len(), 0)

	cfg := m.Priorities()
	cfg.SetLevel(domain.ClassNew, domain.PriorityOff)
	m.SetPriorities(cfg)

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, Empty, m.State())

	// Served cards stay excluded; discarded-but-unserved ones are
	// eligible again.
	f.mu.Lock()
	f.batches = [][]domain.Card{cards(1, 2, 3, 4, 5)}
	f.mu.Unlock()

	next, err := m.Next(context.Background(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, served.ID, next.ID)
	assert.NotContains(t, m.Buffered(), served.ID)
}

func TestResetClearsServedMemory(t *testing.T) {
	f := &fakeFetcher{batches: [][]domain.Card{cards(1), cards(1)}}
	m := newManager(f)

	card, err := m.Next(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), card.ID)

	m.Reset()

	card, err = m.Next(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), card.ID, "reset forgets served cards")
}

func TestNextPassesExclusion(t *testing.T) {
	f := &fakeFetcher{batches: [][]domain.Card{cards(9)}}
	m := newManager(f)

	_, err := m.Next(context.Background(), 42)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.specs)
	assert.Equal(t, int64(42), f.specs[0].ExcludeCardID)
	assert.Equal(t, policy.BatchSize, f.specs[0].Limit)
}

func TestNextFetchError(t *testing.T) {
	f := &fakeFetcher{err: errors.New("store down")}
	m := newManager(f)

	_, err := m.Next(context.Background(), 0)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrExhausted))
	// Errors do not latch the exhausted state.
	assert.Equal(t, Empty, m.State())
}

func TestEnqueueDedupesWithinBuffer(t *testing.T) {
	f := &fakeFetcher{batches: [][]domain.Card{cards(1, 1, 2)}}
	m := newManager(f)

	_, err := m.Next(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}
