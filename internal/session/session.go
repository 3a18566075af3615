package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marib00/flashcard-app/internal/domain"
	"github.com/marib00/flashcard-app/internal/history"
	"github.com/marib00/flashcard-app/internal/policy"
	"github.com/marib00/flashcard-app/internal/queue"
)

// DefaultRevealDelay is the minimum time between submitting a rating
// and showing the result. Faster store responses are held back so the
// transition is perceptible.
const DefaultRevealDelay = 600 * time.Millisecond

var (
	// ErrNoCard is returned by actions that need a current card when
	// the review surface is empty or exhausted.
	ErrNoCard = errors.New("no card to act on")

	// ErrNoSelection is returned by Submit when no answer is selected.
	ErrNoSelection = errors.New("no answer selected")
)

// Store is the persistence surface the session depends on.
type Store interface {
	Fetch(ctx context.Context, spec policy.FetchSpec) ([]domain.Card, error)
	FetchByLastRating(ctx context.Context, rating domain.Rating, matchHistory bool, limit int, excludeID int64) ([]domain.Card, error)
	SubmitRating(ctx context.Context, cardID int64, rating domain.Rating) (domain.SrsState, error)
	SetSuspended(ctx context.Context, cardID int64, suspended bool) (bool, error)
	FetchUserHistory(ctx context.Context) ([]domain.Card, error)
	FetchTodayCount(ctx context.Context, dayStart time.Time) (int, error)
	CountCards(ctx context.Context) (int, error)
	ResetProgress(ctx context.Context) error
	ResetStatsOnly(ctx context.Context) error
	Ping(ctx context.Context) error
}

// View is the review surface shown to the user: the current card plus
// the per-card interaction state that resets when a new card arrives.
type View struct {
	Card       *domain.Card
	Selection  *int
	Submitted  bool
	LastReview *domain.SrsState
	Suspended  bool

	// Exhausted carries the terminal empty-queue message when Card is
	// nil because the queue ran out, as opposed to not started yet.
	Exhausted string
}

// Session drives one user's review flow: it owns the queue, the stats
// tracker and the current-card view, and funnels every user action
// through one mutex so the view always reflects a single consistent
// step. A single-user app needs nothing finer.
type Session struct {
	id    uuid.UUID
	store Store
	queue *queue.Manager
	stats *history.Tracker
	log   *slog.Logger
	loc   *time.Location

	revealDelay time.Duration
	now         func() time.Time
	sleep       func(time.Duration)

	mu         sync.Mutex
	view       View
	priorities domain.PriorityConfig
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithLocation sets the timezone used for day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *Session) {
		s.loc = loc
		s.stats = history.NewTracker(loc)
	}
}

// WithRevealDelay overrides the minimum rating-to-result delay.
func WithRevealDelay(d time.Duration) Option {
	return func(s *Session) { s.revealDelay = d }
}

// WithClock replaces the wall clock and sleeper, for tests.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(s *Session) {
		s.now = now
		s.sleep = sleep
	}
}

// New creates a session over the given store with the given starting
// priority configuration.
func New(store Store, cfg domain.PriorityConfig, opts ...Option) *Session {
	s := &Session{
		id:          uuid.New(),
		store:       store,
		stats:       history.NewTracker(time.Local),
		log:         slog.Default(),
		loc:         time.Local,
		revealDelay: DefaultRevealDelay,
		now:         time.Now,
		sleep:       time.Sleep,
		priorities:  cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = queue.New(store, cfg, queue.WithLogger(s.log))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Start seeds the stats tracker from the store and loads the first
// card. An exhausted queue is not an error: the session starts on the
// empty view.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cards, err := s.store.FetchUserHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load review history: %w", err)
	}
	s.stats.Seed(cards)

	count, err := s.store.FetchTodayCount(ctx, history.DayStart(s.now(), s.loc))
	if err != nil {
		return fmt.Errorf("failed to count today's reviews: %w", err)
	}
	s.stats.SetTodayCount(count)

	s.log.Info("session started", "session_id", s.id, "reviewed_cards", s.stats.Len())
	return s.advance(ctx, 0)
}

// Current returns a copy of the review surface.
func (s *Session) Current() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneView(s.view)
}

// Select records the user's answer choice. Changing the choice before
// submitting is allowed; changing it afterwards is not.
func (s *Session) Select(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.view.Card == nil {
		return ErrNoCard
	}
	if s.view.Submitted {
		return errors.New("answer already submitted")
	}
	if index < 0 || index >= len(s.view.Card.Answers) {
		return fmt.Errorf("answer index %d out of range", index)
	}
	i := index
	s.view.Selection = &i
	return nil
}

// Submit locks in the selected answer and reveals correctness.
func (s *Session) Submit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.view.Card == nil {
		return ErrNoCard
	}
	if s.view.Selection == nil {
		return ErrNoSelection
	}
	s.view.Submitted = true
	return nil
}

// SubmitRating rates the current card, records the adjusted state, and
// advances to the next card excluding the one just rated. The result
// is never shown before the reveal delay has elapsed. If the store
// rejects the rating the current card stays in place so the user can
// retry.
func (s *Session) SubmitRating(ctx context.Context, rating domain.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !rating.Valid() {
		return fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(rating))
	}
	if s.view.Card == nil {
		return ErrNoCard
	}
	cardID := s.view.Card.ID

	start := s.now()
	state, err := s.store.SubmitRating(ctx, cardID, rating)
	if err != nil {
		return fmt.Errorf("failed to submit rating: %w", err)
	}
	s.stats.Merge(cardID, state)

	// The store round-trip counts toward the delay; only the
	// remainder is waited out.
	if elapsed := s.now().Sub(start); elapsed < s.revealDelay {
		s.sleep(s.revealDelay - elapsed)
	}

	s.view.LastReview = &state
	s.log.Info("rating submitted", "card_id", cardID, "rating", rating.String())

	if err := s.advance(ctx, cardID); err != nil {
		return fmt.Errorf("rating recorded, but advancing failed: %w", err)
	}
	return nil
}

// Suspend suspends the current card and advances past it. Suspension
// persists until the card is next rated.
func (s *Session) Suspend(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.view.Card == nil {
		return ErrNoCard
	}
	cardID := s.view.Card.ID

	if _, err := s.store.SetSuspended(ctx, cardID, true); err != nil {
		return fmt.Errorf("failed to suspend card %d: %w", cardID, err)
	}
	s.log.Info("card suspended", "card_id", cardID)

	if err := s.advance(ctx, cardID); err != nil {
		return fmt.Errorf("card suspended, but advancing failed: %w", err)
	}
	return nil
}

// Unsuspend clears a card's suspended flag.
func (s *Session) Unsuspend(ctx context.Context, cardID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.SetSuspended(ctx, cardID, false); err != nil {
		return fmt.Errorf("failed to unsuspend card %d: %w", cardID, err)
	}
	if s.view.Card != nil && s.view.Card.ID == cardID {
		s.view.Suspended = false
	}
	return nil
}

// Priorities returns the current priority configuration.
func (s *Session) Priorities() domain.PriorityConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priorities
}

// SetPriority assigns a level to a card class, switching to the custom
// preset, and reloads the queue under the new policy.
func (s *Session) SetPriority(ctx context.Context, class domain.CardClass, level domain.PriorityLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.priorities
	cfg.SetLevel(class, level)
	s.priorities = cfg
	s.queue.SetPriorities(cfg)
	s.log.Info("priority changed", "class", class.String(), "level", level.String())

	return s.advance(ctx, 0)
}

// Retry re-checks store connectivity and, if the store answers, clears
// a terminal exhausted state and tries the fetch flow again.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("retry failed: %w", err)
	}
	s.queue.Recheck()
	return s.advance(ctx, 0)
}

// ResetProgress wipes all scheduling state; every card becomes new
// again. The queue and tracker restart from scratch.
func (s *Session) ResetProgress(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.ResetProgress(ctx); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}
	s.stats.Reset()
	s.queue.Reset()
	s.log.Info("progress reset", "session_id", s.id)
	return s.advance(ctx, 0)
}

// ResetStats clears the statistics basis while leaving scheduling
// untouched. The current card and queue are unaffected.
func (s *Session) ResetStats(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.ResetStatsOnly(ctx); err != nil {
		return fmt.Errorf("failed to reset stats: %w", err)
	}
	s.stats.ResetStats()
	s.log.Info("stats reset", "session_id", s.id)
	return nil
}

// CardsByRating browses cards by rating: either those whose most
// recent rating matches, or with matchHistory, those rated that way at
// any point. A browse affordance; it does not touch the review flow.
func (s *Session) CardsByRating(ctx context.Context, rating domain.Rating, matchHistory bool, limit int) ([]domain.Card, error) {
	if !rating.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(rating))
	}
	if limit <= 0 {
		limit = policy.BatchSize
	}
	cards, err := s.store.FetchByLastRating(ctx, rating, matchHistory, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cards by rating: %w", err)
	}
	return cards, nil
}

// CardCount returns the total number of cards in the store.
func (s *Session) CardCount(ctx context.Context) (int, error) {
	n, err := s.store.CountCards(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

// Stats refreshes the authoritative today-count from the store and
// returns the aggregate statistics.
func (s *Session) Stats(ctx context.Context) (history.AggregateStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.store.FetchTodayCount(ctx, history.DayStart(s.now(), s.loc))
	if err != nil {
		return history.AggregateStats{}, fmt.Errorf("failed to count today's reviews: %w", err)
	}
	s.stats.SetTodayCount(count)
	return s.stats.Stats(s.now()), nil
}

// advance pulls the next card from the queue and installs it. Caller
// holds the mutex. Exhaustion is a terminal view state, not an error.
func (s *Session) advance(ctx context.Context, excludeID int64) error {
	card, err := s.queue.Next(ctx, excludeID)
	if err != nil {
		var exhausted *queue.ExhaustedError
		if errors.As(err, &exhausted) {
			s.setCurrent(nil, exhausted.Error())
			s.log.Info("queue exhausted", "preset", string(exhausted.Preset))
			return nil
		}
		if errors.Is(err, queue.ErrStale) {
			return nil
		}
		return fmt.Errorf("failed to load next card: %w", err)
	}
	s.setCurrent(&card, "")
	return nil
}

// setCurrent installs a new current card. The per-card state resets in
// a fixed order: selection, then submitted, then last review, then the
// suspended flag, and the card itself last.
func (s *Session) setCurrent(card *domain.Card, exhausted string) {
	s.view.Selection = nil
	s.view.Submitted = false
	s.view.LastReview = nil
	if card != nil {
		s.view.Suspended = card.State.Suspended
	} else {
		s.view.Suspended = false
	}
	s.view.Card = card
	s.view.Exhausted = exhausted
}

func cloneView(v View) View {
	out := v
	if v.Card != nil {
		card := *v.Card
		out.Card = &card
	}
	if v.Selection != nil {
		i := *v.Selection
		out.Selection = &i
	}
	if v.LastReview != nil {
		st := *v.LastReview
		out.LastReview = &st
	}
	return out
}
