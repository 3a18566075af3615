package history

import (
	"sync"
	"time"

	"github.com/marib00/flashcard-app/internal/domain"
)

// Tracker keeps the authoritative per-card rating history for the
// session and derives aggregate statistics from it. It is the only
// writer of that history; callers feed it merged store state.
type Tracker struct {
	mu      sync.Mutex
	loc     *time.Location
	records map[int64]domain.SrsState

	// todayCount mirrors the store's own count of today's reviews.
	// The store is the source of truth here; the locally derived
	// count only covers cards the tracker has seen.
	todayCount    int
	hasTodayCount bool
}

// AggregateStats is derived from the full history; it is never stored.
type AggregateStats struct {
	TotalReviews      int                   `json:"total_reviews"`
	TodayReviews      int                   `json:"today_reviews"`
	Distribution      map[domain.Rating]int `json:"distribution"`
	TodayDistribution map[domain.Rating]int `json:"today_distribution"`
	StreakDays        int                   `json:"streak_days"`
	// RetentionRate is the percentage of all ratings that were
	// good or easy. 0 for an empty history.
	RetentionRate float64 `json:"retention_rate"`
}

// NewTracker creates an empty tracker. loc fixes the calendar-day
// boundary used for streaks and today's counts; nil means time.Local.
// One location is used for every calculation so streak and
// distribution never disagree about what "today" means.
func NewTracker(loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.Local
	}
	return &Tracker{
		loc:     loc,
		records: make(map[int64]domain.SrsState),
	}
}

// Merge replaces the record for cardID with the latest known state, or
// adds it. Merging the same state twice is a no-op; a card is never
// duplicated.
func (t *Tracker) Merge(cardID int64, state domain.SrsState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[cardID] = cloneState(state)
}

// Seed replaces the whole tracked history with the store's records,
// typically from a fetchUserHistory call at session start.
func (t *Tracker) Seed(cards []domain.Card) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[int64]domain.SrsState, len(cards))
	for _, c := range cards {
		t.records[c.ID] = cloneState(c.State)
	}
}

// SetTodayCount records the store's authoritative count of reviews
// performed today.
func (t *Tracker) SetTodayCount(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.todayCount = n
	t.hasTodayCount = true
}

// Len returns the number of tracked cards.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Reset drops all tracked history; the counterpart of a full progress
// reset in the store.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[int64]domain.SrsState)
	t.todayCount = 0
	t.hasTodayCount = false
}

// ResetStats clears the aggregate basis (rating histories, counts and
// review timestamps) while preserving each card's scheduling state.
// The counterpart of the store's stats-only reset.
func (t *Tracker) ResetStats() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, st := range t.records {
		st.RatingHistory = nil
		st.ReviewCount = 0
		st.LastReviewAt = time.Time{}
		t.records[id] = st
	}
	t.todayCount = 0
	t.hasTodayCount = false
}

// Stats derives the aggregate statistics at the given instant.
func (t *Tracker) Stats(now time.Time) AggregateStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := AggregateStats{
		Distribution:      make(map[domain.Rating]int),
		TodayDistribution: make(map[domain.Rating]int),
	}

	retained := 0
	reviewDays := make(map[string]struct{})
	todayDerived := 0

	for _, st := range t.records {
		for _, r := range st.RatingHistory {
			stats.TotalReviews++
			stats.Distribution[r]++
			if r == domain.Good || r == domain.Easy {
				retained++
			}
		}
		if st.LastReviewAt.IsZero() {
			continue
		}
		reviewDays[dayKey(st.LastReviewAt, t.loc)] = struct{}{}
		if sameDay(st.LastReviewAt, now, t.loc) {
			todayDerived++
			// The last rating stands in for "today" on a card
			// reviewed today; per-event timestamps are not kept.
			if last, ok := st.LastRating(); ok {
				stats.TodayDistribution[last]++
			}
		}
	}

	if stats.TotalReviews > 0 {
		stats.RetentionRate = float64(retained) / float64(stats.TotalReviews) * 100
	}

	stats.TodayReviews = todayDerived
	if t.hasTodayCount {
		stats.TodayReviews = t.todayCount
	}

	stats.StreakDays = streak(reviewDays, now, t.loc)
	return stats
}

// streak counts consecutive calendar days with at least one review,
// walking backward from today. No review today means streak 0, no
// matter what came before.
func streak(reviewDays map[string]struct{}, now time.Time, loc *time.Location) int {
	days := 0
	cursor := now.In(loc)
	for {
		if _, ok := reviewDays[dayKey(cursor, loc)]; !ok {
			return days
		}
		days++
		cursor = cursor.AddDate(0, 0, -1)
	}
}

func cloneState(st domain.SrsState) domain.SrsState {
	if st.RatingHistory != nil {
		st.RatingHistory = append([]domain.Rating(nil), st.RatingHistory...)
	}
	return st
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	return dayKey(a, loc) == dayKey(b, loc)
}
