package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marib00/flashcard-app/internal/domain"
)

var now = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func reviewed(at time.Time, ratings ...domain.Rating) domain.SrsState {
	return domain.SrsState{
		Stability:     2,
		Difficulty:    0.3,
		ReviewCount:   len(ratings),
		LastReviewAt:  at,
		RatingHistory: ratings,
	}
}

func TestMergeIdempotent(t *testing.T) {
	tr := NewTracker(time.UTC)
	st := reviewed(now, domain.Good, domain.Easy)

	tr.Merge(1, st)
	tr.Merge(1, st)

	assert.Equal(t, 1, tr.Len())
	stats := tr.Stats(now)
	assert.Equal(t, 2, stats.TotalReviews)
}

func TestMergeReplacesRecord(t *testing.T) {
	tr := NewTracker(time.UTC)
	tr.Merge(1, reviewed(now, domain.Good))
	tr.Merge(1, reviewed(now, domain.Good, domain.Again))

	stats := tr.Stats(now)
	assert.Equal(t, 2, stats.TotalReviews)
	assert.Equal(t, 1, stats.Distribution[domain.Again])
}

func TestDistributionAndRetention(t *testing.T) {
	tr := NewTracker(time.UTC)
	tr.Merge(1, reviewed(now, domain.Good, domain.Easy))
	tr.Merge(2, reviewed(now, domain.Again, domain.Hard))

	stats := tr.Stats(now)
	assert.Equal(t, 4, stats.TotalReviews)
	assert.Equal(t, 1, stats.Distribution[domain.Again])
	assert.Equal(t, 1, stats.Distribution[domain.Hard])
	assert.Equal(t, 1, stats.Distribution[domain.Good])
	assert.Equal(t, 1, stats.Distribution[domain.Easy])
	assert.InDelta(t, 50.0, stats.RetentionRate, 1e-9)
}

func TestRetentionEdges(t *testing.T) {
	t.Run("empty history is zero", func(t *testing.T) {
		tr := NewTracker(time.UTC)
		assert.Zero(t, tr.Stats(now).RetentionRate)
	})

	t.Run("all good is one hundred", func(t *testing.T) {
		tr := NewTracker(time.UTC)
		tr.Merge(1, reviewed(now, domain.Good, domain.Good))
		assert.InDelta(t, 100.0, tr.Stats(now).RetentionRate, 1e-9)
	})
}

func TestStreak(t *testing.T) {
	t.Run("consecutive days counted back from today", func(t *testing.T) {
		tr := NewTracker(time.UTC)
		tr.Merge(1, reviewed(now, domain.Good))
		tr.Merge(2, reviewed(now.AddDate(0, 0, -1), domain.Good))
		tr.Merge(3, reviewed(now.AddDate(0, 0, -2), domain.Good))
		assert.Equal(t, 3, tr.Stats(now).StreakDays)
	})

	t.Run("gap breaks the streak", func(t *testing.T) {
		tr := NewTracker(time.UTC)
		tr.Merge(1, reviewed(now, domain.Good))
		tr.Merge(2, reviewed(now.AddDate(0, 0, -2), domain.Good))
		assert.Equal(t, 1, tr.Stats(now).StreakDays)
	})

	t.Run("no review today means zero", func(t *testing.T) {
		tr := NewTracker(time.UTC)
		tr.Merge(1, reviewed(now.AddDate(0, 0, -1), domain.Good))
		tr.Merge(2, reviewed(now.AddDate(0, 0, -2), domain.Good))
		assert.Equal(t, 0, tr.Stats(now).StreakDays)
	})
}

func TestTodayDistribution(t *testing.T) {
	tr := NewTracker(time.UTC)
	tr.Merge(1, reviewed(now, domain.Again, domain.Good))
	tr.Merge(2, reviewed(now, domain.Easy))
	tr.Merge(3, reviewed(now.AddDate(0, 0, -1), domain.Again))

	stats := tr.Stats(now)
	// Only cards reviewed today count, attributed to their last rating.
	assert.Equal(t, map[domain.Rating]int{
		domain.Good: 1,
		domain.Easy: 1,
	}, stats.TodayDistribution)
}

func TestTodayCountPrefersStore(t *testing.T) {
	tr := NewTracker(time.UTC)
	tr.Merge(1, reviewed(now, domain.Good))

	assert.Equal(t, 1, tr.Stats(now).TodayReviews)

	tr.SetTodayCount(7)
	assert.Equal(t, 7, tr.Stats(now).TodayReviews)
}

func TestSeedReplaces(t *testing.T) {
	tr := NewTracker(time.UTC)
	tr.Merge(99, reviewed(now, domain.Good))

	tr.Seed([]domain.Card{
		{ID: 1, State: reviewed(now, domain.Easy)},
		{ID: 2, State: reviewed(now, domain.Hard)},
	})

	assert.Equal(t, 2, tr.Len())
	stats := tr.Stats(now)
	assert.Equal(t, 2, stats.TotalReviews)
	assert.Zero(t, stats.Distribution[domain.Good])
}

func TestReset(t *testing.T) {
	tr := NewTracker(time.UTC)
	tr.Merge(1, reviewed(now, domain.Good))
	tr.SetTodayCount(3)

	tr.Reset()

	assert.Equal(t, 0, tr.Len())
	stats := tr.Stats(now)
	assert.Zero(t, stats.TotalReviews)
	assert.Zero(t, stats.TodayReviews)
	assert.Zero(t, stats.StreakDays)
}

func TestResetStatsPreservesScheduling(t *testing.T) {
	tr := NewTracker(time.UTC)
	tr.Merge(1, reviewed(now, domain.Good, domain.Easy))
	tr.SetTodayCount(2)

	tr.ResetStats()

	// The card is still tracked but contributes nothing to stats.
	assert.Equal(t, 1, tr.Len())
	stats := tr.Stats(now)
	assert.Zero(t, stats.TotalReviews)
	assert.Zero(t, stats.TodayReviews)
	assert.Zero(t, stats.StreakDays)
	assert.Zero(t, stats.RetentionRate)
}

func TestTimezoneBoundary(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 23:30 UTC on March 9 is already March 10 in Tokyo.
	lateUTC := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	nowTokyo := time.Date(2026, 3, 10, 8, 0, 0, 0, tokyo)

	tr := NewTracker(tokyo)
	tr.Merge(1, reviewed(lateUTC, domain.Good))

	stats := tr.Stats(nowTokyo)
	assert.Equal(t, 1, stats.TodayReviews)
	assert.Equal(t, 1, stats.StreakDays)
}

func TestDayStart(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	at := time.Date(2026, 3, 10, 8, 0, 0, 0, tokyo)
	start := DayStart(at, tokyo)

	// Midnight March 10 in Tokyo is 15:00 UTC on March 9.
	assert.Equal(t, time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC), start)
}

func TestParseTimezone(t *testing.T) {
	assert.Equal(t, time.UTC, ParseTimezone(""))
	assert.Equal(t, time.UTC, ParseTimezone("Not/AZone"))
	loc := ParseTimezone("Europe/Dublin")
	assert.Equal(t, "Europe/Dublin", loc.String())
}
