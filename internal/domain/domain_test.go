package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatingValid(t *testing.T) {
	for r := Again; r <= Easy; r++ {
		assert.True(t, r.Valid())
	}
	assert.False(t, Rating(0).Valid())
	assert.False(t, Rating(5).Valid())
}

func TestRatingRoundTrip(t *testing.T) {
	for _, r := range []Rating{Again, Hard, Good, Easy} {
		parsed, err := ParseRating(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, parsed)
	}

	_, err := ParseRating("meh")
	assert.Error(t, err)
}

func TestIsNew(t *testing.T) {
	assert.True(t, SrsState{}.IsNew())
	assert.True(t, SrsState{Suspended: true}.IsNew(), "suspension does not age a card")
	assert.False(t, SrsState{Stability: 1, ReviewCount: 1}.IsNew())
	assert.False(t, SrsState{Stability: 2.5}.IsNew(), "stats reset leaves stability behind")
}

func TestLastRating(t *testing.T) {
	_, ok := SrsState{}.LastRating()
	assert.False(t, ok)

	st := SrsState{RatingHistory: []Rating{Good, Again}}
	last, ok := st.LastRating()
	require.True(t, ok)
	assert.Equal(t, Again, last)
}

func TestPriorityLevelRoundTrip(t *testing.T) {
	for _, p := range []PriorityLevel{PriorityOff, PriorityLow, PriorityNormal, PriorityHigh, PriorityHighest} {
		parsed, err := ParsePriorityLevel(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
}
