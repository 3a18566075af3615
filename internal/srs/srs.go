package srs

import (
	"fmt"
	"math"
	"time"

	"github.com/marib00/flashcard-app/internal/domain"
)

// The adjustment engine is deliberately table-driven rather than a full
// FSRS model: rating-dependent floors and ceilings keep immature cards
// from jumping to implausible intervals and let lapsed cards recover.
// It is pure and deterministic; the same inputs always produce the same
// output state.

// minStability seeds (and floors) stability per rating, in days.
var minStability = map[domain.Rating]float64{
	domain.Again: 0.1,
	domain.Hard:  0.5,
	domain.Good:  1.0,
	domain.Easy:  3.0,
}

// stabilityMult grows or shrinks stability on repeat reviews.
var stabilityMult = map[domain.Rating]float64{
	domain.Again: 0.2,
	domain.Hard:  1.0,
	domain.Good:  2.5,
	domain.Easy:  4.0,
}

// maxStability caps stability per rating, in days. Again has no ceiling
// beyond its floor.
var maxStability = map[domain.Rating]float64{
	domain.Hard: 14,
	domain.Good: 60,
	domain.Easy: 180,
}

const (
	defaultDifficulty = 0.3
	difficultyStep    = 0.05
	minDifficulty     = 0.1
	maxDifficulty     = 0.9
)

// Adjust computes the card state after applying a rating at the given
// time. prev may be nil for a card that has never been reviewed.
// An out-of-range rating returns domain.ErrInvalidRating; nothing is
// clamped silently.
func Adjust(prev *domain.SrsState, rating domain.Rating, now time.Time) (domain.SrsState, error) {
	if !rating.Valid() {
		return domain.SrsState{}, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(rating))
	}

	var cur domain.SrsState
	if prev != nil {
		cur = *prev
	}

	var stability float64
	if cur.IsNew() || cur.ReviewCount <= 1 {
		// First impressions seed stability directly from the rating.
		stability = minStability[rating]
	} else {
		stability = cur.Stability * stabilityMult[rating]
		if stability < minStability[rating] {
			stability = minStability[rating]
		}
		if ceiling, ok := maxStability[rating]; ok && stability > ceiling {
			stability = ceiling
		}
	}

	difficulty := cur.Difficulty
	if difficulty == 0 {
		difficulty = defaultDifficulty
	}
	switch rating {
	case domain.Again:
		difficulty = math.Min(difficulty+difficultyStep, maxDifficulty)
	case domain.Easy:
		difficulty = math.Max(difficulty-difficultyStep, minDifficulty)
	}

	history := make([]domain.Rating, len(cur.RatingHistory)+1)
	copy(history, cur.RatingHistory)
	history[len(history)-1] = rating

	return domain.SrsState{
		Stability:     stability,
		Difficulty:    difficulty,
		ReviewCount:   cur.ReviewCount + 1,
		NextReviewAt:  now.Add(Interval(stability)),
		LastReviewAt:  now,
		Suspended:     false, // rating a card unsuspends it
		RatingHistory: history,
	}, nil
}

// Interval converts a stability in days to a scheduling duration.
// Fractional days keep sub-day precision.
func Interval(stabilityDays float64) time.Duration {
	return time.Duration(stabilityDays * 24 * float64(time.Hour))
}
