package domain

import "time"

// Answer is a single choice on a multiple-choice card.
type Answer struct {
	ID      int    `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Card represents a single multiple-choice question together with the
// current user's scheduling state. The question content is owned by the
// store and never mutated here; only State changes over time.
type Card struct {
	ID          int64    `json:"id"`
	Question    string   `json:"question"`
	Answers     []Answer `json:"answers"`
	Explanation string   `json:"explanation"`
	State       SrsState `json:"state"`
}

// SrsState is the per-user memory state attached to a card.
type SrsState struct {
	// Stability is the memory strength in days. 0 means the card
	// has never been reviewed.
	Stability float64 `json:"stability"`
	// Difficulty in [0.1, 0.9]; the effort required to grow stability.
	Difficulty    float64   `json:"difficulty"`
	ReviewCount   int       `json:"review_count"`
	NextReviewAt  time.Time `json:"next_review_at"`
	LastReviewAt  time.Time `json:"last_review_at"`
	Suspended     bool      `json:"suspended"`
	RatingHistory []Rating  `json:"rating_history"`
}

// IsNew reports whether the card has never been rated.
func (s SrsState) IsNew() bool {
	return s.Stability == 0 && s.ReviewCount == 0
}

// LastRating returns the most recent rating applied to the card.
// ok is false when the card has no rating history.
func (s SrsState) LastRating() (r Rating, ok bool) {
	if len(s.RatingHistory) == 0 {
		return 0, false
	}
	return s.RatingHistory[len(s.RatingHistory)-1], true
}
