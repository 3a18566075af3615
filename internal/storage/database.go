package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marib00/flashcard-app/internal/domain"
	"github.com/marib00/flashcard-app/internal/policy"
	"github.com/marib00/flashcard-app/internal/srs"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DB is the question/progress store and the client of record for the
// adjustment algorithm: SubmitRating is the one place a rating is ever
// turned into new SRS state.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Open creates a new database connection and ensures the schema is up
// to date.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer; one connection also keeps
	// in-memory databases coherent.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: conn, now: time.Now}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the store is reachable. The session's retry entrypoint
// runs this before resuming the fetch flow.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

const cardColumns = `c.id, c.question, c.answers, c.explanation,
	p.stability, p.difficulty, p.review_count, p.next_review,
	p.last_review, p.suspended, p.rating_history`

// scanCard reads one joined cards/progress row. Progress columns are
// NULL for cards that have never been touched.
func scanCard(row interface{ Scan(...any) error }) (domain.Card, error) {
	var (
		c          domain.Card
		answers    string
		stability  sql.NullFloat64
		difficulty sql.NullFloat64
		count      sql.NullInt64
		nextReview sql.NullTime
		lastReview sql.NullTime
		suspended  sql.NullBool
		history    sql.NullString
	)
	err := row.Scan(&c.ID, &c.Question, &answers, &c.Explanation,
		&stability, &difficulty, &count, &nextReview, &lastReview,
		&suspended, &history)
	if err != nil {
		return domain.Card{}, err
	}

	if answers != "" {
		if err := json.Unmarshal([]byte(answers), &c.Answers); err != nil {
			return domain.Card{}, fmt.Errorf("failed to decode answers for card %d: %w", c.ID, err)
		}
	}

	c.State = domain.SrsState{
		Stability:    stability.Float64,
		Difficulty:   difficulty.Float64,
		ReviewCount:  int(count.Int64),
		NextReviewAt: nextReview.Time,
		LastReviewAt: lastReview.Time,
		Suspended:    suspended.Bool,
	}
	if history.Valid && history.String != "" {
		if err := json.Unmarshal([]byte(history.String), &c.State.RatingHistory); err != nil {
			return domain.Card{}, fmt.Errorf("failed to decode rating history for card %d: %w", c.ID, err)
		}
	}
	return c, nil
}

func (db *DB) queryCards(ctx context.Context, query string, args ...any) ([]domain.Card, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// InsertCard adds a question to the store and returns its id. Cards
// start with no progress row, i.e. "new".
func (db *DB) InsertCard(ctx context.Context, card domain.Card) (int64, error) {
	answers, err := json.Marshal(card.Answers)
	if err != nil {
		return 0, fmt.Errorf("failed to encode answers: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO cards (question, answers, explanation)
		VALUES (?, ?, ?)
	`, card.Question, string(answers), card.Explanation)
	if err != nil {
		return 0, fmt.Errorf("failed to insert card: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get card id: %w", err)
	}
	return id, nil
}

// CountCards returns the total number of cards in the store.
func (db *DB) CountCards(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

// GetCard retrieves one card with its progress state.
func (db *DB) GetCard(ctx context.Context, id int64) (domain.Card, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards c
		LEFT JOIN progress p ON p.card_id = c.id
		WHERE c.id = ?
	`, id)
	card, err := scanCard(row)
	if err == sql.ErrNoRows {
		return domain.Card{}, fmt.Errorf("%w: id %d", domain.ErrCardNotFound, id)
	}
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to get card %d: %w", id, err)
	}
	return card, nil
}

// FetchDue returns non-suspended cards whose next review time has
// passed, most overdue first.
func (db *DB) FetchDue(ctx context.Context, limit int, excludeID int64) ([]domain.Card, error) {
	// Times are stored and compared in UTC; sqlite compares them as
	// strings, so a single zone keeps the ordering sound.
	now := db.now().UTC()
	query := `
		SELECT ` + cardColumns + `
		FROM cards c
		JOIN progress p ON p.card_id = c.id
		WHERE p.next_review IS NOT NULL AND p.next_review <= ?
		  AND p.suspended = 0`
	args := []any{now}
	if excludeID != 0 {
		query += ` AND c.id != ?`
		args = append(args, excludeID)
	}
	query += ` ORDER BY p.next_review ASC LIMIT ?`
	args = append(args, limit)

	cards, err := db.queryCards(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due cards: %w", err)
	}
	return cards, nil
}

// FetchNew returns never-reviewed, non-suspended cards in random
// order. Suspending an untouched card creates a progress row, so a
// bare "no progress row" check is not enough.
func (db *DB) FetchNew(ctx context.Context, limit int, excludeID int64) ([]domain.Card, error) {
	query := `
		SELECT ` + cardColumns + `
		FROM cards c
		LEFT JOIN progress p ON p.card_id = c.id
		WHERE (p.card_id IS NULL OR (p.review_count = 0 AND p.stability = 0))
		  AND COALESCE(p.suspended, 0) = 0`
	var args []any
	if excludeID != 0 {
		query += ` AND c.id != ?`
		args = append(args, excludeID)
	}
	query += ` ORDER BY RANDOM() LIMIT ?`
	args = append(args, limit)

	cards, err := db.queryCards(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch new cards: %w", err)
	}
	return cards, nil
}

// FetchByPriority walks the configured priority levels from highest to
// lowest, taking due cards (most overdue first) before new cards within
// each level, until the limit is reached. Classes at Off are never
// returned, and there is no fallback: an empty result is final.
func (db *DB) FetchByPriority(ctx context.Context, spec policy.FetchSpec) ([]domain.Card, error) {
	now := db.now().UTC()
	var picked []domain.Card
	exclude := map[int64]struct{}{}
	if spec.ExcludeCardID != 0 {
		exclude[spec.ExcludeCardID] = struct{}{}
	}

	for _, group := range spec.LevelGroups() {
		remaining := spec.Limit - len(picked)
		if remaining <= 0 {
			break
		}

		var ratings []domain.Rating
		wantNew := false
		for _, class := range group.Classes {
			switch class {
			case domain.ClassNew:
				wantNew = true
			case domain.ClassAgain:
				ratings = append(ratings, domain.Again)
			case domain.ClassHard:
				ratings = append(ratings, domain.Hard)
			case domain.ClassGood:
				ratings = append(ratings, domain.Good)
			case domain.ClassEasy:
				ratings = append(ratings, domain.Easy)
			}
		}

		if len(ratings) > 0 {
			cards, err := db.fetchDueByRating(ctx, ratings, remaining, exclude, now)
			if err != nil {
				return nil, err
			}
			for _, c := range cards {
				exclude[c.ID] = struct{}{}
				picked = append(picked, c)
			}
			remaining = spec.Limit - len(picked)
		}

		if wantNew && remaining > 0 {
			cards, err := db.fetchNewExcluding(ctx, remaining, exclude)
			if err != nil {
				return nil, err
			}
			for _, c := range cards {
				exclude[c.ID] = struct{}{}
				picked = append(picked, c)
			}
		}
	}
	return picked, nil
}

func (db *DB) fetchDueByRating(ctx context.Context, ratings []domain.Rating, limit int, exclude map[int64]struct{}, now time.Time) ([]domain.Card, error) {
	query := `
		SELECT ` + cardColumns + `
		FROM cards c
		JOIN progress p ON p.card_id = c.id
		WHERE p.next_review IS NOT NULL AND p.next_review <= ?
		  AND p.suspended = 0
		  AND p.last_rating IN (` + placeholders(len(ratings)) + `)`
	args := []any{now}
	for _, r := range ratings {
		args = append(args, int(r))
	}
	query, args = excludeIDs(query, args, exclude)
	query += ` ORDER BY p.next_review ASC LIMIT ?`
	args = append(args, limit)

	cards, err := db.queryCards(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due cards by rating: %w", err)
	}
	return cards, nil
}

func (db *DB) fetchNewExcluding(ctx context.Context, limit int, exclude map[int64]struct{}) ([]domain.Card, error) {
	query := `
		SELECT ` + cardColumns + `
		FROM cards c
		LEFT JOIN progress p ON p.card_id = c.id
		WHERE (p.card_id IS NULL OR (p.review_count = 0 AND p.stability = 0))
		  AND COALESCE(p.suspended, 0) = 0`
	var args []any
	query, args = excludeIDs(query, args, exclude)
	query += ` ORDER BY RANDOM() LIMIT ?`
	args = append(args, limit)

	cards, err := db.queryCards(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch new cards: %w", err)
	}
	return cards, nil
}

// FetchByLastRating returns cards whose most recent rating matches,
// ordered by next review time. With matchHistory set, it instead
// returns cards rated that way at any point, most recently reviewed
// first; the history column is JSON, so that filter runs client-side.
func (db *DB) FetchByLastRating(ctx context.Context, rating domain.Rating, matchHistory bool, limit int, excludeID int64) ([]domain.Card, error) {
	if !rating.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(rating))
	}

	if !matchHistory {
		query := `
			SELECT ` + cardColumns + `
			FROM cards c
			JOIN progress p ON p.card_id = c.id
			WHERE p.last_rating = ?`
		args := []any{int(rating)}
		if excludeID != 0 {
			query += ` AND c.id != ?`
			args = append(args, excludeID)
		}
		query += ` ORDER BY p.next_review ASC LIMIT ?`
		args = append(args, limit)

		cards, err := db.queryCards(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch cards by last rating: %w", err)
		}
		return cards, nil
	}

	query := `
		SELECT ` + cardColumns + `
		FROM cards c
		JOIN progress p ON p.card_id = c.id
		WHERE p.review_count > 0`
	var args []any
	if excludeID != 0 {
		query += ` AND c.id != ?`
		args = append(args, excludeID)
	}
	query += ` ORDER BY p.last_review DESC`

	all, err := db.queryCards(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rated cards: %w", err)
	}

	var cards []domain.Card
	for _, c := range all {
		for _, r := range c.State.RatingHistory {
			if r == rating {
				cards = append(cards, c)
				break
			}
		}
		if len(cards) == limit {
			break
		}
	}
	return cards, nil
}

// Fetch executes a resolved batch request. This is the queue manager's
// fetch surface: the auto preset serves due cards and falls back to new
// ones when nothing is due; the custom preset never falls back.
func (db *DB) Fetch(ctx context.Context, spec policy.FetchSpec) ([]domain.Card, error) {
	if spec.Preset == domain.PresetCustom {
		return db.FetchByPriority(ctx, spec)
	}
	cards, err := db.FetchDue(ctx, spec.Limit, spec.ExcludeCardID)
	if err != nil {
		return nil, err
	}
	if len(cards) > 0 {
		return cards, nil
	}
	return db.FetchNew(ctx, spec.Limit, spec.ExcludeCardID)
}

// SubmitRating applies a rating to a card and persists the adjusted
// state. The adjustment runs here and nowhere else, exactly once per
// rating.
func (db *DB) SubmitRating(ctx context.Context, cardID int64, rating domain.Rating) (domain.SrsState, error) {
	if !rating.Valid() {
		return domain.SrsState{}, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(rating))
	}

	prev, err := db.loadProgress(ctx, cardID)
	if err != nil {
		return domain.SrsState{}, err
	}

	next, err := srs.Adjust(prev, rating, db.now().UTC())
	if err != nil {
		return domain.SrsState{}, err
	}

	history, err := json.Marshal(next.RatingHistory)
	if err != nil {
		return domain.SrsState{}, fmt.Errorf("failed to encode rating history: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO progress (card_id, stability, difficulty, review_count,
			last_rating, next_review, last_review, suspended, rating_history)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(card_id) DO UPDATE SET
			stability = excluded.stability,
			difficulty = excluded.difficulty,
			review_count = excluded.review_count,
			last_rating = excluded.last_rating,
			next_review = excluded.next_review,
			last_review = excluded.last_review,
			suspended = 0,
			rating_history = excluded.rating_history
	`, cardID, next.Stability, next.Difficulty, next.ReviewCount,
		int(rating), next.NextReviewAt.UTC(), next.LastReviewAt.UTC(), string(history))
	if err != nil {
		return domain.SrsState{}, fmt.Errorf("failed to store rating for card %d: %w", cardID, err)
	}
	return next, nil
}

// loadProgress returns the card's progress state, nil when the card
// has never been touched, or ErrCardNotFound for an unknown id.
func (db *DB) loadProgress(ctx context.Context, cardID int64) (*domain.SrsState, error) {
	card, err := db.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.State.IsNew() && !card.State.Suspended && card.State.NextReviewAt.IsZero() {
		return nil, nil
	}
	st := card.State
	return &st, nil
}

// SetSuspended sets a card's suspended flag and returns the stored
// value. Suspending an untouched card creates a progress row that is
// suspended but otherwise still new.
func (db *DB) SetSuspended(ctx context.Context, cardID int64, suspended bool) (bool, error) {
	if _, err := db.GetCard(ctx, cardID); err != nil {
		return false, err
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO progress (card_id, suspended)
		VALUES (?, ?)
		ON CONFLICT(card_id) DO UPDATE SET suspended = excluded.suspended
	`, cardID, suspended)
	if err != nil {
		return false, fmt.Errorf("failed to set suspended for card %d: %w", cardID, err)
	}
	return suspended, nil
}

// FetchUserHistory returns every reviewed card with its state and full
// rating history, most recently reviewed first. Used to seed the
// history tracker.
func (db *DB) FetchUserHistory(ctx context.Context) ([]domain.Card, error) {
	cards, err := db.queryCards(ctx, `
		SELECT `+cardColumns+`
		FROM cards c
		JOIN progress p ON p.card_id = c.id
		WHERE p.review_count > 0
		ORDER BY p.last_review DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user history: %w", err)
	}
	return cards, nil
}

// FetchTodayCount counts reviews performed since dayStart. This is the
// authoritative "today" figure; the tracker's derived count only covers
// cards it has seen.
func (db *DB) FetchTodayCount(ctx context.Context, dayStart time.Time) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM progress
		WHERE last_review IS NOT NULL AND last_review >= ?
	`, dayStart.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count today's reviews: %w", err)
	}
	return n, nil
}

// ResetProgress deletes all progress; every card reverts to new.
func (db *DB) ResetProgress(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM progress`); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}
	return nil
}

// ResetStatsOnly clears the statistics basis (rating histories, review
// counts, review timestamps) while preserving stability, difficulty,
// next review time and suspension.
func (db *DB) ResetStatsOnly(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE progress SET
			rating_history = '[]',
			review_count = 0,
			last_rating = NULL,
			last_review = NULL
	`)
	if err != nil {
		return fmt.Errorf("failed to reset stats: %w", err)
	}
	return nil
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// excludeIDs appends a NOT IN filter for the given card ids.
func excludeIDs(query string, args []any, ids map[int64]struct{}) (string, []any) {
	if len(ids) == 0 {
		return query, args
	}
	query += ` AND c.id NOT IN (` + placeholders(len(ids)) + `)`
	for id := range ids {
		args = append(args, id)
	}
	return query, args
}
