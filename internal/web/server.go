package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/marib00/flashcard-app/internal/domain"
	"github.com/marib00/flashcard-app/internal/history"
	"github.com/marib00/flashcard-app/internal/session"
)

// Server exposes the review session as a JSON API.
type Server struct {
	sess   *session.Session
	router *http.ServeMux
	log    *slog.Logger
}

// NewServer creates and configures a new server.
func NewServer(sess *session.Session, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		sess:   sess,
		router: http.NewServeMux(),
		log:    log,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /api/card", s.handleGetCard)
	s.router.HandleFunc("POST /api/select", s.handleSelect)
	s.router.HandleFunc("POST /api/submit", s.handleSubmit)
	s.router.HandleFunc("POST /api/review", s.handleReview)
	s.router.HandleFunc("POST /api/suspend", s.handleSuspend)
	s.router.HandleFunc("POST /api/unsuspend", s.handleUnsuspend)
	s.router.HandleFunc("GET /api/stats", s.handleStats)
	s.router.HandleFunc("GET /api/cards/by-rating", s.handleCardsByRating)
	s.router.HandleFunc("GET /api/cards/count", s.handleCardCount)
	s.router.HandleFunc("GET /api/priorities", s.handleGetPriorities)
	s.router.HandleFunc("POST /api/priorities", s.handleSetPriority)
	s.router.HandleFunc("POST /api/retry", s.handleRetry)
	s.router.HandleFunc("POST /api/reset/progress", s.handleResetProgress)
	s.router.HandleFunc("POST /api/reset/stats", s.handleResetStats)
	s.router.HandleFunc("GET /api/healthz", s.handleHealthz)
}

// cardResponse is the wire shape of the review surface.
type cardResponse struct {
	Card       *cardPayload   `json:"card,omitempty"`
	Selection  *int           `json:"selection,omitempty"`
	Submitted  bool           `json:"submitted"`
	Suspended  bool           `json:"suspended"`
	LastReview *reviewPayload `json:"last_review,omitempty"`
	Exhausted  string         `json:"exhausted,omitempty"`
}

type cardPayload struct {
	ID          int64           `json:"id"`
	Question    string          `json:"question"`
	Answers     []answerPayload `json:"answers"`
	Explanation string          `json:"explanation,omitempty"`
}

type answerPayload struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
	// Correct is only revealed after the answer is submitted.
	Correct *bool `json:"correct,omitempty"`
}

type reviewPayload struct {
	Stability    float64 `json:"stability"`
	Difficulty   float64 `json:"difficulty"`
	ReviewCount  int     `json:"review_count"`
	NextReviewAt string  `json:"next_review_at"`
}

func toCardResponse(v session.View) cardResponse {
	resp := cardResponse{
		Selection: v.Selection,
		Submitted: v.Submitted,
		Suspended: v.Suspended,
		Exhausted: v.Exhausted,
	}
	if v.Card != nil {
		card := &cardPayload{
			ID:       v.Card.ID,
			Question: v.Card.Question,
			Answers:  make([]answerPayload, 0, len(v.Card.Answers)),
		}
		for _, a := range v.Card.Answers {
			ap := answerPayload{ID: a.ID, Text: a.Text}
			if v.Submitted {
				correct := a.Correct
				ap.Correct = &correct
			}
			card.Answers = append(card.Answers, ap)
		}
		if v.Submitted {
			card.Explanation = v.Card.Explanation
		}
		resp.Card = card
	}
	if v.LastReview != nil {
		resp.LastReview = &reviewPayload{
			Stability:    v.LastReview.Stability,
			Difficulty:   v.LastReview.Difficulty,
			ReviewCount:  v.LastReview.ReviewCount,
			NextReviewAt: v.LastReview.NextReviewAt.Format(timeFormat),
		}
	}
	return resp
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, toCardResponse(s.sess.Current()))
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.sess.Select(req.Index); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCardResponse(s.sess.Current()))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Submit(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCardResponse(s.sess.Current()))
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rating int `json:"rating"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.sess.SubmitRating(r.Context(), domain.Rating(req.Rating)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCardResponse(s.sess.Current()))
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Suspend(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCardResponse(s.sess.Current()))
}

func (s *Server) handleUnsuspend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardID int64 `json:"card_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.sess.Unsuspend(r.Context(), req.CardID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCardResponse(s.sess.Current()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sess.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toStatsResponse(stats))
}

type statsResponse struct {
	TotalReviews      int            `json:"total_reviews"`
	TodayReviews      int            `json:"today_reviews"`
	StreakDays        int            `json:"streak_days"`
	RetentionRate     float64        `json:"retention_rate"`
	Distribution      map[string]int `json:"distribution"`
	TodayDistribution map[string]int `json:"today_distribution"`
}

func toStatsResponse(stats history.AggregateStats) statsResponse {
	byName := func(m map[domain.Rating]int) map[string]int {
		out := make(map[string]int, len(m))
		for r, n := range m {
			out[r.String()] = n
		}
		return out
	}
	return statsResponse{
		TotalReviews:      stats.TotalReviews,
		TodayReviews:      stats.TodayReviews,
		StreakDays:        stats.StreakDays,
		RetentionRate:     stats.RetentionRate,
		Distribution:      byName(stats.Distribution),
		TodayDistribution: byName(stats.TodayDistribution),
	}
}

func (s *Server) handleCardsByRating(w http.ResponseWriter, r *http.Request) {
	rating, err := domain.ParseRating(r.URL.Query().Get("rating"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	matchHistory := r.URL.Query().Get("history") == "true"
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	found, err := s.sess.CardsByRating(r.Context(), rating, matchHistory, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]cardPayload, 0, len(found))
	for _, c := range found {
		out = append(out, cardPayload{ID: c.ID, Question: c.Question})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cards": out})
}

func (s *Server) handleCardCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.sess.CardCount(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleGetPriorities(w http.ResponseWriter, r *http.Request) {
	cfg := s.sess.Priorities()
	levels := make(map[string]string, len(domain.Classes()))
	for _, class := range domain.Classes() {
		levels[class.String()] = cfg.Level(class).String()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"preset": string(cfg.Preset),
		"levels": levels,
	})
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Class string `json:"class"`
		Level string `json:"level"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	var class domain.CardClass
	found := false
	for _, c := range domain.Classes() {
		if c.String() == req.Class {
			class = c
			found = true
			break
		}
	}
	if !found {
		http.Error(w, "unknown card class", http.StatusBadRequest)
		return
	}
	level, err := domain.ParsePriorityLevel(req.Level)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.sess.SetPriority(r.Context(), class, level); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCardResponse(s.sess.Current()))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Retry(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCardResponse(s.sess.Current()))
}

func (s *Server) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.ResetProgress(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCardResponse(s.sess.Current()))
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.ResetStats(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps session errors onto HTTP statuses: bad input is 400,
// unknown cards are 404, store connectivity is 503, anything else 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRating),
		errors.Is(err, session.ErrNoCard),
		errors.Is(err, session.ErrNoSelection):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrCardNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		s.log.Warn("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}
