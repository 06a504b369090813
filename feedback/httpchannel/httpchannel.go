// Package httpchannel exposes pending feedback questions over HTTP so a
// person can answer them from another process or a browser.
package httpchannel

import (
	"context"
	"html"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/tbxark/jobfill/feedback"
)

// PendingQuestion is the wire form of an open question.
type PendingQuestion struct {
	ID        string    `json:"id"`
	FieldID   string    `json:"fieldId"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"createdAt"`
}

// AnswerRequest is the body for POST /questions/{id}/answer.
type AnswerRequest struct {
	Answer string `json:"answer"`
}

type pending struct {
	question PendingQuestion
	answer   chan string
}

type Config struct {
	Logger *slog.Logger
	// MaxAnswerBytes bounds the request body. Default 4096.
	MaxAnswerBytes int64
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxAnswerBytes <= 0 {
		c.MaxAnswerBytes = 4096
	}
}

// Channel implements feedback.Channel. Ask blocks until the question is
// answered through the handler or its context ends.
type Channel struct {
	cfg       Config
	sanitizer *bluemonday.Policy

	mu      sync.Mutex
	pending map[string]*pending
}

var _ feedback.Channel = (*Channel)(nil)

func New(cfg Config) *Channel {
	cfg.defaults()
	return &Channel{
		cfg:       cfg,
		sanitizer: bluemonday.StrictPolicy(),
		pending:   make(map[string]*pending),
	}
}

func (c *Channel) Ask(ctx context.Context, q feedback.Question) (feedback.Answer, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	p := &pending{
		question: PendingQuestion{
			ID:        id.String(),
			FieldID:   q.FieldID,
			Prompt:    q.Prompt,
			CreatedAt: time.Now(),
		},
		answer: make(chan string, 1),
	}
	c.mu.Lock()
	c.pending[p.question.ID] = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, p.question.ID)
		c.mu.Unlock()
	}()

	c.cfg.Logger.Info("feedback question pending", "id", p.question.ID, "field", q.FieldID)
	select {
	case <-ctx.Done():
		return feedback.Answer{}, ctx.Err()
	case text := <-p.answer:
		return feedback.Answer{Text: text, OK: true}, nil
	}
}

// Pending lists open questions, oldest first.
func (c *Channel) Pending() []PendingQuestion {
	c.mu.Lock()
	out := make([]PendingQuestion, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p.question)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Handler serves GET /questions and POST /questions/{id}/answer.
func (c *Channel) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/questions", c.handleList)
	r.Post("/questions/{id}/answer", c.handleAnswer)
	return r
}

func (c *Channel) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.Pending())
}

func (c *Channel) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req AnswerRequest
	r.Body = http.MaxBytesReader(w, r.Body, c.cfg.MaxAnswerBytes)
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	// strip markup, keep the plain text as typed
	text := strings.TrimSpace(html.UnescapeString(c.sanitizer.Sanitize(req.Answer)))

	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		http.Error(w, "Question not found or already answered", http.StatusNotFound)
		return
	}
	p.answer <- text
	c.cfg.Logger.Info("feedback answered", "id", id, "field", p.question.FieldID)
	writeJSON(w, http.StatusAccepted, p.question)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}
