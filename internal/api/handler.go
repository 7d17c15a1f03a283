// Package api provides the HTTP bridge a UI shell uses to drive a session.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/bai/internal/domain"
	"github.com/ashureev/bai/internal/events"
	"github.com/ashureev/bai/internal/session"
)

// maxRequestBodySize caps request bodies (64KB).
const maxRequestBodySize = 64 << 10

// Conversation is the session surface the bridge drives.
type Conversation interface {
	Send(ctx context.Context, text string) (*session.TurnResult, error)
	NewChat(ctx context.Context) error
	History() []domain.Message
	Facts() domain.PermanentContext
	AddFact(ctx context.Context, text string) (domain.PermanentContext, error)
	EditFact(ctx context.Context, i int, text string) (domain.PermanentContext, error)
	DeleteFact(ctx context.Context, i int) (domain.PermanentContext, error)
	Epoch() uint64
}

// Broadcaster pushes events to connected UI clients.
type Broadcaster interface {
	Broadcast(e events.Event)
}

// Handler provides common handler utilities.
type Handler struct {
	conv   Conversation
	events Broadcaster
	logger *slog.Logger
}

// NewHandler creates a handler. events may be nil.
func NewHandler(conv Conversation, events Broadcaster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{conv: conv, events: events, logger: logger}
}

func (h *Handler) broadcast(e events.Event) {
	if h.events != nil {
		h.events.Broadcast(e)
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty request body")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
