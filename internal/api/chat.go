package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/bai/internal/events"
	"github.com/ashureev/bai/internal/session"
)

type chatRequest struct {
	Message string `json:"message"`
}

type historyEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// RegisterChatRoutes registers conversation routes.
func (h *Handler) RegisterChatRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", h.Chat)
		r.Post("/new", h.NewChat)
	})
	r.Get("/api/history", h.History)
}

// Chat runs one turn. Backend and transport failures are not HTTP errors;
// they come back as notices in the turn result.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, err := h.conv.Send(r.Context(), req.Message)
	switch {
	case errors.Is(err, session.ErrBlankInput):
		Error(w, http.StatusBadRequest, "message_blank")
		return
	case errors.Is(err, session.ErrBusy):
		Error(w, http.StatusConflict, "reply_pending")
		return
	case err != nil:
		h.logger.Error("chat turn failed", "error", err)
		Error(w, http.StatusInternalServerError, "turn_failed")
		return
	}

	h.broadcast(events.Event{
		Type:   events.TypeTurn,
		TurnID: turn.TurnID,
		Epoch:  turn.Epoch,
		Text:   turn.Reply,
		Data:   turn,
	})
	JSON(w, http.StatusOK, turn)
}

// NewChat clears the chat history.
func (h *Handler) NewChat(w http.ResponseWriter, r *http.Request) {
	if err := h.conv.NewChat(r.Context()); err != nil {
		h.logger.Error("new chat failed", "error", err)
		Error(w, http.StatusInternalServerError, "save_failed")
		return
	}
	h.broadcast(events.Event{Type: events.TypeNewChat, Epoch: h.conv.Epoch()})
	JSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "epoch": h.conv.Epoch()})
}

// History returns the chat history.
func (h *Handler) History(w http.ResponseWriter, _ *http.Request) {
	history := h.conv.History()
	out := make([]historyEntry, 0, len(history))
	for _, m := range history {
		out = append(out, historyEntry{Role: string(m.Role), Text: m.Text})
	}
	JSON(w, http.StatusOK, out)
}
