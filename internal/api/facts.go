package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/bai/internal/domain"
	"github.com/ashureev/bai/internal/session"
)

type factRequest struct {
	Content string `json:"content"`
}

// RegisterContextRoutes registers permanent context routes.
func (h *Handler) RegisterContextRoutes(r chi.Router) {
	r.Route("/api/context", func(r chi.Router) {
		r.Get("/", h.ListFacts)
		r.Post("/", h.AddFact)
		r.Put("/{index}", h.EditFact)
		r.Delete("/{index}", h.DeleteFact)
	})
}

// ListFacts returns the permanent context.
func (h *Handler) ListFacts(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, factsBody(h.conv.Facts()))
}

// AddFact appends a fact.
func (h *Handler) AddFact(w http.ResponseWriter, r *http.Request) {
	var req factRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	facts, err := h.conv.AddFact(r.Context(), req.Content)
	h.respondFacts(w, facts, err)
}

// EditFact replaces the fact at {index}. Blank content deletes it.
func (h *Handler) EditFact(w http.ResponseWriter, r *http.Request) {
	i, ok := factIndex(w, r)
	if !ok {
		return
	}
	var req factRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	facts, err := h.conv.EditFact(r.Context(), i, req.Content)
	h.respondFacts(w, facts, err)
}

// DeleteFact removes the fact at {index}.
func (h *Handler) DeleteFact(w http.ResponseWriter, r *http.Request) {
	i, ok := factIndex(w, r)
	if !ok {
		return
	}
	facts, err := h.conv.DeleteFact(r.Context(), i)
	h.respondFacts(w, facts, err)
}

func (h *Handler) respondFacts(w http.ResponseWriter, facts domain.PermanentContext, err error) {
	switch {
	case errors.Is(err, session.ErrBlankInput):
		Error(w, http.StatusBadRequest, "content_blank")
	case errors.Is(err, domain.ErrFactIndex):
		Error(w, http.StatusNotFound, "fact_not_found")
	case err != nil:
		h.logger.Error("saving facts failed", "error", err)
		Error(w, http.StatusInternalServerError, "save_failed")
	default:
		JSON(w, http.StatusOK, factsBody(facts))
	}
}

func factsBody(facts domain.PermanentContext) map[string]interface{} {
	if facts == nil {
		facts = domain.PermanentContext{}
	}
	return map[string]interface{}{"facts": facts}
}

func factIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || i < 0 {
		Error(w, http.StatusBadRequest, "invalid_index")
		return 0, false
	}
	return i, true
}
