package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/bai/internal/middleware"
)

// NewRouter wires the bridge routes. ws serves /ws/events when non-nil.
func NewRouter(h *Handler, ws http.Handler, allowedOrigins []string) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(h.logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))

	h.RegisterChatRoutes(r)
	h.RegisterContextRoutes(r)

	if ws != nil {
		r.Get("/ws/events", ws.ServeHTTP)
	}
	return r
}
