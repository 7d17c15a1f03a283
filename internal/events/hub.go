// Package events streams notices and turn updates to connected UI clients
// over WebSocket.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/bai/internal/domain"
)

// Event types pushed to clients.
const (
	TypeNotice  = "notice"
	TypeTurn    = "turn"
	TypeNewChat = "new_chat"
	TypePong    = "pong"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// Event is one message sent to clients.
type Event struct {
	Type      string            `json:"type"`
	Kind      domain.NoticeKind `json:"kind,omitempty"`
	Text      string            `json:"text,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	TurnID    string            `json:"turn_id,omitempty"`
	Epoch     uint64            `json:"epoch"`
	Data      any               `json:"data,omitempty"`
}

// clientMessage is what clients may send.
type clientMessage struct {
	Type string `json:"type"`
}

type client struct {
	send chan []byte
}

// Hub fans events out to every connected client. A client that cannot
// keep up loses events rather than slowing the others down.
type Hub struct {
	allowedOrigins []string
	logger         *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub accepting connections from allowedOrigins. An empty
// list or "*" allows any origin.
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		allowedOrigins: allowedOrigins,
		logger:         logger,
		clients:        make(map[*client]struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues e for every client.
func (h *Hub) Broadcast(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("failed to encode event", "type", e.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("event client too slow, dropping event", "type", e.Type)
		}
	}
}

// Notify broadcasts n. It lets the hub act as a device notifier.
func (h *Hub) Notify(_ context.Context, n domain.Notice) {
	h.Broadcast(Event{Type: TypeNotice, Kind: n.Kind, Text: n.Text, Retryable: n.Retryable})
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 || slices.Contains(h.allowedOrigins, "*") {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bye"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	c := &client{send: make(chan []byte, clientBuffer)}
	h.register(c)
	defer h.unregister(c)
	h.logger.Info("event client connected", "ip", r.RemoteAddr, "clients", h.ClientCount())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, c)
	}()

	h.readLoop(ctx, ws, c)
	cancel()
	wg.Wait()
	h.logger.Info("event client disconnected", "ip", r.RemoteAddr)
}

func (h *Hub) readLoop(ctx context.Context, ws *websocket.Conn, c *client) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed", "error", err)
			} else {
				h.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.logger.Debug("ignoring malformed client message", "error", err)
			continue
		}
		if msg.Type == "ping" {
			pong, _ := json.Marshal(Event{Type: TypePong})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, ws *websocket.Conn, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug("WebSocket write error", "error", err)
				return
			}
		}
	}
}
