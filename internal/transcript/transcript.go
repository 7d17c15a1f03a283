// Package transcript writes an NDJSON record of every conversation turn,
// one file per session, from a background goroutine.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// Event kinds.
const (
	KindUserMessage = "user_message"
	KindModelReply  = "model_reply"
	KindNotice      = "notice"
	KindToolResult  = "tool_result"
	KindNewChat     = "new_chat"
)

// Event is one transcript line.
type Event struct {
	Time      time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id,omitempty"`
	Epoch     uint64    `json:"epoch"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Config controls the transcript writer.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Recorder accepts transcript events.
type Recorder interface {
	Log(e Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Log implements Recorder.
func (Nop) Log(Event) {}

// Close implements Recorder.
func (Nop) Close() error { return nil }

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Writer is an asynchronous Recorder. When the queue is full the oldest
// pending event is dropped so a slow disk never blocks a turn.
type Writer struct {
	dir    string
	queue  chan Event
	logger *slog.Logger
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int

	files map[string]*os.File
}

// New returns Nop when cfg is disabled, otherwise a started Writer.
func New(cfg Config, logger *slog.Logger) (Recorder, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	return NewWriter(cfg, logger)
}

// NewWriter creates cfg.Dir and starts the background writer.
func NewWriter(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	w := &Writer{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		logger: logger,
		files:  make(map[string]*os.File),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Log queues e. Events logged after Close are discarded.
func (w *Writer) Log(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	select {
	case w.queue <- e:
		return
	default:
	}

	// Full: drop the oldest pending event and retry once.
	select {
	case <-w.queue:
		w.dropped++
	default:
	}
	select {
	case w.queue <- e:
	default:
		w.dropped++
	}
	w.logger.Warn("transcript queue full, dropped oldest event", "dropped_total", w.dropped)
}

// Dropped returns the number of events discarded because the queue was full.
func (w *Writer) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *Writer) run() {
	defer w.wg.Done()
	for e := range w.queue {
		if err := w.write(e); err != nil {
			w.logger.Warn("failed to write transcript event", "session_id", e.SessionID, "kind", e.Kind, "error", err)
		}
	}
	for id, f := range w.files {
		if err := f.Close(); err != nil {
			w.logger.Warn("failed to close transcript file", "session_id", id, "error", err)
		}
	}
}

func (w *Writer) write(e Event) error {
	f, err := w.file(e.SessionID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (w *Writer) file(sessionID string) (*os.File, error) {
	if f, ok := w.files[sessionID]; ok {
		return f, nil
	}
	f, err := os.OpenFile(w.Path(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	w.files[sessionID] = f
	return f, nil
}

// Path returns the file events for sessionID are written to.
func (w *Writer) Path(sessionID string) string {
	name := unsafeName.ReplaceAllString(sessionID, "_")
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(w.dir, name+".ndjson")
}

// Close flushes queued events and closes every file.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("transcript writer did not stop within 5s")
	}
}
