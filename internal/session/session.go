// Package session drives conversation turns: it owns the chat history and
// permanent context, talks to the backend and applies the replies.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ashureev/bai/internal/backend"
	"github.com/ashureev/bai/internal/dispatch"
	"github.com/ashureev/bai/internal/domain"
	"github.com/ashureev/bai/internal/store"
	"github.com/ashureev/bai/internal/transcript"
)

var (
	// ErrBlankInput is returned when the user sends nothing but whitespace.
	ErrBlankInput = errors.New("message is blank")
	// ErrBusy is returned when a turn is already waiting for the backend.
	ErrBusy = errors.New("a reply is already pending")
)

// TextNewChat is announced after the history is cleared.
const TextNewChat = "New Chat Started"

// Options configures a Controller.
type Options struct {
	Store       store.Store
	Client      backend.Client
	Protocol    backend.ProtocolVersion
	Emitter     dispatch.Emitter
	ContextMode dispatch.ContextMode
	Recorder    transcript.Recorder
	Logger      *slog.Logger

	// SessionID names the transcript file. A random ID is used when empty.
	SessionID string
}

// TurnResult describes a completed turn.
type TurnResult struct {
	TurnID        string `json:"turn_id"`
	Epoch         uint64 `json:"epoch"`
	HistoryLength int    `json:"history_length"`
	// TransportFailed is set when the backend could not be reached.
	TransportFailed bool `json:"transport_failed,omitempty"`
	dispatch.Outcome
}

// Controller runs turns for one conversation. At most one turn is in
// flight; its methods are safe for concurrent use.
type Controller struct {
	id         string
	state      *store.State
	client     backend.Client
	builder    backend.Builder
	dispatcher *dispatch.Dispatcher
	emitter    dispatch.Emitter
	recorder   transcript.Recorder
	logger     *slog.Logger

	mu      sync.Mutex
	history []domain.Message
	facts   domain.PermanentContext
	epoch   uint64
	pending bool
}

// New loads the persisted conversation and returns a controller for it.
// A failed load is reported as a storage notice and the controller starts
// with whatever could be read.
func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if opts.Client == nil {
		return nil, errors.New("session: backend client is required")
	}
	if opts.Emitter == nil {
		return nil, errors.New("session: emitter is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = transcript.Nop{}
	}
	if !opts.Protocol.Valid() {
		opts.Protocol = backend.ProtocolToolResults
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	logger := opts.Logger.With("session_id", opts.SessionID)
	c := &Controller{
		id:         opts.SessionID,
		state:      store.NewState(opts.Store, logger),
		client:     opts.Client,
		builder:    backend.Builder{Version: opts.Protocol},
		dispatcher: dispatch.New(opts.Emitter, opts.ContextMode, logger),
		emitter:    opts.Emitter,
		recorder:   opts.Recorder,
		logger:     logger,
	}

	history, err := c.state.LoadHistory(ctx)
	if err != nil {
		logger.Warn("failed to load chat history", "error", err)
		c.emitter.Notify(ctx, storageNotice("Could not load chat history", err))
	}
	facts, err := c.state.LoadFacts(ctx)
	if err != nil {
		logger.Warn("failed to load permanent context", "error", err)
		c.emitter.Notify(ctx, storageNotice("Could not load saved facts", err))
	}
	c.history = history
	c.facts = facts

	logger.Info("session started", "history_length", len(history), "facts", len(facts), "protocol", int(opts.Protocol))
	return c, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// Send runs one turn for text. It returns ErrBlankInput or ErrBusy without
// side effects; any other failure is reported through notices in the result.
func (c *Controller) Send(ctx context.Context, text string) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrBlankInput
	}

	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.pending = true
	defer c.release()

	turn := &TurnResult{TurnID: uuid.NewString(), Epoch: c.epoch}
	c.history = append(c.history, domain.UserMessage(text))
	saveErr := c.state.SaveHistory(ctx, c.history)
	req := c.builder.Build(c.history, c.facts)
	c.mu.Unlock()

	logger := c.logger.With("turn_id", turn.TurnID, "epoch", turn.Epoch)
	c.record(turn, transcript.Event{Kind: transcript.KindUserMessage, Text: text})
	if saveErr != nil {
		logger.Warn("failed to persist user message", "error", saveErr)
		c.dispatcher.Notify(ctx, &turn.Outcome, storageNotice("Could not save", saveErr))
	}

	resp, err := c.client.Chat(ctx, req)
	if err != nil {
		logger.Warn("backend call failed", "error", err)
		turn.TransportFailed = true
		c.dispatcher.Notify(ctx, &turn.Outcome, domain.Notice{
			Kind:      domain.NoticeTransport,
			Text:      dispatch.TextConnectionLost,
			Retryable: true,
		})
		c.finish(turn)
		return turn, nil
	}

	conv := &turnConversation{c: c, epoch: turn.Epoch}
	outcome := c.dispatcher.Dispatch(ctx, conv, resp)
	outcome.Notices = append(turn.Notices, outcome.Notices...)
	turn.Outcome = outcome

	if turn.Appended {
		c.record(turn, transcript.Event{Kind: transcript.KindModelReply, Text: turn.Reply})
	}
	for _, tool := range turn.Tools {
		c.record(turn, transcript.Event{Kind: transcript.KindToolResult, Detail: tool.Type, Error: tool.Err})
	}
	logger.Info("turn completed",
		"type", turn.Type,
		"appended", turn.Appended,
		"stale", turn.Stale,
		"tools", len(turn.Tools),
		"notices", len(turn.Notices))
	c.finish(turn)
	return turn, nil
}

func (c *Controller) release() {
	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
}

func (c *Controller) finish(turn *TurnResult) {
	for _, n := range turn.Notices {
		c.record(turn, transcript.Event{Kind: transcript.KindNotice, Text: n.Text, Detail: string(n.Kind)})
	}
	c.mu.Lock()
	turn.HistoryLength = len(c.history)
	c.mu.Unlock()
}

func (c *Controller) record(turn *TurnResult, e transcript.Event) {
	e.SessionID = c.id
	if turn != nil {
		e.TurnID = turn.TurnID
		e.Epoch = turn.Epoch
	}
	c.recorder.Log(e)
}

// Pending reports whether a turn is waiting for the backend.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Epoch returns the current history generation. It increases on every NewChat.
func (c *Controller) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// NewChat clears the chat history. The permanent context is kept. A reply
// for a turn started before the reset is not added to the new history.
func (c *Controller) NewChat(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.history = nil
	err := c.state.SaveHistory(ctx, c.history)
	c.mu.Unlock()

	c.recorder.Log(transcript.Event{SessionID: c.id, Epoch: epoch, Kind: transcript.KindNewChat})
	if err != nil {
		c.logger.Warn("failed to persist cleared history", "error", err)
		c.emitter.Notify(ctx, storageNotice("Could not save", err))
		return fmt.Errorf("save cleared history: %w", err)
	}
	c.logger.Info("new chat started", "epoch", epoch)
	c.emitter.Notify(ctx, domain.Notice{Kind: domain.NoticeInfo, Text: TextNewChat})
	return nil
}

// History returns a copy of the chat history.
func (c *Controller) History() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

// Facts returns a copy of the permanent context.
func (c *Controller) Facts() domain.PermanentContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.facts)
}

// AddFact appends a user-entered fact. A fact that is already known is
// accepted without change.
func (c *Controller) AddFact(ctx context.Context, text string) (domain.PermanentContext, error) {
	if strings.TrimSpace(text) == "" {
		return c.Facts(), ErrBlankInput
	}
	return c.updateFacts(ctx, func(facts domain.PermanentContext) (domain.PermanentContext, error) {
		next, _ := facts.Add(text)
		return next, nil
	})
}

// EditFact replaces fact i. Blank text deletes it.
func (c *Controller) EditFact(ctx context.Context, i int, text string) (domain.PermanentContext, error) {
	return c.updateFacts(ctx, func(facts domain.PermanentContext) (domain.PermanentContext, error) {
		return facts.Edit(i, text)
	})
}

// DeleteFact removes fact i.
func (c *Controller) DeleteFact(ctx context.Context, i int) (domain.PermanentContext, error) {
	return c.updateFacts(ctx, func(facts domain.PermanentContext) (domain.PermanentContext, error) {
		return facts.Delete(i)
	})
}

func (c *Controller) updateFacts(ctx context.Context, fn func(domain.PermanentContext) (domain.PermanentContext, error)) (domain.PermanentContext, error) {
	c.mu.Lock()
	next, err := fn(c.facts)
	if err != nil {
		c.mu.Unlock()
		return slices.Clone(c.facts), err
	}
	c.facts = next
	err = c.state.SaveFacts(ctx, next)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("failed to persist permanent context", "error", err)
		c.emitter.Notify(ctx, storageNotice("Could not save", err))
		return slices.Clone(next), fmt.Errorf("save facts: %w", err)
	}
	return slices.Clone(next), nil
}

func storageNotice(prefix string, err error) domain.Notice {
	return domain.Notice{Kind: domain.NoticeStorage, Text: prefix + ": " + err.Error()}
}

// turnConversation is the view of the conversation a single reply may change.
// Reply text is only accepted while the history generation still matches
// the one the request was built from.
type turnConversation struct {
	c     *Controller
	epoch uint64
}

func (t *turnConversation) AppendReply(ctx context.Context, text string) error {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != t.epoch {
		return dispatch.ErrStaleTurn
	}
	c.history = append(c.history, domain.ModelMessage(text))
	return c.state.SaveHistory(ctx, c.history)
}

func (t *turnConversation) AppendFact(ctx context.Context, fact string) error {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	next, added := c.facts.Add(fact)
	if !added {
		return nil
	}
	c.facts = next
	return c.state.SaveFacts(ctx, c.facts)
}

func (t *turnConversation) ReplaceFacts(ctx context.Context, facts domain.PermanentContext) error {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facts = domain.NormalizeFacts(facts)
	return c.state.SaveFacts(ctx, c.facts)
}
