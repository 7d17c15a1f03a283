// Package dispatch routes a decoded backend reply to its effects: chat
// history, permanent context, user notices and device actions.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/bai/internal/alarmtime"
	"github.com/ashureev/bai/internal/backend"
	"github.com/ashureev/bai/internal/domain"
)

// ErrStaleTurn is returned by a Conversation when the turn a reply belongs to
// was started before the chat history was reset.
var ErrStaleTurn = errors.New("reply belongs to a reset conversation")

// Notice texts shown to the user.
const (
	TextOverloaded     = "AI is overloaded. Please try again."
	TextUnknownError   = "Unknown error"
	TextMemoryUpdated  = "Memory updated."
	TextAlarmExists    = "Alarm exists."
	TextConnectionLost = "Connection Failed."
)

// ContextMode selects how a context_update result changes the permanent context.
type ContextMode string

const (
	// ContextAppend adds the content as one new fact.
	ContextAppend ContextMode = "append"
	// ContextReplace replaces all facts with the newline-separated content.
	ContextReplace ContextMode = "replace"
)

// Valid reports whether m is a known mode.
func (m ContextMode) Valid() bool {
	return m == ContextAppend || m == ContextReplace
}

// Emitter receives the user-facing and device-facing effects of a reply.
type Emitter interface {
	// Notify surfaces a notice outside the transcript.
	Notify(ctx context.Context, n domain.Notice)
	// Speak reads reply text aloud or displays it.
	Speak(ctx context.Context, text string)
	// ScheduleAlarm resolves and schedules an alarm on the device.
	ScheduleAlarm(ctx context.Context, req domain.AlarmRequest) (domain.ScheduledAlarm, error)
}

// Conversation is the state a reply may change.
type Conversation interface {
	// AppendReply adds a model message to the history and persists it.
	AppendReply(ctx context.Context, text string) error
	// AppendFact adds a fact to the permanent context and persists it.
	AppendFact(ctx context.Context, fact string) error
	// ReplaceFacts replaces the permanent context and persists it.
	ReplaceFacts(ctx context.Context, facts domain.PermanentContext) error
}

// ToolOutcome records what happened to one tool result.
type ToolOutcome struct {
	Type    string                 `json:"type"`
	Skipped bool                   `json:"skipped,omitempty"`
	Alarm   *domain.ScheduledAlarm `json:"alarm,omitempty"`
	Err     string                 `json:"error,omitempty"`
}

// Outcome summarises the effects of one reply.
type Outcome struct {
	Type     string          `json:"type"`
	Reply    string          `json:"reply,omitempty"`
	Appended bool            `json:"appended"`
	Stale    bool            `json:"stale,omitempty"`
	Notices  []domain.Notice `json:"notices,omitempty"`
	Tools    []ToolOutcome   `json:"tools,omitempty"`
}

// Dispatcher applies backend replies.
type Dispatcher struct {
	emitter Emitter
	mode    ContextMode
	logger  *slog.Logger
}

// New creates a dispatcher. An invalid mode falls back to ContextAppend.
func New(emitter Emitter, mode ContextMode, logger *slog.Logger) *Dispatcher {
	if !mode.Valid() {
		mode = ContextAppend
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{emitter: emitter, mode: mode, logger: logger}
}

// Notify emits n and records it in out.
func (d *Dispatcher) Notify(ctx context.Context, out *Outcome, n domain.Notice) {
	out.Notices = append(out.Notices, n)
	d.emitter.Notify(ctx, n)
}

// Dispatch applies resp to conv. Error replies never touch the history.
// Tool results are handled one at a time; a failing entry is recorded and
// the next one still runs.
func (d *Dispatcher) Dispatch(ctx context.Context, conv Conversation, resp *backend.ChatResponse) Outcome {
	out := Outcome{Type: resp.Type}

	if resp.IsError() {
		d.dispatchError(ctx, &out, resp)
		return out
	}

	if reply := resp.ReplyText(); strings.TrimSpace(reply) != "" {
		out.Reply = reply
		switch err := conv.AppendReply(ctx, reply); {
		case errors.Is(err, ErrStaleTurn):
			out.Stale = true
			d.logger.Info("dropping reply for a reset conversation", "type", resp.Type)
		case err != nil:
			out.Appended = true
			d.Notify(ctx, &out, storageNotice(err))
			d.emitter.Speak(ctx, reply)
		default:
			out.Appended = true
			d.emitter.Speak(ctx, reply)
		}
	}

	if resp.HasResults() && (resp.Type == backend.TypeMultiToolResult || resp.Type == backend.TypeText) {
		for _, tool := range resp.Results {
			out.Tools = append(out.Tools, d.dispatchTool(ctx, &out, conv, tool))
		}
	}

	return out
}

func (d *Dispatcher) dispatchError(ctx context.Context, out *Outcome, resp *backend.ChatResponse) {
	if resp.IsOverloaded() {
		d.Notify(ctx, out, domain.Notice{Kind: domain.NoticeOverloaded, Text: TextOverloaded, Retryable: true})
		return
	}
	msg := resp.Message
	if strings.TrimSpace(msg) == "" {
		msg = TextUnknownError
	}
	d.Notify(ctx, out, domain.Notice{Kind: domain.NoticeBackendError, Text: msg})
}

func (d *Dispatcher) dispatchTool(ctx context.Context, out *Outcome, conv Conversation, tool backend.ToolResult) (res ToolOutcome) {
	res.Type = tool.Type

	// A device collaborator must not be able to abort the remaining results.
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked", "type", tool.Type, "panic", r)
			res.Err = fmt.Sprint(r)
		}
	}()

	if tool.DecodeErr != nil {
		d.logger.Warn("skipping malformed tool result", "type", tool.Type, "error", tool.DecodeErr)
		d.Notify(ctx, out, domain.Notice{Kind: domain.NoticeParse, Text: "Could not read " + tagOrUnknown(tool.Type) + " result."})
		res.Err = tool.DecodeErr.Error()
		return res
	}

	switch tool.Type {
	case backend.ToolAlarm:
		req := domain.AlarmRequest{Time: tool.Time, Label: tool.Label}
		if strings.TrimSpace(req.Time) == "" {
			req.Time = domain.DefaultAlarmTime
		}
		if strings.TrimSpace(req.Label) == "" {
			req.Label = domain.DefaultAlarmLabel
		}
		alarm, err := d.emitter.ScheduleAlarm(ctx, req)
		if err != nil {
			d.logger.Warn("alarm not scheduled", "time", req.Time, "label", req.Label, "error", err)
			d.Notify(ctx, out, alarmFailureNotice(req, err))
			res.Err = err.Error()
			return res
		}
		res.Alarm = &alarm
		d.Notify(ctx, out, domain.Notice{Kind: domain.NoticeInfo, Text: fmt.Sprintf("Alarm set for %s: %s", alarm.Clock(), alarm.Label)})

	case backend.ToolAlarmExists:
		msg := tool.Message
		if strings.TrimSpace(msg) == "" {
			msg = TextAlarmExists
		}
		d.Notify(ctx, out, domain.Notice{Kind: domain.NoticeInfo, Text: msg})

	case backend.ToolContextUpdate:
		content := strings.TrimSpace(tool.Content)
		if content == "" {
			res.Skipped = true
			return res
		}
		var err error
		if d.mode == ContextReplace {
			err = conv.ReplaceFacts(ctx, domain.ParseFacts(content))
		} else {
			err = conv.AppendFact(ctx, content)
		}
		if err != nil {
			d.Notify(ctx, out, storageNotice(err))
			res.Err = err.Error()
			return res
		}
		d.Notify(ctx, out, domain.Notice{Kind: domain.NoticeInfo, Text: TextMemoryUpdated})

	case backend.ToolTaskCreateSuccess:
		d.Notify(ctx, out, domain.Notice{Kind: domain.NoticeInfo, Text: "Task created: " + tool.TaskTitle})

	case backend.ToolTaskCreateFailed, backend.ToolTaskCreateError:
		d.Notify(ctx, out, domain.Notice{Kind: domain.NoticeTaskFailed, Text: "Task failed: " + tool.Message})

	default:
		d.logger.Debug("ignoring unknown tool result", "type", tool.Type)
		res.Skipped = true
	}

	return res
}

func alarmFailureNotice(req domain.AlarmRequest, err error) domain.Notice {
	if errors.Is(err, alarmtime.ErrInvalid) {
		return domain.Notice{Kind: domain.NoticeParse, Text: "Invalid alarm time: " + req.Time}
	}
	return domain.Notice{Kind: domain.NoticeDevice, Text: "Could not set alarm: " + err.Error()}
}

func storageNotice(err error) domain.Notice {
	return domain.Notice{Kind: domain.NoticeStorage, Text: "Could not save: " + err.Error()}
}

func tagOrUnknown(tag string) string {
	if tag == "" {
		return "unknown"
	}
	return tag
}
