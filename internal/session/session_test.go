package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/bai/internal/alarmtime"
	"github.com/ashureev/bai/internal/backend"
	"github.com/ashureev/bai/internal/device"
	"github.com/ashureev/bai/internal/dispatch"
	"github.com/ashureev/bai/internal/domain"
	"github.com/ashureev/bai/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// clientFunc adapts a function to backend.Client.
type clientFunc func(ctx context.Context, req backend.Request) (*backend.ChatResponse, error)

func (f clientFunc) Chat(ctx context.Context, req backend.Request) (*backend.ChatResponse, error) {
	return f(ctx, req)
}

func replyWith(body string) clientFunc {
	return func(context.Context, backend.Request) (*backend.ChatResponse, error) {
		return backend.DecodeResponse([]byte(body))
	}
}

type recordingDevice struct {
	mu      sync.Mutex
	alarms  []domain.ScheduledAlarm
	spoken  []string
	notices []domain.Notice
}

func (d *recordingDevice) ScheduleAlarm(_ context.Context, a domain.ScheduledAlarm) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alarms = append(d.alarms, a)
	return nil
}

func (d *recordingDevice) Speak(_ context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spoken = append(d.spoken, text)
	return nil
}

func (d *recordingDevice) Notify(_ context.Context, n domain.Notice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, n)
}

func (d *recordingDevice) noticeTexts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.notices))
	for _, n := range d.notices {
		out = append(out, n.Text)
	}
	return out
}

// failingStore loads normally but rejects every write.
type failingStore struct{ *store.Memory }

func (failingStore) Save(context.Context, string, []string) error {
	return errors.New("database is locked")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store  *store.Memory
	device *recordingDevice
	ctrl   *Controller
}

func newFixture(t *testing.T, client backend.Client, seed func(*store.Memory)) *fixture {
	t.Helper()
	mem := store.NewMemory()
	if seed != nil {
		seed(mem)
	}
	dev := &recordingDevice{}
	manila, err := time.LoadLocation("Asia/Manila")
	require.NoError(t, err)
	bridge := device.NewBridge(alarmtime.NewResolver(manila, time.UTC, discardLogger()), dev, dev, discardLogger(), dev)

	ctrl, err := New(context.Background(), Options{
		Store:     mem,
		Client:    client,
		Emitter:   bridge,
		Logger:    discardLogger(),
		SessionID: "test-session",
	})
	require.NoError(t, err)
	return &fixture{store: mem, device: dev, ctrl: ctrl}
}

func seedFacts(facts ...string) func(*store.Memory) {
	return func(m *store.Memory) {
		_ = m.Save(context.Background(), store.KeyPermanentContext, facts)
	}
}

func TestSendEndToEndAlarm(t *testing.T) {
	var captured backend.Request
	client := clientFunc(func(_ context.Context, req backend.Request) (*backend.ChatResponse, error) {
		captured = req
		return backend.DecodeResponse([]byte(`{
			"type": "multi_tool_result",
			"message": "ok",
			"results": [{"type": "alarm", "time": "2024-01-02T23:00:00+00:00", "label": "reminder"}]
		}`))
	})
	f := newFixture(t, client, seedFacts("likes tea"))
	ctx := context.Background()

	turn, err := f.ctrl.Send(ctx, "remind me at 7am tomorrow")
	require.NoError(t, err)

	require.NotNil(t, captured.Chat)
	assert.Equal(t, "likes tea", captured.Chat.PermanentContext)
	assert.Equal(t, []backend.HistoryEntry{{Role: "user", Text: "remind me at 7am tomorrow"}}, captured.Chat.ChatHistory)

	want := []domain.Message{
		domain.UserMessage("remind me at 7am tomorrow"),
		domain.ModelMessage("ok"),
	}
	if diff := cmp.Diff(want, f.ctrl.History()); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []domain.ScheduledAlarm{{Hour: 7, Minute: 0, Weekday: 4, Label: "reminder"}}, f.device.alarms)
	assert.Equal(t, []string{"ok"}, f.device.spoken)
	assert.Equal(t, 2, turn.HistoryLength)
	assert.True(t, turn.Appended)

	persisted, err := store.NewState(f.store, discardLogger()).LoadHistory(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, persisted); diff != "" {
		t.Fatalf("persisted history mismatch (-want +got):\n%s", diff)
	}
}

func TestSendRejectsBlankInput(t *testing.T) {
	called := false
	f := newFixture(t, clientFunc(func(context.Context, backend.Request) (*backend.ChatResponse, error) {
		called = true
		return nil, nil
	}), nil)

	for _, in := range []string{"", "   ", "\n\t"} {
		_, err := f.ctrl.Send(context.Background(), in)
		require.ErrorIs(t, err, ErrBlankInput)
	}
	assert.False(t, called)
	assert.Empty(t, f.ctrl.History())
	assert.False(t, f.ctrl.Pending())
}

func TestSendKeepsTextAsTyped(t *testing.T) {
	var captured backend.Request
	f := newFixture(t, clientFunc(func(_ context.Context, req backend.Request) (*backend.ChatResponse, error) {
		captured = req
		return backend.DecodeResponse([]byte(`{"type":"text","content":"hi"}`))
	}), nil)

	_, err := f.ctrl.Send(context.Background(), "  hello there ")
	require.NoError(t, err)

	history := f.ctrl.History()
	require.NotEmpty(t, history)
	assert.Equal(t, domain.UserMessage("  hello there "), history[0])
	require.NotNil(t, captured.Chat)
	assert.Equal(t, []backend.HistoryEntry{{Role: "user", Text: "  hello there "}}, captured.Chat.ChatHistory)
}

func TestSendErrorResponsesLeaveModelHistoryUnchanged(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"overloaded", `{"type":"error","error_type":"model_overloaded"}`, dispatch.TextOverloaded},
		{"generic", `{"type":"error","message":"bad request","content":"not history"}`, "bad request"},
		{"no message", `{"type":"error"}`, dispatch.TextUnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, replyWith(tt.body), nil)

			turn, err := f.ctrl.Send(context.Background(), "hello")
			require.NoError(t, err)

			assert.Equal(t, []domain.Message{domain.UserMessage("hello")}, f.ctrl.History())
			assert.Equal(t, []string{tt.want}, f.device.noticeTexts())
			assert.Empty(t, f.device.spoken)
			assert.False(t, turn.Appended)
			assert.False(t, f.ctrl.Pending())
		})
	}
}

func TestSendTransportFailure(t *testing.T) {
	f := newFixture(t, clientFunc(func(context.Context, backend.Request) (*backend.ChatResponse, error) {
		return nil, &backend.StatusError{StatusCode: 502, Body: "bad gateway"}
	}), nil)

	turn, err := f.ctrl.Send(context.Background(), "hello")
	require.NoError(t, err)

	assert.True(t, turn.TransportFailed)
	assert.Equal(t, []string{dispatch.TextConnectionLost}, f.device.noticeTexts())
	require.Len(t, turn.Notices, 1)
	assert.Equal(t, domain.NoticeTransport, turn.Notices[0].Kind)
	assert.Equal(t, []domain.Message{domain.UserMessage("hello")}, f.ctrl.History())
	assert.False(t, f.ctrl.Pending())

	// The guard is released, so the next turn runs.
	_, err = f.ctrl.Send(context.Background(), "again")
	require.NoError(t, err)
}

func TestSendRejectsConcurrentTurn(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, clientFunc(func(context.Context, backend.Request) (*backend.ChatResponse, error) {
		close(entered)
		<-release
		return backend.DecodeResponse([]byte(`{"type":"text","content":"first"}`))
	}), nil)

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Send(context.Background(), "one")
		done <- err
	}()
	<-entered

	assert.True(t, f.ctrl.Pending())
	_, err := f.ctrl.Send(context.Background(), "two")
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)

	want := []domain.Message{domain.UserMessage("one"), domain.ModelMessage("first")}
	assert.Equal(t, want, f.ctrl.History())
}

func TestNewChatDuringTurnDropsStaleReply(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, clientFunc(func(context.Context, backend.Request) (*backend.ChatResponse, error) {
		close(entered)
		<-release
		return backend.DecodeResponse([]byte(`{
			"type": "multi_tool_result",
			"message": "late answer",
			"results": [{"type": "context_update", "content": "prefers mornings"}]
		}`))
	}), seedFacts("likes tea"))

	done := make(chan *TurnResult, 1)
	go func() {
		turn, _ := f.ctrl.Send(context.Background(), "question")
		done <- turn
	}()
	<-entered

	require.NoError(t, f.ctrl.NewChat(context.Background()))
	assert.Empty(t, f.ctrl.History())
	assert.Equal(t, uint64(1), f.ctrl.Epoch())

	close(release)
	turn := <-done

	assert.True(t, turn.Stale)
	assert.Empty(t, f.ctrl.History())
	assert.Empty(t, f.device.spoken)
	assert.Equal(t, domain.PermanentContext{"likes tea", "prefers mornings"}, f.ctrl.Facts())
	assert.Contains(t, f.device.noticeTexts(), TextNewChat)
	assert.Contains(t, f.device.noticeTexts(), dispatch.TextMemoryUpdated)
}

func TestNewChatKeepsFacts(t *testing.T) {
	f := newFixture(t, replyWith(`{"type":"text","content":"hi"}`), seedFacts("likes tea"))
	ctx := context.Background()

	_, err := f.ctrl.Send(ctx, "hello")
	require.NoError(t, err)
	require.Len(t, f.ctrl.History(), 2)

	require.NoError(t, f.ctrl.NewChat(ctx))

	assert.Empty(t, f.ctrl.History())
	assert.Equal(t, domain.PermanentContext{"likes tea"}, f.ctrl.Facts())
	raw, ok, err := f.store.Raw(ctx, store.KeyHistory)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[]", raw)
}

func TestLegacyProtocolSendsLatestMessage(t *testing.T) {
	var captured backend.Request
	mem := store.NewMemory()
	dev := &recordingDevice{}
	bridge := device.NewBridge(alarmtime.NewResolver(time.UTC, time.UTC, discardLogger()), dev, dev, discardLogger(), dev)
	ctrl, err := New(context.Background(), Options{
		Store: mem,
		Client: clientFunc(func(_ context.Context, req backend.Request) (*backend.ChatResponse, error) {
			captured = req
			return backend.DecodeResponse([]byte(`{"type":"text","content":"legacy hi"}`))
		}),
		Protocol: backend.ProtocolLegacy,
		Emitter:  bridge,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, ctrl.ID())

	_, err = ctrl.Send(context.Background(), "hello")
	require.NoError(t, err)

	require.NotNil(t, captured.Legacy)
	assert.Equal(t, "hello", captured.Legacy.Message)
	assert.Equal(t, []string{"legacy hi"}, dev.spoken)
}

func TestLoadMigratesLegacyHistory(t *testing.T) {
	f := newFixture(t, replyWith(`{"type":"text","content":"x"}`), func(m *store.Memory) {
		_ = m.SetRaw(context.Background(), store.KeyHistory, `["User: hi: there","AI: hello"]`)
	})

	want := []domain.Message{domain.UserMessage("hi: there"), domain.ModelMessage("hello")}
	assert.Equal(t, want, f.ctrl.History())
}

func TestFactEditing(t *testing.T) {
	f := newFixture(t, replyWith(`{"type":"text","content":"x"}`), seedFacts("likes tea", "lives in Cebu"))
	ctx := context.Background()

	facts, err := f.ctrl.AddFact(ctx, "  works nights ")
	require.NoError(t, err)
	assert.Equal(t, domain.PermanentContext{"likes tea", "lives in Cebu", "works nights"}, facts)

	_, err = f.ctrl.AddFact(ctx, "   ")
	require.ErrorIs(t, err, ErrBlankInput)

	facts, err = f.ctrl.EditFact(ctx, 0, "likes coffee")
	require.NoError(t, err)
	assert.Equal(t, domain.PermanentContext{"likes coffee", "lives in Cebu", "works nights"}, facts)

	facts, err = f.ctrl.EditFact(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PermanentContext{"likes coffee", "works nights"}, facts)

	facts, err = f.ctrl.DeleteFact(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.PermanentContext{"works nights"}, facts)

	_, err = f.ctrl.DeleteFact(ctx, 5)
	require.ErrorIs(t, err, domain.ErrFactIndex)

	loaded, err := store.NewState(f.store, discardLogger()).LoadFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PermanentContext{"works nights"}, loaded)
}

func TestStorageFailuresBecomeNotices(t *testing.T) {
	dev := &recordingDevice{}
	bridge := device.NewBridge(alarmtime.NewResolver(time.UTC, time.UTC, discardLogger()), dev, dev, discardLogger(), dev)
	ctrl, err := New(context.Background(), Options{
		Store:   failingStore{store.NewMemory()},
		Client:  replyWith(`{"type":"text","content":"still answered"}`),
		Emitter: bridge,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)

	turn, err := ctrl.Send(context.Background(), "hello")
	require.NoError(t, err)

	assert.True(t, turn.Appended)
	assert.Equal(t, []string{"still answered"}, dev.spoken)
	kinds := make([]domain.NoticeKind, 0, len(turn.Notices))
	for _, n := range turn.Notices {
		kinds = append(kinds, n.Kind)
	}
	assert.Equal(t, []domain.NoticeKind{domain.NoticeStorage, domain.NoticeStorage}, kinds)

	_, err = ctrl.AddFact(context.Background(), "x")
	require.Error(t, err)
	require.Error(t, ctrl.NewChat(context.Background()))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.Error(t, err)
}
