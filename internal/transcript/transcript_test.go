package transcript

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func TestWriterWritesPerSessionNDJSON(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	w, err := NewWriter(Config{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	w.Log(Event{SessionID: "sess-1", TurnID: "turn-1", Kind: KindUserMessage, Text: "remind me at 7am"})
	w.Log(Event{SessionID: "sess-1", TurnID: "turn-1", Kind: KindModelReply, Text: "ok"})
	w.Log(Event{SessionID: "sess-2", Kind: KindNewChat})

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "sess-1.ndjson"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var got Event
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Kind != KindModelReply || got.Text != "ok" || got.TurnID != "turn-1" {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.Time.IsZero() {
		t.Fatal("expected timestamp to be populated")
	}

	if lines := readLines(t, filepath.Join(dir, "sess-2.ndjson")); len(lines) != 1 {
		t.Fatalf("expected 1 line for sess-2, got %d", len(lines))
	}
}

func TestWriterSanitisesSessionID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewWriter(Config{Dir: dir}, slog.Default())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	w.Log(Event{SessionID: "../escape", Kind: KindNotice, Text: "x"})
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	want := filepath.Join(dir, ".._escape.ndjson")
	if w.Path("../escape") != want {
		t.Fatalf("unexpected path: %s", w.Path("../escape"))
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected transcript inside dir: %v", err)
	}
}

func TestWriterLogAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(Config{Dir: t.TempDir()}, slog.Default())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	w.Log(Event{SessionID: "late", Kind: KindNotice})
	if err := w.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestNewDisabledReturnsNop(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "never-created")
	rec, err := New(Config{Enabled: false, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := rec.(Nop); !ok {
		t.Fatalf("expected Nop recorder, got %T", rec)
	}
	rec.Log(Event{SessionID: "s", Kind: KindNotice})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected no directory, stat err = %v", err)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
