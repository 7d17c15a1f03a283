package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ashureev/bai/internal/domain"
)

// Console is a terminal stand-in for the phone: alarms and notices are
// printed, speech is printed as the assistant's line and speech capture
// reads one line of input.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	in  *bufio.Scanner
}

// NewConsole writes to out and reads utterances from in. in may be nil.
func NewConsole(out io.Writer, in io.Reader) *Console {
	c := &Console{out: out}
	if in != nil {
		c.in = bufio.NewScanner(in)
	}
	return c
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// ScheduleAlarm prints the alarm.
func (c *Console) ScheduleAlarm(_ context.Context, alarm domain.ScheduledAlarm) error {
	if alarm.Weekday != 0 {
		c.printf("[alarm] %s day %d %s\n", alarm.Clock(), alarm.Weekday, alarm.Label)
		return nil
	}
	c.printf("[alarm] %s %s\n", alarm.Clock(), alarm.Label)
	return nil
}

// Speak prints text as the assistant's reply.
func (c *Console) Speak(_ context.Context, text string) error {
	c.printf("bai> %s\n", text)
	return nil
}

// Notify prints n. Error notices are marked with "!".
func (c *Console) Notify(_ context.Context, n domain.Notice) {
	if n.IsError() {
		c.printf("[!] %s\n", n.Text)
		return
	}
	c.printf("[i] %s\n", n.Text)
}

// RequestMicrophone grants access whenever the console has an input stream.
func (c *Console) RequestMicrophone(context.Context) (bool, error) {
	return c.in != nil, nil
}

// CaptureSpeech reads one non-blank line. io.EOF is returned when input ends.
func (c *Console) CaptureSpeech(ctx context.Context) (string, error) {
	if c.in == nil {
		return "", errors.New("console has no input")
	}
	for c.in.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if line := strings.TrimSpace(c.in.Text()); line != "" {
			return line, nil
		}
	}
	if err := c.in.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
