package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ashureev/bai/internal/device"
	"github.com/ashureev/bai/internal/session"
)

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newChatCommand(s *streams) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation. Each line is sent as one turn.

Commands:
  /new      start a new chat (the permanent context is kept)
  /history  print the chat history
  /quit     leave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			console := device.NewConsole(s.out, s.in)
			a, err := openApp(cmd.Context(), s, appOptions{
				alarms:    console,
				speaker:   console,
				notifiers: []device.Notifier{console},
			})
			if err != nil {
				return err
			}
			defer a.Close()
			return runChat(cmd.Context(), s, a, console, isTerminal(s.in))
		},
	}
}

func runChat(ctx context.Context, s *streams, a *app, console *device.Console, interactive bool) error {
	if interactive {
		fmt.Fprintf(s.out, "bai chat, %d messages in history. /quit to leave.\n", len(a.ctrl.History()))
	}
	for {
		if interactive {
			fmt.Fprint(s.out, "you> ")
		}
		line, err := device.Listen(ctx, console, console)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.TrimSpace(line) {
		case "/quit", "/exit":
			return nil
		case "/new":
			if err := a.ctrl.NewChat(ctx); err != nil {
				a.logger.Warn("new chat failed", "error", err)
			}
			continue
		case "/history":
			printHistory(s.out, a.ctrl.History())
			continue
		}

		if _, err := a.ctrl.Send(ctx, line); err != nil && !errors.Is(err, session.ErrBlankInput) {
			return err
		}
	}
}
