package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/bai/internal/device"
	"github.com/ashureev/bai/internal/domain"
)

func newSendCommand(s *streams) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			console := device.NewConsole(s.out, nil)
			opts := appOptions{alarms: console, speaker: console, notifiers: []device.Notifier{console}}
			if asJSON {
				// Keep stdout clean for the JSON document.
				quiet := device.NewConsole(s.err, nil)
				opts = appOptions{alarms: quiet, speaker: quiet, notifiers: []device.Notifier{quiet}}
			}
			a, err := openApp(cmd.Context(), s, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			turn, err := a.ctrl.Send(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(s.out, turn)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the turn result as JSON")
	return cmd
}

func newNewChatCommand(s *streams) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Clear the chat history (the permanent context is kept)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			console := device.NewConsole(s.out, nil)
			a, err := openApp(cmd.Context(), s, appOptions{notifiers: []device.Notifier{console}})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.ctrl.NewChat(cmd.Context())
		},
	}
}

func newHistoryCommand(s *streams) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the chat history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), s, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if asJSON {
				return writeJSON(s.out, a.ctrl.History())
			}
			printHistory(s.out, a.ctrl.History())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printHistory(w io.Writer, history []domain.Message) {
	if len(history) == 0 {
		fmt.Fprintln(w, "(no messages)")
		return
	}
	for _, m := range history {
		fmt.Fprintf(w, "%s: %s\n", m.Role, m.Text)
	}
}
