// Package cli implements the bai command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// streams are the process standard streams, replaceable in tests.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// NewRootCommand builds the command tree.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	s := &streams{in: in, out: out, err: errOut}

	root := &cobra.Command{
		Use:   "bai",
		Short: "Voice-assistant client for the bai backend",
		Long: `bai talks to the assistant backend, keeps the chat history and the
permanent context on disk, and carries out the alarms, reminders and memory
updates the backend asks for.

Configuration comes from the environment, an optional .env file and the YAML
file named by BAI_CONFIG.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	root.AddCommand(
		newChatCommand(s),
		newSendCommand(s),
		newNewChatCommand(s),
		newHistoryCommand(s),
		newContextCommand(s),
		newResolveCommand(s),
		newServeCommand(s),
	)
	return root
}

// Execute runs the CLI with the process streams.
func Execute() int {
	root := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
