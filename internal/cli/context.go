package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/bai/internal/domain"
)

func newContextCommand(s *streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "context",
		Aliases: []string{"facts"},
		Short:   "Manage the permanent context sent with every message",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved facts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), s, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			printFacts(s.out, a.ctrl.Facts())
			return nil
		},
	}

	add := &cobra.Command{
		Use:   "add <fact...>",
		Short: "Save a fact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), s, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			facts, err := a.ctrl.AddFact(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printFacts(s.out, facts)
			return nil
		},
	}

	edit := &cobra.Command{
		Use:   "edit <index> [fact...]",
		Short: "Replace a fact; an empty fact deletes it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), s, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			facts, err := a.ctrl.EditFact(cmd.Context(), i, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			printFacts(s.out, facts)
			return nil
		},
	}

	rm := &cobra.Command{
		Use:     "rm <index>",
		Aliases: []string{"delete"},
		Short:   "Delete a fact",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), s, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			facts, err := a.ctrl.DeleteFact(cmd.Context(), i)
			if err != nil {
				return err
			}
			printFacts(s.out, facts)
			return nil
		},
	}

	cmd.AddCommand(list, add, edit, rm)
	return cmd
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return i, nil
}

func printFacts(w io.Writer, facts domain.PermanentContext) {
	if len(facts) == 0 {
		fmt.Fprintln(w, "(no saved facts)")
		return
	}
	for i, f := range facts {
		fmt.Fprintf(w, "%d. %s\n", i, f)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
