package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"subwatch/internal/config"
	"subwatch/internal/report"
)

func NewRosterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Show the accounts monitored for the configured viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := loadSettings(rootOpts)
			if err != nil {
				return err
			}
			roster, err := config.LoadRoster(set.RosterPath)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return WrapExitError(ExitFailure, "roster", err)
			}
			ids, _ := roster.Accounts(set.Viewer)
			snap, _, err := loadData(cmd.Context(), set, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			entries := report.Roster(ids, snap)
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return report.WriteRoster(cmd.OutOrStdout(), set.Viewer, entries)
		},
	}
	cmd.AddCommand(newRosterEditCommand(rootOpts, "add"))
	cmd.AddCommand(newRosterEditCommand(rootOpts, "remove"))
	return cmd
}

// newRosterEditCommand rewrites the viewer's roster entry. The running
// monitor picks the change up on its next cycle.
func newRosterEditCommand(rootOpts *RootOptions, verb string) *cobra.Command {
	short := "Add accounts to the configured viewer's roster"
	if verb == "remove" {
		short = "Remove accounts from the configured viewer's roster"
	}
	return &cobra.Command{
		Use:   verb + " <account>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := loadSettings(rootOpts)
			if err != nil {
				return err
			}
			roster, err := config.LoadRoster(set.RosterPath)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				// Never rewrite a roster we could not read.
				return WrapExitError(ExitFailure, "roster", err)
			}
			var n int
			if verb == "add" {
				n = roster.Add(set.Viewer, args...)
			} else {
				n = roster.Remove(set.Viewer, args...)
			}
			if n > 0 {
				if err := config.SaveRoster(set.RosterPath, roster); err != nil {
					return WrapExitError(ExitFailure, "roster", err)
				}
			}
			ids, _ := roster.Accounts(set.Viewer)
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"changed": n, "accounts": ids})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d changed, %d monitored\n", set.Viewer, n, len(ids))
			return err
		},
	}
}
