package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"subwatch/internal/difficulty"
	"subwatch/internal/report"
)

func NewLeaderboardCommand(rootOpts *RootOptions) *cobra.Command {
	var days, minLevel, maxLevel int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank accounts by accepted submissions in a difficulty range",
		Long: `Count, per account, the stored submissions of the last --days days whose
difficulty level lies within [--min, --max]. Levels run from 0 (easiest) to 6.
Problems missing from the difficulty index never count.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := loadSettings(rootOpts)
			if err != nil {
				return err
			}
			snap, ix, err := loadData(cmd.Context(), set, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opt := report.LeaderboardOptions{
				Days:     days,
				MinLevel: minLevel,
				MaxLevel: maxLevel,
				Location: set.Location,
				Now:      time.Now(),
			}
			rows := report.Leaderboard(snap, ix, opt)
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			return report.WriteLeaderboard(cmd.OutOrStdout(), rows, opt)
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "look-back window in days (1..60)")
	cmd.Flags().IntVar(&minLevel, "min", 0, "lowest difficulty level counted")
	cmd.Flags().IntVar(&maxLevel, "max", difficulty.Default().MaxLevel(), "highest difficulty level counted")
	return cmd
}

func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "records <account>",
		Short: "Show one account's stored submissions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := loadSettings(rootOpts)
			if err != nil {
				return err
			}
			snap, ix, err := loadData(cmd.Context(), set, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			p, err := report.RecordsPage(snap, ix, nil, args[0], page)
			if errors.Is(err, report.ErrAccountNotFound) {
				return WrapExitError(ExitFailure, args[0], err)
			}
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			return report.WriteRecords(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page number (10 records per page)")
	return cmd
}
