package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"subwatch/internal/app"
	"subwatch/internal/difficulty"
	"subwatch/internal/fetch"
	logx "subwatch/pkg/logx"
)

func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Refresh the problem difficulty index once",
		Long: `Fetch the problem catalog from the page after the ones already indexed
and merge it into the difficulty file. The run stops at the first failed page
unless catalog.stop_policy is per_item.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := loadSettings(rootOpts)
			if err != nil {
				return err
			}
			f, err := fetch.NewHTTPFetcher(fetch.HTTPFetcherOptions{
				BaseURL:    set.Source.BaseURL,
				UserAgent:  set.Source.UserAgent,
				Timeout:    set.Source.Timeout,
				RatePerSec: set.Source.RatePerSec,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "source", err)
			}
			log := logx.NewConsole(cmd.ErrOrStderr(), set.Logging.Level)
			res, err := app.RefreshCatalog(cmd.Context(), set, f, difficulty.NewFileSource(set.DifficultyPath), log, nil, nil)
			if err != nil {
				return WrapExitError(ExitFailure, "catalog", err)
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pages %d..%d: %d added, %d total, %d failed pages (stopped=%t)\n",
				res.StartPage, res.LastPage, res.Added, res.Total, len(res.FailedPages), res.Stopped)
			return err
		},
	}
}
