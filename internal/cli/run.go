package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"subwatch/internal/app"
)

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor until interrupted",
		Long: `Run the monitor loop, the notification scan and the catalog schedule
until SIGINT or SIGTERM. With --once a single cycle runs in the foreground and
its statistics are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if once {
				return runOnce(cmd, rootOpts)
			}
			return runForever(cmd, rootOpts)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

func runForever(cmd *cobra.Command, opts *RootOptions) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Track which signal ended the run for the stop log line.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(opts.ConfigPath, app.Options{})
	if err != nil {
		return WrapExitError(ExitCommandError, "init", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return WrapExitError(ExitFailure, "start", err)
	}

	reason := app.StopAppStop
	select {
	case <-ctx.Done():
		select {
		case s := <-sigs:
			if s == syscall.SIGTERM {
				reason = app.StopSIGTERM
			} else {
				reason = app.StopSIGINT
			}
		default:
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 75*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "fatal", err)
	}
	return nil
}

func runOnce(cmd *cobra.Command, opts *RootOptions) error {
	a, err := app.NewApp(opts.ConfigPath, app.Options{})
	if err != nil {
		return WrapExitError(ExitCommandError, "init", err)
	}
	defer func() { _ = a.Stop(context.Background(), app.StopAppStop) }()

	st, cerr := a.RunOnce(cmd.Context())
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if err := writeJSON(out, st); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "cycle %d: %d accounts, %d fetched, %d new, %d total, %d pruned, %d notified in %s\n",
			st.Index, st.Accounts, st.Fetched, st.Added, st.Total, st.Pruned, st.Notify.Emitted, st.Took.Round(time.Millisecond))
	}
	if cerr != nil {
		return WrapExitError(ExitFailure, "cycle failed", cerr)
	}
	return nil
}
