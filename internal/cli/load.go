package cli

import (
	"context"
	"io"

	"subwatch/internal/config"
	"subwatch/internal/difficulty"
	"subwatch/internal/record"
	"subwatch/internal/storage"
	logx "subwatch/pkg/logx"
)

// loadSettings reads and validates the config file without watching it.
func loadSettings(opts *RootOptions) (config.Settings, error) {
	cfg, err := config.NewConfigManager(opts.ConfigPath).Load()
	if err != nil {
		return config.Settings{}, WrapExitError(ExitCommandError, "load config", err)
	}
	set, err := cfg.Settings()
	if err != nil {
		return config.Settings{}, WrapExitError(ExitCommandError, "load config", err)
	}
	return set, nil
}

// loadData reads the store snapshot and difficulty index for report commands.
func loadData(ctx context.Context, set config.Settings, stderr io.Writer) (record.Snapshot, difficulty.Index, error) {
	log := logx.NewConsole(stderr, "warn")
	st, err := storage.Open(storage.Config{Driver: set.Storage.Driver, Path: set.Storage.Path, BusyTimeout: set.Storage.BusyTimeout}, log)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open store", err)
	}
	defer st.Close()

	snap, err := st.Load(ctx)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "read store", err)
	}
	ix, err := difficulty.Load(set.DifficultyPath)
	if err != nil {
		log.Warn("difficulty index unreadable; every problem reads as unknown", logx.Err(err))
		ix = difficulty.Index{}
	}
	return snap, ix, nil
}
