package app

import (
	"fmt"
	"time"

	"subwatch/internal/config"
	"subwatch/internal/eventbus"
	"subwatch/internal/fetch"
	"subwatch/internal/metrics"
	"subwatch/internal/notifier"
	"subwatch/internal/storage"
	"subwatch/internal/syncer"
)

func storageConfig(s config.Settings) storage.Config {
	return storage.Config{Driver: s.Storage.Driver, Path: s.Storage.Path, BusyTimeout: s.Storage.BusyTimeout}
}

func fetcherOptions(s config.Settings) fetch.HTTPFetcherOptions {
	return fetch.HTTPFetcherOptions{
		BaseURL:    s.Source.BaseURL,
		UserAgent:  s.Source.UserAgent,
		Timeout:    s.Source.Timeout,
		RatePerSec: s.Source.RatePerSec,
	}
}

func metricsConfig(s config.Settings) metrics.ServerConfig {
	return metrics.ServerConfig{Enabled: s.MetricsEnabled, Addr: s.MetricsAddr, Pprof: s.MetricsPprof}
}

func notifierConfig(s config.Settings) notifier.Config {
	t := s.Notify.Telegram
	return notifier.Config{
		Enabled:       t.Enabled,
		Workers:       t.Workers,
		QueueSize:     t.QueueSize,
		RatePerSec:    1,
		RetryMax:      t.RetryMax,
		RetryBase:     t.RetryBase,
		RetryMaxDelay: 10 * time.Second,
		Channel:       "telegram",
		ChatID:        t.ChatID,
		ThreadID:      t.ThreadID,
		ParseMode:     "HTML",
	}
}

func catalogOptions(s config.Settings) (syncer.CatalogOptions, error) {
	policy, err := syncer.ParseStopPolicy(s.Catalog.Sync.StopPolicy)
	if err != nil {
		return syncer.CatalogOptions{}, fmt.Errorf("%w: catalog.stop_policy: %w", config.ErrInvalid, err)
	}
	return syncer.CatalogOptions{
		PageSize:    s.Catalog.Sync.PageSize,
		MaxPages:    s.Catalog.Sync.MaxPages,
		BatchSize:   s.Catalog.Sync.BatchSize,
		Concurrency: s.Catalog.Sync.Concurrency,
		BatchPause:  s.Catalog.Sync.BatchPause,
		Policy:      policy,
	}, nil
}

// staleAfter bounds how long the loop may go without a heartbeat before the
// systemd watchdog stops being fed.
func staleAfter(s config.Settings) time.Duration {
	return 2*max(s.Interval, s.ErrorBackoff) + 5*time.Minute
}

// statusLine renders the systemd status for a bus event; ok is false for
// events that do not change it.
func statusLine(e eventbus.Event) (string, bool) {
	switch e.Type {
	case eventbus.TypeCycleCompleted:
		c, ok := e.Data.(eventbus.CycleInfo)
		return fmt.Sprintf("cycle %d ok: %d records, %d new", c.Cycle, c.Total, c.Added), ok
	case eventbus.TypeCycleFailed:
		c, ok := e.Data.(eventbus.CycleInfo)
		return fmt.Sprintf("cycle %d failed (%s)", c.Cycle, c.Class), ok
	case eventbus.TypeCatalogRefreshed:
		r, ok := e.Data.(syncer.CatalogResult)
		return fmt.Sprintf("catalog refreshed: %d problems", r.Total), ok
	}
	return "", false
}
