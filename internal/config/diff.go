package config

import (
	"reflect"
	"strings"

	logx "subwatch/pkg/logx"
)

// SummarizeConfigChange returns the names of changed top-level sections and
// safe structured attrs for logging. Secrets (the bot token) are never logged,
// only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.String("monitor.viewer", newCfg.Monitor.Viewer),
			logx.String("monitor.interval", newCfg.Monitor.Interval),
			logx.String("monitor.timezone", newCfg.Monitor.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sync, newCfg.Sync) {
		changed = append(changed, "sync")
		attrs = append(attrs,
			logx.Int("sync.batch_size", newCfg.Sync.BatchSize),
			logx.Int("sync.concurrency", newCfg.Sync.Concurrency),
			logx.String("sync.stop_policy", newCfg.Sync.StopPolicy),
		)
	}
	if oldCfg.Retention != newCfg.Retention {
		changed = append(changed, "retention")
		attrs = append(attrs,
			logx.Int("retention.days", newCfg.Retention.Days),
			logx.Int("retention.cleanup_every", newCfg.Retention.CleanupEvery),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.String("notify.window", newCfg.Notify.Window),
			logx.Bool("notify.telegram_enabled", newCfg.Notify.Telegram.Enabled),
		)
	}
	if oldCfg.Files != newCfg.Files {
		changed = append(changed, "files")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		attrs = append(attrs, logx.String("source.base_url", newCfg.Source.BaseURL))
	}
	if oldCfg.Catalog != newCfg.Catalog {
		changed = append(changed, "catalog")
		attrs = append(attrs,
			logx.Bool("catalog.enabled", newCfg.Catalog.Enabled),
			logx.String("catalog.schedule", newCfg.Catalog.Schedule),
		)
	}
	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""))
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
	}
	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}
	return changed, attrs
}

// RequiresRestart reports sections that are only read at startup.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "storage", "source", "telegram", "catalog":
			out = append(out, s)
		}
	}
	return out
}
