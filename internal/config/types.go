package config

// Config is the raw, file-shaped configuration. Every section is optional;
// Settings() resolves defaults and validates.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Monitor   MonitorConfig   `json:"monitor"`
	Sync      SyncConfig      `json:"sync"`
	Retention RetentionConfig `json:"retention"`
	Notify    NotifyConfig    `json:"notify"`
	Files     FilesConfig     `json:"files"`
	Storage   StorageConfig   `json:"storage"`
	Source    SourceConfig    `json:"source"`
	Catalog   CatalogConfig   `json:"catalog"`
	Telegram  TelegramConfig  `json:"telegram"`
	Metrics   MetricsConfig   `json:"metrics"`
	Systemd   SystemdConfig   `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MonitorConfig drives the polling loop.
//
// Viewer selects which roster entry is monitored. Timezone is the judge's
// local zone; submission timestamps carry no offset.
type MonitorConfig struct {
	Viewer       string `json:"viewer"`
	Interval     string `json:"interval,omitempty"`      // default "5m"
	ErrorBackoff string `json:"error_backoff,omitempty"` // default "60s"
	Timezone     string `json:"timezone,omitempty"`      // default "Asia/Shanghai"
}

// SyncConfig controls how account histories are paged.
type SyncConfig struct {
	MaxPages    int    `json:"max_pages,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	BatchPause  string `json:"batch_pause,omitempty"`
	StopPolicy  string `json:"stop_policy,omitempty"` // "per_item" | "global"
}

type RetentionConfig struct {
	Days         int `json:"days,omitempty"`
	CleanupEvery int `json:"cleanup_every,omitempty"`
}

// NotifyConfig controls the recent-submission scan.
//
// Log is a pointer so an omitted key keeps the log sink on.
type NotifyConfig struct {
	Window    string               `json:"window,omitempty"`
	Delay     string               `json:"delay,omitempty"`
	ScanEvery string               `json:"scan_every,omitempty"`
	Log       *bool                `json:"log,omitempty"`
	Telegram  NotifyTelegramConfig `json:"telegram"`
}

type NotifyTelegramConfig struct {
	Enabled   bool   `json:"enabled"`
	ChatID    int64  `json:"chat_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
	RetryMax  int    `json:"retry_max,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Workers   int    `json:"workers,omitempty"`
	RetryBase string `json:"retry_base,omitempty"`
}

type FilesConfig struct {
	Roster     string `json:"roster,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// StorageConfig selects the record store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./records.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SourceConfig points at the scraping sidecar that exposes the judge's pages
// as JSON.
type SourceConfig struct {
	BaseURL    string  `json:"base_url"`
	UserAgent  string  `json:"user_agent,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type CatalogConfig struct {
	Enabled     bool   `json:"enabled"`
	Schedule    string `json:"schedule,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
	MaxPages    int    `json:"max_pages,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	BatchPause  string `json:"batch_pause,omitempty"`
	StopPolicy  string `json:"stop_policy,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}
