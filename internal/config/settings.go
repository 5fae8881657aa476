package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"subwatch/internal/record"
	logx "subwatch/pkg/logx"
)

// ErrInvalid wraps every validation failure reported by Settings.
var ErrInvalid = errors.New("invalid config")

const (
	StopPerItem = "per_item"
	StopGlobal  = "global"

	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// Settings is the resolved, defaulted view of Config that components consume.
type Settings struct {
	Logging logx.Config

	Viewer       string
	Interval     time.Duration
	ErrorBackoff time.Duration
	Location     *time.Location

	Sync SyncSettings

	RetentionDays int
	CleanupEvery  int

	Notify NotifySettings

	RosterPath     string
	DifficultyPath string

	Storage StorageSettings
	Source  SourceSettings
	Catalog CatalogSettings

	TelegramToken string

	MetricsEnabled bool
	MetricsAddr    string
	MetricsPprof   bool

	SystemdNotify bool
}

// SyncSettings is shared by history sync and catalog ingestion.
type SyncSettings struct {
	MaxPages    int
	PageSize    int
	BatchSize   int
	Concurrency int
	BatchPause  time.Duration
	StopPolicy  string
}

type NotifySettings struct {
	Window    time.Duration
	Delay     time.Duration
	ScanEvery time.Duration
	Log       bool

	Telegram TelegramSinkSettings
}

type TelegramSinkSettings struct {
	Enabled   bool
	ChatID    int64
	ThreadID  int
	RetryMax  int
	RetryBase time.Duration
	QueueSize int
	Workers   int
}

type StorageSettings struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

type SourceSettings struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64
}

type CatalogSettings struct {
	Enabled  bool
	Schedule string
	Sync     SyncSettings
}

// Settings resolves defaults and validates c. Errors wrap ErrInvalid.
func (c *Config) Settings() (Settings, error) {
	if c == nil {
		c = &Config{}
	}
	var s Settings
	var errs []error
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := parseDuration(path, raw, def)
		if err != nil {
			errs = append(errs, err)
			return def
		}
		return d
	}

	s.Logging = logx.Config{
		Level:   strings.TrimSpace(c.Logging.Level),
		Console: c.Logging.Console,
		Format:  strings.TrimSpace(c.Logging.Format),
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: strings.TrimSpace(c.Logging.File.Path)},
	}

	s.Viewer = strings.TrimSpace(c.Monitor.Viewer)
	s.Interval = dur("monitor.interval", c.Monitor.Interval, 5*time.Minute)
	s.ErrorBackoff = dur("monitor.error_backoff", c.Monitor.ErrorBackoff, 60*time.Second)
	tz := orDefault(c.Monitor.Timezone, "Asia/Shanghai")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Errorf("monitor.timezone: %w", err))
		loc = time.UTC
	}
	s.Location = loc

	s.Sync = SyncSettings{
		MaxPages:    intOr(c.Sync.MaxPages, 5),
		PageSize:    intOr(c.Sync.PageSize, 20),
		BatchSize:   intOr(c.Sync.BatchSize, 10),
		Concurrency: intOr(c.Sync.Concurrency, 10),
		BatchPause:  dur("sync.batch_pause", c.Sync.BatchPause, time.Second),
		StopPolicy:  orDefault(c.Sync.StopPolicy, StopPerItem),
	}
	errs = append(errs, checkSync("sync", c.Sync.MaxPages, c.Sync.PageSize, c.Sync.BatchSize, c.Sync.Concurrency, s.Sync.StopPolicy)...)

	s.RetentionDays = intOr(c.Retention.Days, record.MaxRetentionDays)
	if c.Retention.Days < 0 || c.Retention.Days > record.MaxRetentionDays {
		errs = append(errs, fmt.Errorf("retention.days: must be within 1..%d", record.MaxRetentionDays))
	}
	s.CleanupEvery = intOr(c.Retention.CleanupEvery, 6)
	if c.Retention.CleanupEvery < 0 {
		errs = append(errs, fmt.Errorf("retention.cleanup_every: must be >= 0"))
	}

	s.Notify = NotifySettings{
		Window:    dur("notify.window", c.Notify.Window, 10*time.Minute),
		Delay:     dur("notify.delay", c.Notify.Delay, time.Second),
		ScanEvery: dur("notify.scan_every", c.Notify.ScanEvery, 10*time.Second),
		Log:       c.Notify.Log == nil || *c.Notify.Log,
		Telegram: TelegramSinkSettings{
			Enabled:   c.Notify.Telegram.Enabled,
			ChatID:    c.Notify.Telegram.ChatID,
			ThreadID:  c.Notify.Telegram.ThreadID,
			RetryMax:  intOr(c.Notify.Telegram.RetryMax, 3),
			RetryBase: dur("notify.telegram.retry_base", c.Notify.Telegram.RetryBase, 500*time.Millisecond),
			QueueSize: intOr(c.Notify.Telegram.QueueSize, 256),
			Workers:   intOr(c.Notify.Telegram.Workers, 1),
		},
	}
	if s.Notify.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			errs = append(errs, fmt.Errorf("notify.telegram: telegram.token is required"))
		}
		if s.Notify.Telegram.ChatID == 0 {
			errs = append(errs, fmt.Errorf("notify.telegram.chat_id: required when enabled"))
		}
	}

	s.RosterPath = orDefault(c.Files.Roster, "user_ids.json")
	s.DifficultyPath = orDefault(c.Files.Difficulty, "problem_list.json")

	s.Storage.Driver = strings.ToLower(orDefault(c.Storage.Driver, DriverJSON))
	switch s.Storage.Driver {
	case DriverJSON:
		s.Storage.Path = orDefault(c.Storage.Path, "user_records.json")
	case DriverSQLite:
		s.Storage.Path = orDefault(c.Storage.Path, "user_records.db")
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	s.Storage.BusyTimeout = dur("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)

	s.Source = SourceSettings{
		BaseURL:    strings.TrimRight(strings.TrimSpace(c.Source.BaseURL), "/"),
		UserAgent:  orDefault(c.Source.UserAgent, "subwatch/1.0"),
		Timeout:    dur("source.timeout", c.Source.Timeout, 20*time.Second),
		RatePerSec: c.Source.RatePerSec,
	}
	if s.Source.RatePerSec <= 0 {
		s.Source.RatePerSec = 4
	}
	if s.Source.BaseURL != "" {
		if u, err := url.Parse(s.Source.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("source.base_url: invalid url %q", c.Source.BaseURL))
		}
	}

	s.Catalog = CatalogSettings{
		Enabled:  c.Catalog.Enabled,
		Schedule: orDefault(c.Catalog.Schedule, "@daily"),
		Sync: SyncSettings{
			MaxPages:    intOr(c.Catalog.MaxPages, 1000),
			PageSize:    intOr(c.Catalog.PageSize, 50),
			BatchSize:   intOr(c.Catalog.BatchSize, 10),
			Concurrency: intOr(c.Catalog.Concurrency, 10),
			BatchPause:  dur("catalog.batch_pause", c.Catalog.BatchPause, 500*time.Millisecond),
			StopPolicy:  orDefault(c.Catalog.StopPolicy, StopGlobal),
		},
	}
	errs = append(errs, checkSync("catalog", c.Catalog.MaxPages, c.Catalog.PageSize, c.Catalog.BatchSize, c.Catalog.Concurrency, s.Catalog.Sync.StopPolicy)...)

	s.TelegramToken = strings.TrimSpace(c.Telegram.Token)
	s.MetricsEnabled = c.Metrics.Enabled
	s.MetricsAddr = orDefault(c.Metrics.Addr, "127.0.0.1:9108")
	s.MetricsPprof = c.Metrics.Pprof
	s.SystemdNotify = c.Systemd.Notify

	if len(errs) > 0 {
		return s, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return s, nil
}

func checkSync(section string, maxPages, pageSize, batch, conc int, policy string) []error {
	var errs []error
	for _, f := range []struct {
		name string
		v    int
	}{
		{"max_pages", maxPages},
		{"page_size", pageSize},
		{"batch_size", batch},
		{"concurrency", conc},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s.%s: must be >= 0", section, f.name))
		}
	}
	if policy != StopPerItem && policy != StopGlobal {
		errs = append(errs, fmt.Errorf("%s.stop_policy: unknown policy %q", section, policy))
	}
	return errs
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
