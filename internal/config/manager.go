package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	logx "subwatch/pkg/logx"
)

const validateTimeout = 5 * time.Second

var errNotLoaded = errors.New("config not loaded")

// committed is the config currently in force plus its fingerprint.
type committed struct {
	cfg  *Config
	hash uint64
}

// ConfigManager owns the config file. It keeps the last committed config,
// re-reads the file on change (see Watch) and hands accepted configs to
// subscribers, newest first.
type ConfigManager struct {
	path string
	log  logx.Logger

	cur       atomic.Pointer[committed]
	validator func(ctx context.Context, cfg *Config) error

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, subs: make(map[chan *Config]struct{})}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator adds a check that reloaded configs must pass on top of
// Settings(). Load does not call it.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and decodes the file without committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	body, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decode(m.path, body)
}

// Load parses the file, checks it resolves to valid Settings and commits it.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if _, err := cfg.Settings(); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	m.cur.Store(&committed{cfg: cfg, hash: hashOf(cfg)})
}

// hashOf fingerprints the decoded config, so formatting-only edits of the
// file compare equal.
func hashOf(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return fingerprint(b)
}

func (m *ConfigManager) Get() *Config {
	if c := m.cur.Load(); c != nil {
		return c.cfg
	}
	return nil
}

// Current resolves the committed config.
func (m *ConfigManager) Current() (Settings, error) {
	cfg := m.Get()
	if cfg == nil {
		return Settings{}, errNotLoaded
	}
	return cfg.Settings()
}

// Subscribe returns a channel that receives every config committed by a
// reload. A subscriber that falls behind loses its oldest pending configs.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for !offer(ch, cfg) {
			select {
			case <-ch:
			default:
			}
		}
	}
}

func offer(ch chan *Config, cfg *Config) bool {
	select {
	case ch <- cfg:
		return true
	default:
		return false
	}
}

// reload re-reads the file and commits and publishes it when the content
// changed and it passes validation. It reports whether anything was
// published.
func (m *ConfigManager) reload(ctx context.Context) bool {
	log := m.log.With(logx.String("path", m.path))
	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config parse failed", logx.Err(err))
		return false
	}
	h := hashOf(cfg)
	if prev := m.cur.Load(); prev != nil && h != 0 && h == prev.hash {
		log.Debug("config unchanged")
		return false
	}
	if err := m.validate(ctx, cfg); err != nil {
		log.Warn("config rejected", logx.Err(err))
		return false
	}
	m.Commit(cfg)
	m.publish(cfg)
	log.Debug("config published", logx.String("hash", fmt.Sprintf("%016x", h)))
	return true
}

func (m *ConfigManager) validate(ctx context.Context, cfg *Config) error {
	if _, err := cfg.Settings(); err != nil {
		return err
	}
	if m.validator == nil {
		return nil
	}
	vctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	return m.validator(vctx, cfg)
}
