package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "subwatch/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

var errWatcherClosed = errors.New("watcher closed")

// Watch reloads the config whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are seen. A failing watcher is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)

	trigger, stop := m.debouncer(ctx)
	defer stop()

	retry := watchRetryMin
	for ctx.Err() == nil {
		err := m.watchOnce(ctx, dir, name, trigger, func() { retry = watchRetryMin })
		if ctx.Err() != nil {
			break
		}
		wait := retry + rand.N(retry/2+1)
		m.log.Warn("config watcher failed; retrying",
			logx.String("dir", dir), logx.Err(err), logx.Duration("backoff", wait))
		retry = min(retry*2, watchRetryMax)
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

// watchOnce runs one fsnotify watcher until it breaks or ctx ends.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, name string, trigger, started func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	started()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && ev.Op != 0 {
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events may be lost; re-read unconditionally
				m.log.Warn("config watch overflow", logx.Err(err))
				trigger()
				continue
			}
			if err != nil {
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// debouncer coalesces bursts of file events (editors write several times
// per save) into one reload after reloadDebounce of quiet.
func (m *ConfigManager) debouncer(ctx context.Context) (trigger, stop func()) {
	kick := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTimer(time.Hour)
		t.Stop()
		for {
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-kick:
				t.Reset(reloadDebounce)
			case <-t.C:
				m.reload(ctx)
			}
		}
	}()
	trigger = func() {
		select {
		case kick <- struct{}{}:
		default:
		}
	}
	stop = func() { <-done }
	return trigger, stop
}
