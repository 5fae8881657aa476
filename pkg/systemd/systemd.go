// Package systemd speaks the sd_notify protocol for Type=notify units.
// Outside systemd (no NOTIFY_SOCKET) every call is a no-op.
package systemd

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "subwatch/pkg/logx"
)

type Notifier struct {
	enabled  bool
	log      logx.Logger
	watchdog time.Duration

	lastBeat atomic.Int64 // unix nanos
}

// New returns a notifier. When enabled is false it never talks to systemd.
func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{enabled: enabled, log: log.With(logx.Component("systemd"))}
	if enabled {
		if d, err := daemon.SdWatchdogEnabled(false); err != nil {
			n.log.Warn("watchdog detection failed", logx.Err(err))
		} else {
			n.watchdog = d
		}
	}
	n.lastBeat.Store(time.Now().UnixNano())
	return n
}

// WatchdogInterval is WatchdogSec of the unit, 0 when disabled.
func (n *Notifier) WatchdogInterval() time.Duration { return n.watchdog }

func (n *Notifier) Ready()     { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping()  { n.send(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading() { n.send(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) { n.send("STATUS=" + s) }

// Heartbeat records that the monitored work made progress.
func (n *Notifier) Heartbeat() { n.lastBeat.Store(time.Now().UnixNano()) }

// Run pings the watchdog at half its interval as long as the last heartbeat
// is younger than staleAfter(). A stuck loop stops the pings and systemd
// restarts the unit.
func (n *Notifier) Run(ctx context.Context, staleAfter func() time.Duration) error {
	if !n.enabled || n.watchdog <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(n.watchdog / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		since := time.Since(time.Unix(0, n.lastBeat.Load()))
		if since > staleAfter() {
			n.log.Warn("heartbeat stale; withholding watchdog ping", logx.Duration("since", since))
			continue
		}
		n.send(daemon.SdNotifyWatchdog)
	}
}

func (n *Notifier) send(state string) {
	if !n.enabled {
		return
	}
	if _, err := daemon.SdNotify(false, state); err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}
