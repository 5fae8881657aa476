package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	logx "subwatch/pkg/logx"
)

var errExited = errors.New("exited")

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	minBackoff  time.Duration
	maxBackoff  time.Duration
	maxRestarts int // 0 = unlimited
	restartNil  bool
	publish     bool
}

// WithRestartBackoff sets the exponential backoff bounds between runs.
func WithRestartBackoff(lo, hi time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if lo > 0 {
			p.minBackoff = lo
		}
		if hi > 0 {
			p.maxBackoff = hi
		}
	}
}

// WithMaxRestarts gives up after n restarts. The first run does not count.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.maxRestarts = max(n, 0) }
}

// WithRestartOnCleanExit restarts fn even when it returns nil.
func WithRestartOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.restartNil = enabled }
}

// WithPublishFirstError records a failed run as the supervisor's Err even
// though the task is restarted.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publish = enabled }
}

// a run that lasted this long resets the backoff
const healthyRun = 30 * time.Second

// GoRestart runs fn until it returns nil or the supervisor is canceled,
// restarting it after errors and panics with jittered exponential backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.maxBackoff = max(p.maxBackoff, p.minBackoff)

	s.Go0(name, func(ctx context.Context) {
		backoff := p.minBackoff
		for restarts := 0; ; restarts++ {
			began := time.Now()
			err := s.call(name, fn)
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if !p.restartNil {
					return
				}
				err = errExited
			}
			s.observe(name, "error")
			if p.publish {
				s.setErr(fmt.Errorf("%s: %w", name, err))
			}
			if p.maxRestarts > 0 && restarts >= p.maxRestarts {
				s.log.Error("task gave up", logx.String("task", name), logx.Int("restarts", restarts), logx.Err(err))
				return
			}

			if time.Since(began) >= healthyRun {
				backoff = p.minBackoff
			}
			wait := backoff + rand.N(backoff/5+1)
			s.log.Warn("task restarting", logx.String("task", name), logx.Duration("backoff", wait), logx.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			s.observe(name, "restart")
			backoff = min(backoff*2, p.maxBackoff)
		}
	})
}
