package notifier

import (
	"context"
	"math/rand/v2"
	"time"

	"subwatch/internal/eventbus"
	logx "subwatch/pkg/logx"
)

const sendTimeout = 10 * time.Second

// work consumes q until it is closed (clean stop) or ctx ends.
func (s *Service) work(ctx context.Context, q <-chan job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-q:
			if !ok {
				return nil
			}
			s.send(ctx, j)
		}
	}
}

// send makes up to 1+RetryMax attempts, each gated by the rate limiter.
func (s *Service) send(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()
	if s.sender == nil || j.n.Text == "" {
		return
	}

	attempts := 1 + cfg.RetryMax
	var err error
	for attempt := 1; ; attempt++ {
		if werr := lim.Wait(ctx); werr != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err = s.sender.SendText(callCtx, j.n.Target, j.n.Text, j.n.Options)
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.report(eventbus.TypeDeliverySent, j, nil)
			return
		}
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("of", attempts))
		if attempt >= attempts {
			break
		}
		t := time.NewTimer(backoff(cfg.RetryBase, cfg.RetryMaxDelay, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.failed.Add(1)
	s.log.Warn("notification delivery failed",
		logx.String("account", j.event.Account),
		logx.String("problem", j.event.Problem),
		logx.Int("attempts", attempts),
		logx.Err(err))
	s.report(eventbus.TypeDeliveryFailed, j, err)
}

// backoff is the wait after failed attempt n (1-based): base doubled per
// attempt, capped at ceil, then jittered by ±30%.
func backoff(base, ceil time.Duration, n int) time.Duration {
	d := base
	for i := 1; i < n && d < ceil; i++ {
		d *= 2
	}
	d = min(d, ceil)
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(max(d, 0), ceil)
}

func (s *Service) report(typ string, j job, err error) {
	if s.obs != nil {
		s.obs.ObserveNotify(j.n.Channel, err)
	}
	if s.bus == nil {
		return
	}
	info := eventbus.DeliveryInfo{
		Channel: j.n.Channel,
		ChatID:  j.n.Target.ChatID,
		Account: j.event.Account,
		Problem: j.event.Problem,
	}
	if err != nil {
		info.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: info})
}
