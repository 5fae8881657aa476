package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"subwatch/internal/eventbus"
	rtsup "subwatch/internal/runtime/supervisor"
	kit "subwatch/internal/transport"
	logx "subwatch/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service is the asynchronous delivery Sink: Deliver renders the event and
// queues it; a pool of workers sends queued messages through the transport
// under a shared rate limit, retrying failures with backoff.
type Service struct {
	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus
	obs    Observer

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	cur     *pipeline

	sent, failed, dropped atomic.Uint64
}

// pipeline is one Start..Stop generation of the queue and its workers.
type pipeline struct {
	queue    chan job
	sup      *rtsup.Supervisor
	pending  sync.WaitGroup // Deliver calls between admission and enqueue
	draining bool
	done     chan struct{}
}

type job struct {
	n     kit.Notification
	event Event
}

func NewService(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus, obs Observer) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, sender: sender, bus: bus, obs: obs}
	s.Apply(cfg)
	return s
}

// Apply swaps the settings. Queue size and worker count take effect on the
// next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (c Config) withDefaults() Config {
	c.Workers = max(c.Workers, 1)
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	c.RatePerSec = max(c.RatePerSec, 1)
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.Channel == "" {
		c.Channel = "telegram"
	}
	if c.ParseMode == "" {
		c.ParseMode = "HTML"
	}
	return c
}

// Supervisor returns the running workers' supervisor, nil when stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	return s.cur.sup
}

func (s *Service) Stats() DeliveryStats {
	return DeliveryStats{Sent: s.sent.Load(), Failed: s.failed.Load(), Dropped: s.dropped.Load()}
}

// Start launches the workers. It is a no-op when running or disabled, and
// waits out a Stop that is still draining.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	for s.cur != nil {
		p := s.cur
		if !p.draining {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-p.done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return
	}

	p := &pipeline{queue: make(chan job, s.cfg.QueueSize), done: make(chan struct{})}
	p.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.Component("notifier"))),
		rtsup.WithCancelOnError(false),
	)
	for i := range s.cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.work(c, p.queue)
		}, rtsup.WithPublishFirstError(true))
	}
	s.cur = p
}

// Stop refuses new deliveries and lets the workers drain the queue. If ctx
// ends first the remaining messages are abandoned.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.cur
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := !p.draining
	p.draining = true
	s.mu.Unlock()

	if first {
		go s.drain(p)
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		p.sup.Cancel()
	}
}

func (s *Service) drain(p *pipeline) {
	p.pending.Wait()
	close(p.queue)
	_ = p.sup.Wait(context.Background())

	s.mu.Lock()
	if s.cur == p {
		s.cur = nil
	}
	s.mu.Unlock()
	close(p.done)
	st := s.Stats()
	s.log.Debug("notifier drained",
		logx.Uint64("sent", st.Sent), logx.Uint64("failed", st.Failed), logx.Uint64("dropped", st.Dropped))
}

// Deliver implements Sink. It never blocks on the transport; a full queue
// drops the message with ErrQueueFull.
func (s *Service) Deliver(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	cfg, p := s.cfg, s.cur
	switch {
	case !cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case p == nil || p.draining:
		s.mu.Unlock()
		return ErrStopped
	}
	p.pending.Add(1)
	s.mu.Unlock()
	defer p.pending.Done()

	j := job{event: e, n: kit.Notification{
		Channel: cfg.Channel,
		Target:  kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID},
		Text:    Format(e),
		Options: &kit.SendOptions{ParseMode: cfg.ParseMode, DisablePreview: true},
	}}
	select {
	case p.queue <- j:
		return nil
	default:
		s.dropped.Add(1)
		s.report(eventbus.TypeDeliveryDropped, j, ErrQueueFull)
		return ErrQueueFull
	}
}
