package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"subwatch/internal/config"
	"subwatch/internal/difficulty"
	"subwatch/internal/notifier"
	"subwatch/internal/record"
	rtsup "subwatch/internal/runtime/supervisor"
	logx "subwatch/pkg/logx"
)

// Session is one monitoring run for one viewer. It owns the notified set,
// so restarting a session (or the process) forgets what was announced.
//
// Start launches two supervised tasks: "monitor.loop" (sync cycles) and
// "notify.scan" (a ticker scanning the persisted store). Both share one
// dispatcher, so their scans never interleave.
type Session struct {
	ID       string
	Viewer   string
	Notified *notifier.NotifiedSet

	deps       Deps
	log        logx.Logger
	loop       *loop
	dispatcher *notifier.Dispatcher

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

func NewSession(deps Deps, log logx.Logger) (*Session, error) {
	if deps.Config == nil || deps.Store == nil || deps.Fetcher == nil {
		return nil, errors.New("monitor: config, store and fetcher are required")
	}
	set, err := deps.Config.Current()
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Sink == nil {
		deps.Sink = notifier.LogSink{Log: log}
	}

	id := uuid.NewString()
	log = log.With(logx.String("session", id))
	s := &Session{
		ID:       id,
		Viewer:   set.Viewer,
		Notified: notifier.NewNotifiedSet(),
		deps:     deps,
		log:      log,
	}
	var obs notifier.Observer
	if deps.Observer != nil {
		obs = deps.Observer
	}
	s.dispatcher = notifier.NewDispatcher(deps.Sink, s.Notified, notifier.DispatcherOptions{
		Window:   set.Notify.Window,
		Delay:    set.Notify.Delay,
		Session:  id,
		Location: set.Location,
		Bus:      deps.Bus,
		Now:      deps.Now,
	}, log.With(logx.Component("notifier")), obs)
	s.loop = &loop{sess: s, deps: deps, log: log.With(logx.Component("monitor"))}
	return s, nil
}

// Start is idempotent.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	opts := []rtsup.Option{
		rtsup.WithLogger(s.log.With(logx.Component("session"))),
		rtsup.WithCancelOnError(false),
	}
	if s.deps.Observer != nil {
		opts = append(opts, rtsup.WithObserver(s.deps.Observer))
	}
	s.sup = rtsup.NewSupervisor(ctx, opts...)
	s.sup.GoRestart("monitor.loop", s.loop.run, rtsup.WithRestartBackoff(time.Second, time.Minute))
	s.sup.GoRestart("notify.scan", s.scanLoop, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	s.log.Info("session started", logx.String("viewer", s.Viewer))
	return nil
}

// Stop cancels both tasks and waits for them. An in-flight cycle finishes
// unless ctx ends first.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("session stopped", logx.Uint64("cycles", s.Cycles()), logx.Int("notified", s.Notified.Len()))
	return err
}

// Supervisor returns the task supervisor (nil if not started).
func (s *Session) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Cycles reports how many cycles were started.
func (s *Session) Cycles() uint64 { return s.loop.cycles.Load() }

// RunOnce runs a single cycle outside the loop and reports it like the loop does.
func (s *Session) RunOnce(ctx context.Context) (CycleStats, error) {
	st, err := s.loop.cycle(ctx)
	s.loop.afterCycle(ctx, st, err)
	return st, err
}

// scanLoop re-reads the store every notify.scan_every and scans it.
func (s *Session) scanLoop(ctx context.Context) error {
	log := s.log.With(logx.Component("notify.scan"))
	for {
		every := 10 * time.Second
		if set, err := s.deps.Config.Current(); err == nil && set.Notify.ScanEvery > 0 {
			every = set.Notify.ScanEvery
		}
		t := time.NewTimer(every)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		set, err := s.deps.Config.Current()
		if err != nil {
			log.Warn("settings unavailable", logx.Err(err))
			continue
		}
		snap, err := s.deps.Store.Load(ctx)
		if err != nil {
			log.Warn("store read failed", logx.Err(err))
			continue
		}
		res, err := s.scan(ctx, set, snap)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("scan aborted", logx.Err(err))
			continue
		}
		if res.Emitted > 0 || res.Failed > 0 {
			log.Debug("scan done", logx.Int("emitted", res.Emitted), logx.Int("failed", res.Failed))
		}
	}
}

func (s *Session) scan(ctx context.Context, set config.Settings, snap record.Snapshot) (notifier.ScanResult, error) {
	s.dispatcher.Tune(set.Notify.Window, set.Notify.Delay, set.Location)
	res, err := s.dispatcher.Scan(ctx, snap, s.index())
	if g, ok := s.deps.Observer.(interface{ SetNotifiedKeys(int) }); ok {
		g.SetNotifiedKeys(s.Notified.Len())
	}
	return res, err
}

// index returns the difficulty index; on error the source's last good copy is used.
func (s *Session) index() difficulty.Index {
	if s.deps.Index == nil {
		return nil
	}
	ix, err := s.deps.Index.Index()
	if err != nil {
		s.log.Warn("difficulty index unavailable", logx.Err(err))
	}
	return ix
}
