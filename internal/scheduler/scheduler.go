// Package scheduler triggers background jobs (the catalog refresh) on cron
// or interval schedules.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "subwatch/pkg/logx"
)

// Job runs under a context that ends when the scheduler stops.
type Job func(ctx context.Context) error

type job struct {
	name    string
	spec    Spec
	timeout time.Duration
	run     Job
	id      cron.EntryID
}

// Service wraps robfig/cron with a start/stop lifecycle. A run that is still
// going when its next tick arrives makes that tick a no-op; panics in jobs
// are recovered and logged.
type Service struct {
	log logx.Logger
	loc *time.Location

	mu     sync.Mutex
	jobs   []*job
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, loc: cmp.Or(loc, time.Local)}
}

// Add registers a job. timeout bounds one run (zero: unbounded). A job added
// after Start is scheduled right away.
func (s *Service) Add(name, spec string, timeout time.Duration, run Job) error {
	parsed, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.jobs, func(j *job) bool { return j.name == name }) {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{name: name, spec: parsed, timeout: timeout, run: run}
	s.jobs = append(s.jobs, j)
	if s.cron == nil {
		return nil
	}
	return s.scheduleLocked(j)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		if err := s.scheduleLocked(j); err != nil {
			s.cancel()
			s.cron = nil
			return err
		}
	}
	s.cron.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Service) scheduleLocked(j *job) error {
	sched, jitter, err := j.spec.schedule(time.Now().In(s.loc))
	if err != nil {
		return fmt.Errorf("job %s: %w", j.name, err)
	}
	if jitter > 0 {
		s.log.Debug("first run spread", logx.String("job", j.name), logx.Duration("jitter", jitter))
	}
	ctx := s.ctx
	j.id = s.cron.Schedule(sched, cron.FuncJob(func() { s.execute(ctx, j) }))
	return nil
}

func (s *Service) execute(ctx context.Context, j *job) {
	if ctx.Err() != nil {
		return
	}
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	log := s.log.With(logx.String("job", j.name))
	began := time.Now()
	log.Info("job started")
	err := j.run(ctx)
	took := logx.Duration("took", time.Since(began))
	if err != nil {
		log.Warn("job failed", took, logx.Err(err))
		return
	}
	log.Info("job finished", took)
}

// Stop stops triggering, cancels running jobs and waits for them until ctx
// ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Entry describes a registered job.
type Entry struct {
	Name string
	Spec string
	Next time.Time // zero before Start
	Prev time.Time
}

// Entries lists registered jobs sorted by name.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		e := Entry{Name: j.name, Spec: j.spec.String()}
		if s.cron != nil {
			ce := s.cron.Entry(j.id)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.Name, b.Name) })
	return out
}
