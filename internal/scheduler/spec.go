package scheduler

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Spec is a parsed job schedule: either a cron expression (5 or 6 fields,
// or a descriptor such as "@daily" and "@every 6h") or a plain interval.
type Spec struct {
	Expr  string        // cron expression; empty for intervals
	Every time.Duration // interval; zero for cron
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule accepts a Go duration ("6h") or a cron expression.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, errors.New("schedule is empty")
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Spec{}, fmt.Errorf("schedule %q: interval must be positive", raw)
		}
		return Spec{Every: d}, nil
	}
	if _, err := cronParser.Parse(s); err != nil {
		return Spec{}, fmt.Errorf("schedule %q is neither a duration nor a cron expression: %w", raw, err)
	}
	return Spec{Expr: s}, nil
}

func (s Spec) IsInterval() bool { return s.Every > 0 }

func (s Spec) String() string {
	if s.IsInterval() {
		return "every " + s.Every.String()
	}
	return s.Expr
}

// maxSpread caps the random delay added to an interval job's first run.
const maxSpread = 30 * time.Second

// schedule builds the cron schedule. Interval jobs get their first run
// pushed back by up to min(Every, maxSpread) so that several instances
// started together do not fire in lockstep; jitter reports that delay.
func (s Spec) schedule(now time.Time) (sched cron.Schedule, jitter time.Duration, err error) {
	if !s.IsInterval() {
		sched, err = cronParser.Parse(s.Expr)
		return sched, 0, err
	}
	base := cron.Every(s.Every)
	jitter = rand.N(min(s.Every, maxSpread))
	return &delayedFirst{Schedule: base, first: now.Add(s.Every + jitter)}, jitter, nil
}

// delayedFirst fires at first, then follows the embedded schedule.
type delayedFirst struct {
	cron.Schedule
	first time.Time
}

func (d *delayedFirst) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.Schedule.Next(t)
}
