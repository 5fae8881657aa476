package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "subwatch/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw   string
		expr  string
		every time.Duration
	}{
		{raw: "*/5 * * * *", expr: "*/5 * * * *"},
		{raw: "0 30 3 * * *", expr: "0 30 3 * * *"},
		{raw: " @daily ", expr: "@daily"},
		{raw: "@every 6h", expr: "@every 6h"},
		{raw: "10m", every: 10 * time.Minute},
		{raw: "2h30m", every: 150 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Expr != tt.expr || got.Every != tt.every {
				t.Fatalf("got %+v, want expr=%q every=%v", got, tt.expr, tt.every)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0s", "-5m", "* * *", "@weekdays"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) expected error", raw)
		}
	}
}

func TestServiceRunsIntervalJob(t *testing.T) {
	s := New(time.UTC, logx.Nop())
	var runs atomic.Int32
	if err := s.Add("tick", "@every 1s", 0, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("tick", "1h", 0, nil); err == nil {
		t.Fatal("duplicate job accepted")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	entries := s.Entries()
	s.Stop(context.Background())

	if runs.Load() == 0 {
		t.Fatal("job never ran")
	}
	if len(entries) != 1 || entries[0].Next.IsZero() {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestIntervalFirstRunIsSpread(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter, err := Spec{Every: time.Minute}.schedule(now)
	if err != nil {
		t.Fatal(err)
	}
	if jitter < 0 || jitter >= maxSpread {
		t.Fatalf("jitter out of range: %v", jitter)
	}
	first := sched.Next(now)
	if first != now.Add(time.Minute+jitter) {
		t.Fatalf("first = %v, jitter = %v", first, jitter)
	}
	if next := sched.Next(first); next != first.Add(time.Minute).Truncate(time.Second) {
		t.Fatalf("second = %v", next)
	}
}
