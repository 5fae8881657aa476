package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"subwatch/internal/config"
	"subwatch/internal/difficulty"
	"subwatch/internal/eventbus"
	"subwatch/internal/fetch"
	"subwatch/internal/notifier"
	"subwatch/internal/record"
	rtsup "subwatch/internal/runtime/supervisor"
	"subwatch/internal/storage"
	"subwatch/internal/syncer"
	logx "subwatch/pkg/logx"
)

// SettingsSource yields the current (hot-reloaded) settings.
type SettingsSource interface {
	Current() (config.Settings, error)
}

type IndexSource interface {
	Index() (difficulty.Index, error)
}

// Observer receives page, notification and cycle outcomes (metrics).
type Observer interface {
	syncer.Observer
	notifier.Observer
	rtsup.Observer
	ObserveCycle(c eventbus.CycleInfo)
}

type Deps struct {
	Config   SettingsSource
	Store    storage.Store
	Fetcher  fetch.Fetcher
	Index    IndexSource
	Sink     notifier.Sink
	Bus      eventbus.Bus
	Observer Observer

	// Heartbeat is called after every cycle, failed or not (systemd watchdog).
	Heartbeat func()
	Now       func() time.Time
}

// CycleStats summarizes one cycle.
type CycleStats struct {
	Index       uint64
	Accounts    int
	Fetched     int
	Added       int
	Total       int
	Pruned      int
	Cleanup     bool
	FetchErrors int
	Notify      notifier.ScanResult
	Took        time.Duration
}

// loop runs the LOAD_CONFIG, FETCH, MERGE, CLEANUP, PERSIST and NOTIFY steps
// and sleeps in between. It is the only writer of the store.
type loop struct {
	sess   *Session
	deps   Deps
	log    logx.Logger
	cycles atomic.Uint64
}

func (l *loop) now() time.Time {
	if l.deps.Now != nil {
		return l.deps.Now()
	}
	return time.Now()
}

// run cycles until ctx ends. The wait between cycles is the only point where
// cancellation is observed; a cycle in flight always completes.
func (l *loop) run(ctx context.Context) error {
	for {
		st, err := l.cycle(context.WithoutCancel(ctx))
		wait := l.afterCycle(ctx, st, err)

		l.log.Debug("sleeping", logx.Duration("wait", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			l.log.Info("monitor loop stopped", logx.Uint64("cycles", l.cycles.Load()))
			return nil
		case <-t.C:
		}
	}
}

// afterCycle reports the outcome and returns how long to sleep.
func (l *loop) afterCycle(ctx context.Context, st CycleStats, err error) time.Duration {
	set, serr := l.deps.Config.Current()
	interval, backoff := time.Minute, time.Minute
	if serr == nil {
		interval, backoff = set.Interval, set.ErrorBackoff
	}

	info := eventbus.CycleInfo{
		Session:  l.sess.ID,
		Cycle:    st.Index,
		Accounts: st.Accounts,
		Added:    st.Added,
		Total:    st.Total,
		Pruned:   st.Pruned,
		Took:     st.Took,
	}
	entry := storage.CycleEntry{
		At:          l.now(),
		Session:     l.sess.ID,
		Cycle:       st.Index,
		Accounts:    st.Accounts,
		Fetched:     st.Fetched,
		Added:       st.Added,
		Total:       st.Total,
		Pruned:      st.Pruned,
		FetchErrors: st.FetchErrors,
		TookMS:      st.Took.Milliseconds(),
	}

	wait := interval
	typ := eventbus.TypeCycleCompleted
	if err != nil {
		class := Classify(err)
		wait = Backoff(class, backoff, interval)
		typ = eventbus.TypeCycleFailed
		info.Class, info.Error = string(class), err.Error()
		entry.Error = err.Error()
		l.log.Error("cycle failed",
			logx.Uint64("cycle", st.Index),
			logx.String("class", string(class)),
			logx.Duration("backoff", wait),
			logx.Err(err))
	} else {
		l.log.Info("cycle complete",
			logx.Uint64("cycle", st.Index),
			logx.Int("accounts", st.Accounts),
			logx.Int("fetched", st.Fetched),
			logx.Int("added", st.Added),
			logx.Int("total", st.Total),
			logx.Int("pruned", st.Pruned),
			logx.Int("fetch_errors", st.FetchErrors),
			logx.Int("notified", st.Notify.Emitted),
			logx.Duration("took", st.Took),
			logx.Time("next_run", l.now().Add(wait)))
	}

	if aerr := l.deps.Store.AppendCycle(context.WithoutCancel(ctx), entry); aerr != nil {
		l.log.Warn("cycle journal append failed", logx.Err(aerr))
	}
	if l.deps.Bus != nil {
		l.deps.Bus.Publish(eventbus.Event{Type: typ, Data: info})
	}
	if l.deps.Observer != nil {
		l.deps.Observer.ObserveCycle(info)
	}
	if l.deps.Heartbeat != nil {
		l.deps.Heartbeat()
	}
	return wait
}

// cycle runs one pass. Panics are converted to transient errors.
func (l *loop) cycle(ctx context.Context) (st CycleStats, err error) {
	start := time.Now()
	st.Index = l.cycles.Add(1) - 1
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("cycle panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fail(ClassTransient, "panic", fmt.Errorf("%v", r))
		}
		st.Took = time.Since(start)
	}()

	// LOAD_CONFIG
	set, err := l.deps.Config.Current()
	if err != nil {
		return st, fail(ClassConfig, "load_config", err)
	}
	accounts, err := l.accounts(set)
	if err != nil {
		return st, err
	}
	st.Accounts = len(accounts)
	snap, err := l.loadStore(ctx)
	if err != nil {
		return st, err
	}

	// FETCH
	policy, err := syncer.ParseStopPolicy(set.Sync.StopPolicy)
	if err != nil {
		return st, fail(ClassConfig, "load_config", fmt.Errorf("%w: sync.stop_policy: %w", config.ErrInvalid, err))
	}
	var pages syncer.Observer
	if l.deps.Observer != nil {
		pages = l.deps.Observer
	}
	eng := syncer.New(l.deps.Fetcher, syncer.Options{
		MaxPages:      set.Sync.MaxPages,
		PageSize:      set.Sync.PageSize,
		BatchSize:     set.Sync.BatchSize,
		Concurrency:   set.Sync.Concurrency,
		BatchPause:    set.Sync.BatchPause,
		RetentionDays: set.RetentionDays,
		Policy:        policy,
		Location:      set.Location,
		Now:           l.now,
	}, l.log, pages)
	res := eng.RunCycle(ctx, accounts, snap.KnownKeys())
	st.Fetched = res.Rows
	st.FetchErrors = len(res.Errors)

	// MERGE
	before := snap.TotalRecords()
	snap = record.MergeAll(snap, res.Fragments)
	st.Added = snap.TotalRecords() - before

	// CLEANUP on cycles 0, N, 2N, ...
	if every := uint64(max(set.CleanupEvery, 1)); st.Index%every == 0 {
		cutoff := record.Cutoff(l.now().In(set.Location), set.RetentionDays)
		var ps record.PruneStats
		snap, ps = record.Prune(snap, cutoff, set.Location)
		st.Pruned, st.Cleanup = ps.Removed, true
		l.log.Info("retention cleanup",
			logx.Int("removed", ps.Removed),
			logx.Int("remaining", ps.Remaining),
			logx.Int("accounts_dropped", ps.AccountsDropped),
			logx.Time("cutoff", cutoff))
	}
	st.Total = snap.TotalRecords()

	// PERSIST
	if err := l.deps.Store.Save(ctx, snap); err != nil {
		return st, fail(ClassTransient, "persist", err)
	}

	// NOTIFY
	st.Notify, err = l.sess.scan(ctx, set, snap)
	if err != nil {
		return st, fail(ClassTransient, "notify", err)
	}
	return st, nil
}

// accounts resolves the viewer's roster. A missing roster file means no
// accounts; a corrupt one skips the cycle.
func (l *loop) accounts(set config.Settings) ([]string, error) {
	roster, err := config.LoadRoster(set.RosterPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		l.log.Warn("roster file missing; nothing to monitor", logx.String("path", set.RosterPath))
		return nil, nil
	case errors.Is(err, config.ErrRosterCorrupt):
		return nil, fail(ClassCorruptState, "load_roster", err)
	case err != nil:
		return nil, fail(ClassTransient, "load_roster", err)
	}
	ids, ok := roster.Accounts(set.Viewer)
	if !ok {
		return nil, fail(ClassConfig, "load_roster", fmt.Errorf("%w: %q", ErrUnknownViewer, set.Viewer))
	}
	return ids, nil
}

// loadStore reads the snapshot. Corrupt data that was moved aside reads as an
// empty store; corrupt data still in place stops the cycle before PERSIST.
func (l *loop) loadStore(ctx context.Context) (record.Snapshot, error) {
	snap, err := l.deps.Store.Load(ctx)
	switch {
	case err == nil:
		return snap, nil
	case errors.Is(err, storage.ErrBackupFailed):
		return nil, fail(ClassCorruptState, "load_store", err)
	case errors.Is(err, storage.ErrCorrupt):
		l.log.Warn("store corrupt; starting from an empty store", logx.Err(err))
		return record.Snapshot{}, nil
	default:
		return nil, fail(ClassTransient, "load_store", err)
	}
}
