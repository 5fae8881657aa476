package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwatch/internal/config"
	"subwatch/internal/eventbus"
	"subwatch/internal/fetch"
	"subwatch/internal/notifier"
	"subwatch/internal/record"
	"subwatch/internal/storage"
	logx "subwatch/pkg/logx"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) string { return now.Add(-d).Format(record.TimeLayout) }

type staticSettings struct{ s config.Settings }

func (s staticSettings) Current() (config.Settings, error) { return s.s, nil }

type sinkRecorder struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (r *sinkRecorder) Deliver(_ context.Context, e notifier.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *sinkRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	dir   string
	set   config.Settings
	store storage.Store
	sink  *sinkRecorder
	bus   eventbus.Bus
}

func newFixture(t *testing.T, mut func(*config.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{
		Monitor: config.MonitorConfig{Viewer: "alice", Timezone: "UTC"},
		Files: config.FilesConfig{
			Roster:     filepath.Join(dir, "user_ids.json"),
			Difficulty: filepath.Join(dir, "problem_list.json"),
		},
		Storage: config.StorageConfig{Driver: "json", Path: filepath.Join(dir, "user_records.json")},
		Notify:  config.NotifyConfig{Delay: "1ms"},
	}
	if mut != nil {
		mut(c)
	}
	set, err := c.Settings()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(set.RosterPath, []byte(`{"alice": [101, "102"]}`), 0o644))

	st, err := storage.Open(storage.Config{Driver: set.Storage.Driver, Path: set.Storage.Path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return &fixture{dir: dir, set: set, store: st, sink: &sinkRecorder{}, bus: eventbus.New()}
}

func pages(ctx context.Context, account string, page int) (fetch.Page, error) {
	switch account {
	case "101":
		return fetch.Page{DisplayName: "Alice", Rows: []record.Record{
			{PostDate: ago(2 * time.Minute), ProblemNumber: "P1001", ProblemName: "A+B"},
			{PostDate: ago(48 * time.Hour), ProblemNumber: "P1002", ProblemName: "Stairs"},
		}}, nil
	default:
		return fetch.Page{DisplayName: "Bob", Rows: []record.Record{
			{PostDate: ago(3 * time.Hour), ProblemNumber: "P2000", ProblemName: "Graph"},
		}}, nil
	}
}

func (f *fixture) session(t *testing.T, fetcher fetch.Fetcher) *Session {
	t.Helper()
	s, err := NewSession(Deps{
		Config:  staticSettings{f.set},
		Store:   f.store,
		Fetcher: fetcher,
		Sink:    f.sink,
		Bus:     f.bus,
		Now:     func() time.Time { return now },
	}, logx.Nop())
	require.NoError(t, err)
	return s
}

func TestRunOnceMergesPersistsAndNotifies(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t, fetch.Func(pages))
	events, cancel := f.bus.Subscribe(4)
	defer cancel()

	st, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Accounts)
	assert.Equal(t, 3, st.Added)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Notify.Emitted)
	assert.Equal(t, 1, f.sink.len())

	snap, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "Alice", snap[0].DisplayName)

	// The second pass adds nothing and does not notify again.
	st, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Added)
	assert.Equal(t, 1, f.sink.len())
	assert.Equal(t, uint64(2), s.Cycles())

	var completed int
	for len(events) > 0 {
		ev := <-events
		if ev.Type == eventbus.TypeCycleCompleted {
			completed++
			info := ev.Data.(eventbus.CycleInfo)
			assert.Equal(t, s.ID, info.Session)
		}
	}
	assert.Equal(t, 2, completed)
}

func TestCleanupRunsEveryNthCycle(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Retention.CleanupEvery = 3 })
	s := f.session(t, fetch.Func(pages))

	var ran []uint64
	for range 7 {
		st, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		if st.Cleanup {
			ran = append(ran, st.Index)
		}
	}
	assert.Equal(t, []uint64{0, 3, 6}, ran)
}

func TestCleanupDropsExpiredRecords(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Retention.Days = 1 })
	require.NoError(t, f.store.Save(context.Background(), record.Snapshot{{
		AccountID:   "101",
		DisplayName: "Alice",
		Records:     []record.Record{{PostDate: ago(72 * time.Hour), ProblemNumber: "P9", ProblemName: "Old"}},
	}}))
	s := f.session(t, fetch.Func(func(ctx context.Context, account string, page int) (fetch.Page, error) {
		return fetch.Page{}, nil
	}))

	st, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Cleanup)
	assert.Equal(t, 1, st.Pruned)
	assert.Equal(t, 0, st.Total)
}

func TestUnknownViewerIsConfigError(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Monitor.Viewer = "mallory" })
	s := f.session(t, fetch.Func(pages))
	events, cancel := f.bus.Subscribe(2)
	defer cancel()

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownViewer))
	assert.Equal(t, ClassConfig, Classify(err))

	ev := <-events
	assert.Equal(t, eventbus.TypeCycleFailed, ev.Type)
	assert.Equal(t, string(ClassConfig), ev.Data.(eventbus.CycleInfo).Class)
}

func TestMissingRosterMeansNoAccounts(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.Remove(f.set.RosterPath))
	s := f.session(t, fetch.Func(pages))

	st, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Accounts)
	assert.Equal(t, 0, st.Total)
}

func TestCorruptRosterSkipsCycle(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.WriteFile(f.set.RosterPath, []byte(`{"alice": [`), 0o644))
	s := f.session(t, fetch.Func(pages))

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, ClassCorruptState, Classify(err))
}

func TestCorruptStoreIsMovedAsideAndRebuilt(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.WriteFile(f.set.Storage.Path, []byte("{not json"), 0o644))
	s := f.session(t, fetch.Func(pages))

	st, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)

	backups, err := filepath.Glob(f.set.Storage.Path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestStopWaitsForCycleInFlight(t *testing.T) {
	f := newFixture(t, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var calls atomic.Int32
	s := f.session(t, fetch.Func(func(ctx context.Context, account string, page int) (fetch.Page, error) {
		calls.Add(1)
		once.Do(func() { close(entered) })
		<-release
		return pages(ctx, account, page)
	}))

	require.NoError(t, s.Start(context.Background()))
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was in flight")
	case <-time.After(100 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	snap, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalRecords())
	assert.Equal(t, uint64(1), s.Cycles())
}

func TestClassifyAndBackoff(t *testing.T) {
	assert.Equal(t, ClassCorruptState, Classify(storage.ErrCorrupt))
	assert.Equal(t, ClassConfig, Classify(config.ErrInvalid))
	assert.Equal(t, ClassTransient, Classify(errors.New("timeout")))

	assert.Equal(t, time.Minute, Backoff(ClassTransient, time.Minute, 5*time.Minute))
	assert.Equal(t, 5*time.Minute, Backoff(ClassConfig, time.Minute, 5*time.Minute))
}

func emptyPages(context.Context, string, int) (fetch.Page, error) { return fetch.Page{}, nil }

// waitFor returns the first bus event of type typ, failing after d.
func waitFor(t *testing.T, events <-chan eventbus.Event, typ string, d time.Duration) eventbus.Event {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %v", typ, d)
			return eventbus.Event{}
		}
	}
}

func TestScanTimerAnnouncesRecordsWrittenBetweenCycles(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Monitor.Interval = "1h"
		c.Notify.ScanEvery = "20ms"
	})
	s := f.session(t, fetch.Func(emptyPages))
	events, cancel := f.bus.Subscribe(64)
	defer cancel()

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()
	waitFor(t, events, eventbus.TypeCycleCompleted, 5*time.Second)
	require.Equal(t, 0, f.sink.len())

	// The loop now sleeps for an hour; only the scan timer can see this write.
	require.NoError(t, f.store.Save(context.Background(), record.Snapshot{{
		AccountID:   "101",
		DisplayName: "Alice",
		Records:     []record.Record{{PostDate: ago(time.Minute), ProblemNumber: "P3000", ProblemName: "Fresh"}},
	}}))

	require.Eventually(t, func() bool { return f.sink.len() == 1 }, 5*time.Second, 10*time.Millisecond)
	// Several more ticks pass without a second announcement.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, f.sink.len())
	assert.Equal(t, uint64(1), s.Cycles())
}

// flakyStore fails the first n saves.
type flakyStore struct {
	storage.Store
	n atomic.Int32
}

func (s *flakyStore) Save(ctx context.Context, snap record.Snapshot) error {
	if s.n.Add(-1) >= 0 {
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, snap)
}

func TestLoopBacksOffAndRecoversAfterFailedCycle(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Monitor.Interval = "1h"
		c.Monitor.ErrorBackoff = "20ms"
		c.Notify.ScanEvery = "1h"
	})
	store := &flakyStore{Store: f.store}
	store.n.Store(1)
	s, err := NewSession(Deps{
		Config:  staticSettings{f.set},
		Store:   store,
		Fetcher: fetch.Func(pages),
		Sink:    f.sink,
		Bus:     f.bus,
		Now:     func() time.Time { return now },
	}, logx.Nop())
	require.NoError(t, err)
	events, cancel := f.bus.Subscribe(64)
	defer cancel()

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	failed := waitFor(t, events, eventbus.TypeCycleFailed, 5*time.Second).Data.(eventbus.CycleInfo)
	assert.Equal(t, uint64(0), failed.Cycle)
	assert.Equal(t, string(ClassTransient), failed.Class)

	done := waitFor(t, events, eventbus.TypeCycleCompleted, 5*time.Second).Data.(eventbus.CycleInfo)
	assert.Equal(t, uint64(1), done.Cycle)
	assert.Equal(t, 3, done.Added)

	snap, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalRecords())
}

func TestUnparsableStopPolicyIsConfigError(t *testing.T) {
	f := newFixture(t, nil)
	f.set.Sync.StopPolicy = "sometimes"
	s := f.session(t, fetch.Func(pages))

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Equal(t, ClassConfig, Classify(err))
}
