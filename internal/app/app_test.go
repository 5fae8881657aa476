package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwatch/internal/config"
	"subwatch/internal/difficulty"
	"subwatch/internal/eventbus"
	"subwatch/internal/fetch"
	"subwatch/internal/record"
	"subwatch/internal/syncer"
	logx "subwatch/pkg/logx"
)

func sidecar(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/record/list":
			posted := time.Now().UTC().Add(-time.Minute).Format(record.TimeLayout)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"user_name": "Alice",
				"has_more":  false,
				"records": []map[string]string{
					{"post_date": posted, "problem_number": "P1000", "problem_name": "A+B"},
				},
			})
		case "/problem/list":
			_, _ = w.Write([]byte(`{"problems": []}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, dir, baseURL string) string {
	t.Helper()
	cfg := fmt.Sprintf(`{
		"monitor": {"viewer": "alice", "interval": "1h", "timezone": "UTC"},
		"source": {"base_url": %q, "rate_per_sec": 100},
		"files": {"roster": %q, "difficulty": %q},
		"storage": {"driver": "json", "path": %q},
		"notify": {"delay": "1ms"}
	}`, baseURL,
		filepath.Join(dir, "user_ids.json"),
		filepath.Join(dir, "problem_list.json"),
		filepath.Join(dir, "user_records.json"))
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user_ids.json"), []byte(`{"alice": ["101"]}`), 0o644))
	return path
}

func TestAppRunsFirstCycleAndStops(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sidecar(t).URL)

	a, err := NewApp(path, Options{Logger: logx.Nop()})
	require.NoError(t, err)
	events, unsub := a.Bus().Subscribe(32)
	defer unsub()

	require.NoError(t, a.Start(context.Background()))

	deadline := time.After(10 * time.Second)
	var info eventbus.CycleInfo
wait:
	for {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TypeCycleCompleted {
				info = ev.Data.(eventbus.CycleInfo)
				break wait
			}
			if ev.Type == eventbus.TypeCycleFailed {
				t.Fatalf("cycle failed: %+v", ev.Data)
			}
		case <-deadline:
			t.Fatal("no cycle completed")
		}
	}
	assert.Equal(t, a.Session().ID, info.Session)
	assert.Equal(t, 1, info.Added)

	snap, err := a.Store().Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "Alice", snap[0].DisplayName)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	select {
	case <-a.Done():
	default:
		t.Fatal("app context still live after Stop")
	}
}

func TestNewAppRequiresSource(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")
	_, err := NewApp(path, Options{Logger: logx.Nop()})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

type catalogObs struct {
	mu      sync.Mutex
	pages   int
	total   int
	stopped bool
}

func (o *catalogObs) ObservePage(string, error) {
	o.mu.Lock()
	o.pages++
	o.mu.Unlock()
}

func (o *catalogObs) ObserveCatalog(total int, stopped bool) {
	o.mu.Lock()
	o.total, o.stopped = total, stopped
	o.mu.Unlock()
}

func TestRefreshCatalogResumesAndSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "problem_list.json")
	set, err := (&config.Config{Catalog: config.CatalogConfig{
		PageSize:    2,
		MaxPages:    5,
		BatchSize:   1,
		Concurrency: 1,
		BatchPause:  "1ms",
	}}).Settings()
	require.NoError(t, err)

	var requested []int
	f := fetch.CatalogFunc(func(_ context.Context, page int) (fetch.CatalogPage, error) {
		requested = append(requested, page)
		if page > 2 {
			return fetch.CatalogPage{}, nil
		}
		return fetch.CatalogPage{Problems: []fetch.Problem{
			{ID: fmt.Sprintf("P%d", page*10), Difficulty: "入门"},
			{ID: fmt.Sprintf("P%d", page*10+1), Difficulty: "普及−"},
		}}, nil
	})
	src := difficulty.NewFileSource(path)
	obs := &catalogObs{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	res, err := RefreshCatalog(context.Background(), set, f, src, logx.Nop(), bus, obs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.StartPage)
	assert.Equal(t, 4, res.Added)
	assert.True(t, res.Stopped)
	assert.Equal(t, []int{1, 2, 3}, requested)
	assert.Equal(t, 4, obs.total)
	assert.Equal(t, eventbus.TypeCatalogRefreshed, (<-events).Type)

	ix, err := difficulty.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "普及−", ix["P21"])

	// The next run resumes after the pages already ingested.
	requested = nil
	res, err = RefreshCatalog(context.Background(), set, f, src, logx.Nop(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.StartPage)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, []int{3}, requested)
}

func TestRefreshCatalogRejectsUnparsablePolicy(t *testing.T) {
	set, err := (&config.Config{}).Settings()
	require.NoError(t, err)
	set.Catalog.Sync.StopPolicy = "sometimes"

	called := false
	f := fetch.CatalogFunc(func(context.Context, int) (fetch.CatalogPage, error) {
		called = true
		return fetch.CatalogPage{}, nil
	})
	src := difficulty.NewFileSource(filepath.Join(t.TempDir(), "problem_list.json"))
	_, err = RefreshCatalog(context.Background(), set, f, src, logx.Nop(), nil, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.False(t, called)
}

func TestStatusLineFollowsBusEvents(t *testing.T) {
	cases := []struct {
		ev   eventbus.Event
		want string
	}{
		{eventbus.Event{Type: eventbus.TypeCycleCompleted, Data: eventbus.CycleInfo{Cycle: 4, Total: 120, Added: 2}}, "cycle 4 ok: 120 records, 2 new"},
		{eventbus.Event{Type: eventbus.TypeCycleFailed, Data: eventbus.CycleInfo{Cycle: 5, Class: "transient"}}, "cycle 5 failed (transient)"},
		{eventbus.Event{Type: eventbus.TypeCatalogRefreshed, Data: syncer.CatalogResult{Total: 9000}}, "catalog refreshed: 9000 problems"},
	}
	for _, tc := range cases {
		got, ok := statusLine(tc.ev)
		assert.True(t, ok, tc.ev.Type)
		assert.Equal(t, tc.want, got)
	}

	_, ok := statusLine(eventbus.Event{Type: eventbus.TypeNotified})
	assert.False(t, ok)
	_, ok = statusLine(eventbus.Event{Type: eventbus.TypeCycleCompleted, Data: "garbage"})
	assert.False(t, ok)
}
