package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwatch/internal/difficulty"
	"subwatch/internal/fetch"
	"subwatch/internal/record"
	logx "subwatch/pkg/logx"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) string { return testNow.AddDate(0, 0, -d).Format(record.TimeLayout) }

func fullPage(start, n int) []record.Record {
	rows := make([]record.Record, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, record.Record{
			PostDate:      testNow.Add(-time.Duration(start+i) * time.Minute).Format(record.TimeLayout),
			ProblemNumber: fmt.Sprintf("P%d", 1000+start+i),
		})
	}
	return rows
}

func testOptions() Options {
	return Options{MaxPages: 5, PageSize: 20, BatchSize: 10, Concurrency: 10, Location: time.UTC, Now: func() time.Time { return testNow }}
}

func TestWalkStopsOnShortPage(t *testing.T) {
	var calls atomic.Int32
	f := fetch.Func(func(ctx context.Context, id string, page int) (fetch.Page, error) {
		calls.Add(1)
		if page == 1 {
			return fetch.Page{Rows: fullPage(0, 20), HasMore: true, DisplayName: "alice"}, nil
		}
		return fetch.Page{Rows: fullPage(20, 3), HasMore: true}, nil
	})
	res := New(f, testOptions(), logx.Nop(), nil).RunCycle(context.Background(), []string{"1"}, nil)

	assert.EqualValues(t, 2, calls.Load())
	require.Len(t, res.Fragments, 1)
	assert.Equal(t, "alice", res.Fragments[0].DisplayName)
	assert.Len(t, res.Fragments[0].Records, 23)
	assert.Equal(t, 2, res.Pages)
}

func TestWalkStopsAtKnownKeyAndExcludesIt(t *testing.T) {
	rows := fullPage(0, 20)
	known := map[string]record.KeySet{"1": {rows[5].Key(): {}}}
	f := fetch.Func(func(ctx context.Context, id string, page int) (fetch.Page, error) {
		assert.Equal(t, 1, page, "walk must stop on page 1")
		return fetch.Page{Rows: rows, HasMore: true}, nil
	})
	res := New(f, testOptions(), logx.Nop(), nil).RunCycle(context.Background(), []string{"1"}, known)
	assert.Equal(t, rows[:5], res.Fragments[0].Records)
}

func TestWalkStopsAtOldRowButNotUnparsable(t *testing.T) {
	rows := []record.Record{
		{PostDate: daysAgo(1), ProblemNumber: "P1"},
		{PostDate: "garbled", ProblemNumber: "P2"},
		{PostDate: daysAgo(61), ProblemNumber: "P3"},
		{PostDate: daysAgo(2), ProblemNumber: "P4"},
	}
	f := fetch.Func(func(ctx context.Context, id string, page int) (fetch.Page, error) {
		return fetch.Page{Rows: rows, HasMore: true}, nil
	})
	res := New(f, testOptions(), logx.Nop(), nil).RunCycle(context.Background(), []string{"1"}, nil)
	assert.Equal(t, rows[:2], res.Fragments[0].Records)
}

func TestWalkHonorsMaxPagesAndHasMore(t *testing.T) {
	var calls atomic.Int32
	f := fetch.Func(func(ctx context.Context, id string, page int) (fetch.Page, error) {
		calls.Add(1)
		return fetch.Page{Rows: fullPage(page*20, 20), HasMore: true}, nil
	})
	New(f, testOptions(), logx.Nop(), nil).RunCycle(context.Background(), []string{"1"}, nil)
	assert.EqualValues(t, 5, calls.Load())

	calls.Store(0)
	f = fetch.Func(func(ctx context.Context, id string, page int) (fetch.Page, error) {
		calls.Add(1)
		return fetch.Page{Rows: fullPage(0, 20), HasMore: false}, nil
	})
	New(f, testOptions(), logx.Nop(), nil).RunCycle(context.Background(), []string{"1"}, nil)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPerAccountErrorIsIsolated(t *testing.T) {
	boom := errors.New("boom")
	f := fetch.Func(func(ctx context.Context, id string, page int) (fetch.Page, error) {
		if id == "bad" && page == 2 {
			return fetch.Page{}, boom
		}
		if id == "bad" {
			return fetch.Page{Rows: fullPage(0, 20), HasMore: true}, nil
		}
		return fetch.Page{Rows: fullPage(0, 2)}, nil
	})
	res := New(f, testOptions(), logx.Nop(), nil).RunCycle(context.Background(), []string{"a", "bad", "c"}, nil)

	require.Len(t, res.Fragments, 3)
	assert.Equal(t, []string{"a", "bad", "c"}, []string{res.Fragments[0].AccountID, res.Fragments[1].AccountID, res.Fragments[2].AccountID})
	assert.Len(t, res.Fragments[1].Records, 20, "partial rows are kept")
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], boom)
	assert.Len(t, res.Fragments[2].Records, 2)
}

func TestBatchesRunSequentiallyWithBoundedConcurrency(t *testing.T) {
	accounts := make([]string, 12)
	for i := range accounts {
		accounts[i] = fmt.Sprintf("u%02d", i)
	}
	batchOf := func(id string) int {
		for i, a := range accounts {
			if a == id {
				return i / 10
			}
		}
		return -1
	}

	var (
		mu         sync.Mutex
		active     int
		maxActive  int
		doneFirst  int
		violations int
	)
	f := fetch.Func(func(ctx context.Context, id string, page int) (fetch.Page, error) {
		mu.Lock()
		if batchOf(id) == 1 && doneFirst < 10 {
			violations++
		}
		active++
		maxActive = max(maxActive, active)
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active--
		if batchOf(id) == 0 {
			doneFirst++
		}
		mu.Unlock()
		return fetch.Page{}, nil
	})

	opts := testOptions()
	opts.Concurrency = 5
	res := New(f, opts, logx.Nop(), nil).RunCycle(context.Background(), accounts, nil)

	assert.Equal(t, 2, res.Batches)
	assert.False(t, res.Stopped)
	assert.LessOrEqual(t, maxActive, 5)
	assert.Zero(t, violations, "second batch started before the first joined")
	assert.Len(t, res.Fragments, 12)
}

func TestGlobalStopHaltsLaterBatches(t *testing.T) {
	accounts := []string{"a", "b", "c", "d", "e"}
	var called sync.Map
	f := fetch.Func(func(ctx context.Context, id string, page int) (fetch.Page, error) {
		called.Store(id, true)
		if id == "b" {
			return fetch.Page{}, errors.New("blocked")
		}
		return fetch.Page{}, nil
	})
	opts := testOptions()
	opts.BatchSize = 2
	opts.Policy = Global
	res := New(f, opts, logx.Nop(), nil).RunCycle(context.Background(), accounts, nil)

	assert.True(t, res.Stopped)
	assert.Equal(t, 1, res.Batches)
	_, ok := called.Load("a")
	assert.True(t, ok, "current batch finishes")
	_, ok = called.Load("c")
	assert.False(t, ok, "no further batches start")
	assert.Len(t, res.Fragments, 5)
}

type countingObserver struct{ pages, errs atomic.Int32 }

func (o *countingObserver) ObservePage(kind string, err error) {
	o.pages.Add(1)
	if err != nil {
		o.errs.Add(1)
	}
}

func TestCatalogResumesAndStopsOnEmptyPage(t *testing.T) {
	var mu sync.Mutex
	var fetched []int
	f := fetch.CatalogFunc(func(ctx context.Context, page int) (fetch.CatalogPage, error) {
		mu.Lock()
		fetched = append(fetched, page)
		mu.Unlock()
		if page > 4 {
			return fetch.CatalogPage{}, nil
		}
		return fetch.CatalogPage{Problems: []fetch.Problem{
			{ID: fmt.Sprintf("P%d-a", page), Difficulty: "入门"},
			{ID: fmt.Sprintf("P%d-b", page), Difficulty: "普及−"},
		}}, nil
	})

	ix := difficulty.Index{"X1": "入门", "X2": "入门", "X3": "入门"}
	obs := &countingObserver{}
	c := NewCatalog(f, CatalogOptions{PageSize: 2, MaxPages: 100, BatchSize: 2, Concurrency: 2, Policy: Global}, logx.Nop(), obs)
	res := c.Run(context.Background(), ix)

	assert.Equal(t, 2, res.StartPage, "3 problems / 2 per page resumes at page 2")
	assert.True(t, res.Stopped)
	assert.Equal(t, []int{5}, res.FailedPages)
	assert.Equal(t, 4, res.LastPage)
	assert.Equal(t, 6, res.Added)
	assert.Len(t, ix, 9)
	assert.Equal(t, 2, res.Batches)
	assert.NotContains(t, fetched, 6, "no batch starts after the failing one")
	assert.EqualValues(t, 1, obs.errs.Load())
}

func TestParseStopPolicy(t *testing.T) {
	p, err := ParseStopPolicy("global")
	require.NoError(t, err)
	assert.Equal(t, Global, p)
	p, err = ParseStopPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PerItem, p)
	_, err = ParseStopPolicy("whenever")
	assert.Error(t, err)
}
