package syncer

import (
	"context"
	"fmt"
	"time"

	"subwatch/internal/fetch"
	"subwatch/internal/record"
	logx "subwatch/pkg/logx"
)

// Observer receives one call per fetched page. kind is "history" or "catalog".
type Observer interface {
	ObservePage(kind string, err error)
}

// Options tunes a history sync. Zero values take the documented defaults.
type Options struct {
	MaxPages      int           // 5
	PageSize      int           // 20; a shorter page is the last one
	BatchSize     int           // 10
	Concurrency   int           // 10
	BatchPause    time.Duration // 0
	RetentionDays int           // record.MaxRetentionDays
	Policy        StopPolicy
	Location      *time.Location
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = 5
	}
	if o.PageSize <= 0 {
		o.PageSize = 20
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 10
	}
	o.RetentionDays = record.ClampRetention(o.RetentionDays)
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine walks account histories page by page.
type Engine struct {
	fetcher fetch.Fetcher
	opts    Options
	log     logx.Logger
	obs     Observer
}

func New(f fetch.Fetcher, opts Options, log logx.Logger, obs Observer) *Engine {
	return &Engine{fetcher: f, opts: opts.withDefaults(), log: log.With(logx.Component("syncer")), obs: obs}
}

// AccountError is a failure isolated to one account.
type AccountError struct {
	AccountID string
	Err       error
}

func (e AccountError) Error() string { return fmt.Sprintf("account %s: %v", e.AccountID, e.Err) }
func (e AccountError) Unwrap() error { return e.Err }

// Result is the outcome of one RunCycle.
type Result struct {
	// Fragments holds one entry per requested account, in input order.
	Fragments []record.Fragment
	Rows      int
	Pages     int
	Errors    []AccountError
	Batches   int
	Stopped   bool
	Took      time.Duration
}

// RunCycle fetches every account's new submissions. known holds the keys
// already stored per account; reaching one of them ends that account's walk.
//
// Per-account failures never fail the cycle: they are logged, reported in
// Result.Errors and whatever rows were collected before the failure are kept.
func (e *Engine) RunCycle(ctx context.Context, accounts []string, known map[string]record.KeySet) Result {
	start := time.Now()
	o := e.opts
	cutoff := record.Cutoff(o.Now().In(o.Location), o.RetentionDays)

	type slot struct {
		frag  record.Fragment
		pages int
		err   error
	}
	slots := make([]slot, len(accounts))

	outcome := runBatches(ctx, len(accounts), batchPlan{
		size:        o.BatchSize,
		concurrency: o.Concurrency,
		pause:       o.BatchPause,
		policy:      o.Policy,
	}, func(i int) error {
		frag, pages, err := e.walk(ctx, accounts[i], known[accounts[i]], cutoff)
		slots[i] = slot{frag: frag, pages: pages, err: err}
		return err
	}, func(lo, hi int) {
		e.log.Debug("batch done", logx.Int("from", lo), logx.Int("to", hi))
	})

	res := Result{
		Fragments: make([]record.Fragment, 0, len(accounts)),
		Batches:   outcome.batches,
		Stopped:   outcome.stopped,
	}
	for i, s := range slots {
		if s.frag.AccountID == "" {
			// never reached (global stop or cancellation)
			s.frag.AccountID = accounts[i]
		}
		res.Fragments = append(res.Fragments, s.frag)
		res.Rows += len(s.frag.Records)
		res.Pages += s.pages
		if s.err != nil {
			res.Errors = append(res.Errors, AccountError{AccountID: accounts[i], Err: s.err})
		}
	}
	res.Took = time.Since(start)
	return res
}

// walk pages through one account until a stop condition holds.
func (e *Engine) walk(ctx context.Context, id string, known record.KeySet, cutoff time.Time) (record.Fragment, int, error) {
	o := e.opts
	frag := record.Fragment{AccountID: id}
	seen := make(record.KeySet)
	pages := 0

	for page := 1; page <= o.MaxPages; page++ {
		p, err := e.fetcher.FetchPage(ctx, id, page)
		if e.obs != nil {
			e.obs.ObservePage("history", err)
		}
		if err != nil {
			e.log.Warn("fetch failed", logx.String("account", id), logx.Int("page", page), logx.Err(err))
			return frag, pages, err
		}
		pages++
		if frag.DisplayName == "" && p.DisplayName != "" {
			frag.DisplayName = p.DisplayName
		}

		stop := false
		for _, r := range p.Rows {
			k := r.Key()
			if known.Has(k) {
				stop = true
				break
			}
			if t, ok := r.Time(o.Location); ok && t.Before(cutoff) {
				stop = true
				break
			}
			if seen.Has(k) {
				continue
			}
			seen[k] = struct{}{}
			frag.Records = append(frag.Records, r)
		}
		if stop || len(p.Rows) < o.PageSize || !p.HasMore {
			break
		}
	}
	e.log.Trace("account walked", logx.String("account", id), logx.Int("pages", pages), logx.Int("rows", len(frag.Records)))
	return frag, pages, nil
}
