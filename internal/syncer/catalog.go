package syncer

import (
	"context"
	"fmt"
	"time"

	"subwatch/internal/difficulty"
	"subwatch/internal/fetch"
	logx "subwatch/pkg/logx"
)

// CatalogOptions tunes catalog ingestion. Zero values take the defaults noted.
type CatalogOptions struct {
	PageSize    int // 50; used to compute the resume page
	MaxPages    int // 1000
	BatchSize   int // 10
	Concurrency int // 10
	BatchPause  time.Duration
	Policy      StopPolicy
}

// Catalog walks the global problem list into a difficulty index.
type Catalog struct {
	fetcher fetch.CatalogFetcher
	opts    CatalogOptions
	log     logx.Logger
	obs     Observer
}

func NewCatalog(f fetch.CatalogFetcher, opts CatalogOptions, log logx.Logger, obs Observer) *Catalog {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	return &Catalog{fetcher: f, opts: opts, log: log.With(logx.Component("catalog")), obs: obs}
}

// CatalogResult summarizes one ingestion run.
type CatalogResult struct {
	StartPage   int
	LastPage    int // highest page whose content was merged
	Added       int
	Total       int
	FailedPages []int
	Batches     int
	Stopped     bool
	Took        time.Duration
}

// ResumePage is where ingestion continues for an index of n problems.
func (c *Catalog) ResumePage(n int) int { return n/c.opts.PageSize + 1 }

// Run fetches pages from ResumePage(len(ix)) up to MaxPages and merges them
// into ix after each batch, in page order. A page that fails or comes back
// empty counts as a failure for the stop policy.
func (c *Catalog) Run(ctx context.Context, ix difficulty.Index) CatalogResult {
	start := time.Now()
	first := c.ResumePage(len(ix))
	res := CatalogResult{StartPage: first}
	if first > c.opts.MaxPages {
		res.Total = len(ix)
		return res
	}

	n := c.opts.MaxPages - first + 1
	pages := make([][]fetch.Problem, n)
	errs := make([]error, n)

	outcome := runBatches(ctx, n, batchPlan{
		size:        c.opts.BatchSize,
		concurrency: c.opts.Concurrency,
		pause:       c.opts.BatchPause,
		policy:      c.opts.Policy,
	}, func(i int) error {
		page := first + i
		cp, err := c.fetcher.FetchCatalogPage(ctx, page)
		if err == nil && len(cp.Problems) == 0 {
			err = fmt.Errorf("catalog page %d: %w", page, fetch.ErrNoContent)
		}
		if c.obs != nil {
			c.obs.ObservePage("catalog", err)
		}
		if err != nil {
			errs[i] = err
			return err
		}
		pages[i] = cp.Problems
		return nil
	}, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if errs[i] != nil {
				res.FailedPages = append(res.FailedPages, first+i)
				c.log.Warn("catalog page failed", logx.Int("page", first+i), logx.Err(errs[i]))
				continue
			}
			pairs := make(map[string]string, len(pages[i]))
			for _, p := range pages[i] {
				pairs[p.ID] = p.Difficulty
			}
			res.Added += ix.Merge(pairs)
			res.LastPage = first + i
		}
		c.log.Info("catalog batch merged",
			logx.Int("from_page", first+lo),
			logx.Int("to_page", first+hi-1),
			logx.Int("total", len(ix)),
		)
	})

	res.Batches = outcome.batches
	res.Stopped = outcome.stopped
	res.Total = len(ix)
	res.Took = time.Since(start)
	return res
}
