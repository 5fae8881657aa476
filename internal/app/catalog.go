package app

import (
	"context"
	"fmt"
	"maps"

	"subwatch/internal/config"
	"subwatch/internal/difficulty"
	"subwatch/internal/eventbus"
	"subwatch/internal/fetch"
	"subwatch/internal/syncer"
	logx "subwatch/pkg/logx"
)

// CatalogObserver receives page outcomes and the refreshed catalog size.
type CatalogObserver interface {
	syncer.Observer
	ObserveCatalog(total int, stopped bool)
}

// RefreshCatalog resumes catalog ingestion from the size of the current
// difficulty index and writes the grown index back. The index served to the
// notifier is never mutated in place.
func RefreshCatalog(ctx context.Context, set config.Settings, f fetch.CatalogFetcher, src *difficulty.FileSource,
	log logx.Logger, bus eventbus.Bus, obs CatalogObserver) (syncer.CatalogResult, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	opts, err := catalogOptions(set)
	if err != nil {
		return syncer.CatalogResult{}, err
	}
	cur, err := src.Index()
	if err != nil {
		// Writing a partial index over an unreadable file would lose it.
		return syncer.CatalogResult{}, fmt.Errorf("load difficulty index: %w", err)
	}
	ix := maps.Clone(cur)
	if ix == nil {
		ix = difficulty.Index{}
	}

	var pages syncer.Observer
	if obs != nil {
		pages = obs
	}
	res := syncer.NewCatalog(f, opts, log, pages).Run(ctx, ix)
	if res.Added > 0 {
		if err := difficulty.Save(src.Path(), ix); err != nil {
			return res, fmt.Errorf("save difficulty index: %w", err)
		}
	}
	if obs != nil {
		obs.ObserveCatalog(res.Total, res.Stopped)
	}
	if bus != nil {
		bus.Publish(eventbus.Event{Type: eventbus.TypeCatalogRefreshed, Data: res})
	}
	log.Info("catalog refreshed",
		logx.Int("start_page", res.StartPage),
		logx.Int("last_page", res.LastPage),
		logx.Int("added", res.Added),
		logx.Int("total", res.Total),
		logx.Int("failed_pages", len(res.FailedPages)),
		logx.Bool("stopped", res.Stopped),
		logx.Duration("took", res.Took))
	return res, nil
}
