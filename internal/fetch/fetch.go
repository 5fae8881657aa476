// Package fetch defines how submission pages and catalog pages are obtained.
//
// The scraping itself (browser automation, captcha, cookies) lives outside this
// process; HTTPFetcher talks to a sidecar that exposes the judge's pages as JSON.
package fetch

import (
	"context"
	"errors"

	"subwatch/internal/record"
)

// ErrNoContent is returned when a page exists but carries none of the expected
// rows.
var ErrNoContent = errors.New("no content")

// Page is one page of an account's submission list, most recent first.
type Page struct {
	Rows []record.Record
	// HasMore is false when the source knows this is the last page.
	HasMore bool
	// DisplayName is the account's name as shown by the source, if any.
	DisplayName string
}

// Fetcher pulls one page (1-based) of an account's submissions.
type Fetcher interface {
	FetchPage(ctx context.Context, accountID string, page int) (Page, error)
}

// Problem is one catalog row.
type Problem struct {
	ID         string `json:"pid"`
	Difficulty string `json:"difficulty"`
}

// CatalogPage is one page of the global problem list.
type CatalogPage struct {
	Problems []Problem
}

// CatalogFetcher pulls one page (1-based) of the problem catalog.
type CatalogFetcher interface {
	FetchCatalogPage(ctx context.Context, page int) (CatalogPage, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context, accountID string, page int) (Page, error)

func (f Func) FetchPage(ctx context.Context, accountID string, page int) (Page, error) {
	return f(ctx, accountID, page)
}

// CatalogFunc adapts a function to CatalogFetcher.
type CatalogFunc func(ctx context.Context, page int) (CatalogPage, error)

func (f CatalogFunc) FetchCatalogPage(ctx context.Context, page int) (CatalogPage, error) {
	return f(ctx, page)
}
