package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPFetcher expects a JSON API under BaseURL.
//
// Endpoints:
//
//	GET {base}/record/list?user={id}&page={n}
//	  -> {"user_name": "...", "has_more": true, "records": [{post_date, problem_number, problem_name}]}
//	     or a bare array of records
//	GET {base}/problem/list?page={n}
//	  -> {"problems": [{"pid": "P1001", "difficulty": "入门"}]} or a bare array
//
// Requests are paced by a token bucket shared by every caller.
type HTTPFetcher struct {
	baseURL   string
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	now       func() time.Time
}

type HTTPFetcherOptions struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64
	Client     *http.Client
}

func NewHTTPFetcher(opts HTTPFetcherOptions) (*HTTPFetcher, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("BaseURL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	to := opts.Timeout
	if to <= 0 {
		to = 20 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "subwatch/1.0"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: to}
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return &HTTPFetcher{
		baseURL:   strings.TrimRight(base, "/"),
		client:    client,
		userAgent: ua,
		limiter:   lim,
		now:       time.Now,
	}, nil
}

type wireRecord struct {
	PostDate      string `json:"post_date"`
	ProblemNumber string `json:"problem_number"`
	ProblemName   string `json:"problem_name"`
}

func (f *HTTPFetcher) FetchPage(ctx context.Context, accountID string, page int) (Page, error) {
	id := strings.TrimSpace(accountID)
	if id == "" {
		return Page{}, errors.New("account id is required")
	}
	q := url.Values{}
	q.Set("user", id)
	q.Set("page", strconv.Itoa(page))
	body, err := f.doGET(ctx, f.baseURL+"/record/list?"+q.Encode())
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s page %d: %w", id, page, err)
	}
	p, err := f.ParseRecordPage(body)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s page %d: %w", id, page, err)
	}
	return p, nil
}

// ParseRecordPage decodes a record-list payload, wrapped or bare.
func (f *HTTPFetcher) ParseRecordPage(raw []byte) (Page, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Page{}, ErrNoContent
	}
	now := f.now()
	if raw[0] == '[' {
		var arr []wireRecord
		if err := json.Unmarshal(raw, &arr); err != nil {
			return Page{}, fmt.Errorf("decode records: %w", err)
		}
		return Page{Rows: normalizeRows(arr, now), HasMore: true}, nil
	}
	var wrapped struct {
		UserName string       `json:"user_name"`
		HasMore  *bool        `json:"has_more"`
		Records  []wireRecord `json:"records"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return Page{}, fmt.Errorf("decode records: %w", err)
	}
	p := Page{
		Rows:        normalizeRows(wrapped.Records, now),
		HasMore:     wrapped.HasMore == nil || *wrapped.HasMore,
		DisplayName: cleanText(wrapped.UserName),
	}
	return p, nil
}

func (f *HTTPFetcher) FetchCatalogPage(ctx context.Context, page int) (CatalogPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	body, err := f.doGET(ctx, f.baseURL+"/problem/list?"+q.Encode())
	if err != nil {
		return CatalogPage{}, fmt.Errorf("fetch catalog page %d: %w", page, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return CatalogPage{}, fmt.Errorf("catalog page %d: %w", page, ErrNoContent)
	}
	var problems []Problem
	if body[0] == '[' {
		if err := json.Unmarshal(body, &problems); err != nil {
			return CatalogPage{}, fmt.Errorf("decode catalog page %d: %w", page, err)
		}
	} else {
		var wrapped struct {
			Problems []Problem `json:"problems"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return CatalogPage{}, fmt.Errorf("decode catalog page %d: %w", page, err)
		}
		problems = wrapped.Problems
	}
	return CatalogPage{Problems: normalizeProblems(problems)}, nil
}

func (f *HTTPFetcher) doGET(ctx context.Context, u string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoContent
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return b, nil
}
