// Package report builds read-only views over the record store: the
// leaderboard, one account's paged records and the viewer's roster.
package report

import (
	"errors"
	"sort"
	"time"

	"subwatch/internal/difficulty"
	"subwatch/internal/record"
)

// ErrAccountNotFound is returned when the account has no stored history.
var ErrAccountNotFound = errors.New("user not found")

// PageSize is the number of records per RecordsPage page.
const PageSize = 10

type LeaderboardOptions struct {
	Days     int // clamped to 1..record.MaxRetentionDays
	MinLevel int
	MaxLevel int
	Location *time.Location
	Now      time.Time
	Palette  *difficulty.Palette
}

// Standing is one leaderboard row.
type Standing struct {
	AccountID   string
	DisplayName string
	Count       int
}

// Leaderboard counts, per account, the records of the last opt.Days days whose
// difficulty level is within [MinLevel, MaxLevel]. Unknown difficulties and
// unparsable dates never count. Accounts with no matching record are omitted;
// the rest are sorted by count, ties keeping store order.
func Leaderboard(snap record.Snapshot, ix difficulty.Index, opt LeaderboardOptions) []Standing {
	opt = opt.withDefaults()
	since := opt.Now.Add(-time.Duration(opt.Days) * 24 * time.Hour)

	out := make([]Standing, 0, len(snap))
	for _, acc := range snap {
		n := 0
		for _, r := range acc.Records {
			t, ok := r.Time(opt.Location)
			if !ok || t.Before(since) {
				continue
			}
			lvl, ok := opt.Palette.Level(ix.Label(r.ProblemNumber))
			if !ok || lvl < opt.MinLevel || lvl > opt.MaxLevel {
				continue
			}
			n++
		}
		if n > 0 {
			out = append(out, Standing{AccountID: acc.AccountID, DisplayName: acc.DisplayName, Count: n})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func (o LeaderboardOptions) withDefaults() LeaderboardOptions {
	o.Days = min(max(o.Days, 1), record.MaxRetentionDays)
	if o.MinLevel > o.MaxLevel {
		o.MinLevel, o.MaxLevel = o.MaxLevel, o.MinLevel
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	if o.Palette == nil {
		o.Palette = difficulty.Default()
	}
	return o
}

// Row is a record annotated with its difficulty.
type Row struct {
	record.Record
	Difficulty string
	Color      string
}

// Page is one page of an account's records, newest first.
type Page struct {
	AccountID   string
	DisplayName string
	Total       int
	Page        int
	Pages       int
	Rows        []Row
}

// RecordsPage returns page (1-based, clamped to 1) of the account's records.
// A page past the end has no rows.
func RecordsPage(snap record.Snapshot, ix difficulty.Index, pal *difficulty.Palette, accountID string, page int) (Page, error) {
	i := snap.Find(accountID)
	if i < 0 {
		return Page{}, ErrAccountNotFound
	}
	if pal == nil {
		pal = difficulty.Default()
	}
	acc := snap[i]
	page = max(page, 1)
	p := Page{
		AccountID:   acc.AccountID,
		DisplayName: acc.DisplayName,
		Total:       len(acc.Records),
		Page:        page,
		Pages:       (len(acc.Records) + PageSize - 1) / PageSize,
	}
	start := (page - 1) * PageSize
	if start >= len(acc.Records) {
		return p, nil
	}
	end := min(start+PageSize, len(acc.Records))
	p.Rows = make([]Row, 0, end-start)
	for _, r := range acc.Records[start:end] {
		label := ix.Label(r.ProblemNumber)
		p.Rows = append(p.Rows, Row{Record: r, Difficulty: label, Color: pal.Color(label)})
	}
	return p, nil
}

// RosterEntry is one monitored account with its stored display name.
type RosterEntry struct {
	AccountID   string
	DisplayName string
}

// Roster resolves display names for ids; accounts never synced show
// record.UnknownName.
func Roster(ids []string, snap record.Snapshot) []RosterEntry {
	out := make([]RosterEntry, 0, len(ids))
	for _, id := range ids {
		name := record.UnknownName
		if i := snap.Find(id); i >= 0 && snap[i].DisplayName != "" {
			name = snap[i].DisplayName
		}
		out = append(out, RosterEntry{AccountID: id, DisplayName: name})
	}
	return out
}
