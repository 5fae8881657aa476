package fetch

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"subwatch/internal/record"
)

// cleanText trims, composes (NFC) and folds full-width forms so identical
// titles scraped from different page variants compare equal.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	s = width.Fold.String(norm.NFC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

var dateLayouts = []struct {
	layout  string
	hasYear bool
}{
	{record.TimeLayout, true},
	{"2006-01-02 15:04", true},
	{"01-02 15:04:05", false},
	{"01-02 15:04", false},
	{"1-2 15:04", false},
}

// NormalizeDate rewrites the source's date text to record.TimeLayout. Dates
// without a year get now's year; dates without seconds get ":00". Text that
// matches no known layout is returned cleaned but otherwise untouched.
func NormalizeDate(raw string, now time.Time) string {
	s := cleanText(raw)
	if s == "" {
		return ""
	}
	for _, l := range dateLayouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		if !l.hasYear {
			t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
		}
		return t.Format(record.TimeLayout)
	}
	return s
}

// normalizeRows cleans every row, drops rows without a problem number and
// removes duplicates (keeping the first occurrence).
func normalizeRows(in []wireRecord, now time.Time) []record.Record {
	out := make([]record.Record, 0, len(in))
	seen := make(record.KeySet, len(in))
	for _, w := range in {
		r := record.Record{
			PostDate:      NormalizeDate(w.PostDate, now),
			ProblemNumber: cleanText(w.ProblemNumber),
			ProblemName:   cleanText(w.ProblemName),
		}
		if r.ProblemNumber == "" {
			continue
		}
		if seen.Has(r.Key()) {
			continue
		}
		seen[r.Key()] = struct{}{}
		out = append(out, r)
	}
	return out
}

func normalizeProblems(in []Problem) []Problem {
	out := make([]Problem, 0, len(in))
	for _, p := range in {
		p.ID = cleanText(p.ID)
		p.Difficulty = cleanText(p.Difficulty)
		if p.ID == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
