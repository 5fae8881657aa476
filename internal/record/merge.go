package record

import (
	"sort"
	"strings"
	"time"
)

// Merge appends incoming records whose key is not yet in existing, then
// re-sorts the history newest first. Ties (and equal unparsable dates) keep
// insertion order. The input history is not modified.
func Merge(existing AccountHistory, incoming []Record) AccountHistory {
	out := AccountHistory{
		AccountID:   existing.AccountID,
		DisplayName: existing.DisplayName,
		Records:     make([]Record, 0, len(existing.Records)+len(incoming)),
	}
	seen := make(KeySet, len(existing.Records)+len(incoming))
	for _, r := range existing.Records {
		if seen.Has(r.Key()) {
			continue
		}
		seen[r.Key()] = struct{}{}
		out.Records = append(out.Records, r)
	}
	for _, r := range incoming {
		k := r.Key()
		if seen.Has(k) {
			continue
		}
		seen[k] = struct{}{}
		out.Records = append(out.Records, r)
	}
	SortNewestFirst(out.Records)
	return out
}

// SortNewestFirst stable-sorts records descending by PostDate. Unparsable dates
// are treated as the minimal timestamp, so they sink to the end.
//
// Ordering only compares parsed wall times, so the location does not matter.
func SortNewestFirst(rs []Record) {
	ts := make([]time.Time, len(rs))
	for i, r := range rs {
		if t, ok := r.Time(time.UTC); ok {
			ts[i] = t
		}
	}
	idx := make([]int, len(rs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return ts[idx[a]].After(ts[idx[b]])
	})
	sorted := make([]Record, len(rs))
	for i, j := range idx {
		sorted[i] = rs[j]
	}
	copy(rs, sorted)
}

// MergeAll unions fragments into snap. Accounts only in snap are kept as is,
// accounts only in fragments are appended (in fragment order), accounts in
// both are merged with Merge. The input snapshot is not modified.
func MergeAll(snap Snapshot, fragments []Fragment) Snapshot {
	out := snap.Clone()
	if out == nil {
		out = Snapshot{}
	}
	for _, f := range fragments {
		if strings.TrimSpace(f.AccountID) == "" {
			continue
		}
		i := out.Find(f.AccountID)
		if i < 0 {
			if len(f.Records) == 0 {
				continue
			}
			h := Merge(AccountHistory{AccountID: f.AccountID, DisplayName: UnknownName}, f.Records)
			if hasName(f.DisplayName) {
				h.DisplayName = f.DisplayName
			}
			out = append(out, h)
			continue
		}
		h := Merge(out[i], f.Records)
		if hasName(f.DisplayName) {
			h.DisplayName = f.DisplayName
		}
		out[i] = h
	}
	return out
}

func hasName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && name != UnknownName
}
