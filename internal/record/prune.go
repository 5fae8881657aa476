package record

import "time"

// PruneStats summarizes one pruning pass.
type PruneStats struct {
	Before          int
	Removed         int
	Remaining       int
	AccountsDropped int
}

// Cutoff returns now minus days, with days clamped to [1, MaxRetentionDays].
func Cutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -ClampRetention(days))
}

// ClampRetention bounds a retention window in days.
func ClampRetention(days int) int {
	if days <= 0 {
		return MaxRetentionDays
	}
	if days > MaxRetentionDays {
		return MaxRetentionDays
	}
	return days
}

// Prune drops every record strictly older than cutoff. Records whose date
// cannot be parsed in loc are kept. Accounts left without records are removed.
func Prune(snap Snapshot, cutoff time.Time, loc *time.Location) (Snapshot, PruneStats) {
	st := PruneStats{Before: snap.TotalRecords()}
	out := make(Snapshot, 0, len(snap))
	for _, h := range snap {
		kept := make([]Record, 0, len(h.Records))
		for _, r := range h.Records {
			if t, ok := r.Time(loc); ok && t.Before(cutoff) {
				st.Removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			st.AccountsDropped++
			continue
		}
		out = append(out, AccountHistory{AccountID: h.AccountID, DisplayName: h.DisplayName, Records: kept})
	}
	st.Remaining = out.TotalRecords()
	return out, st
}
