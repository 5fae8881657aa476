package record

import (
	"strings"
	"time"
)

// TimeLayout is the judge's submission timestamp layout (site-local time).
const TimeLayout = "2006-01-02 15:04:05"

// UnknownName is the display-name placeholder used when the source did not
// report one. It never overwrites a real name on merge.
const UnknownName = "unknown"

// MaxRetentionDays caps the retention window. Reports never look further back
// than history is kept.
const MaxRetentionDays = 60

// Record is one accepted submission. PostDate keeps the source text verbatim so
// rows with unparsable dates survive merges and pruning untouched.
type Record struct {
	PostDate      string `json:"post_date"`
	ProblemNumber string `json:"problem_number"`
	ProblemName   string `json:"problem_name"`
}

// Key identifies a record within one account's history.
type Key struct {
	Problem  string
	PostDate string
}

func (r Record) Key() Key { return Key{Problem: r.ProblemNumber, PostDate: r.PostDate} }

// Time parses PostDate in loc. ok is false when the date is empty or malformed.
func (r Record) Time(loc *time.Location) (time.Time, bool) {
	return ParseTime(r.PostDate, loc)
}

// ParseTime parses a TimeLayout string in loc (UTC when loc is nil).
func ParseTime(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(TimeLayout, s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AccountHistory is the persisted history of one monitored account.
type AccountHistory struct {
	AccountID   string   `json:"user_id"`
	DisplayName string   `json:"user_name"`
	Records     []Record `json:"records"`
}

// Keys returns the identity keys present in h.
func (h AccountHistory) Keys() KeySet {
	ks := make(KeySet, len(h.Records))
	for _, r := range h.Records {
		ks[r.Key()] = struct{}{}
	}
	return ks
}

// KeySet is a set of record keys.
type KeySet map[Key]struct{}

func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// Snapshot is the whole persisted store: account histories in a stable order.
// It is always loaded, mutated in memory and written back as one unit.
type Snapshot []AccountHistory

// Find returns the index of the account or -1.
func (s Snapshot) Find(accountID string) int {
	for i := range s {
		if s[i].AccountID == accountID {
			return i
		}
	}
	return -1
}

// KnownKeys indexes every account's keys; the sync engine uses it to stop
// walking an account once it reaches already stored submissions.
func (s Snapshot) KnownKeys() map[string]KeySet {
	out := make(map[string]KeySet, len(s))
	for _, h := range s {
		out[h.AccountID] = h.Keys()
	}
	return out
}

// TotalRecords counts records across all accounts.
func (s Snapshot) TotalRecords() int {
	n := 0
	for _, h := range s {
		n += len(h.Records)
	}
	return n
}

// Clone returns a deep copy so callers can mutate without aliasing the input.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for i, h := range s {
		out[i] = AccountHistory{
			AccountID:   h.AccountID,
			DisplayName: h.DisplayName,
			Records:     append([]Record(nil), h.Records...),
		}
	}
	return out
}

// Fragment is what one sync cycle collected for one account.
type Fragment struct {
	AccountID   string
	DisplayName string
	Records     []Record
}
