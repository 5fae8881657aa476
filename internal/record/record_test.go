package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(date, pid string) Record {
	return Record{PostDate: date, ProblemNumber: pid, ProblemName: "name " + pid}
}

func TestMergeSkipsExistingKeys(t *testing.T) {
	existing := AccountHistory{
		AccountID:   "1",
		DisplayName: "alice",
		Records:     []Record{rec("2024-05-01 10:00:00", "P1001")},
	}
	incoming := []Record{
		rec("2024-05-01 10:00:00", "P1001"),
		rec("2024-05-02 09:00:00", "P1002"),
	}

	got := Merge(existing, incoming)

	require.Len(t, got.Records, 2)
	assert.Equal(t, "P1002", got.Records[0].ProblemNumber)
	assert.Equal(t, "P1001", got.Records[1].ProblemNumber)
	assert.Len(t, existing.Records, 1, "input must not be mutated")
}

func TestMergeSameProblemDifferentDateIsNewRecord(t *testing.T) {
	existing := AccountHistory{AccountID: "1", Records: []Record{rec("2024-05-01 10:00:00", "P1001")}}
	got := Merge(existing, []Record{rec("2024-05-01 11:00:00", "P1001")})
	assert.Len(t, got.Records, 2)
}

func TestMergeDedupsWithinIncoming(t *testing.T) {
	got := Merge(AccountHistory{AccountID: "1"}, []Record{
		rec("2024-05-01 10:00:00", "P1"),
		rec("2024-05-01 10:00:00", "P1"),
	})
	assert.Len(t, got.Records, 1)
}

func TestSortNewestFirstUnparsableLast(t *testing.T) {
	rs := []Record{
		rec("garbage", "PX"),
		rec("2024-01-01 00:00:00", "P1"),
		rec("", "PY"),
		rec("2024-03-01 00:00:00", "P3"),
	}
	SortNewestFirst(rs)

	got := []string{rs[0].ProblemNumber, rs[1].ProblemNumber, rs[2].ProblemNumber, rs[3].ProblemNumber}
	assert.Equal(t, []string{"P3", "P1", "PX", "PY"}, got)
}

func TestMergeAllUnion(t *testing.T) {
	snap := Snapshot{
		{AccountID: "a", DisplayName: "A", Records: []Record{rec("2024-05-01 10:00:00", "P1")}},
		{AccountID: "b", DisplayName: "B", Records: []Record{rec("2024-05-01 10:00:00", "P2")}},
	}
	frags := []Fragment{
		{AccountID: "b", DisplayName: UnknownName, Records: []Record{rec("2024-05-02 10:00:00", "P3")}},
		{AccountID: "c", DisplayName: "C", Records: []Record{rec("2024-05-02 10:00:00", "P4")}},
		{AccountID: "d", DisplayName: "D"},
	}

	out := MergeAll(snap, frags)

	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].AccountID)
	assert.Equal(t, "b", out[1].AccountID)
	assert.Equal(t, "B", out[1].DisplayName, "placeholder name must not overwrite")
	assert.Len(t, out[1].Records, 2)
	assert.Equal(t, "c", out[2].AccountID)
	assert.Equal(t, "C", out[2].DisplayName)
	assert.Equal(t, -1, out.Find("d"), "empty fragment must not create an account")
}

func TestMergeAllUpdatesDisplayName(t *testing.T) {
	snap := Snapshot{{AccountID: "a", DisplayName: "old", Records: []Record{rec("2024-05-01 10:00:00", "P1")}}}
	out := MergeAll(snap, []Fragment{{AccountID: "a", DisplayName: "new"}})
	assert.Equal(t, "new", out[0].DisplayName)
	assert.Equal(t, "old", snap[0].DisplayName)
}

func TestMergeAllIdempotent(t *testing.T) {
	snap := Snapshot{{AccountID: "a", DisplayName: "A", Records: []Record{rec("2024-05-01 10:00:00", "P1")}}}
	frags := []Fragment{
		{AccountID: "a", Records: []Record{rec("2024-05-03 10:00:00", "P2"), rec("bad date", "P9")}},
		{AccountID: "z", DisplayName: "Z", Records: []Record{rec("2024-05-03 10:00:00", "P5")}},
	}
	once := MergeAll(snap, frags)
	twice := MergeAll(once, frags)
	assert.Equal(t, once, twice)
}

func TestPrune(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, loc)
	fmtDaysAgo := func(d int) string { return now.AddDate(0, 0, -d).Format(TimeLayout) }

	snap := Snapshot{
		{AccountID: "a", Records: []Record{rec(fmtDaysAgo(10), "P1"), rec(fmtDaysAgo(90), "P2")}},
		{AccountID: "b", Records: []Record{rec(fmtDaysAgo(90), "P3")}},
		{AccountID: "c", Records: []Record{rec("not a date", "P4")}},
	}

	out, st := Prune(snap, Cutoff(now, 60), loc)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].AccountID)
	require.Len(t, out[0].Records, 1)
	assert.Equal(t, "P1", out[0].Records[0].ProblemNumber)
	assert.Equal(t, "c", out[1].AccountID, "unparsable dates are kept")
	assert.Equal(t, PruneStats{Before: 4, Removed: 2, Remaining: 2, AccountsDropped: 1}, st)
}

func TestClampRetention(t *testing.T) {
	assert.Equal(t, 60, ClampRetention(0))
	assert.Equal(t, 60, ClampRetention(120))
	assert.Equal(t, 7, ClampRetention(7))
}

func TestParseTimeLocation(t *testing.T) {
	sh := time.FixedZone("CST", 8*3600)
	ts, ok := ParseTime(" 2024-05-01 08:00:00 ", sh)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), ts.UTC())

	_, ok = ParseTime("2024/05/01", sh)
	assert.False(t, ok)
}
