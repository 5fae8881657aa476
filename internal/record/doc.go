// Package record holds the submission history model and the pure operations on
// it: merging freshly fetched rows without duplicates and pruning history that
// fell out of the retention window.
//
// Nothing here does I/O. The monitor loop loads a Snapshot from storage, runs
// MergeAll and (periodically) Prune on it, then writes the whole Snapshot back.
package record
