// Package storage persists the submission snapshot.
//
// Every driver follows the same contract: the whole snapshot is loaded,
// mutated in memory by the monitor loop and saved back as one unit. Drivers:
//   - "json": one JSON document, written tmp + rename (default)
//   - "sqlite": modernc.org/sqlite, snapshot replaced inside a transaction
//
// Both drivers also keep an append-only cycle journal (one entry per monitor
// cycle) for after-the-fact inspection.
package storage
