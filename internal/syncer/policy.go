package syncer

import (
	"fmt"
	"strings"
)

// StopPolicy decides what a failed item does to the rest of a run.
type StopPolicy int

const (
	// PerItem ends only the failing item; later batches still run.
	PerItem StopPolicy = iota
	// Global raises a stop flag: the current batch finishes, no further
	// batch starts.
	Global
)

func (p StopPolicy) String() string {
	switch p {
	case Global:
		return "global"
	default:
		return "per_item"
	}
}

// ParseStopPolicy accepts "per_item" (or empty) and "global".
func ParseStopPolicy(s string) (StopPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per_item", "per-item", "item":
		return PerItem, nil
	case "global":
		return Global, nil
	default:
		return PerItem, fmt.Errorf("unknown stop policy %q", s)
	}
}
