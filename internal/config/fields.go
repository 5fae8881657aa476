package config

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// parseDuration reads a non-negative Go duration at key. Blank or zero
// yields def.
func parseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return def, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	case d < 0:
		return def, fmt.Errorf("%s: duration %s is negative", key, s)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// fingerprint identifies config content; 0 means "unknown".
func fingerprint(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
