package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"subwatch/internal/storage"
)

// ErrRosterCorrupt is returned when the roster file exists but cannot be decoded.
var ErrRosterCorrupt = errors.New("roster file corrupt")

// Roster maps a viewer id to the account ids it monitors, in file order.
type Roster map[string][]string

// Accounts returns the viewer's accounts with blanks and duplicates removed.
func (r Roster) Accounts(viewer string) ([]string, bool) {
	ids, ok := r[viewer]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, true
}

// Add appends ids missing from the viewer's entry, creating it if needed.
// It returns how many were added.
func (r Roster) Add(viewer string, ids ...string) int {
	cur := r[viewer]
	n := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(cur, id) {
			continue
		}
		cur = append(cur, id)
		n++
	}
	if cur == nil {
		cur = []string{}
	}
	r[viewer] = cur
	return n
}

// Remove drops ids from the viewer's entry and returns how many were removed.
func (r Roster) Remove(viewer string, ids ...string) int {
	cur, ok := r[viewer]
	if !ok {
		return 0
	}
	before := len(cur)
	cur = slices.DeleteFunc(cur, func(id string) bool {
		return slices.Contains(ids, strings.TrimSpace(id))
	})
	r[viewer] = cur
	return before - len(cur)
}

// SaveRoster writes r atomically; viewers are written in sorted order.
func SaveRoster(path string, r Roster) error {
	if r == nil {
		r = Roster{}
	}
	b, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	if err := storage.WriteFileAtomic(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	return nil
}

// LoadRoster reads a roster file of the form {"viewer": ["id", 123, ...]}.
// A missing file yields an empty roster and an error wrapping os.ErrNotExist.
func LoadRoster(path string) (Roster, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(b)
}

func ParseRoster(b []byte) (Roster, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return Roster{}, nil
	}
	var raw map[string][]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return Roster{}, fmt.Errorf("%w: %w", ErrRosterCorrupt, err)
	}
	out := make(Roster, len(raw))
	for viewer, items := range raw {
		ids := make([]string, 0, len(items))
		for _, it := range items {
			id, err := accountID(it)
			if err != nil {
				return Roster{}, fmt.Errorf("%w: viewer %q: %w", ErrRosterCorrupt, viewer, err)
			}
			ids = append(ids, id)
		}
		out[strings.TrimSpace(viewer)] = ids
	}
	return out, nil
}

// accountID accepts a JSON string or number.
func accountID(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case json.Number:
		return x.String(), nil
	default:
		return "", fmt.Errorf("account id must be a string or number, got %s", string(raw))
	}
}
