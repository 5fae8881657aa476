package telegram

import (
	"strings"
	"unicode/utf8"
)

// Bot API caps a message at 4096 characters; keep headroom for entities.
const textLimit = 4000

// splitMessage packs whole lines into chunks of at most limit runes. A line
// longer than limit is cut hard; with html set a cut never lands inside a
// tag.
func splitMessage(s string, limit int, html bool) []string {
	if limit <= 0 {
		limit = textLimit
	}
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}

	var (
		out []string
		cur []rune
	)
	flush := func() {
		if chunk := strings.TrimRight(string(cur), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		cur = cur[:0]
	}
	for _, line := range strings.SplitAfter(s, "\n") {
		rs := []rune(line)
		if len(cur)+len(rs) > limit {
			flush()
		}
		for len(rs) > limit {
			cut := cutAt(rs, limit, html)
			out = append(out, string(rs[:cut]))
			rs = rs[cut:]
		}
		cur = append(cur, rs...)
	}
	flush()
	return out
}

// cutAt returns where to cut rs so the head fits in limit runes.
func cutAt(rs []rune, limit int, html bool) int {
	if !html {
		return limit
	}
	open, closed := -1, -1
	for i, r := range rs[:limit] {
		switch r {
		case '<':
			open = i
		case '>':
			closed = i
		}
	}
	if open > closed && open > 0 {
		return open
	}
	return limit
}
