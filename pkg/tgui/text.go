package tgui

import "unicode/utf8"

// Trunc returns s cut to at most n runes, with "…" appended when cut.
func Trunc(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count, cut := 0, 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}
