package channel

import "strings"

// splitMessage breaks text into parts of at most max runes, preferring
// line boundaries. Lines longer than max are hard-split.
func splitMessage(text string, max int) []string {
	if len([]rune(text)) <= max {
		return []string{text}
	}

	var (
		parts []string
		cur   strings.Builder
		n     int
	)
	flush := func() {
		if n > 0 {
			parts = append(parts, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
			n = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		r := []rune(line)
		if n+len(r) > max {
			flush()
		}
		for len(r) > max {
			parts = append(parts, string(r[:max]))
			r = r[max:]
		}
		cur.WriteString(string(r))
		n += len(r)
	}
	flush()
	return parts
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
