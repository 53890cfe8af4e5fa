package render

import "strings"

// wrapText greedily packs words into lines of at most width runes. Words
// longer than width are split.
func wrapText(s string, width int) []string {
	if width <= 0 {
		width = 12
	}
	var (
		lines []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			lines = append(lines, string(cur))
			cur = cur[:0]
		}
	}
	for _, w := range strings.Fields(s) {
		rw := []rune(w)
		for len(rw) > width {
			flush()
			lines = append(lines, string(rw[:width]))
			rw = rw[width:]
		}
		if len(rw) == 0 {
			continue
		}
		switch {
		case len(cur) == 0:
			cur = append(cur, rw...)
		case len(cur)+1+len(rw) <= width:
			cur = append(cur, ' ')
			cur = append(cur, rw...)
		default:
			flush()
			cur = append(cur, rw...)
		}
	}
	flush()
	return lines
}
