package splitter

import (
	"strings"
	"unicode"
)

// Normalize prepares extracted text for splitting: CRLF becomes LF, runs of
// horizontal whitespace collapse to one space, trailing spaces on a line are
// dropped, and more than one blank line collapses to a single paragraph break.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	newlines := 0
	for _, r := range text {
		switch {
		case r == '\n':
			pendingSpace = false
			newlines++
		case unicode.IsSpace(r):
			pendingSpace = true
		default:
			if newlines > 0 {
				if b.Len() > 0 {
					if newlines > 1 {
						b.WriteString("\n\n")
					} else {
						b.WriteByte('\n')
					}
				}
				newlines = 0
				pendingSpace = false
			}
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
