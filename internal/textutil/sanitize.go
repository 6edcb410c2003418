package textutil

import (
	"strings"
	"unicode"
)

// FileTag reduces value to lowercase ASCII letters and digits, capped at
// max runes, for use inside generated file names such as reply audio.
// Everything else is dropped. An empty result becomes "job".
func FileTag(value string, max int) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		if r > unicode.MaxASCII {
			continue
		}
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if max > 0 && b.Len() >= max {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "job"
	}
	return b.String()
}
