package textutil

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Each family is stripped in its own pass. Openers and closers may mix within
// a family (full-width opener, ASCII closer) but never across families.
var annotationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[（(].*?[）)]`),
	regexp.MustCompile(`[【\[［].*?[】\]］]`),
	regexp.MustCompile(`[《<＜〈].*?[》>＞〉]`),
}

// StripAnnotations removes bracketed stage directions such as "（微笑）" or
// "[laughs]" from model output and collapses runs of whitespace. Matching is
// shortest-first and non-recursive: nested brackets leave their outer closer
// behind, mirroring how a single regex pass behaves.
func StripAnnotations(text string) string {
	for _, pattern := range annotationPatterns {
		text = pattern.ReplaceAllString(text, "")
	}
	return strings.Join(strings.Fields(text), " ")
}

var titleCaser = cases.Title(language.Und)

// Label turns an identifier like "speech_synthesis" into "Speech Synthesis"
// for status lines and tables.
func Label(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ""
	}
	spaced := strings.NewReplacer("_", " ", "-", " ").Replace(identifier)
	return titleCaser.String(strings.Join(strings.Fields(spaced), " "))
}
