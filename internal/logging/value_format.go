package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// attrString renders a value without quoting, for the component prefix.
func attrString(v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return plainValue(v)
}

// formatValue renders a value for key=value console output. Transcripts
// and replies often contain spaces, so those are quoted.
func formatValue(v slog.Value) string {
	v = v.Resolve()
	s := plainValue(v)
	switch v.Kind() {
	case slog.KindString, slog.KindAny:
		if s == "" || strings.ContainsFunc(s, needsQuote) {
			return strconv.Quote(s)
		}
	}
	return s
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func needsQuote(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r) || r == '=' || r == '"'
}
