package logs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"talkreel/internal/logging"
)

// Entry is one decoded JSON log record.
type Entry struct {
	Time      time.Time
	Level     string
	Message   string
	Component string
	TaskID    string
	Fields    map[string]any
}

// ParseEntry decodes a JSON record written by the daemon's file logger.
// Lines that are not JSON objects report false.
func ParseEntry(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Entry{}, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, false
	}
	entry := Entry{Fields: map[string]any{}}
	for key, value := range raw {
		switch key {
		case "ts":
			if s, ok := value.(string); ok {
				entry.Time, _ = time.Parse(time.RFC3339, s)
			}
		case "level":
			entry.Level = strings.ToLower(fmt.Sprint(value))
		case "msg":
			entry.Message = fmt.Sprint(value)
		case logging.FieldComponent:
			entry.Component = fmt.Sprint(value)
		case logging.FieldTaskID:
			entry.TaskID = fmt.Sprint(value)
			entry.Fields[key] = value
		default:
			entry.Fields[key] = value
		}
	}
	return entry, true
}

// Format renders the entry the way the console handler does:
// `<ts> <LEVEL> <component>: <msg> key=value ...` with keys sorted.
func (e Entry) Format() string {
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(e.Time.UTC().Format(time.RFC3339))
		b.WriteByte(' ')
	}
	b.WriteString(strings.ToUpper(e.Level))
	b.WriteByte(' ')
	if e.Component != "" {
		b.WriteString(e.Component)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		if key == "source" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(formatField(e.Fields[key]))
	}
	return b.String()
}

func formatField(value any) string {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case nil:
		s = "null"
	case float64, bool:
		s = fmt.Sprint(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprint(v)
		} else {
			s = string(data)
		}
	}
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "warning": 2, "error": 3}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	TaskID    string
	Component string
	MinLevel  string
}

// Match reports whether e passes every set criterion.
func (f Filter) Match(e Entry) bool {
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.Component != "" && !strings.EqualFold(e.Component, f.Component) {
		return false
	}
	if f.MinLevel != "" {
		want, ok := levelRank[strings.ToLower(f.MinLevel)]
		if ok && levelRank[e.Level] < want {
			return false
		}
	}
	return true
}

// Active reports whether any criterion is set.
func (f Filter) Active() bool {
	return f.TaskID != "" || f.Component != "" || f.MinLevel != ""
}
