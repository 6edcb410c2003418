package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one human-readable line per record:
//
//	2026-01-02T15:04:05Z INFO pipeline: stage started stage=synthesis
//
// The component attribute becomes the line prefix instead of a key.
type consoleHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     slog.Leveler
	addSource bool

	component string
	prefix    []string
	pairs     []consolePair
}

type consolePair struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, level slog.Leveler, addSource bool) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	component := h.component
	pairs := append([]consolePair(nil), h.pairs...)
	r.Attrs(func(a slog.Attr) bool {
		pairs = h.collect(pairs, h.prefix, a, &component)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var buf bytes.Buffer
	buf.WriteString(ts.UTC().Format(time.RFC3339))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(r.Level))
	buf.WriteByte(' ')
	if component != "" {
		buf.WriteString(component + ": ")
	}
	if msg := strings.TrimSpace(r.Message); msg != "" {
		buf.WriteString(msg)
	} else {
		buf.WriteString("(no message)")
	}
	if h.addSource {
		if src := r.Source(); src != nil {
			buf.WriteString(" [" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line) + "]")
		}
	}
	for _, p := range pairs {
		buf.WriteByte(' ')
		buf.WriteString(p.key)
		buf.WriteByte('=')
		buf.WriteString(formatValue(p.value))
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// collect flattens groups into dotted keys and lifts the component out.
func (h *consoleHandler) collect(dst []consolePair, prefix []string, a slog.Attr, component *string) []consolePair {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix = append(prefix[:len(prefix):len(prefix)], a.Key)
		}
		for _, inner := range a.Value.Group() {
			dst = h.collect(dst, prefix, inner, component)
		}
		return dst
	}
	if len(prefix) == 0 && a.Key == FieldComponent {
		if *component == "" {
			*component = attrString(a.Value)
		}
		return dst
	}
	key := a.Key
	if len(prefix) > 0 {
		key = strings.Join(prefix, ".")
		if a.Key != "" {
			key += "." + a.Key
		}
	}
	if key == "" {
		return dst
	}
	return append(dst, consolePair{key: key, value: a.Value})
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.pairs = append([]consolePair(nil), h.pairs...)
	for _, a := range attrs {
		next.pairs = next.collect(next.pairs, next.prefix, a, &next.component)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = append(h.prefix[:len(h.prefix):len(h.prefix)], name)
	return &next
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
