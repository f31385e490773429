package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Leading fields on a console line; anything else follows in record order.
var consoleLeadKeys = []string{FieldEventType, FieldActivityID, FieldPID, "error", FieldErrorHint, FieldImpact}

type field struct {
	key string
	val slog.Value
}

// consoleHandler writes one human-readable line per record:
//
//	2026-01-02 15:04:05 INFO  ledger: activity logged activity_id=abc
type consoleHandler struct {
	mu        *sync.Mutex
	out       io.Writer
	level     *slog.LevelVar
	addSource bool
	prefix    string
	fields    []field
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) *consoleHandler {
	return &consoleHandler{mu: new(sync.Mutex), out: w, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := slices.Clone(h.fields)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendField(fields, h.prefix, a)
		return true
	})

	component := ""
	rest := fields[:0]
	for _, f := range fields {
		if f.key == FieldComponent {
			component = f.val.String()
			continue
		}
		rest = append(rest, f)
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString(ts.Local().Format(time.DateTime))
	fmt.Fprintf(&b, " %-5s ", shortLevel(r.Level))
	if component != "" {
		b.WriteString(component)
		b.WriteString(": ")
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "(no message)"
	}
	b.WriteString(msg)
	for _, f := range consoleOrder(rest) {
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(renderValue(f.val))
	}
	if h.addSource {
		if src := r.Source(); src != nil && src.File != "" {
			fmt.Fprintf(&b, " (%s:%d)", filepath.Base(src.File), src.Line)
		}
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.fields = slices.Clone(h.fields)
	for _, a := range attrs {
		next.fields = appendField(next.fields, h.prefix, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// appendField flattens groups into dotted keys. A repeated key replaces the
// earlier value in place.
func appendField(dst []field, prefix string, a slog.Attr) []field {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			dst = appendField(dst, inner, ga)
		}
		return dst
	}
	if a.Key == "" {
		return dst
	}
	key := prefix + a.Key
	for i := range dst {
		if dst[i].key == key {
			dst[i].val = a.Value
			return dst
		}
	}
	return append(dst, field{key: key, val: a.Value})
}

func consoleOrder(fields []field) []field {
	rank := func(key string) int {
		if i := slices.Index(consoleLeadKeys, key); i >= 0 {
			return i
		}
		return len(consoleLeadKeys)
	}
	slices.SortStableFunc(fields, func(a, b field) int { return rank(a.key) - rank(b.key) })
	return fields
}

func shortLevel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}

func renderValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Local().Format(time.DateTime)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}
