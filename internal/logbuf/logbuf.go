// Package logbuf keeps the most recent log lines in memory so the web
// server can show them without shell access to the Pi.
package logbuf

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultLines is how many lines the daemon keeps.
const DefaultLines = 100

type ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func (r *ring) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

// Handler passes every record to the next handler and keeps a plain-text
// copy of it.
type Handler struct {
	next   slog.Handler
	ring   *ring
	prefix string // pre-rendered attrs from WithAttrs
	group  string
}

// New wraps next, keeping the last n lines.
func New(next slog.Handler, n int) *Handler {
	if n <= 0 {
		n = DefaultLines
	}
	return &Handler{next: next, ring: &ring{lines: make([]string, n)}}
}

// Enabled defers to the wrapped handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle records the line and forwards the record.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format(time.DateTime))
	b.WriteByte(' ')
	b.WriteString(r.Level.String())
	b.WriteByte(' ')
	b.WriteString(r.Message)
	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	h.ring.add(b.String())

	return h.next.Handle(ctx, r)
}

// WithAttrs returns a handler that shares the same buffer.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}
	return &Handler{next: h.next.WithAttrs(attrs), ring: h.ring, prefix: b.String(), group: h.group}
}

// WithGroup returns a handler that shares the same buffer.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &Handler{next: h.next.WithGroup(name), ring: h.ring, prefix: h.prefix, group: group}
}

// Lines returns the buffered lines, oldest first.
func (h *Handler) Lines() []string {
	return h.ring.snapshot()
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" && key != "" {
		key = group + "." + key
	} else if key == "" {
		key = group
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value.Any())
}
