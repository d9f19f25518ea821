package logging

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Entry is one buffered log record.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   slog.Level        `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// Buffer keeps the most recent log records in memory, for the status
// surfaces (the server's log endpoint, the rewind view's footer).
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
	level   slog.Leveler
}

// NewBuffer returns a Buffer holding at most maxEntries records at or above
// level. A non-positive maxEntries means 1000.
func NewBuffer(maxEntries int, level slog.Leveler) *Buffer {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &Buffer{entries: make([]Entry, 0, maxEntries), maxSize: maxEntries, level: level}
}

// Handler returns an slog.Handler that records into b.
func (b *Buffer) Handler() slog.Handler { return &bufferHandler{buf: b} }

func (b *Buffer) add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == b.maxSize {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
	}
	b.entries = append(b.entries, e)
}

// Entries returns a copy of every buffered record, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.entries)
}

// Recent returns the last n records. n <= 0 returns all of them.
func (b *Buffer) Recent(n int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.entries) {
		n = len(b.entries)
	}
	return slices.Clone(b.entries[len(b.entries)-n:])
}

// Search returns the records whose message, attribute keys or attribute
// values contain query, case-insensitively.
func (b *Buffer) Search(query string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	query = strings.ToLower(query)
	var matches []Entry
	for _, e := range b.entries {
		if strings.Contains(strings.ToLower(e.Message), query) {
			matches = append(matches, e)
			continue
		}
		for k, v := range e.Attrs {
			if strings.Contains(strings.ToLower(k), query) || strings.Contains(strings.ToLower(v), query) {
				matches = append(matches, e)
				break
			}
		}
	}
	return matches
}

// Clear drops every buffered record.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = b.entries[:0]
}

type bufferHandler struct {
	buf    *Buffer
	attrs  []slog.Attr
	prefix string
}

func (h *bufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.buf.level.Level()
}

func (h *bufferHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]string, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		flatten(attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(attrs, h.prefix, a)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}
	h.buf.add(Entry{Time: r.Time, Level: r.Level, Message: r.Message, Attrs: attrs})
	return nil
}

func (h *bufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *bufferHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func flatten(dst map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, g := range a.Value.Group() {
			flatten(dst, p, g)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = a.Value.String()
}
