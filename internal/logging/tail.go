package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Entry is one log record captured by the tail buffer.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Attrs   map[string]any `json:"attrs,omitempty"`

	level slog.Level
}

// Tail keeps the most recent log records in a fixed-size ring so they
// can be inspected over the health listener without grepping files.
type Tail struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	wrapped bool
}

// NewTail creates a tail buffer holding up to capacity records.
func NewTail(capacity int) *Tail {
	return &Tail{entries: make([]Entry, capacity)}
}

func (t *Tail) add(e Entry) {
	t.mu.Lock()
	t.entries[t.next] = e
	t.next = (t.next + 1) % len(t.entries)
	if t.next == 0 {
		t.wrapped = true
	}
	t.mu.Unlock()
}

// Recent returns up to limit records at or above minLevel, newest first.
// limit <= 0 means no limit.
func (t *Tail) Recent(limit int, minLevel slog.Level) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.next
	if t.wrapped {
		n = len(t.entries)
	}
	var out []Entry
	for i := 0; i < n; i++ {
		if limit > 0 && len(out) == limit {
			break
		}
		e := t.entries[(t.next-1-i+len(t.entries))%len(t.entries)]
		if e.level < minLevel {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of buffered records.
func (t *Tail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.wrapped {
		return len(t.entries)
	}
	return t.next
}

// Handler serves the buffered records as JSON. Query parameters:
// limit (default 100) and level (debug, info, warn, error).
func (t *Tail) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		minLevel := slog.LevelDebug
		if v := r.URL.Query().Get("level"); v != "" {
			minLevel = parseLevel(v)
		}

		entries := t.Recent(limit, minLevel)
		if entries == nil {
			entries = []Entry{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	})
}

// tailHandler forwards records to the real handler and captures a copy
// in the tail buffer.
type tailHandler struct {
	inner slog.Handler
	tail  *Tail
	attrs []slog.Attr
}

func (h *tailHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *tailHandler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		level:   r.Level,
	}
	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	if len(attrs) > 0 {
		e.Attrs = attrs
	}
	h.tail.add(e)
	return h.inner.Handle(ctx, r)
}

func (h *tailHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &tailHandler{inner: h.inner.WithAttrs(attrs), tail: h.tail, attrs: merged}
}

func (h *tailHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	// Group nesting is flattened in the captured copy; the inner handler
	// still renders it properly.
	return &tailHandler{inner: h.inner.WithGroup(name), tail: h.tail, attrs: h.attrs}
}
