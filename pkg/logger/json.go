package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogEntry is one line of JSON log output.
type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// jsonHandler writes LogEntry lines. Attributes bound with WithAttrs are
// flattened once and copied into each entry.
type jsonHandler struct {
	out       *lockedWriter
	level     slog.Level
	addSource bool

	component string
	bound     map[string]any
	prefix    string
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newJSONHandler(w io.Writer, level slog.Level, addSource bool) *jsonHandler {
	return &jsonHandler{out: &lockedWriter{w: w}, level: level, addSource: addSource}
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *jsonHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := LogEntry{
		Level:     strings.ToLower(record.Level.String()),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Component: h.component,
		Message:   record.Message,
	}

	fields := maps.Clone(h.bound)
	record.Attrs(func(attr slog.Attr) bool {
		if component, ok := h.put(&fields, attr); ok {
			entry.Component = component
		}
		return true
	})
	if len(fields) > 0 {
		entry.Fields = fields
	}
	if h.addSource {
		entry.Caller = caller(record.PC)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err = h.out.w.Write(append(line, '\n'))
	return err
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.bound = maps.Clone(h.bound)
	for _, attr := range attrs {
		if component, ok := next.put(&next.bound, attr); ok {
			next.component = component
		}
	}
	return &next
}

func (h *jsonHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// put stores attr under the current group prefix. A top-level string
// "component" attribute is reported back instead of stored.
func (h *jsonHandler) put(fields *map[string]any, attr slog.Attr) (string, bool) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return "", false
	}
	if h.prefix == "" && attr.Key == "component" && attr.Value.Kind() == slog.KindString {
		return attr.Value.String(), true
	}

	if *fields == nil {
		*fields = make(map[string]any)
	}
	(*fields)[h.prefix+attr.Key] = plainValue(attr.Value)
	return "", false
}

func plainValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := make(map[string]any)
		for _, attr := range value.Group() {
			group[attr.Key] = plainValue(attr.Value.Resolve())
		}
		return group
	case slog.KindAny:
		switch typed := value.Any().(type) {
		case error:
			return typed.Error()
		case fmt.Stringer:
			return typed.String()
		}
	}
	return value.Any()
}

func caller(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}
