package logger

import (
	"context"
	"log/slog"
	"strings"
)

// componentLevels filters records by the level configured for the logger's
// "component" attribute. The longest dotted prefix wins: an override for
// "status" also covers "status.sqlite".
type componentLevels struct {
	next      slog.Handler
	base      slog.Level
	overrides map[string]slog.Level
	// level applies once a component is bound with WithAttrs. Until then a
	// record may still name its component inline, so Enabled admits down to
	// floor and Handle decides.
	level slog.Level
	floor slog.Level
	bound bool
}

func newComponentLevels(next slog.Handler, base slog.Level, overrides map[string]slog.Level) *componentLevels {
	floor := base
	for _, level := range overrides {
		floor = min(floor, level)
	}
	return &componentLevels{next: next, base: base, overrides: overrides, level: base, floor: floor}
}

func (h *componentLevels) Enabled(ctx context.Context, level slog.Level) bool {
	threshold := h.floor
	if h.bound {
		threshold = h.level
	}
	return level >= threshold && h.next.Enabled(ctx, level)
}

func (h *componentLevels) Handle(ctx context.Context, record slog.Record) error {
	level := h.level
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "component" {
			level = h.levelFor(attr.Value.String())
			return false
		}
		return true
	})
	if record.Level < level {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *componentLevels) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.next = h.next.WithAttrs(attrs)
	for _, attr := range attrs {
		if attr.Key == "component" {
			next.level = h.levelFor(attr.Value.String())
			next.bound = true
		}
	}
	return &next
}

func (h *componentLevels) WithGroup(name string) slog.Handler {
	next := *h
	next.next = h.next.WithGroup(name)
	return &next
}

func (h *componentLevels) levelFor(component string) slog.Level {
	for prefix := component; prefix != ""; {
		if level, ok := h.overrides[prefix]; ok {
			return level
		}
		cut := strings.LastIndexByte(prefix, '.')
		if cut < 0 {
			break
		}
		prefix = prefix[:cut]
	}
	return h.base
}
