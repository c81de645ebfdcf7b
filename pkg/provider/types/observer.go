package types

import (
	"context"
	"strings"
)

// ToolEventKind tells a tool call apart from its result.
type ToolEventKind string

const (
	ToolCallEvent   ToolEventKind = "call"
	ToolResultEvent ToolEventKind = "result"
)

type toolObserverKey struct{}

// ToolObserver is notified of tool activity during a prompt.
type ToolObserver func(event ToolEvent)

// WithToolObserver returns a context that also notifies observe. Observers
// already on ctx keep receiving events, outermost first.
func WithToolObserver(ctx context.Context, observe ToolObserver) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if observe == nil {
		return ctx
	}

	if parent, ok := ctx.Value(toolObserverKey{}).(ToolObserver); ok {
		next := observe
		observe = func(event ToolEvent) {
			parent(event)
			next(event)
		}
	}

	return context.WithValue(ctx, toolObserverKey{}, observe)
}

// EmitToolEvent delivers a normalized event to the observers on ctx.
func EmitToolEvent(ctx context.Context, event ToolEvent) {
	if ctx == nil {
		return
	}
	observe, ok := ctx.Value(toolObserverKey{}).(ToolObserver)
	if !ok {
		return
	}

	event.Tool = strings.TrimSpace(event.Tool)
	event.Payload = strings.TrimSpace(event.Payload)
	observe(event)
}
