package types

import (
	"context"
	"testing"
)

func TestToolObserversChain(t *testing.T) {
	var outer, inner []ToolEvent
	ctx := WithToolObserver(context.Background(), func(event ToolEvent) {
		outer = append(outer, event)
	})
	ctx = WithToolObserver(ctx, func(event ToolEvent) {
		inner = append(inner, event)
	})
	ctx = WithToolObserver(ctx, nil)

	EmitToolEvent(ctx, ToolEvent{Kind: ToolCallEvent, Tool: " read_message\n", Payload: ` {"path":"inbox/a.md"} `})
	EmitToolEvent(context.Background(), ToolEvent{Kind: ToolResultEvent})

	if len(outer) != 1 || len(inner) != 1 {
		t.Fatalf("outer = %d, inner = %d events, want 1 each", len(outer), len(inner))
	}
	if got := inner[0]; got.Kind != ToolCallEvent || got.Tool != "read_message" || got.Payload != `{"path":"inbox/a.md"}` {
		t.Fatalf("event = %#v", got)
	}
}

func TestTokenUsageIsZero(t *testing.T) {
	if !(TokenUsage{}).IsZero() {
		t.Fatal("empty usage should be zero")
	}
	if (TokenUsage{CacheReadTokens: 1}).IsZero() {
		t.Fatal("usage with cache reads should not be zero")
	}
}
