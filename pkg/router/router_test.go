package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"mailroom/pkg/mailbox"
)

func testMailbox(t *testing.T) mailbox.Config {
	t.Helper()

	return mailbox.Config{
		Root: t.TempDir(),
		Endpoints: []mailbox.Endpoint{
			{ID: "inbox", Path: "inbox", Direction: mailbox.DirectionInbox},
			{ID: "bugs", Path: "bugs", Direction: mailbox.DirectionBidirectional},
		},
	}
}

func mustRouter(t *testing.T, cfg Config, mb mailbox.Config, handlers *Handlers) *Router {
	t.Helper()

	r, err := New(cfg, mb, handlers, nil)
	require.NoError(t, err)
	return r
}

func TestFindRoutePriorityOrdering(t *testing.T) {
	mb := testMailbox(t)
	r := mustRouter(t, Config{
		DefaultHandler: HandlerRef{Kind: KindAgent, ID: "default"},
		Routes: []Route{
			{Endpoint: "inbox", Type: "question", Kind: KindAgent, Handler: "exact-low", Priority: 5},
			{Endpoint: "*", Type: "*", Kind: KindAgent, Handler: "wild-high", Priority: 10},
			{Endpoint: "bugs", Type: "*", Kind: KindWorkflow, Handler: "triage"},
		},
	}, mb, nil)

	route, ok := r.FindRoute("inbox", "question")
	require.True(t, ok)
	require.Equal(t, "wild-high", route.Handler)

	route, ok = r.FindRoute("bugs", "")
	require.True(t, ok)
	require.Equal(t, "wild-high", route.Handler)
}

func TestFindRouteEqualPriorityKeepsDeclarationOrder(t *testing.T) {
	mb := testMailbox(t)
	r := mustRouter(t, Config{
		DefaultHandler: HandlerRef{Kind: KindAgent, ID: "default"},
		Routes: []Route{
			{Endpoint: "inbox", Kind: KindAgent, Handler: "first", Priority: 1},
			{Endpoint: "inbox", Type: "question", Kind: KindAgent, Handler: "second", Priority: 1},
			{Endpoint: "*", Kind: KindAgent, Handler: "third", Priority: 1},
		},
	}, mb, nil)

	for range 20 {
		route, ok := r.FindRoute("inbox", "question")
		require.True(t, ok)
		require.Equal(t, "first", route.Handler)
	}
}

func TestFindRouteTypeMatching(t *testing.T) {
	mb := testMailbox(t)
	r := mustRouter(t, Config{
		DefaultHandler: HandlerRef{Kind: KindAgent, ID: "default"},
		Routes: []Route{
			{Endpoint: "inbox", Type: "question", Kind: KindAgent, Handler: "qa", Priority: 1},
		},
	}, mb, nil)

	tests := []struct {
		endpoint string
		msgType  string
		want     bool
	}{
		{endpoint: "inbox", msgType: "question", want: true},
		{endpoint: "inbox", msgType: "report", want: false},
		{endpoint: "inbox", msgType: "", want: false},
		{endpoint: "bugs", msgType: "question", want: false},
	}

	for _, tt := range tests {
		_, ok := r.FindRoute(tt.endpoint, tt.msgType)
		if ok != tt.want {
			t.Fatalf("FindRoute(%q, %q) matched = %v, want %v", tt.endpoint, tt.msgType, ok, tt.want)
		}
	}

	ref, matched := r.Resolve("inbox", "report")
	require.False(t, matched)
	require.Equal(t, "agent:default", ref.String())
}

func TestNewValidatesConfig(t *testing.T) {
	mb := testMailbox(t)
	good := HandlerRef{Kind: KindAgent, ID: "default"}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "missing default", cfg: Config{}, want: "default handler"},
		{name: "bad kind", cfg: Config{DefaultHandler: good, Routes: []Route{{Kind: "robot", Handler: "x"}}}, want: "invalid handler kind"},
		{name: "missing handler", cfg: Config{DefaultHandler: good, Routes: []Route{{Kind: KindAgent}}}, want: "handler id"},
		{name: "unknown endpoint", cfg: Config{DefaultHandler: good, Routes: []Route{{Endpoint: "nope", Kind: KindAgent, Handler: "x"}}}, want: "unknown endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, mb, nil, nil)
			require.ErrorContains(t, err, tt.want)
		})
	}

	_, err := New(Config{DefaultHandler: good, Routes: []Route{{Endpoint: "nope", Kind: KindAgent, Handler: "x"}}}, mb, nil, nil)
	require.True(t, errors.Is(err, mailbox.ErrUnknownEndpoint))
}

type recordingAgent struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (a *recordingAgent) Generate(_ context.Context, prompt string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, prompt)
	return a.reply, a.err
}

func writeInbox(t *testing.T, mb mailbox.Config, name string, content string) {
	t.Helper()

	dir := filepath.Join(mb.Root, "inbox")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRouteMessageToAgent(t *testing.T) {
	mb := testMailbox(t)
	writeInbox(t, mb, "hello.md", "---\nid: \"1\"\n---\n\nplease help\n")

	agent := &recordingAgent{reply: "done"}
	handlers := NewHandlers()
	handlers.RegisterAgent("helper", agent)

	r := mustRouter(t, Config{DefaultHandler: HandlerRef{Kind: KindAgent, ID: "helper"}}, mb, handlers)

	result, err := r.RouteMessage(context.Background(), "hello.md", "inbox", "question")
	require.NoError(t, err)
	require.Equal(t, "agent:helper", result.Handler.String())
	require.Equal(t, "done", result.Text)

	require.Len(t, agent.prompts, 1)
	prompt := agent.prompts[0]
	for _, want := range []string{"File: hello.md", "Endpoint: inbox", "Type: question", "please help"} {
		require.True(t, strings.Contains(prompt, want), "prompt missing %q:\n%s", want, prompt)
	}
}

func TestRouteMessageToWorkflow(t *testing.T) {
	mb := testMailbox(t)

	var gotInput WorkflowInput
	handlers := NewHandlers()
	handlers.RegisterWorkflow("archive", WorkflowFunc(func(_ context.Context, input WorkflowInput) (WorkflowResult, error) {
		gotInput = input
		return WorkflowResult{}, nil
	}))
	handlers.RegisterWorkflow("notify", WorkflowFunc(func(context.Context, WorkflowInput) (WorkflowResult, error) {
		return WorkflowResult{Summary: "sent 2 notifications"}, nil
	}))

	r := mustRouter(t, Config{
		DefaultHandler: HandlerRef{Kind: KindWorkflow, ID: "archive"},
		Routes:         []Route{{Endpoint: "bugs", Kind: KindWorkflow, Handler: "notify"}},
	}, mb, handlers)

	result, err := r.RouteMessage(context.Background(), "a.md", "inbox", "")
	require.NoError(t, err)
	require.Equal(t, WorkflowFallbackSummary, result.Text)
	require.Equal(t, WorkflowInput{Filename: "a.md", Endpoint: "inbox"}, gotInput)

	result, err = r.RouteMessage(context.Background(), "b.md", "bugs", "")
	require.NoError(t, err)
	require.Equal(t, "sent 2 notifications", result.Text)
	require.Equal(t, "workflow:notify", result.Handler.String())
}

func TestRouteMessageFailures(t *testing.T) {
	mb := testMailbox(t)
	writeInbox(t, mb, "x.md", "body")

	handlers := NewHandlers()
	handlers.RegisterAgent("broken", &recordingAgent{err: errors.New("model unavailable")})
	handlers.RegisterWorkflow("boom", WorkflowFunc(func(context.Context, WorkflowInput) (WorkflowResult, error) {
		return WorkflowResult{}, errors.New("kaboom")
	}))

	r := mustRouter(t, Config{
		DefaultHandler: HandlerRef{Kind: KindAgent, ID: "ghost"},
		Routes: []Route{
			{Endpoint: "inbox", Type: "broken", Kind: KindAgent, Handler: "broken"},
			{Endpoint: "inbox", Type: "boom", Kind: KindWorkflow, Handler: "boom"},
		},
	}, mb, handlers)

	_, err := r.RouteMessage(context.Background(), "x.md", "inbox", "")
	require.True(t, errors.Is(err, ErrHandlerNotFound), "error = %v", err)

	_, err = r.RouteMessage(context.Background(), "x.md", "inbox", "broken")
	require.ErrorContains(t, err, "model unavailable")

	_, err = r.RouteMessage(context.Background(), "x.md", "inbox", "boom")
	require.ErrorContains(t, err, "kaboom")

	_, err = r.RouteMessage(context.Background(), "x.md", "nowhere", "")
	require.True(t, errors.Is(err, mailbox.ErrUnknownEndpoint), "error = %v", err)
}

func TestParseHandlerRef(t *testing.T) {
	ref, err := ParseHandlerRef(" workflow : archive ")
	require.NoError(t, err)
	require.Equal(t, HandlerRef{Kind: KindWorkflow, ID: "archive"}, ref)

	for _, bad := range []string{"agent", "robot:x", "agent:"} {
		_, err := ParseHandlerRef(bad)
		require.Error(t, err, bad)
	}
}

func TestHandlersNames(t *testing.T) {
	handlers := NewHandlers()
	handlers.RegisterWorkflow("b", WorkflowFunc(nil))
	handlers.RegisterAgent("a", AgentFunc(nil))

	require.Equal(t, []string{"agent:a", "workflow:b"}, handlers.Names())
}
