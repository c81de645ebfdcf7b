package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	core "charm.land/fantasy"
	"github.com/stretchr/testify/require"

	"mailroom/pkg/config"
	"mailroom/pkg/provider"
	providertypes "mailroom/pkg/provider/types"
	"mailroom/pkg/router"
)

type fakeProviderClient struct {
	mu sync.Mutex

	healthErr error

	createSessionID string
	createErr       error

	promptResponse string
	promptErr      error
	promptDelay    time.Duration

	healthCalls int
	createCalls int
	promptCalls int

	lastRequest providertypes.PromptRequest

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeProviderClient) Health(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.healthCalls++
	return f.healthErr
}

func (f *fakeProviderClient) CreateSession(ctx context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.createSessionID, nil
}

func (f *fakeProviderClient) Prompt(ctx context.Context, req providertypes.PromptRequest) (providertypes.PromptResult, error) {
	active := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxActive.Load()
		if active <= seen || f.maxActive.CompareAndSwap(seen, active) {
			break
		}
	}
	if f.promptDelay > 0 {
		time.Sleep(f.promptDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.promptCalls++
	f.lastRequest = req
	if f.promptErr != nil {
		return providertypes.PromptResult{}, f.promptErr
	}

	return providertypes.PromptResult{
		Text:     f.promptResponse,
		Metadata: providertypes.PromptMetadata{Usage: &providertypes.TokenUsage{InputTokens: 3, OutputTokens: 5}},
	}, nil
}

func (f *fakeProviderClient) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.healthCalls, f.createCalls, f.promptCalls
}

func newTestAgent(t *testing.T, client *fakeProviderClient) *Agent {
	t.Helper()
	agent, err := New(config.AgentConfig{ID: "triage", Provider: config.ProviderOpenAI, Model: "openai/gpt-5.2"}, client, "Be brief.", nil)
	require.NoError(t, err)
	return agent
}

func TestGenerateOpensSessionOnce(t *testing.T) {
	client := &fakeProviderClient{createSessionID: "session-1", promptResponse: "done"}
	agent := newTestAgent(t, client)

	require.Empty(t, agent.SessionID())

	for range 3 {
		text, err := agent.Generate(context.Background(), "  handle bug.md  ")
		require.NoError(t, err)
		require.Equal(t, "done", text)
	}

	health, create, prompts := client.counts()
	require.Equal(t, 1, health)
	require.Equal(t, 1, create)
	require.Equal(t, 3, prompts)
	require.Equal(t, "session-1", agent.SessionID())

	require.Equal(t, providertypes.PromptRequest{
		SessionID:    "session-1",
		Prompt:       "handle bug.md",
		Model:        "openai/gpt-5.2",
		Agent:        "triage",
		SystemPrompt: "Be brief.",
	}, client.lastRequest)

	info := agent.Info()
	require.Equal(t, 3, info.Turns)
	require.False(t, info.LastActive.IsZero())
	recent := agent.Recent(0)
	require.Len(t, recent, 3)
	require.Equal(t, "handle bug.md", recent[2].Prompt)
	require.Equal(t, "done", recent[2].Reply)
}

func TestGenerateSerializesPrompts(t *testing.T) {
	client := &fakeProviderClient{createSessionID: "session-1", promptResponse: "ok", promptDelay: 10 * time.Millisecond}
	agent := newTestAgent(t, client)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := agent.Generate(context.Background(), "hello"); err != nil {
				t.Errorf("Generate error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, client.maxActive.Load())
	_, create, prompts := client.counts()
	require.Equal(t, 1, create)
	require.Equal(t, 8, prompts)
}

func TestGenerateErrors(t *testing.T) {
	t.Run("empty prompt", func(t *testing.T) {
		agent := newTestAgent(t, &fakeProviderClient{createSessionID: "s"})
		_, err := agent.Generate(context.Background(), "   ")
		require.Error(t, err)
	})

	t.Run("unhealthy provider leaves no session", func(t *testing.T) {
		client := &fakeProviderClient{healthErr: errors.New("down")}
		agent := newTestAgent(t, client)

		_, err := agent.Generate(context.Background(), "hello")
		require.ErrorContains(t, err, "down")
		require.Empty(t, agent.SessionID())

		_, create, _ := client.counts()
		require.Zero(t, create)
	})

	t.Run("prompt failure is not remembered", func(t *testing.T) {
		client := &fakeProviderClient{createSessionID: "s", promptErr: errors.New("rate limited")}
		agent := newTestAgent(t, client)

		_, err := agent.Generate(context.Background(), "hello")
		require.ErrorContains(t, err, "rate limited")
		require.Empty(t, agent.Recent(0))
		require.Equal(t, "s", agent.SessionID())
	})

	t.Run("cancelled while waiting for the session", func(t *testing.T) {
		agent := newTestAgent(t, &fakeProviderClient{createSessionID: "s"})
		agent.turn <- struct{}{}
		defer func() { <-agent.turn }()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := agent.Generate(ctx, "hello")
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestNewValidatesInput(t *testing.T) {
	_, err := New(config.AgentConfig{}, &fakeProviderClient{}, "", nil)
	require.Error(t, err)

	_, err = New(config.AgentConfig{ID: "a"}, nil, "", nil)
	require.Error(t, err)
}

func TestBuildAllAndRegister(t *testing.T) {
	cfg := &config.Config{Agents: []config.AgentConfig{
		{ID: "plain", Provider: config.ProviderOpenAI, Model: "gpt-5.2"},
		{ID: "hands", Provider: config.ProviderFantasy, Model: "gpt-5.2", Tools: true},
		{ID: "remote", Provider: config.ProviderOpenCode},
	}}
	tool := core.NewAgentTool("noop", "noop tool", func(ctx context.Context, input struct{}, call core.ToolCall) (core.ToolResponse, error) {
		return core.NewTextResponse("ok"), nil
	})

	toolsSeen := map[string]int{}
	factory := func(_ *config.Config, agentCfg config.AgentConfig, tools []core.AgentTool) (provider.Client, error) {
		toolsSeen[agentCfg.ID] = len(tools)
		return &fakeProviderClient{createSessionID: agentCfg.ID, promptResponse: "from " + agentCfg.ID}, nil
	}

	agents, err := BuildAll(cfg, []core.AgentTool{tool}, factory, nil)
	require.NoError(t, err)
	require.Len(t, agents, 3)
	require.Equal(t, map[string]int{"plain": 0, "hands": 1, "remote": 0}, toolsSeen)
	require.Empty(t, agents[2].systemPrompt)
	require.Contains(t, agents[1].systemPrompt, "write_message")

	handlers := router.NewHandlers()
	Register(handlers, agents)
	require.Equal(t, []string{"agent:hands", "agent:plain", "agent:remote"}, handlers.Names())

	responder, err := handlers.Agent("remote")
	require.NoError(t, err)
	text, err := responder.Generate(context.Background(), "ping")
	require.NoError(t, err)
	require.Equal(t, "from remote", text)
}

func TestBuildAllPropagatesFactoryErrors(t *testing.T) {
	cfg := &config.Config{Agents: []config.AgentConfig{{ID: "broken", Provider: config.ProviderOpenAI}}}
	factory := func(*config.Config, config.AgentConfig, []core.AgentTool) (provider.Client, error) {
		return nil, errors.New("no key")
	}

	_, err := BuildAll(cfg, nil, factory, nil)
	require.ErrorContains(t, err, `agent "broken": no key`)
}
