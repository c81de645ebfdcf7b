package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mailroom/pkg/config"
	"mailroom/pkg/metrics"
	"mailroom/pkg/provider"
	providertypes "mailroom/pkg/provider/types"
)

// Agent is a named responder backed by one provider session. The session is
// opened on first use and prompts on it are serialized.
type Agent struct {
	id           string
	providerName string
	model        string
	systemPrompt string
	client       provider.Client
	history      *History
	log          *slog.Logger

	turn chan struct{}

	mu         sync.RWMutex
	sessionID  string
	lastActive time.Time
}

// Info is a snapshot of an agent for status endpoints.
type Info struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Turns      int       `json:"turns"`
	LastActive time.Time `json:"last_active,omitempty"`
}

func New(cfg config.AgentConfig, client provider.Client, systemPrompt string, log *slog.Logger) (*Agent, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, errors.New("agent id is required")
	}
	if client == nil {
		return nil, errors.New("provider client is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Agent{
		id:           cfg.ID,
		providerName: cfg.Provider,
		model:        strings.TrimSpace(cfg.Model),
		systemPrompt: strings.TrimSpace(systemPrompt),
		client:       client,
		history:      NewHistory(defaultHistorySize),
		log:          log.With("component", "agent", "agent", cfg.ID),
		turn:         make(chan struct{}, 1),
	}, nil
}

func (a *Agent) ID() string {
	return a.id
}

// Generate sends prompt on the agent's session and returns the reply text.
func (a *Agent) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt cannot be empty")
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a.turn <- struct{}{}:
	}
	defer func() { <-a.turn }()

	sessionID, err := a.ensureSession(ctx)
	if err != nil {
		return "", err
	}

	startedAt := time.Now()
	ctx = providertypes.WithToolObserver(ctx, a.observeTool)
	result, err := a.client.Prompt(ctx, providertypes.PromptRequest{
		SessionID:    sessionID,
		Prompt:       prompt,
		Model:        a.model,
		Agent:        a.id,
		SystemPrompt: a.systemPrompt,
	})
	if err != nil {
		a.log.Debug("Prompt failed", "session_id", sessionID, "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", err
	}

	elapsed := time.Since(startedAt)
	exchange := Exchange{Prompt: prompt, Reply: result.Text, At: time.Now().UTC(), Duration: elapsed}
	if usage := result.Metadata.Usage; usage != nil {
		exchange.OutputTokens = usage.OutputTokens
	}
	a.history.Record(exchange)
	a.recordUsage(result.Metadata.Usage)

	a.mu.Lock()
	a.lastActive = exchange.At
	a.mu.Unlock()

	a.log.Debug("Prompt completed", "session_id", sessionID, "duration_ms", elapsed.Milliseconds(), "response_length", len(result.Text))
	return result.Text, nil
}

// SessionID returns the provider session, empty until the first prompt.
func (a *Agent) SessionID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.sessionID
}

// Recent returns up to n of the latest exchanges, oldest first.
func (a *Agent) Recent(n int) []Exchange {
	return a.history.Recent(n)
}

func (a *Agent) Info() Info {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return Info{
		ID:         a.id,
		Provider:   a.providerName,
		Model:      a.model,
		SessionID:  a.sessionID,
		Turns:      a.history.Total(),
		LastActive: a.lastActive,
	}
}

// Health checks the backing provider.
func (a *Agent) Health(ctx context.Context) error {
	return a.client.Health(ctx)
}

func (a *Agent) ensureSession(ctx context.Context) (string, error) {
	if sessionID := a.SessionID(); sessionID != "" {
		return sessionID, nil
	}

	if err := a.client.Health(ctx); err != nil {
		return "", fmt.Errorf("provider health: %w", err)
	}

	sessionID, err := a.client.CreateSession(ctx, "mailroom "+a.id)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}

	a.mu.Lock()
	a.sessionID = sessionID
	a.mu.Unlock()

	a.log.Info("Session started", "session_id", sessionID, "provider", a.providerName)
	return sessionID, nil
}

func (a *Agent) observeTool(event providertypes.ToolEvent) {
	a.log.Debug("Tool event", "kind", event.Kind, "tool", event.Tool, "payload", event.Payload, "duration_ms", event.DurationMs)
}

func (a *Agent) recordUsage(usage *providertypes.TokenUsage) {
	if usage == nil {
		return
	}

	metrics.AgentTokens.WithLabelValues(a.id, "input").Add(float64(usage.InputTokens))
	metrics.AgentTokens.WithLabelValues(a.id, "output").Add(float64(usage.OutputTokens))
}
