// Package fantasy runs a charm fantasy agent loop against an OpenAI model.
// Sessions are held in process; tool-enabled agents get the mailbox tools on
// every prompt.
package fantasy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"mailroom/pkg/config"
	openaiclient "mailroom/pkg/provider/openai"
	providertypes "mailroom/pkg/provider/types"
)

const (
	defaultMaxToolSteps = 12

	toolLimitSummaryPrompt = "Tool step limit reached. Stop calling tools and summarize what you did with this message so far."
)

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

type generateFunc func(ctx context.Context, model core.LanguageModel, call core.AgentCall, options []core.AgentOption) (*core.AgentResult, error)

type Client struct {
	provider     languageModelProvider
	generate     generateFunc
	timeout      time.Duration
	modelID      string
	tools        []core.AgentTool
	maxToolSteps int
	settings     callSettings
	sessions     *sessionStore
	log          *slog.Logger
}

type callSettings struct {
	maxOutputTokens *int64
	temperature     *float64
}

func New(providerCfg config.OpenAIProviderConfig, agent config.AgentConfig, tools []core.AgentTool) (*Client, error) {
	apiKey := openaiclient.ResolveAPIKey(providerCfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	modelID, err := openaiclient.NormalizeModel(agent.Model)
	if err != nil {
		return nil, err
	}

	opts := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		opts = append(opts, provideropenai.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		opts = append(opts, provideropenai.WithOrganization(organization))
	}
	if project := strings.TrimSpace(providerCfg.Project); project != "" {
		opts = append(opts, provideropenai.WithProject(project))
	}

	languageModels, err := provideropenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	client := newClient(languageModels, modelID, tools)
	client.timeout = time.Duration(providerCfg.RequestTimeoutSeconds) * time.Second
	client.log = client.log.With("agent", agent.ID)
	if agent.MaxTokens > 0 {
		maxTokens := int64(agent.MaxTokens)
		client.settings.maxOutputTokens = &maxTokens
	}
	if agent.Temperature > 0 {
		temperature := agent.Temperature
		client.settings.temperature = &temperature
	}

	return client, nil
}

func newClient(provider languageModelProvider, modelID string, tools []core.AgentTool) *Client {
	return &Client{
		provider:     provider,
		generate:     generateWithFantasyAgent,
		modelID:      modelID,
		tools:        tools,
		maxToolSteps: defaultMaxToolSteps,
		sessions:     newSessionStore(defaultMaxTurns),
		log:          slog.Default().With("component", "provider.fantasy"),
	}
}

// Health resolves the configured model.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.provider.LanguageModel(ctx, c.modelID); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// CreateSession allocates an in-process session. The title is not stored.
func (c *Client) CreateSession(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.sessions.create(), nil
}

func (c *Client) Prompt(ctx context.Context, req providertypes.PromptRequest) (providertypes.PromptResult, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	prompt := strings.TrimSpace(req.Prompt)
	switch {
	case sessionID == "":
		return providertypes.PromptResult{}, errors.New("session id is required")
	case prompt == "":
		return providertypes.PromptResult{}, errors.New("prompt is required")
	}

	modelID := c.modelID
	if strings.TrimSpace(req.Model) != "" {
		normalized, err := openaiclient.NormalizeModel(req.Model)
		if err != nil {
			return providertypes.PromptResult{}, err
		}
		modelID = normalized
	}

	history, ok := c.sessions.history(sessionID, strings.TrimSpace(req.SystemPrompt))
	if !ok {
		return providertypes.PromptResult{}, errors.New("session is not started")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	model, err := c.provider.LanguageModel(ctx, modelID)
	if err != nil {
		return providertypes.PromptResult{}, fmt.Errorf("resolve language model: %w", err)
	}

	result, turn, err := c.run(ctx, model, prompt, history)
	if err != nil {
		return providertypes.PromptResult{}, err
	}

	text := extractText(result.Response.Content)
	if text == "" {
		return providertypes.PromptResult{}, errors.New("prompt succeeded but returned no text")
	}
	if len(result.Steps) == 0 {
		turn = append(turn, core.Message{
			Role:    core.MessageRoleAssistant,
			Content: []core.MessagePart{core.TextPart{Text: text}},
		})
	}
	c.sessions.appendTurn(sessionID, turn)

	return providertypes.PromptResult{
		Text: text,
		Metadata: providertypes.PromptMetadata{
			Provider: config.ProviderFantasy,
			Model:    modelID,
			Agent:    strings.TrimSpace(req.Agent),
			Usage: usageOf(providertypes.TokenUsage{
				InputTokens:         result.TotalUsage.InputTokens,
				OutputTokens:        result.TotalUsage.OutputTokens,
				TotalTokens:         result.TotalUsage.TotalTokens,
				ReasoningTokens:     result.TotalUsage.ReasoningTokens,
				CacheCreationTokens: result.TotalUsage.CacheCreationTokens,
				CacheReadTokens:     result.TotalUsage.CacheReadTokens,
			}),
		},
	}, nil
}

// run executes the agent loop for one prompt and returns the final result
// with the messages of the turn. When the tool step limit cuts the loop
// short, the model is asked once more, without tools, for a summary.
func (c *Client) run(ctx context.Context, model core.LanguageModel, prompt string, history []core.Message) (*core.AgentResult, []core.Message, error) {
	result, err := c.generate(ctx, model, c.call(prompt, history), c.agentOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("prompt failed: %w", err)
	}
	turn := append([]core.Message{core.NewUserMessage(prompt)}, stepMessages(result)...)

	if len(c.tools) == 0 || result.Response.FinishReason != core.FinishReasonToolCalls {
		return result, turn, nil
	}

	c.log.Debug("Tool step limit reached", "steps", len(result.Steps))
	summary, err := c.generate(ctx, model, c.call(toolLimitSummaryPrompt, append(history, turn...)), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("summarize after tool limit: %w", err)
	}
	turn = append(turn, core.NewUserMessage(toolLimitSummaryPrompt))
	return summary, append(turn, stepMessages(summary)...), nil
}

func (c *Client) call(prompt string, history []core.Message) core.AgentCall {
	return core.AgentCall{
		Prompt:          prompt,
		Messages:        history,
		MaxOutputTokens: c.settings.maxOutputTokens,
		Temperature:     c.settings.temperature,
	}
}

func (c *Client) agentOptions() []core.AgentOption {
	if len(c.tools) == 0 {
		return nil
	}

	steps := c.maxToolSteps
	if steps <= 0 {
		steps = defaultMaxToolSteps
	}
	return []core.AgentOption{
		core.WithTools(c.tools...),
		core.WithStopConditions(core.StepCountIs(steps)),
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func usageOf(usage providertypes.TokenUsage) *providertypes.TokenUsage {
	if usage.IsZero() {
		return nil
	}
	return &usage
}

func stepMessages(result *core.AgentResult) []core.Message {
	if result == nil {
		return nil
	}

	var messages []core.Message
	for _, step := range result.Steps {
		messages = append(messages, step.Messages...)
	}
	return messages
}

func extractText(content core.ResponseContent) string {
	var texts []string
	for _, part := range content {
		text, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}
		if trimmed := strings.TrimSpace(text.Text); trimmed != "" {
			texts = append(texts, trimmed)
		}
	}
	return strings.Join(texts, "\n")
}

func generateWithFantasyAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall, options []core.AgentOption) (*core.AgentResult, error) {
	return core.NewAgent(model, options...).Generate(ctx, call)
}
