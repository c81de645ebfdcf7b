// Package openai adapts the OpenAI Responses API to the provider client
// interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/conversations"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"mailroom/pkg/config"
	providertypes "mailroom/pkg/provider/types"
)

const defaultAPIKeyEnv = "OPENAI_API_KEY"

// Client talks to the Responses API. Each agent session is an OpenAI
// conversation, so history stays server-side.
type Client struct {
	api osdk.Client
	log *slog.Logger
}

func New(cfg config.OpenAIProviderConfig) (*Client, error) {
	apiKey := ResolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}
	if cfg.RequestTimeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.RequestTimeoutSeconds)*time.Second))
	}

	return &Client{
		api: osdk.NewClient(opts...),
		log: slog.Default().With("component", "provider.openai"),
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	done := c.start("health")
	_, err := c.api.Models.List(ctx)
	done(err)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// CreateSession opens a conversation. The title is only logged.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	done := c.start("create_session", "title", strings.TrimSpace(title))
	conversation, err := c.api.Conversations.New(ctx, conversations.ConversationNewParams{})
	if err == nil && (conversation == nil || strings.TrimSpace(conversation.ID) == "") {
		err = errors.New("server returned an empty conversation id")
	}
	if err != nil {
		done(err)
		return "", fmt.Errorf("create session failed: %w", err)
	}

	id := strings.TrimSpace(conversation.ID)
	done(nil, "session_id", id)
	return id, nil
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

	model, err := NormalizeModel(req.Model)
	if err != nil {
		return providertypes.PromptResult{}, err
	}

	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(prompt)},
		Conversation: responses.ResponseNewParamsConversationUnion{
			OfConversationObject: &responses.ResponseConversationParam{ID: sessionID},
		},
	}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		params.Instructions = osdk.String(system)
	}

	done := c.start("prompt", "session_id", sessionID, "model", model, "prompt_length", len(prompt))
	response, err := c.api.Responses.New(ctx, params)
	if err != nil {
		done(err)
		return providertypes.PromptResult{}, fmt.Errorf("prompt failed: %w", err)
	}

	text := strings.TrimSpace(response.OutputText())
	if text == "" {
		err := errors.New("prompt succeeded but returned no text")
		done(err, "status", response.Status)
		return providertypes.PromptResult{}, err
	}
	done(nil, "response_length", len(text))

	usage := providertypes.TokenUsage{
		InputTokens:     response.Usage.InputTokens,
		OutputTokens:    response.Usage.OutputTokens,
		TotalTokens:     response.Usage.TotalTokens,
		ReasoningTokens: response.Usage.OutputTokensDetails.ReasoningTokens,
		CacheReadTokens: response.Usage.InputTokensDetails.CachedTokens,
	}
	metadata := providertypes.PromptMetadata{
		Provider: config.ProviderOpenAI,
		Model:    model,
		Agent:    strings.TrimSpace(req.Agent),
	}
	if !usage.IsZero() {
		metadata.Usage = &usage
	}

	return providertypes.PromptResult{Text: text, Metadata: metadata}, nil
}

// start returns a func that logs the outcome of op with its duration.
func (c *Client) start(op string, attrs ...any) func(err error, attrs ...any) {
	log := c.log.With(append([]any{"operation", op}, attrs...)...)
	startedAt := time.Now()

	return func(err error, result ...any) {
		result = append(result, "duration_ms", time.Since(startedAt).Milliseconds())
		if err != nil {
			log.Debug("Provider request failed", append(result, "error", err)...)
			return
		}
		log.Debug("Provider request completed", result...)
	}
}

// ResolveAPIKey reads the key from cfg.APIKeyEnv, falling back to OPENAI_API_KEY.
func ResolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv(defaultAPIKeyEnv))
}

// NormalizeModel strips an "openai/" prefix and rejects other providers.
func NormalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	providerID, modelID, found := strings.Cut(model, "/")
	if !found {
		return model, nil
	}

	providerID = strings.TrimSpace(providerID)
	modelID = strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != config.ProviderOpenAI {
		return "", fmt.Errorf("model provider %q is not supported by openai provider", providerID)
	}

	return modelID, nil
}
