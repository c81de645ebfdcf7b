// Package opencode adapts an opencode server to the provider client
// interface. Sessions, history and model selection live on the server.
package opencode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	sdk "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"

	"mailroom/pkg/config"
	providertypes "mailroom/pkg/provider/types"
)

const defaultUsername = "opencode"

type Client struct {
	api     *sdk.Client
	timeout time.Duration
	log     *slog.Logger
}

type healthResponse struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}

func New(cfg config.OpenCodeProviderConfig) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providers.opencode.base_url is required")
	}

	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if header, ok := buildBasicAuthHeader(cfg); ok {
		opts = append(opts, option.WithHeader("Authorization", header))
	}

	return &Client{
		api:     sdk.NewClient(opts...),
		timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		log:     slog.Default().With("component", "provider.opencode"),
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, done := c.start(ctx, "health")
	var response healthResponse
	err := c.api.Get(ctx, "/global/health", nil, &response)
	if err == nil && !response.Healthy {
		err = errors.New("opencode server reported unhealthy status")
	}
	done(err, "version", response.Version)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	params := sdk.SessionNewParams{}
	if title = strings.TrimSpace(title); title != "" {
		params.Title = sdk.F(title)
	}

	ctx, done := c.start(ctx, "create_session")
	session, err := c.api.Session.New(ctx, params)
	if err == nil && session.ID == "" {
		err = errors.New("server returned an empty session id")
	}
	if err != nil {
		done(err)
		return "", fmt.Errorf("create session failed: %w", err)
	}
	done(nil, "session_id", session.ID)

	return session.ID, nil
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

	ctx, done := c.start(ctx, "prompt", "session_id", sessionID, "agent", req.Agent, "prompt_length", len(prompt))
	response, err := c.api.Session.Prompt(ctx, sessionID, promptParams(req, prompt))
	if err != nil {
		done(err)
		return providertypes.PromptResult{}, fmt.Errorf("prompt failed: %w", err)
	}

	text := extractText(response.Parts)
	if text == "" {
		err := errors.New("prompt succeeded but returned no text parts")
		done(err, "parts", len(response.Parts))
		return providertypes.PromptResult{}, err
	}
	done(nil, "response_length", len(text), "parts", len(response.Parts))

	return providertypes.PromptResult{
		Text: text,
		Metadata: providertypes.PromptMetadata{
			Provider: strings.TrimSpace(response.Info.ProviderID),
			Model:    strings.TrimSpace(response.Info.ModelID),
			Agent:    strings.TrimSpace(req.Agent),
			Usage: usageOf(providertypes.TokenUsage{
				InputTokens:     tokenCount(response.Info.Tokens.Input),
				OutputTokens:    tokenCount(response.Info.Tokens.Output),
				ReasoningTokens: tokenCount(response.Info.Tokens.Reasoning),
				CacheReadTokens: tokenCount(response.Info.Tokens.Cache.Read),
			}),
		},
	}, nil
}

// start applies the request timeout and returns a func that logs the outcome
// of the operation with its duration.
func (c *Client) start(ctx context.Context, op string, attrs ...any) (context.Context, func(err error, attrs ...any)) {
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	log := c.log.With(append([]any{"operation", op}, attrs...)...)
	startedAt := time.Now()

	return ctx, func(err error, result ...any) {
		defer cancel()
		result = append(result, "duration_ms", time.Since(startedAt).Milliseconds())
		if err != nil {
			log.Debug("Provider request failed", append(result, "error", err)...)
			return
		}
		log.Debug("Provider request completed", result...)
	}
}

func promptParams(req providertypes.PromptRequest, prompt string) sdk.SessionPromptParams {
	params := sdk.SessionPromptParams{
		Parts: sdk.F([]sdk.SessionPromptParamsPartUnion{
			sdk.TextPartInputParam{
				Type: sdk.F(sdk.TextPartInputTypeText),
				Text: sdk.F(prompt),
			},
		}),
	}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		params.System = sdk.F(system)
	}
	if providerID, modelID, ok := parseModelRef(req.Model); ok {
		params.Model = sdk.F(sdk.SessionPromptParamsModel{
			ProviderID: sdk.F(providerID),
			ModelID:    sdk.F(modelID),
		})
	}
	return params
}

func usageOf(usage providertypes.TokenUsage) *providertypes.TokenUsage {
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	if usage.IsZero() {
		return nil
	}
	return &usage
}

// buildBasicAuthHeader reads the server password from the env var named by
// password_env. No header is sent when it is unset.
func buildBasicAuthHeader(cfg config.OpenCodeProviderConfig) (string, bool) {
	name := strings.TrimSpace(cfg.PasswordEnv)
	if name == "" {
		return "", false
	}
	password := strings.TrimSpace(os.Getenv(name))
	if password == "" {
		return "", false
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = defaultUsername
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password)), true
}

// parseModelRef splits "provider/model"; bare ids leave the server default in place.
func parseModelRef(ref string) (string, string, bool) {
	providerID, modelID, found := strings.Cut(strings.TrimSpace(ref), "/")
	providerID, modelID = strings.TrimSpace(providerID), strings.TrimSpace(modelID)
	if !found || providerID == "" || modelID == "" {
		return "", "", false
	}
	return providerID, modelID, true
}

func extractText(parts []sdk.Part) string {
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Type != sdk.PartTypeText {
			continue
		}
		if text := strings.TrimSpace(part.Text); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n")
}

func tokenCount(value float64) int64 {
	return int64(math.Round(max(value, 0)))
}
