package provider

import (
	"context"
	"fmt"
	"log/slog"

	core "charm.land/fantasy"

	"mailroom/pkg/config"
	providerfantasy "mailroom/pkg/provider/fantasy"
	provideropenai "mailroom/pkg/provider/openai"
	"mailroom/pkg/provider/opencode"
	providertypes "mailroom/pkg/provider/types"
)

// Client is a session-oriented text generation backend.
type Client interface {
	Health(ctx context.Context) error
	CreateSession(ctx context.Context, title string) (string, error)
	Prompt(ctx context.Context, req providertypes.PromptRequest) (providertypes.PromptResult, error)
}

// New builds the client for one agent. Tools are only honored by the fantasy
// provider; config validation rejects them elsewhere.
func New(cfg *config.Config, agent config.AgentConfig, tools []core.AgentTool) (Client, error) {
	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "agent", agent.ID, "provider", agent.Provider)

	switch agent.Provider {
	case config.ProviderOpenCode:
		return opencode.New(cfg.Providers.OpenCode)
	case config.ProviderOpenAI:
		return provideropenai.New(cfg.Providers.OpenAI)
	case config.ProviderFantasy:
		return providerfantasy.New(cfg.Providers.OpenAI, agent, tools)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", agent.Provider)
	}
}
