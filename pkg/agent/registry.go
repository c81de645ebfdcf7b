package agent

import (
	"fmt"
	"log/slog"

	core "charm.land/fantasy"

	agentprofile "mailroom/pkg/agent/profile"
	"mailroom/pkg/config"
	"mailroom/pkg/provider"
	"mailroom/pkg/router"
)

// ClientFactory builds the provider client of one agent.
type ClientFactory func(cfg *config.Config, agent config.AgentConfig, tools []core.AgentTool) (provider.Client, error)

// BuildAll constructs every configured agent in declaration order. Agents
// with tools enabled receive the given mailbox tools.
func BuildAll(cfg *config.Config, tools []core.AgentTool, newClient ClientFactory, log *slog.Logger) ([]*Agent, error) {
	if newClient == nil {
		newClient = provider.New
	}

	agents := make([]*Agent, 0, len(cfg.Agents))
	for _, agentCfg := range cfg.Agents {
		var agentTools []core.AgentTool
		if agentCfg.Tools {
			agentTools = tools
		}

		client, err := newClient(cfg, agentCfg, agentTools)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", agentCfg.ID, err)
		}

		systemPrompt, err := agentprofile.ResolveSystemProfile(agentCfg, cfg.Mailbox)
		if err != nil {
			return nil, fmt.Errorf("agent %q: resolve profile: %w", agentCfg.ID, err)
		}

		agent, err := New(agentCfg, client, systemPrompt, log)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}

	return agents, nil
}

// Register adds agents to the router handler registry under their ids.
func Register(handlers *router.Handlers, agents []*Agent) {
	for _, agent := range agents {
		handlers.RegisterAgent(agent.ID(), agent)
	}
}
