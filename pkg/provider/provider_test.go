package provider

import (
	"testing"

	"mailroom/pkg/config"
	providerfantasy "mailroom/pkg/provider/fantasy"
	provideropenai "mailroom/pkg/provider/openai"
	provideropencode "mailroom/pkg/provider/opencode"
)

func TestNewSelectsClientPerAgent(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := &config.Config{}
	cfg.Providers.OpenCode.BaseURL = "http://127.0.0.1:4096"

	tests := []struct {
		agent config.AgentConfig
		check func(Client) bool
	}{
		{agent: config.AgentConfig{ID: "a", Provider: config.ProviderOpenCode}, check: func(c Client) bool { _, ok := c.(*provideropencode.Client); return ok }},
		{agent: config.AgentConfig{ID: "b", Provider: config.ProviderOpenAI}, check: func(c Client) bool { _, ok := c.(*provideropenai.Client); return ok }},
		{agent: config.AgentConfig{ID: "c", Provider: config.ProviderFantasy, Model: "gpt-5.2"}, check: func(c Client) bool { _, ok := c.(*providerfantasy.Client); return ok }},
	}

	for _, tt := range tests {
		t.Run(tt.agent.Provider, func(t *testing.T) {
			client, err := New(cfg, tt.agent, nil)
			if err != nil {
				t.Fatalf("New error: %v", err)
			}
			if !tt.check(client) {
				t.Fatalf("unexpected client type %T", client)
			}
		})
	}
}

func TestNewReturnsErrorForUnsupportedProvider(t *testing.T) {
	_, err := New(&config.Config{}, config.AgentConfig{ID: "x", Provider: "unknown"}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
