package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mailroom/pkg/mailbox"
	"mailroom/pkg/router"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func isolate(t *testing.T) string {
	t.Helper()
	clearEnv(t, EnvConfig, EnvStatusDB, EnvForcePolling, envTelegramBotToken, mailbox.EnvRoot, mailbox.EnvWorkspaceRoot)
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadConfigFromEnvPathWithComments(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.json")
	writeFile(t, path, `{
	  // comments and trailing commas are accepted
	  "logging": {"format": "json", "level": "debug", "add_source": true},
	  "mailbox": {
	    "root": "/srv/mail",
	    "endpoints": [
	      {"id": "inbox", "path": "in", "direction": "inbox"},
	    ],
	  },
	  "routing": {
	    "routes": [{"endpoint": "inbox", "type": "bug", "kind": "workflow", "handler": "triage", "priority": 5}],
	    "default_handler": {"kind": "agent", "id": "default"},
	  },
	  "server": {"port": 9000},
	}`)
	t.Setenv(EnvConfig, path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" || !cfg.Logging.AddSource {
		t.Fatalf("logging = %#v", cfg.Logging)
	}
	if cfg.Mailbox.Root != "/srv/mail" || len(cfg.Mailbox.Endpoints) != 1 {
		t.Fatalf("mailbox = %#v", cfg.Mailbox)
	}
	if len(cfg.Routing.Routes) != 1 || cfg.Routing.Routes[0].Kind != router.KindWorkflow || cfg.Routing.Routes[0].Priority != 5 {
		t.Fatalf("routes = %#v", cfg.Routing.Routes)
	}
	if cfg.Server.Port != 9000 || cfg.Path != path {
		t.Fatalf("server = %#v path = %q", cfg.Server, cfg.Path)
	}
}

func TestLoadConfigYAMLCandidate(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config", "mailroom.yaml"), `
mailbox:
  endpoints:
    - id: bugs
      path: bugs
      pattern: "*.txt"
      direction: bidirectional
      fields:
        - name: severity
          type: number
          required: true
agents:
  - id: triage
    provider: fantasy
    model: gpt-5.2
    tools: true
workflows:
  - id: notify
    kind: telegram
    chat_ids: [42, 43]
watcher:
  debounce_ms: 150
  process_existing: true
`)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	endpoint := cfg.Mailbox.Endpoints[0]
	if endpoint.Pattern != "*.txt" || endpoint.Fields[0].Type != "number" || !endpoint.Fields[0].Required {
		t.Fatalf("endpoint = %#v", endpoint)
	}
	if agent, ok := cfg.Agent("triage"); !ok || !agent.Tools || agent.Provider != ProviderFantasy {
		t.Fatalf("agent = %#v ok=%v", agent, ok)
	}
	if got := cfg.Workflows[0].ChatIDs; len(got) != 2 || got[1] != 43 {
		t.Fatalf("chat ids = %v", got)
	}
	if cfg.Watcher.DebounceMS != 150 || !cfg.Watcher.ProcessExisting {
		t.Fatalf("watcher = %#v", cfg.Watcher)
	}
	if cfg.Mailbox.Root != "mailbox" {
		t.Fatalf("root = %q, want default", cfg.Mailbox.Root)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	isolate(t)
	t.Setenv(EnvConfig, filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadOrDefaultWithoutFile(t *testing.T) {
	isolate(t)

	if _, err := LoadConfig(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadConfig error = %v, want ErrNotFound", err)
	}

	cfg, err := LoadOrDefault()
	if err != nil {
		t.Fatalf("LoadOrDefault error: %v", err)
	}
	if !cfg.Mailbox.Has("inbox") || !cfg.Mailbox.Has("outbox") {
		t.Fatalf("default endpoints = %#v", cfg.Mailbox.Endpoints)
	}
	if cfg.Routing.DefaultHandler.String() != "agent:default" {
		t.Fatalf("default handler = %s", cfg.Routing.DefaultHandler)
	}
}

func TestEnvOverridesAndDotEnv(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "mailroom.json"), `{"telegram": {"token": "from-file"}}`)
	writeFile(t, filepath.Join(dir, ".env"), "MAILROOM_STATUS_DB=redis://localhost:6379/2\n")
	t.Setenv(envTelegramBotToken, "from-env")
	t.Setenv(mailbox.EnvWorkspaceRoot, "/work")
	t.Setenv(EnvForcePolling, "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Status.Target != "redis://localhost:6379/2" {
		t.Fatalf("status target = %q", cfg.Status.Target)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("telegram token = %q", cfg.Telegram.Token)
	}
	if cfg.Mailbox.Root != filepath.Join("/work", ".mailroom", "mailbox") {
		t.Fatalf("root = %q", cfg.Mailbox.Root)
	}
	if !cfg.Watcher.ForcePolling {
		t.Fatal("force polling not applied")
	}
}

func TestResolveFillsDefaults(t *testing.T) {
	dir := isolate(t)
	cfg := Default()
	cfg.Mailbox.Root = filepath.Join(dir, "box")

	if err := cfg.Resolve(); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	if !filepath.IsAbs(cfg.Mailbox.Root) {
		t.Fatalf("root not absolute: %q", cfg.Mailbox.Root)
	}
	if !strings.HasSuffix(cfg.Status.Target, filepath.Join(".mailroom", "status.db")) {
		t.Fatalf("status target = %q", cfg.Status.Target)
	}
	if cfg.Server.Host != defaultServerHost || cfg.Server.Port != defaultServerPort {
		t.Fatalf("server = %#v", cfg.Server)
	}
}

func TestValidateCrossReferences(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "unknown provider", mutate: func(c *Config) { c.Agents[0].Provider = "llama" }, want: "unsupported provider"},
		{name: "tools without fantasy", mutate: func(c *Config) { c.Agents[0].Tools = true }, want: "tools require"},
		{name: "duplicate agent", mutate: func(c *Config) { c.Agents = append(c.Agents, c.Agents[0]) }, want: "more than once"},
		{name: "reply unknown agent", mutate: func(c *Config) {
			c.Workflows = []WorkflowConfig{{ID: "r", Kind: WorkflowReply, Agent: "ghost", TargetEndpoint: "outbox"}}
		}, want: "unknown agent"},
		{name: "reply unknown endpoint", mutate: func(c *Config) {
			c.Workflows = []WorkflowConfig{{ID: "r", Kind: WorkflowReply, Agent: "default", TargetEndpoint: "nowhere"}}
		}, want: "unknown endpoint"},
		{name: "telegram without chats", mutate: func(c *Config) {
			c.Workflows = []WorkflowConfig{{ID: "t", Kind: WorkflowTelegram}}
		}, want: "chat_ids"},
		{name: "bad workflow kind", mutate: func(c *Config) {
			c.Workflows = []WorkflowConfig{{ID: "x", Kind: "juggle"}}
		}, want: "unsupported kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Mailbox.Root = root
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate error = %v, want containing %q", err, tt.want)
			}
		})
	}
}
