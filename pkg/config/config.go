package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"mailroom/pkg/mailbox"
	"mailroom/pkg/router"
	"mailroom/pkg/status"
)

const (
	EnvConfig       = "MAILROOM_CONFIG"
	EnvStatusDB     = "MAILROOM_STATUS_DB"
	EnvForcePolling = "MAILROOM_FORCE_POLLING"

	envTelegramBotToken = "TELEGRAM_BOT_TOKEN"

	defaultServerHost          = "127.0.0.1"
	defaultServerPort          = 18790
	defaultHealthCheckInterval = 60
)

// ErrNotFound is returned by LoadConfig when no config file could be located.
var ErrNotFound = errors.New("config file not found")

// Provider names accepted in AgentConfig.Provider.
const (
	ProviderOpenAI   = "openai"
	ProviderOpenCode = "opencode"
	ProviderFantasy  = "fantasy"
)

// Workflow kinds accepted in WorkflowConfig.Kind.
const (
	WorkflowReply    = "reply"
	WorkflowArchive  = "archive"
	WorkflowTelegram = "telegram"
)

// Config is the root runtime configuration.
type Config struct {
	Logging   LoggingConfig    `json:"logging,omitempty" yaml:"logging,omitempty"`
	Mailbox   mailbox.Config   `json:"mailbox" yaml:"mailbox"`
	Routing   router.Config    `json:"routing" yaml:"routing"`
	Agents    []AgentConfig    `json:"agents,omitempty" yaml:"agents,omitempty"`
	Workflows []WorkflowConfig `json:"workflows,omitempty" yaml:"workflows,omitempty"`
	Providers ProvidersConfig  `json:"providers" yaml:"providers"`
	Telegram  TelegramConfig   `json:"telegram" yaml:"telegram"`
	Status    StatusConfig     `json:"status" yaml:"status"`
	Server    ServerConfig     `json:"server" yaml:"server"`
	Watcher   WatcherConfig    `json:"watcher" yaml:"watcher"`

	// Path is the file the configuration was read from; empty for defaults.
	Path string `json:"-" yaml:"-"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty" yaml:"add_source,omitempty"`
	// Components overrides Level per component prefix, e.g. {"watcher": "debug"}.
	Components map[string]string `json:"components,omitempty" yaml:"components,omitempty"`
}

// AgentConfig declares one named agent responder.
type AgentConfig struct {
	ID           string  `json:"id" yaml:"id"`
	Provider     string  `json:"provider" yaml:"provider"`
	Model        string  `json:"model,omitempty" yaml:"model,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Tools        bool    `json:"tools,omitempty" yaml:"tools,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
}

// WorkflowConfig declares one named workflow responder. Which fields apply
// depends on Kind.
type WorkflowConfig struct {
	ID   string `json:"id" yaml:"id"`
	Kind string `json:"kind" yaml:"kind"`

	// reply
	Agent          string `json:"agent,omitempty" yaml:"agent,omitempty"`
	TargetEndpoint string `json:"target_endpoint,omitempty" yaml:"target_endpoint,omitempty"`

	// archive
	ArchiveDir string `json:"archive_dir,omitempty" yaml:"archive_dir,omitempty"`

	// telegram
	ChatIDs []int64 `json:"chat_ids,omitempty" yaml:"chat_ids,omitempty"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenCode OpenCodeProviderConfig `json:"opencode" yaml:"opencode"`
	OpenAI   OpenAIProviderConfig   `json:"openai" yaml:"openai"`
}

// OpenCodeProviderConfig configures the OpenCode provider client.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url"`
	Username              string `json:"username,omitempty" yaml:"username,omitempty"`
	PasswordEnv           string `json:"password_env,omitempty" yaml:"password_env,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds,omitempty" yaml:"request_timeout_seconds,omitempty"`
}

// OpenAIProviderConfig configures the OpenAI-compatible provider clients.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKeyEnv             string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	Organization          string `json:"organization,omitempty" yaml:"organization,omitempty"`
	Project               string `json:"project,omitempty" yaml:"project,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds,omitempty" yaml:"request_timeout_seconds,omitempty"`
}

// TelegramConfig configures the telegram notify workflow.
type TelegramConfig struct {
	Token  string `json:"token,omitempty" yaml:"token,omitempty"`
	APIURL string `json:"api_url,omitempty" yaml:"api_url,omitempty"`
}

// StatusConfig selects the status store backend. Target is a sqlite path or
// a postgres:// or redis:// URL.
type StatusConfig struct {
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

// ServerConfig configures the daemon HTTP listener.
type ServerConfig struct {
	Host                       string `json:"host,omitempty" yaml:"host,omitempty"`
	Port                       int    `json:"port,omitempty" yaml:"port,omitempty"`
	HealthCheckIntervalSeconds int    `json:"health_check_interval_seconds,omitempty" yaml:"health_check_interval_seconds,omitempty"`
}

// WatcherConfig tunes the folder watcher.
type WatcherConfig struct {
	DebounceMS      int  `json:"debounce_ms,omitempty" yaml:"debounce_ms,omitempty"`
	ProcessExisting bool `json:"process_existing,omitempty" yaml:"process_existing,omitempty"`
	ForcePolling    bool `json:"force_polling,omitempty" yaml:"force_polling,omitempty"`
}

// Default returns the configuration used when no file is present: an inbox
// and an outbox endpoint, the default required fields, and every message
// routed to agent "default".
func Default() *Config {
	return &Config{
		Mailbox: mailbox.Config{
			DefaultFields: mailbox.DefaultFields(),
			Endpoints: []mailbox.Endpoint{
				{ID: "inbox", Path: "inbox", Direction: mailbox.DirectionInbox},
				{ID: "outbox", Path: "outbox", Direction: mailbox.DirectionOutbox},
			},
		},
		Routing: router.Config{
			DefaultHandler: router.HandlerRef{Kind: router.KindAgent, ID: "default"},
		},
		Agents: []AgentConfig{
			{ID: "default", Provider: ProviderOpenAI, Model: "gpt-5.2"},
		},
	}
}

// LoadConfig loads .env, resolves the config file, parses it, and applies
// environment overrides. It returns ErrNotFound when no file exists.
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	cfg, err := parseFile(configPath)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault behaves like LoadConfig but falls back to Default when no
// config file exists.
func LoadOrDefault() (*Config, error) {
	cfg, err := LoadConfig()
	if errors.Is(err, ErrNotFound) {
		cfg = Default()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	return cfg, err
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("load .env: %w", err)
}

func parseFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(content), cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.Path = path

	return cfg, nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Mailbox.Root = mailbox.RootFromEnv(cfg.Mailbox.Root)

	if target := strings.TrimSpace(os.Getenv(EnvStatusDB)); target != "" {
		cfg.Status.Target = target
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Telegram.Token = token
	}

	if value := strings.TrimSpace(os.Getenv(EnvForcePolling)); value != "" {
		if forced, err := strconv.ParseBool(value); err == nil && forced {
			cfg.Watcher.ForcePolling = true
		}
	}
}

// Resolve creates and canonicalizes the mailbox root, fills defaults that
// depend on it, and validates the result.
func (c *Config) Resolve() error {
	root, err := mailbox.ResolveRoot(c.Mailbox.Root)
	if err != nil {
		return err
	}
	c.Mailbox.Root = root

	if len(c.Mailbox.DefaultFields) == 0 {
		c.Mailbox.DefaultFields = mailbox.DefaultFields()
	}
	if strings.TrimSpace(c.Status.Target) == "" {
		c.Status.Target = status.DefaultTarget(root)
	}
	if c.Server.Host == "" {
		c.Server.Host = defaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultServerPort
	}
	if c.Server.HealthCheckIntervalSeconds == 0 {
		c.Server.HealthCheckIntervalSeconds = defaultHealthCheckInterval
	}

	return c.Validate()
}

// Validate checks cross-section references. Route validation itself happens
// in router.New.
func (c *Config) Validate() error {
	if err := c.Mailbox.Validate(); err != nil {
		return fmt.Errorf("mailbox: %w", err)
	}

	agents := make(map[string]struct{}, len(c.Agents))
	for i, agent := range c.Agents {
		if strings.TrimSpace(agent.ID) == "" {
			return fmt.Errorf("agents[%d]: id is required", i)
		}
		if _, dup := agents[agent.ID]; dup {
			return fmt.Errorf("agent %q declared more than once", agent.ID)
		}
		agents[agent.ID] = struct{}{}

		switch agent.Provider {
		case ProviderOpenAI, ProviderOpenCode, ProviderFantasy:
		default:
			return fmt.Errorf("agent %q: unsupported provider %q", agent.ID, agent.Provider)
		}
		if agent.Tools && agent.Provider != ProviderFantasy {
			return fmt.Errorf("agent %q: tools require the %s provider", agent.ID, ProviderFantasy)
		}
	}

	workflows := make(map[string]struct{}, len(c.Workflows))
	for i, wf := range c.Workflows {
		if strings.TrimSpace(wf.ID) == "" {
			return fmt.Errorf("workflows[%d]: id is required", i)
		}
		if _, dup := workflows[wf.ID]; dup {
			return fmt.Errorf("workflow %q declared more than once", wf.ID)
		}
		workflows[wf.ID] = struct{}{}

		switch wf.Kind {
		case WorkflowReply:
			if _, ok := agents[wf.Agent]; !ok {
				return fmt.Errorf("workflow %q: unknown agent %q", wf.ID, wf.Agent)
			}
			if !c.Mailbox.Has(wf.TargetEndpoint) {
				return fmt.Errorf("workflow %q: %w: %q", wf.ID, mailbox.ErrUnknownEndpoint, wf.TargetEndpoint)
			}
		case WorkflowArchive:
		case WorkflowTelegram:
			if len(wf.ChatIDs) == 0 {
				return fmt.Errorf("workflow %q: chat_ids is required", wf.ID)
			}
		default:
			return fmt.Errorf("workflow %q: unsupported kind %q", wf.ID, wf.Kind)
		}
	}

	return nil
}

// Agent returns the named agent configuration.
func (c *Config) Agent(id string) (AgentConfig, bool) {
	for _, agent := range c.Agents {
		if agent.ID == id {
			return agent, true
		}
	}

	return AgentConfig{}, false
}

// findConfigPath resolves the active config file location.
//
// Precedence is MAILROOM_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(EnvConfig)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", EnvConfig, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "mailroom.json"),
		filepath.Join(cwd, "mailroom.yaml"),
		filepath.Join(cwd, "config", "mailroom.json"),
		filepath.Join(cwd, "config", "mailroom.yaml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w (checked %s)", ErrNotFound, strings.Join(candidates, ", "))
}
