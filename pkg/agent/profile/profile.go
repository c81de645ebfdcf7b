// Package profile renders the built-in system prompts of mailroom agents.
package profile

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"mailroom/pkg/config"
	"mailroom/pkg/mailbox"
)

//go:embed templates/*.md
var templatesFS embed.FS

var templates = template.Must(
	template.New("profiles").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(templatesFS, "templates/*.md"),
)

type profileData struct {
	Agent     string
	Endpoints []mailbox.Endpoint
	Outgoing  []string
}

// ResolveSystemProfile returns the system prompt for an agent. A configured
// system_prompt is used verbatim. Otherwise the built-in template is rendered
// against the mailbox; opencode agents get none because the server carries
// its own agent prompts.
func ResolveSystemProfile(agent config.AgentConfig, mb mailbox.Config) (string, error) {
	if custom := strings.TrimSpace(agent.SystemPrompt); custom != "" {
		return custom, nil
	}

	name := templateName(agent)
	if name == "" {
		return "", nil
	}

	data := profileData{Agent: agent.ID, Endpoints: mb.Endpoints}
	for _, endpoint := range mb.Endpoints {
		if endpoint.Direction != mailbox.DirectionInbox {
			data.Outgoing = append(data.Outgoing, endpoint.ID)
		}
	}

	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("render %s profile: %w", name, err)
	}

	return strings.TrimSpace(b.String()), nil
}

func templateName(agent config.AgentConfig) string {
	switch {
	case strings.EqualFold(strings.TrimSpace(agent.Provider), config.ProviderOpenCode):
		return ""
	case agent.Tools:
		return "tools.md"
	default:
		return "default.md"
	}
}
