package types

// PromptRequest is one prompt sent on an existing provider session.
type PromptRequest struct {
	SessionID string
	Prompt    string
	// Model may be "provider/model" or a bare model id.
	Model string
	// Agent names the calling mailroom agent; providers that understand
	// server-side agents forward it.
	Agent        string
	SystemPrompt string
}

// PromptResult is the normalized provider response payload.
type PromptResult struct {
	Text     string
	Metadata PromptMetadata
}

// PromptMetadata carries provider/model identity and optional usage accounting.
type PromptMetadata struct {
	Provider string
	Model    string
	Agent    string
	Usage    *TokenUsage
}

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	TotalTokens         int64
	ReasoningTokens     int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u == TokenUsage{}
}

// ToolEvent describes one tool call or tool result during a prompt.
type ToolEvent struct {
	Kind       ToolEventKind
	Tool       string
	Payload    string
	DurationMs int64
}
