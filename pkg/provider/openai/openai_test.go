package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"mailroom/pkg/config"
	providertypes "mailroom/pkg/provider/types"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := New(config.OpenAIProviderConfig{}); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestResolveAPIKeyPrecedence(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")
	t.Setenv("TEST_OPENAI_API_KEY", "sk-test")

	cfg := config.OpenAIProviderConfig{APIKeyEnv: "TEST_OPENAI_API_KEY"}
	if got := ResolveAPIKey(cfg); got != "sk-test" {
		t.Fatalf("ResolveAPIKey = %q, want configured env", got)
	}

	t.Setenv("TEST_OPENAI_API_KEY", "")
	if got := ResolveAPIKey(cfg); got != "sk-default" {
		t.Fatalf("ResolveAPIKey = %q, want fallback", got)
	}

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if client == nil {
		t.Fatal("expected client")
	}
}

func TestPromptValidatesInputBeforeRequest(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	client, err := New(config.OpenAIProviderConfig{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	tests := []providertypes.PromptRequest{
		{Prompt: "hello", Model: "gpt-5.2"},
		{SessionID: "conv_1", Prompt: "  ", Model: "gpt-5.2"},
		{SessionID: "conv_1", Prompt: "hello", Model: "anthropic/claude"},
	}
	for _, req := range tests {
		if _, err := client.Prompt(context.Background(), req); err == nil {
			t.Fatalf("expected validation error for %#v", req)
		}
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain model", input: "gpt-5.2", want: "gpt-5.2"},
		{name: "openai prefix", input: "openai/gpt-5.2", want: "gpt-5.2"},
		{name: "other provider", input: "anthropic/claude", wantErr: true},
		{name: "empty model id", input: "openai/", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeModel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeModel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("NormalizeModel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestHealthListsModels(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	var authorized bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
			return
		}
		authorized = true
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-5.2","object":"model","created":1,"owned_by":"openai"}]}`))
	}))
	defer server.Close()

	client, err := New(config.OpenAIProviderConfig{BaseURL: server.URL, RequestTimeoutSeconds: 5})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health error: %v", err)
	}
	if !authorized {
		t.Fatal("expected an authorized models request")
	}

	t.Setenv("OPENAI_API_KEY", "sk-wrong")
	client, err = New(config.OpenAIProviderConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := client.Health(context.Background()); err == nil {
		t.Fatal("expected health error for rejected key")
	}
}
