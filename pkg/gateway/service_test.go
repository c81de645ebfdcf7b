package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	core "charm.land/fantasy"
	"github.com/stretchr/testify/require"

	"mailroom/pkg/config"
	"mailroom/pkg/mailbox"
	"mailroom/pkg/provider"
	providertypes "mailroom/pkg/provider/types"
	"mailroom/pkg/router"
	"mailroom/pkg/status"
)

type fakeProvider struct {
	mu        sync.Mutex
	healthErr error
	prompts   []string
	reply     string
}

func (p *fakeProvider) Health(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthErr
}

func (p *fakeProvider) setHealth(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthErr = err
}

func (p *fakeProvider) CreateSession(context.Context, string) (string, error) {
	return "session-1", nil
}

func (p *fakeProvider) Prompt(_ context.Context, req providertypes.PromptRequest) (providertypes.PromptResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, req.Prompt)
	return providertypes.PromptResult{Text: p.reply}, nil
}

func (p *fakeProvider) promptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Mailbox.Root = filepath.Join(t.TempDir(), "mail")
	for i := range cfg.Mailbox.Endpoints {
		cfg.Mailbox.Endpoints[i].Watch = mailbox.WatchPolicy{Mode: mailbox.WatchPoll, IntervalMS: 25}
	}
	cfg.Workflows = []config.WorkflowConfig{
		{ID: "answer", Kind: config.WorkflowReply, Agent: "default", TargetEndpoint: "outbox"},
	}
	cfg.Routing.Routes = []router.Route{
		{Endpoint: "inbox", Type: "bug", Kind: router.KindWorkflow, Handler: "answer"},
	}
	cfg.Watcher = config.WatcherConfig{DebounceMS: 20, ForcePolling: true}
	require.NoError(t, cfg.Resolve())

	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, client *fakeProvider) (*Service, status.Store) {
	t.Helper()

	store, err := status.NewSQLiteStore(filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc, err := NewService(context.Background(), cfg, Options{
		Store: store,
		NewClient: func(*config.Config, config.AgentConfig, []core.AgentTool) (provider.Client, error) {
			return client, nil
		},
		Logger: slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	return svc, store
}

func getJSON(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "body: %s", rec.Body.String())
	}
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code
}

func TestStatusAPI(t *testing.T) {
	cfg := testConfig(t)
	svc, store := newTestService(t, cfg, &fakeProvider{})
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := status.NewRecord("a", "inbox", "a.md", now)
	done, err := done.Start()
	require.NoError(t, err)
	done, err = done.Complete("handled", now.Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, done))
	require.NoError(t, store.Upsert(ctx, status.NewRecord("inbox/b.md", "inbox", "b.md", now.Add(time.Minute))))

	h := svc.Handler()

	var all []status.Record
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/statuses", &all))
	require.Len(t, all, 2)
	require.Equal(t, "inbox/b.md", all[0].ID)

	var completed []status.Record
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/statuses?status=completed", &completed))
	require.Len(t, completed, 1)
	require.Equal(t, "handled", completed[0].Summary)

	var one status.Record
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/statuses/inbox/b.md", &one))
	require.Equal(t, status.Pending, one.Status)

	var apiErr errorResponse
	require.Equal(t, http.StatusNotFound, getJSON(t, h, "/api/statuses/missing", &apiErr))
	require.NotEmpty(t, apiErr.Error)
	require.Equal(t, http.StatusBadRequest, getJSON(t, h, "/api/statuses?status=lost", &apiErr))
	require.Equal(t, http.StatusBadRequest, getJSON(t, h, "/api/statuses?limit=-1", &apiErr))
}

func TestRouteAndAgentAPI(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg, &fakeProvider{})
	h := svc.Handler()

	var route routeResponse
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/routes/resolve?endpoint=inbox&type=bug", &route))
	require.Equal(t, routeResponse{Endpoint: "inbox", Type: "bug", Handler: "workflow:answer", Matched: true}, route)

	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/routes/resolve?endpoint=inbox&type=chat", &route))
	require.Equal(t, "agent:default", route.Handler)
	require.False(t, route.Matched)

	var apiErr errorResponse
	require.Equal(t, http.StatusNotFound, getJSON(t, h, "/api/routes/resolve?endpoint=nowhere", &apiErr))

	var table routingTableResponse
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/routes", &table))
	require.Equal(t, "agent:default", table.Default)
	require.Len(t, table.Routes, 1)
	require.Equal(t, "workflow:answer", table.Routes[0].Ref().String())

	var agents []map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/agents", &agents))
	require.Len(t, agents, 1)
	require.Equal(t, "default", agents[0]["id"])

	var names []string
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/handlers", &names))
	require.Equal(t, []string{"agent:default", "workflow:answer"}, names)
}

func TestReadinessFollowsProviderHealth(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeProvider{healthErr: errors.New("401 unauthorized")}
	svc, _ := newTestService(t, cfg, client)
	h := svc.Handler()

	var body statusResponse
	require.Equal(t, http.StatusOK, getJSON(t, h, "/healthz", &body))
	require.Equal(t, "ok", body.Status)

	svc.health.checkAll(context.Background())
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, h, "/readyz", &body))
	require.Equal(t, "not_ready", body.Status)
	require.False(t, body.Agents["default"].Healthy)
	require.Contains(t, body.Agents["default"].Error, "401")

	client.setHealth(nil)
	svc.health.checkAll(context.Background())
	require.True(t, svc.health.healthy())
	// The processor is not running outside Run.
	require.False(t, svc.Ready())
}

func TestNewServiceRejectsUnknownWorkflowAgent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflows = []config.WorkflowConfig{{ID: "answer", Kind: config.WorkflowReply, Agent: "ghost", TargetEndpoint: "outbox"}}

	store, err := status.NewSQLiteStore(filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = NewService(context.Background(), cfg, Options{
		Store: store,
		NewClient: func(*config.Config, config.AgentConfig, []core.AgentTool) (provider.Client, error) {
			return &fakeProvider{}, nil
		},
	})
	require.ErrorIs(t, err, router.ErrHandlerNotFound)
}
