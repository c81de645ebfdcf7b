package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// HandlerKind selects which flavor of responder handles a route.
type HandlerKind string

const (
	KindAgent    HandlerKind = "agent"
	KindWorkflow HandlerKind = "workflow"
)

// ErrHandlerNotFound is returned when a route names a handler that is not registered.
var ErrHandlerNotFound = errors.New("handler not found")

// Agent answers a prompt with free text.
type Agent interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(ctx context.Context, prompt string) (string, error)

func (f AgentFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// WorkflowInput identifies the routed message.
type WorkflowInput struct {
	Filename string `json:"filename"`
	Endpoint string `json:"endpoint"`
}

// WorkflowResult is what a workflow reports back. An empty Summary means the
// workflow had nothing to say.
type WorkflowResult struct {
	Summary string `json:"summary,omitempty"`
}

// Workflow runs a named multi-step job for one message.
type Workflow interface {
	Start(ctx context.Context, input WorkflowInput) (WorkflowResult, error)
}

// WorkflowFunc adapts a function to Workflow.
type WorkflowFunc func(ctx context.Context, input WorkflowInput) (WorkflowResult, error)

func (f WorkflowFunc) Start(ctx context.Context, input WorkflowInput) (WorkflowResult, error) {
	return f(ctx, input)
}

// HandlerRef names one handler.
type HandlerRef struct {
	Kind HandlerKind `json:"kind" yaml:"kind"`
	ID   string      `json:"id" yaml:"id"`
}

func (h HandlerRef) String() string {
	return string(h.Kind) + ":" + h.ID
}

// ParseHandlerRef parses "agent:name" or "workflow:name".
func ParseHandlerRef(value string) (HandlerRef, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(value), ":")
	ref := HandlerRef{Kind: HandlerKind(strings.TrimSpace(kind)), ID: strings.TrimSpace(id)}
	if !ok {
		return HandlerRef{}, fmt.Errorf("handler %q must look like kind:id", value)
	}
	if err := ref.validate(); err != nil {
		return HandlerRef{}, err
	}

	return ref, nil
}

func (h HandlerRef) validate() error {
	switch h.Kind {
	case KindAgent, KindWorkflow:
	default:
		return fmt.Errorf("invalid handler kind %q", h.Kind)
	}
	if strings.TrimSpace(h.ID) == "" {
		return errors.New("handler id is required")
	}

	return nil
}

// Handlers is the registry of live responders, keyed by kind and id.
type Handlers struct {
	mu        sync.RWMutex
	agents    map[string]Agent
	workflows map[string]Workflow
}

func NewHandlers() *Handlers {
	return &Handlers{
		agents:    make(map[string]Agent),
		workflows: make(map[string]Workflow),
	}
}

func (h *Handlers) RegisterAgent(id string, agent Agent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.agents[id] = agent
}

func (h *Handlers) RegisterWorkflow(id string, workflow Workflow) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workflows[id] = workflow
}

// Agent returns the agent registered under id.
func (h *Handlers) Agent(id string) (Agent, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	agent, ok := h.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: agent %q", ErrHandlerNotFound, id)
	}
	return agent, nil
}

// Workflow returns the workflow registered under id.
func (h *Handlers) Workflow(id string) (Workflow, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	workflow, ok := h.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %q", ErrHandlerNotFound, id)
	}
	return workflow, nil
}

// Names lists registered handlers as kind:id, sorted.
func (h *Handlers) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.agents)+len(h.workflows))
	for id := range h.agents {
		names = append(names, HandlerRef{Kind: KindAgent, ID: id}.String())
	}
	for id := range h.workflows {
		names = append(names, HandlerRef{Kind: KindWorkflow, ID: id}.String())
	}
	sort.Strings(names)

	return names
}
