// Package router picks a handler for each message by endpoint, type tag and
// priority, and dispatches the message to it.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mailroom/pkg/mailbox"
)

// Wildcard matches any endpoint or type.
const Wildcard = "*"

// WorkflowFallbackSummary is reported when a workflow returns no summary.
const WorkflowFallbackSummary = "Processed via workflow"

// Route maps (endpoint, type) to a handler. Empty matchers mean Wildcard.
type Route struct {
	Endpoint string      `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Type     string      `json:"type,omitempty" yaml:"type,omitempty"`
	Kind     HandlerKind `json:"kind" yaml:"kind"`
	Handler  string      `json:"handler" yaml:"handler"`
	Priority int         `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Ref returns the handler named by the route.
func (r Route) Ref() HandlerRef {
	return HandlerRef{Kind: r.Kind, ID: r.Handler}
}

// Matches reports whether the route applies. An absent message type only
// matches a wildcard type matcher.
func (r Route) Matches(endpoint string, msgType string) bool {
	if r.Endpoint != Wildcard && r.Endpoint != endpoint {
		return false
	}
	if msgType == "" {
		msgType = Wildcard
	}
	return r.Type == Wildcard || r.Type == msgType
}

// Config is the static routing table.
type Config struct {
	Routes         []Route    `json:"routes,omitempty" yaml:"routes,omitempty"`
	DefaultHandler HandlerRef `json:"default_handler" yaml:"default_handler"`
}

// Result is the outcome of routing one message.
type Result struct {
	Handler HandlerRef
	Text    string
}

// Router resolves and dispatches routes. Its table is fixed at construction.
type Router struct {
	routes   []Route
	fallback HandlerRef
	mailbox  mailbox.Config
	handlers *Handlers
	log      *slog.Logger
}

// New validates the routing table against the mailbox and orders routes by
// priority, highest first. Equal priorities keep declaration order.
func New(cfg Config, mb mailbox.Config, handlers *Handlers, log *slog.Logger) (*Router, error) {
	if handlers == nil {
		handlers = NewHandlers()
	}
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.DefaultHandler.validate(); err != nil {
		return nil, fmt.Errorf("default handler: %w", err)
	}

	routes := make([]Route, 0, len(cfg.Routes))
	for i, route := range cfg.Routes {
		route.Endpoint = normalizeMatcher(route.Endpoint)
		route.Type = normalizeMatcher(route.Type)
		route.Handler = strings.TrimSpace(route.Handler)

		if err := route.Ref().validate(); err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		if route.Endpoint != Wildcard && !mb.Has(route.Endpoint) {
			return nil, fmt.Errorf("route %d: %w: %q", i, mailbox.ErrUnknownEndpoint, route.Endpoint)
		}
		routes = append(routes, route)
	}

	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].Priority > routes[j].Priority
	})

	return &Router{
		routes:   routes,
		fallback: cfg.DefaultHandler,
		mailbox:  mb,
		handlers: handlers,
		log:      log.With("component", "router"),
	}, nil
}

// Routes returns the routing table in evaluation order.
func (r *Router) Routes() []Route {
	return append([]Route(nil), r.routes...)
}

// DefaultHandler returns the handler used when no route matches.
func (r *Router) DefaultHandler() HandlerRef {
	return r.fallback
}

// FindRoute returns the first route in priority order that matches. Priority
// beats specificity: a high-priority wildcard outranks a low-priority exact match.
func (r *Router) FindRoute(endpoint string, msgType string) (Route, bool) {
	for _, route := range r.routes {
		if route.Matches(endpoint, msgType) {
			return route, true
		}
	}
	return Route{}, false
}

// Resolve returns the handler a message would be dispatched to.
func (r *Router) Resolve(endpoint string, msgType string) (HandlerRef, bool) {
	if route, ok := r.FindRoute(endpoint, msgType); ok {
		return route.Ref(), true
	}
	return r.fallback, false
}

// RouteMessage dispatches a message to its handler and returns the handler's
// text. It fails for unknown endpoints, unregistered handlers and responder
// errors.
func (r *Router) RouteMessage(ctx context.Context, filename string, endpoint string, msgType string) (Result, error) {
	ep, err := r.mailbox.Endpoint(endpoint)
	if err != nil {
		return Result{}, err
	}

	ref, matched := r.Resolve(endpoint, msgType)
	r.log.Debug("Route resolved", "file", filename, "endpoint", endpoint, "type", msgType, "handler", ref.String(), "matched", matched)

	switch ref.Kind {
	case KindAgent:
		agent, err := r.handlers.Agent(ref.ID)
		if err != nil {
			return Result{Handler: ref}, err
		}

		path := filepath.Join(r.mailbox.Dir(ep), filename)
		content, err := os.ReadFile(path)
		if err != nil {
			return Result{Handler: ref}, mailbox.NormalizeIOError(err, "read routed message")
		}

		text, err := agent.Generate(ctx, buildPrompt(filename, endpoint, msgType, path, string(content)))
		if err != nil {
			return Result{Handler: ref}, fmt.Errorf("agent %q: %w", ref.ID, err)
		}
		return Result{Handler: ref, Text: text}, nil

	case KindWorkflow:
		workflow, err := r.handlers.Workflow(ref.ID)
		if err != nil {
			return Result{Handler: ref}, err
		}

		out, err := workflow.Start(ctx, WorkflowInput{Filename: filename, Endpoint: endpoint})
		if err != nil {
			return Result{Handler: ref}, fmt.Errorf("workflow %q: %w", ref.ID, err)
		}
		summary := strings.TrimSpace(out.Summary)
		if summary == "" {
			summary = WorkflowFallbackSummary
		}
		return Result{Handler: ref, Text: summary}, nil
	}

	return Result{Handler: ref}, fmt.Errorf("invalid handler kind %q", ref.Kind)
}

func normalizeMatcher(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return Wildcard
	}
	return value
}

func buildPrompt(filename string, endpoint string, msgType string, path string, content string) string {
	if msgType == "" {
		msgType = "(none)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A new message arrived in the mailbox.\n\n")
	fmt.Fprintf(&b, "File: %s\nEndpoint: %s\nType: %s\nPath: %s\n\n", filename, endpoint, msgType, path)
	b.WriteString("Message file contents:\n\n")
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\nHandle the message and reply with a short result.")

	return b.String()
}
