package mailbox

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"mailroom/pkg/message"
)

// Direction describes how an endpoint participates in the mailbox.
type Direction string

const (
	DirectionInbox         Direction = "inbox"
	DirectionOutbox        Direction = "outbox"
	DirectionBidirectional Direction = "bidirectional"
)

// WatchMode selects how the watcher observes an endpoint directory.
type WatchMode string

const (
	WatchNative WatchMode = "native"
	WatchPoll   WatchMode = "poll"
)

const (
	defaultPattern      = "*.md"
	defaultExtension    = "md"
	defaultPollInterval = time.Second
)

// ErrUnknownEndpoint is returned when an endpoint id is not configured.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// WatchPolicy controls the watch backend of one endpoint.
type WatchPolicy struct {
	Mode       WatchMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	IntervalMS int       `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
}

// Endpoint is one directionally typed folder of the mailbox.
type Endpoint struct {
	ID        string              `json:"id" yaml:"id"`
	Path      string              `json:"path" yaml:"path"`
	Pattern   string              `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Direction Direction           `json:"direction" yaml:"direction"`
	Fields    []message.FieldSpec `json:"fields,omitempty" yaml:"fields,omitempty"`
	Watch     WatchPolicy         `json:"watch,omitempty" yaml:"watch,omitempty"`
}

// Config is the mailbox root plus its endpoints. It is built once at startup
// and treated as read-only afterwards.
type Config struct {
	Root          string              `json:"root,omitempty" yaml:"root,omitempty"`
	DefaultFields []message.FieldSpec `json:"default_fields,omitempty" yaml:"default_fields,omitempty"`
	Endpoints     []Endpoint          `json:"endpoints" yaml:"endpoints"`
}

// DefaultFields returns the mailbox-wide metadata fields applied to every endpoint.
func DefaultFields() []message.FieldSpec {
	return []message.FieldSpec{
		{Name: message.FieldID, Type: message.TypeString, Required: true},
		{Name: message.FieldTimestamp, Type: message.TypeString, Required: true},
		{Name: message.FieldFrom, Type: message.TypeString},
		{Name: message.FieldReplyTo, Type: message.TypeString},
	}
}

// Validate checks endpoint identity, direction, mode and pattern syntax.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("mailbox root is required")
	}
	if !filepath.IsAbs(c.Root) {
		return fmt.Errorf("mailbox root %q must be absolute", c.Root)
	}

	seen := make(map[string]struct{}, len(c.Endpoints))
	for _, endpoint := range c.Endpoints {
		id := strings.TrimSpace(endpoint.ID)
		if id == "" {
			return errors.New("endpoint id is required")
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("endpoint %q is declared more than once", id)
		}
		seen[id] = struct{}{}

		switch endpoint.Direction {
		case DirectionInbox, DirectionOutbox, DirectionBidirectional:
		default:
			return fmt.Errorf("endpoint %q has invalid direction %q", id, endpoint.Direction)
		}

		switch endpoint.Watch.Mode {
		case "", WatchNative, WatchPoll:
		default:
			return fmt.Errorf("endpoint %q has invalid watch mode %q", id, endpoint.Watch.Mode)
		}

		if _, err := path.Match(endpoint.pattern(), "probe"); err != nil {
			return fmt.Errorf("endpoint %q has invalid pattern %q: %w", id, endpoint.Pattern, err)
		}

		if strings.TrimSpace(endpoint.Path) == "" {
			return fmt.Errorf("endpoint %q path is required", id)
		}
		if filepath.IsAbs(endpoint.Path) {
			return fmt.Errorf("endpoint %q path must be relative to the mailbox root", id)
		}
		if rel := filepath.Clean(endpoint.Path); rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("endpoint %q path escapes the mailbox root", id)
		}
	}

	return nil
}

// Endpoint looks up an endpoint by id.
func (c Config) Endpoint(id string) (Endpoint, error) {
	id = strings.TrimSpace(id)
	for _, endpoint := range c.Endpoints {
		if endpoint.ID == id {
			return endpoint, nil
		}
	}

	return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, id)
}

// Has reports whether an endpoint id is configured.
func (c Config) Has(id string) bool {
	_, err := c.Endpoint(id)
	return err == nil
}

// Inbound returns the endpoints the watcher observes (inbox and bidirectional),
// in declaration order.
func (c Config) Inbound() []Endpoint {
	out := make([]Endpoint, 0, len(c.Endpoints))
	for _, endpoint := range c.Endpoints {
		if endpoint.Inbound() {
			out = append(out, endpoint)
		}
	}

	return out
}

// InboundOnly returns a copy of the configuration restricted to inbound endpoints.
func (c Config) InboundOnly() Config {
	restricted := c
	restricted.DefaultFields = append([]message.FieldSpec(nil), c.DefaultFields...)
	restricted.Endpoints = c.Inbound()
	return restricted
}

// Dir returns the absolute directory of an endpoint.
func (c Config) Dir(endpoint Endpoint) string {
	return filepath.Clean(filepath.Join(c.Root, endpoint.Path))
}

// RequiredFields returns the mailbox defaults merged with the endpoint's own fields.
func (c Config) RequiredFields(endpoint Endpoint) []message.FieldSpec {
	return message.MergeFieldSpecs(c.DefaultFields, endpoint.Fields)
}

// Inbound reports whether the endpoint receives messages.
func (e Endpoint) Inbound() bool {
	return e.Direction == DirectionInbox || e.Direction == DirectionBidirectional
}

// Matches reports whether a bare file name matches the endpoint pattern.
func (e Endpoint) Matches(filename string) bool {
	if filename == "" || strings.HasPrefix(filename, ".") {
		return false
	}

	ok, err := path.Match(e.pattern(), filename)
	return err == nil && ok
}

// Extension returns the file extension used for generated file names,
// derived from a "*.ext" pattern.
func (e Endpoint) Extension() string {
	pattern := e.pattern()
	if strings.HasPrefix(pattern, "*.") {
		ext := strings.TrimPrefix(pattern, "*.")
		if ext != "" && !strings.ContainsAny(ext, "*?[]{}") {
			return ext
		}
	}

	return defaultExtension
}

// Mode returns the declared watch mode, defaulting to native events.
func (e Endpoint) Mode() WatchMode {
	if e.Watch.Mode == "" {
		return WatchNative
	}

	return e.Watch.Mode
}

// PollInterval returns the declared poll interval, defaulting to one second.
func (e Endpoint) PollInterval() time.Duration {
	if e.Watch.IntervalMS <= 0 {
		return defaultPollInterval
	}

	return time.Duration(e.Watch.IntervalMS) * time.Millisecond
}

func (e Endpoint) pattern() string {
	pattern := strings.TrimSpace(e.Pattern)
	if pattern == "" {
		return defaultPattern
	}

	return pattern
}
