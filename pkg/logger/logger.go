// Package logger builds the process slog logger from configuration.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strconv"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"mailroom/pkg/config"
)

const (
	EnvLevel      = "MAILROOM_LOG_LEVEL"
	EnvFormat     = "MAILROOM_LOG_FORMAT"
	EnvAddSource  = "MAILROOM_LOG_ADD_SOURCE"
	EnvComponents = "MAILROOM_LOG_COMPONENTS"

	formatText = "text"
	formatJSON = "json"
)

type options struct {
	format     string
	level      slog.Level
	addSource  bool
	components map[string]slog.Level
}

// New builds the process logger writing to stderr. MAILROOM_LOG_* variables
// take precedence over cfg.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	opts, err := resolveOptions(cfg)
	if err != nil {
		return nil, err
	}

	// The sink accepts everything any component may emit; componentLevels
	// does the per-component filtering.
	floor := opts.level
	for _, level := range opts.components {
		floor = min(floor, level)
	}

	var sink slog.Handler
	switch opts.format {
	case formatJSON:
		sink = newJSONHandler(w, floor, opts.addSource)
	default:
		sink = charmLog.NewWithOptions(w, charmLog.Options{
			Level:           charmLevel(floor),
			ReportTimestamp: true,
			ReportCaller:    opts.addSource,
		})
	}

	if len(opts.components) == 0 {
		return slog.New(sink), nil
	}
	return slog.New(newComponentLevels(sink, opts.level, opts.components)), nil
}

func resolveOptions(cfg config.LoggingConfig) (options, error) {
	opts := options{format: formatText, addSource: cfg.AddSource}

	if format := firstSet(os.Getenv(EnvFormat), cfg.Format); format != "" {
		if format != formatText && format != formatJSON {
			return options{}, fmt.Errorf("unsupported log format %q", format)
		}
		opts.format = format
	}

	level, err := parseLevel(firstSet(os.Getenv(EnvLevel), cfg.Level))
	if err != nil {
		return options{}, err
	}
	opts.level = level

	if raw := strings.TrimSpace(os.Getenv(EnvAddSource)); raw != "" {
		opts.addSource, err = strconv.ParseBool(raw)
		if err != nil {
			return options{}, fmt.Errorf("parse %s: %w", EnvAddSource, err)
		}
	}

	components := maps.Clone(cfg.Components)
	if raw := strings.TrimSpace(os.Getenv(EnvComponents)); raw != "" {
		components, err = parseComponentList(raw)
		if err != nil {
			return options{}, err
		}
	}
	for component, text := range components {
		level, err := parseLevel(strings.ToLower(strings.TrimSpace(text)))
		if err != nil {
			return options{}, fmt.Errorf("component %q: %w", component, err)
		}
		if opts.components == nil {
			opts.components = make(map[string]slog.Level, len(components))
		}
		opts.components[strings.TrimSpace(component)] = level
	}

	return opts, nil
}

// parseComponentList reads "watcher=debug,status.sqlite=warn".
func parseComponentList(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		component, level, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(component) == "" {
			return nil, fmt.Errorf("parse %s: want component=level, got %q", EnvComponents, item)
		}
		out[strings.TrimSpace(component)] = level
	}
	return out, nil
}

func firstSet(values ...string) string {
	for _, value := range values {
		if value = strings.ToLower(strings.TrimSpace(value)); value != "" {
			return value
		}
	}
	return ""
}

func parseLevel(text string) (slog.Level, error) {
	switch text {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unsupported log level %q", text)
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	}
	return charmLog.ErrorLevel
}
