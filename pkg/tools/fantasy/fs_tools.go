// Package fantasy exposes the mailbox message service as fantasy agent tools.
package fantasy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	core "charm.land/fantasy"

	"mailroom/pkg/mailbox"
	"mailroom/pkg/message"
	"mailroom/pkg/metrics"
	providertypes "mailroom/pkg/provider/types"
	fstools "mailroom/pkg/tools/fs"
)

type readMessageInput struct {
	Path string `json:"path" description:"Message file path relative to the mailbox root, e.g. inbox/bug.md."`
}

type listEndpointInput struct {
	Endpoint string `json:"endpoint" description:"Endpoint id as configured in the mailbox."`
}

type writeMessageInput struct {
	Endpoint string `json:"endpoint" description:"Endpoint id to write into. Must accept outgoing messages."`
	Body     string `json:"body" description:"Message body text."`
	ReplyTo  string `json:"reply_to,omitempty" description:"Id of the message this one answers."`
	Type     string `json:"type,omitempty" description:"Optional type tag used for routing."`
	Filename string `json:"filename,omitempty" description:"Optional plain file name. Defaults to <id>.<ext>."`
}

// BuildMailboxTools constructs the mailbox tools offered to tool-enabled agents.
func BuildMailboxTools(service *fstools.Service) []core.AgentTool {
	if service == nil {
		return nil
	}

	guard := service.Guard()

	return []core.AgentTool{
		core.NewAgentTool("read_message", "Read one message file from the mailbox, with its metadata.", func(ctx context.Context, input readMessageInput, _ core.ToolCall) (core.ToolResponse, error) {
			return runTool(ctx, "read_message", input, input.Path, func() (string, error) {
				result, err := service.ReadMessage(ctx, input.Path)
				if err != nil {
					return "", err
				}

				rel := guard.RelPath(result.Path)
				var b strings.Builder
				fmt.Fprintf(&b, "ok: read %d bytes from %s", result.Bytes, rel)
				if result.Endpoint != "" {
					fmt.Fprintf(&b, " (endpoint %s)", result.Endpoint)
				}
				if result.ParseError != "" {
					fmt.Fprintf(&b, "\nmetadata could not be parsed: %s", result.ParseError)
				}
				for _, key := range sortedKeys(result.Metadata) {
					fmt.Fprintf(&b, "\n%s: %v", key, result.Metadata[key])
				}
				b.WriteString("\n\n")
				b.WriteString(result.Body)
				return b.String(), nil
			})
		}),
		core.NewAgentTool("list_endpoint", "List the message files waiting in an endpoint.", func(ctx context.Context, input listEndpointInput, _ core.ToolCall) (core.ToolResponse, error) {
			return runTool(ctx, "list_endpoint", input, input.Endpoint, func() (string, error) {
				result, err := service.ListEndpoint(ctx, input.Endpoint)
				if err != nil {
					return "", err
				}

				var b strings.Builder
				fmt.Fprintf(&b, "ok: listed %d messages in %s", len(result.Entries), result.Endpoint)
				if result.Truncated {
					fmt.Fprintf(&b, " (truncated from %d)", result.Total)
				}
				for _, entry := range result.Entries {
					fmt.Fprintf(&b, "\n- %s\t%d\t%s", entry.Name, entry.Size, entry.ModTime.Format(time.RFC3339))
				}
				return b.String(), nil
			})
		}),
		core.NewAgentTool("write_message", "Write a new message into an outgoing endpoint.", func(ctx context.Context, input writeMessageInput, _ core.ToolCall) (core.ToolResponse, error) {
			return runTool(ctx, "write_message", input, input.Endpoint, func() (string, error) {
				metadata := message.Metadata{}
				if replyTo := strings.TrimSpace(input.ReplyTo); replyTo != "" {
					metadata[message.FieldReplyTo] = replyTo
				}
				if msgType := strings.TrimSpace(input.Type); msgType != "" {
					metadata[message.FieldType] = msgType
				}

				result, err := service.WriteMessage(ctx, input.Endpoint, input.Body, metadata, input.Filename)
				if err != nil {
					return "", err
				}

				return fmt.Sprintf("ok: wrote message %s (%d bytes) to %s", result.ID, result.BytesWritten, guard.RelPath(result.Path)), nil
			})
		}),
	}
}

// runTool wraps one tool execution with events, metrics and logging.
// Mailbox errors are returned to the model as error responses, never as
// fatal tool failures.
func runTool(ctx context.Context, name string, input any, target string, exec func() (string, error)) (core.ToolResponse, error) {
	start := time.Now()
	providertypes.EmitToolEvent(ctx, providertypes.ToolEvent{Kind: providertypes.ToolCallEvent, Tool: name, Payload: toolEventPayload(input)})

	text, err := exec()
	elapsed := time.Since(start)
	if err != nil {
		category := mailbox.CategoryFromError(err)
		logToolResult(name, target, false, elapsed, category)
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		providertypes.EmitToolEvent(ctx, providertypes.ToolEvent{Kind: providertypes.ToolResultEvent, Tool: name, Payload: err.Error(), DurationMs: elapsed.Milliseconds()})
		return toolErrorResponse(err), nil
	}

	logToolResult(name, target, true, elapsed, "")
	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	summary, _, _ := strings.Cut(text, "\n")
	providertypes.EmitToolEvent(ctx, providertypes.ToolEvent{Kind: providertypes.ToolResultEvent, Tool: name, Payload: summary, DurationMs: elapsed.Milliseconds()})
	return core.NewTextResponse(text), nil
}

func toolErrorResponse(err error) core.ToolResponse {
	if err == nil {
		return core.NewTextErrorResponse(mailbox.ErrorIO + ": unknown error")
	}

	category := mailbox.CategoryFromError(err)
	if category == "" {
		category = mailbox.ErrorIO
	}

	text := err.Error()
	if !strings.HasPrefix(text, category) && !strings.Contains(text, category+":") {
		text = category + ": " + text
	}

	return core.NewTextErrorResponse(text)
}

func logToolResult(toolName string, target string, success bool, duration time.Duration, errorCategory string) {
	attrs := []any{
		"component", "tools.mailbox",
		"tool", toolName,
		"target", strings.TrimSpace(target),
		"success", success,
		"duration_ms", duration.Milliseconds(),
	}
	if errorCategory != "" {
		attrs = append(attrs, "error_category", errorCategory)
	}

	slog.Default().Debug("Mailbox tool execution", attrs...)
}

func toolEventPayload(input any) string {
	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}

	return string(payload)
}

func sortedKeys(metadata message.Metadata) []string {
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}
