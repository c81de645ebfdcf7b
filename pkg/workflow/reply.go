package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"mailroom/pkg/config"
	"mailroom/pkg/mailbox"
	"mailroom/pkg/message"
	"mailroom/pkg/router"
	"mailroom/pkg/writer"
)

// Reply asks an agent to answer a message and writes the answer into a
// target endpoint.
type Reply struct {
	id     string
	target string
	mb     mailbox.Config
	agent  router.Agent
	writer *writer.Writer
	log    *slog.Logger
}

func NewReply(cfg config.WorkflowConfig, mb mailbox.Config, agent router.Agent, w *writer.Writer, log *slog.Logger) (*Reply, error) {
	if agent == nil {
		return nil, errors.New("reply agent is required")
	}
	if w == nil {
		return nil, errors.New("message writer is required")
	}
	if !mb.Has(cfg.TargetEndpoint) {
		return nil, fmt.Errorf("%w: %q", mailbox.ErrUnknownEndpoint, cfg.TargetEndpoint)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Reply{
		id:     cfg.ID,
		target: cfg.TargetEndpoint,
		mb:     mb,
		agent:  agent,
		writer: w,
		log:    log.With("component", "workflow.reply", "workflow", cfg.ID),
	}, nil
}

func (r *Reply) Start(ctx context.Context, input router.WorkflowInput) (router.WorkflowResult, error) {
	msg, err := load(r.mb, input)
	if err != nil {
		return router.WorkflowResult{}, err
	}

	text, err := r.agent.Generate(ctx, replyPrompt(input, msg))
	if err != nil {
		return router.WorkflowResult{}, fmt.Errorf("generate reply: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return router.WorkflowResult{}, errors.New("agent returned an empty reply")
	}

	metadata := message.Metadata{
		message.FieldReplyTo: msg.id,
		message.FieldFrom:    r.id,
	}
	if msgType, ok := msg.metadata.String(message.FieldType); ok && msgType != "" {
		metadata[message.FieldType] = msgType
	}

	path, err := r.writer.Write(ctx, r.target, text, metadata, "")
	if err != nil {
		return router.WorkflowResult{}, fmt.Errorf("write reply: %w", err)
	}

	r.log.Info("Reply written", "reply_to", msg.id, "file", path)
	return router.WorkflowResult{Summary: fmt.Sprintf("Replied with %s in %s", filepath.Base(path), r.target)}, nil
}

func replyPrompt(input router.WorkflowInput, msg loaded) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a reply to the message %s received in endpoint %s.\n", input.Filename, input.Endpoint)
	if from, ok := msg.metadata.String(message.FieldFrom); ok && from != "" {
		fmt.Fprintf(&b, "It was sent by %s.\n", from)
	}
	b.WriteString("Answer with the reply body only.\n\n")
	b.WriteString(msg.body)

	return b.String()
}
