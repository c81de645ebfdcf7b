// Package workflow implements the named workflow responders the router can
// dispatch messages to.
package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mailroom/pkg/channel"
	"mailroom/pkg/channel/telegram"
	"mailroom/pkg/config"
	"mailroom/pkg/mailbox"
	"mailroom/pkg/message"
	"mailroom/pkg/router"
	"mailroom/pkg/writer"
)

// SenderFactory builds the notification transport for telegram workflows.
type SenderFactory func(cfg config.TelegramConfig, log *slog.Logger) (channel.Sender, error)

// Deps carries the shared services workflows are built on.
type Deps struct {
	Writer    *writer.Writer
	NewSender SenderFactory
	Logger    *slog.Logger
}

// Register builds every configured workflow and registers it in handlers.
// Agents referenced by reply workflows must already be registered.
func Register(handlers *router.Handlers, cfg *config.Config, deps Deps) error {
	if handlers == nil || cfg == nil {
		return errors.New("handlers and config are required")
	}

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	newSender := deps.NewSender
	if newSender == nil {
		newSender = func(tc config.TelegramConfig, l *slog.Logger) (channel.Sender, error) {
			return telegram.NewNotifier(tc, l)
		}
	}

	var sender channel.Sender
	for _, wf := range cfg.Workflows {
		var (
			built router.Workflow
			err   error
		)

		switch wf.Kind {
		case config.WorkflowReply:
			var agent router.Agent
			agent, err = handlers.Agent(wf.Agent)
			if err == nil {
				built, err = NewReply(wf, cfg.Mailbox, agent, deps.Writer, log)
			}
		case config.WorkflowArchive:
			built = NewArchive(wf, cfg.Mailbox, log)
		case config.WorkflowTelegram:
			if sender == nil {
				sender, err = newSender(cfg.Telegram, log)
			}
			if err == nil {
				built, err = NewNotify(wf, cfg.Mailbox, sender, log)
			}
		default:
			err = fmt.Errorf("unsupported kind %q", wf.Kind)
		}
		if err != nil {
			return fmt.Errorf("workflow %q: %w", wf.ID, err)
		}

		handlers.RegisterWorkflow(wf.ID, built)
	}

	return nil
}

// loaded is a routed message read back from its endpoint directory.
type loaded struct {
	path     string
	id       string
	metadata message.Metadata
	body     string
}

func load(mb mailbox.Config, input router.WorkflowInput) (loaded, error) {
	endpoint, err := mb.Endpoint(input.Endpoint)
	if err != nil {
		return loaded{}, err
	}
	if filepath.Base(input.Filename) != input.Filename || strings.TrimSpace(input.Filename) == "" {
		return loaded{}, mailbox.NewError(mailbox.ErrorInvalidPath, fmt.Sprintf("filename %q must be a plain file name", input.Filename))
	}

	path := filepath.Join(mb.Dir(endpoint), input.Filename)
	content, err := os.ReadFile(path)
	if err != nil {
		return loaded{}, mailbox.NormalizeIOError(err, "read routed message")
	}

	doc, err := message.Parse(string(content))
	if err != nil {
		return loaded{}, fmt.Errorf("parse %s: %w", input.Filename, err)
	}

	return loaded{
		path:     path,
		id:       message.ID(doc.Metadata, mb.Root, path),
		metadata: doc.Metadata,
		body:     doc.Body,
	}, nil
}
