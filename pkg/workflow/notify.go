package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mailroom/pkg/channel"
	"mailroom/pkg/config"
	"mailroom/pkg/mailbox"
	"mailroom/pkg/router"
)

// Notify forwards message bodies to a fixed set of chats.
type Notify struct {
	chatIDs []int64
	mb      mailbox.Config
	sender  channel.Sender
	log     *slog.Logger
}

func NewNotify(cfg config.WorkflowConfig, mb mailbox.Config, sender channel.Sender, log *slog.Logger) (*Notify, error) {
	if sender == nil {
		return nil, errors.New("notification sender is required")
	}
	if len(cfg.ChatIDs) == 0 {
		return nil, errors.New("at least one chat id is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Notify{
		chatIDs: append([]int64(nil), cfg.ChatIDs...),
		mb:      mb,
		sender:  sender,
		log:     log.With("component", "workflow.notify", "workflow", cfg.ID, "channel", sender.Name()),
	}, nil
}

// Start sends the message to every chat. It fails only when no chat received
// it.
func (n *Notify) Start(ctx context.Context, input router.WorkflowInput) (router.WorkflowResult, error) {
	msg, err := load(n.mb, input)
	if err != nil {
		return router.WorkflowResult{}, err
	}

	text := fmt.Sprintf("%s/%s\n\n%s", input.Endpoint, input.Filename, msg.body)

	delivered := 0
	var errs []error
	for _, chatID := range n.chatIDs {
		if err := n.sender.Send(ctx, chatID, text); err != nil {
			n.log.Warn("Notification failed", "chat_id", chatID, "error", err)
			errs = append(errs, err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return router.WorkflowResult{}, fmt.Errorf("notify %s: %w", n.sender.Name(), errors.Join(errs...))
	}

	return router.WorkflowResult{
		Summary: fmt.Sprintf("Notified %d of %d chat(s) via %s", delivered, len(n.chatIDs), n.sender.Name()),
	}, nil
}
