package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"mailroom/pkg/config"
)

const channelName = "telegram"

const (
	messagePreviewLimit = 240
	// Telegram rejects text messages longer than this many characters.
	maxMessageLength = 4096
)

// Notifier sends workflow notifications through the Telegram Bot API.
type Notifier struct {
	bot *telego.Bot
	log *slog.Logger
}

// NewNotifier validates the bot token and prepares a Bot API client.
func NewNotifier(cfg config.TelegramConfig, log *slog.Logger) (*Notifier, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram.token is required")
	}
	if log == nil {
		log = slog.Default()
	}

	var options []telego.BotOption
	if apiURL := strings.TrimSpace(cfg.APIURL); apiURL != "" {
		options = append(options, telego.WithAPIServer(apiURL))
	}

	bot, err := telego.NewBot(token, options...)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Notifier{
		bot: bot,
		log: log.With("component", "channel.telegram"),
	}, nil
}

func (n *Notifier) Name() string {
	return channelName
}

// Send posts text to one chat. Text over the Telegram limit is truncated.
func (n *Notifier) Send(ctx context.Context, chatID int64, text string) error {
	text = clampMessage(strings.TrimSpace(text))
	if text == "" {
		return errors.New("notification text is empty")
	}

	n.log.Info("Sending message", "chat_id", chatID, "content", previewText(text))
	if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return fmt.Errorf("send telegram message to %d: %w", chatID, err)
	}

	return nil
}

func clampMessage(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageLength {
		return text
	}

	runes := []rune(text)
	return string(runes[:maxMessageLength-3]) + "..."
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}
