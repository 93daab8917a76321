// ABOUTME: Outbound notification client backed by go-telegram-bot-api
// ABOUTME: Sends plain text messages to a chat; callers treat delivery as best effort

package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier sends a text message to a chat.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// sender is the part of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotNotifier delivers messages through the Telegram Bot API.
type BotNotifier struct {
	api    sender
	logger *slog.Logger
}

// NewBotNotifier authenticates token against the Bot API. An empty endpoint
// uses the public api.telegram.org endpoint; otherwise it must be a
// tgbotapi-style format string such as "http://host/bot%s/%s".
func NewBotNotifier(token, endpoint string, logger *slog.Logger) (*BotNotifier, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: 15 * time.Second}

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	logger.Info("telegram bot authorized", "username", api.Self.UserName)

	return &BotNotifier{api: api, logger: logger}, nil
}

// SendMessage sends text to chatID. The Bot API client has no context
// support, so ctx is only checked before the call.
func (n *BotNotifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.logger.Debug("sending message", "chat_id", chatID)
	msg, err := n.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return fmt.Errorf("sending message to chat %d: %w", chatID, err)
	}
	n.logger.Debug("message sent", "chat_id", chatID, "message_id", msg.MessageID)
	return nil
}
