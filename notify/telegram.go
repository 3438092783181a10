package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramProvider delivers alerts to a Telegram chat.
type TelegramProvider struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramProvider creates a provider posting to the given chat.
func NewTelegramProvider(token string, chatID int64) (*TelegramProvider, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramProvider{bot: bot, chatID: chatID}, nil
}

// Send posts the alert text as a chat message.
func (t *TelegramProvider) Send(_ context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
