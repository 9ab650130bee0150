package channels

import (
	"context"
	"fmt"
	"strconv"

	"salonbook/internal/config"
	"salonbook/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// BotSender is the part of *tgbotapi.BotAPI the sender needs.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramSender struct {
	bot    BotSender
	logger *zerolog.Logger
}

// NewTelegramBot connects to the Bot API with the configured token.
func NewTelegramBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

func NewTelegramSender(bot BotSender, logger *zerolog.Logger) *TelegramSender {
	return &TelegramSender{bot: bot, logger: logger}
}

// Send posts the body to the chat id in msg.Recipient and returns the
// Telegram message id.
func (s *TelegramSender) Send(ctx context.Context, msg domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	chatID, err := strconv.ParseInt(msg.Recipient, 10, 64)
	if err != nil || chatID == 0 {
		return "", Permanent(fmt.Errorf("%w: invalid telegram chat id %q", domain.ErrDelivery, msg.Recipient))
	}

	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + "\n\n" + msg.Body
	}

	sent, err := s.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Telegram send failed")
		return "", fmt.Errorf("%w: telegram: %v", domain.ErrDelivery, err)
	}
	return strconv.Itoa(sent.MessageID), nil
}
