package channels

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoRecipient means the client has no address for the channel.
var ErrNoRecipient = errors.New("no recipient for channel")

// PermanentError marks a delivery failure that will not succeed on retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the dispatcher fails the notification at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Recipient resolves the client's address for a channel.
func Recipient(client *models.Client, channel string) (string, error) {
	if client == nil {
		return "", ErrNoRecipient
	}
	switch channel {
	case models.ChannelTelegram:
		if client.TelegramChatID == 0 {
			return "", fmt.Errorf("client %d: %w %s", client.ID, ErrNoRecipient, channel)
		}
		return strconv.FormatInt(client.TelegramChatID, 10), nil
	case models.ChannelEmail:
		if client.Email == "" {
			return "", fmt.Errorf("client %d: %w %s", client.ID, ErrNoRecipient, channel)
		}
		return client.Email, nil
	case models.ChannelLog:
		return fmt.Sprintf("client:%d", client.ID), nil
	default:
		return "", fmt.Errorf("%w %q", ErrNoRecipient, channel)
	}
}

// Router sends each message through the sender registered for its channel.
type Router struct {
	senders map[string]domain.ChannelSender
}

func NewRouter() *Router {
	return &Router{senders: make(map[string]domain.ChannelSender)}
}

// Register binds a sender to a channel name. A nil sender is ignored.
func (r *Router) Register(channel string, sender domain.ChannelSender) {
	if sender == nil {
		return
	}
	r.senders[channel] = sender
}

func (r *Router) Has(channel string) bool {
	_, ok := r.senders[channel]
	return ok
}

func (r *Router) Send(ctx context.Context, msg domain.Message) (string, error) {
	sender, ok := r.senders[msg.Channel]
	if !ok {
		return "", Permanent(fmt.Errorf("%w: channel %q is not configured", domain.ErrDelivery, msg.Channel))
	}
	return sender.Send(ctx, msg)
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *zerolog.Logger
}

func NewLogSender(logger *zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg domain.Message) (string, error) {
	externalID := uuid.NewString()
	s.logger.Info().
		Int64("notification_id", msg.NotificationID).
		Str("recipient", msg.Recipient).
		Str("subject", msg.Subject).
		Str("body", msg.Body).
		Str("external_id", externalID).
		Msg("Notification delivered to log")
	return externalID, nil
}
