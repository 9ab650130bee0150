package channels

import (
	"context"
	"fmt"
	"net/http"

	"salonbook/internal/config"
	"salonbook/internal/domain"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// MailClient is satisfied by *sendgrid.Client.
type MailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailSender delivers messages through the SendGrid v3 API.
type EmailSender struct {
	client    MailClient
	fromEmail string
	fromName  string
	logger    *zerolog.Logger
}

// NewEmailSender returns nil when no API key is configured.
func NewEmailSender(cfg config.EmailConfig, logger *zerolog.Logger) *EmailSender {
	if cfg.SendGridAPIKey == "" {
		return nil
	}
	return NewEmailSenderWithClient(sendgrid.NewSendClient(cfg.SendGridAPIKey), cfg, logger)
}

func NewEmailSenderWithClient(client MailClient, cfg config.EmailConfig, logger *zerolog.Logger) *EmailSender {
	fromName := cfg.FromName
	if fromName == "" {
		fromName = "Salon"
	}
	return &EmailSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  fromName,
		logger:    logger,
	}
}

// Send returns the X-Message-Id header as the external id.
// 4xx responses other than 429 are permanent.
func (s *EmailSender) Send(ctx context.Context, msg domain.Message) (string, error) {
	if msg.Recipient == "" {
		return "", Permanent(fmt.Errorf("%w: empty email recipient", domain.ErrDelivery))
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", msg.Recipient)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.Body)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error().Err(err).Str("to", msg.Recipient).Msg("SendGrid send failed")
		return "", fmt.Errorf("%w: sendgrid: %v", domain.ErrDelivery, err)
	}

	if response.StatusCode >= 400 {
		s.logger.Error().
			Int("status", response.StatusCode).
			Str("body", response.Body).
			Str("to", msg.Recipient).
			Msg("SendGrid returned error status")
		statusErr := fmt.Errorf("%w: sendgrid returned status %d", domain.ErrDelivery, response.StatusCode)
		if response.StatusCode < 500 && response.StatusCode != http.StatusTooManyRequests {
			return "", Permanent(statusErr)
		}
		return "", statusErr
	}

	externalID := ""
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		externalID = ids[0]
	}
	s.logger.Debug().Str("to", msg.Recipient).Int("status", response.StatusCode).Msg("Email sent")
	return externalID, nil
}
