package channels

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"salonbook/internal/config"
	"salonbook/internal/domain"
	"salonbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBot struct {
	mock.Mock
}

func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

type mockMail struct {
	mock.Mock
}

func (m *mockMail) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	args := m.Called(ctx, email)
	resp, _ := args.Get(0).(*rest.Response)
	return resp, args.Error(1)
}

func nopLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestRecipient(t *testing.T) {
	client := &models.Client{ID: 4, Email: "anna@example.com", TelegramChatID: 12345}

	r, err := Recipient(client, models.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, "12345", r)

	r, err = Recipient(client, models.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "anna@example.com", r)

	r, err = Recipient(client, models.ChannelLog)
	require.NoError(t, err)
	assert.Equal(t, "client:4", r)

	_, err = Recipient(&models.Client{ID: 5}, models.ChannelEmail)
	assert.ErrorIs(t, err, ErrNoRecipient)
	_, err = Recipient(client, "fax")
	assert.ErrorIs(t, err, ErrNoRecipient)
	_, err = Recipient(nil, models.ChannelLog)
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestTelegramSender(t *testing.T) {
	bot := new(mockBot)
	bot.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 777 && msg.Text == "Reminder\n\nSee you tomorrow"
	})).Return(tgbotapi.Message{MessageID: 42}, nil).Once()

	s := NewTelegramSender(bot, nopLogger())
	id, err := s.Send(context.Background(), domain.Message{
		Channel:   models.ChannelTelegram,
		Recipient: "777",
		Subject:   "Reminder",
		Body:      "See you tomorrow",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	bot.AssertExpectations(t)
}

func TestTelegramSender_Errors(t *testing.T) {
	bot := new(mockBot)
	s := NewTelegramSender(bot, nopLogger())

	_, err := s.Send(context.Background(), domain.Message{Recipient: "not-a-number"})
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrDelivery)

	bot.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("timeout")).Once()
	_, err = s.Send(context.Background(), domain.Message{Recipient: "1", Body: "x"})
	assert.ErrorIs(t, err, domain.ErrDelivery)
	assert.False(t, IsPermanent(err))
}

func TestEmailSender(t *testing.T) {
	client := new(mockMail)
	client.On("SendWithContext", mock.Anything, mock.Anything).Return(&rest.Response{
		StatusCode: 202,
		Headers:    map[string][]string{"X-Message-Id": {"sg-1"}},
	}, nil).Once()

	s := NewEmailSenderWithClient(client, config.EmailConfig{FromEmail: "salon@example.com"}, nopLogger())
	id, err := s.Send(context.Background(), domain.Message{Recipient: "anna@example.com", Subject: "Hi", Body: "Body"})
	require.NoError(t, err)
	assert.Equal(t, "sg-1", id)

	sent := client.Calls[0].Arguments.Get(1).(*mail.SGMailV3)
	assert.Equal(t, "Hi", sent.Subject)
	assert.Equal(t, "salon@example.com", sent.From.Address)
}

func TestEmailSender_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{400, true},
		{401, true},
		{429, false},
		{503, false},
	}
	for _, tt := range tests {
		client := new(mockMail)
		client.On("SendWithContext", mock.Anything, mock.Anything).Return(&rest.Response{StatusCode: tt.status}, nil)
		s := NewEmailSenderWithClient(client, config.EmailConfig{FromEmail: "salon@example.com"}, nopLogger())

		_, err := s.Send(context.Background(), domain.Message{Recipient: "a@b.c"})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrDelivery)
		assert.Equal(t, tt.permanent, IsPermanent(err), "status %d", tt.status)
	}
}

func TestNewEmailSender_NoKey(t *testing.T) {
	assert.Nil(t, NewEmailSender(config.EmailConfig{}, nopLogger()))
}

func TestRouter(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := NewRouter()
	r.Register(models.ChannelLog, NewLogSender(&logger))
	r.Register(models.ChannelEmail, nil)
	assert.True(t, r.Has(models.ChannelLog))
	assert.False(t, r.Has(models.ChannelEmail))

	id, err := r.Send(context.Background(), domain.Message{Channel: models.ChannelLog, Recipient: "client:1", Body: "hello"})
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.Contains(t, buf.String(), "hello")

	_, err = r.Send(context.Background(), domain.Message{Channel: models.ChannelEmail})
	assert.True(t, IsPermanent(err))
}
