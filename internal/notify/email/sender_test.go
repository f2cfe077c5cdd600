package email

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchover/watchover/internal/domain"
	"github.com/watchover/watchover/internal/notify"
)

func TestNewSenderValidation(t *testing.T) {
	_, err := NewSender(Config{Enabled: true})
	require.Error(t, err)

	_, err = NewSender(Config{Enabled: true, SMTPHost: "smtp.example.com"})
	require.Error(t, err)

	s, err := NewSender(Config{
		Enabled:     true,
		SMTPHost:    "smtp.example.com",
		FromAddress: "watchover@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelTypeEmail, s.Type())
}

func TestNewSenderDefaultsPort(t *testing.T) {
	s, err := NewSender(Config{
		Enabled:     true,
		SMTPHost:    "smtp.example.com",
		FromAddress: "watchover@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 587, s.config.SMTPPort)
}

func TestSendDisabledIsNoOp(t *testing.T) {
	s, err := NewSender(Config{Enabled: false})
	require.NoError(t, err)

	err = s.Send(context.Background(), notify.Notification{To: "a@example.com"})
	require.NoError(t, err)
}

func TestBuildMessage(t *testing.T) {
	s, err := NewSender(Config{
		Enabled:     true,
		SMTPHost:    "smtp.example.com",
		FromAddress: "Watchover <watchover@example.com>",
	})
	require.NoError(t, err)

	msg := string(s.buildMessage("a@example.com", "[P1] api is down", "api is down"))

	assert.Contains(t, msg, "From: Watchover <watchover@example.com>\r\n")
	assert.Contains(t, msg, "To: a@example.com\r\n")
	assert.Contains(t, msg, "Subject: [P1] api is down\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=\"utf-8\"\r\n")
	assert.Contains(t, msg, "\r\n\r\napi is down")
}

func TestExtractEmail(t *testing.T) {
	assert.Equal(t, "a@example.com", extractEmail("Name <a@example.com>"))
	assert.Equal(t, "a@example.com", extractEmail("a@example.com"))
	assert.Equal(t, "broken <a@example.com", extractEmail("broken <a@example.com"))
}

func TestClassify(t *testing.T) {
	s, err := NewSender(Config{})
	require.NoError(t, err)

	// 4xx SMTP codes are temporary
	err = s.classify(errors.New("mail from: 451 local error in processing"))
	assert.True(t, notify.IsRetryable(err))

	// 5xx SMTP codes are permanent
	err = s.classify(errors.New("rcpt to: 550 no such user"))
	assert.False(t, notify.IsRetryable(err))
}
