package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Email is one outgoing plain text message.
type Email struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// Mailer delivers e-mail.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// NewMailer returns a SendGrid mailer when apiKey is set, otherwise a mailer
// that only logs.
func NewMailer(apiKey, from, fromName string, logger *slog.Logger) Mailer {
	if apiKey == "" {
		return &LogMailer{Logger: logger}
	}
	return NewSendGridMailer(apiKey, from, fromName)
}

// SendGridMailer sends through the SendGrid v3 API.
type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendGridMailer constructs a SendGridMailer.
func NewSendGridMailer(apiKey, from, fromName string) *SendGridMailer {
	return &SendGridMailer{client: sendgrid.NewSendClient(apiKey), from: mail.NewEmail(fromName, from)}
}

// Send delivers email.
func (m *SendGridMailer) Send(ctx context.Context, email Email) error {
	msg := mail.NewSingleEmail(m.from, email.Subject, mail.NewEmail(email.ToName, email.To), email.Body, "")
	resp, err := m.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("jobs: sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("jobs: sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send logs email.
func (m *LogMailer) Send(ctx context.Context, email Email) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail not sent, no provider configured",
		slog.String("to", email.To),
		slog.String("subject", email.Subject))
	return nil
}
