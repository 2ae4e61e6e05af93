// Package notify delivers portal mail over SMTP.
package notify

import (
	"context"
	"strings"
	"sync"

	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-errors"
	"gopkg.in/gomail.v2"
)

// SMTPConfig holds the SMTP settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender is the part of gomail.Dialer used by Mailer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer is an alumni.Mailer sending plain text mail.
type Mailer struct {
	from   string
	sender Sender
}

var _ alumni.Mailer = (*Mailer)(nil)

// NewMailer returns a Mailer dialing cfg.Host for every message.
func NewMailer(cfg SMTPConfig) *Mailer {
	return &Mailer{
		from:   cfg.From,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// NewMailerWithSender is NewMailer with an explicit sender.
func NewMailerWithSender(from string, sender Sender) *Mailer {
	return &Mailer{from: from, sender: sender}
}

// Send implements alumni.Mailer.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("mail recipient is required", errors.CategoryValidation).
			WithTextCode("MAIL_RECIPIENT_REQUIRED")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.sender.DialAndSend(msg); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to send mail").
			WithMetadata(map[string]any{"to": to, "subject": subject})
	}
	return nil
}

// Outbox is an alumni.Mailer that keeps messages in memory. The CLI uses it
// when no SMTP host is configured.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
	logger   alumni.Logger
}

// Message is a captured mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

var _ alumni.Mailer = (*Outbox)(nil)

// NewOutbox returns an empty Outbox. logger may be nil.
func NewOutbox(logger alumni.Logger) *Outbox {
	return &Outbox{logger: logger}
}

// Send implements alumni.Mailer.
func (o *Outbox) Send(_ context.Context, to, subject, body string) error {
	o.mu.Lock()
	o.messages = append(o.messages, Message{To: to, Subject: subject, Body: body})
	o.mu.Unlock()

	if o.logger != nil {
		o.logger.Info("mail captured", "to", to, "subject", subject)
	}
	return nil
}

// Messages returns a copy of the captured mail.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}
