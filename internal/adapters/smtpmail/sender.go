package smtpmail

// Package smtpmail implements the outbound mail port with go-mail over
// implicit TLS, the way most providers expose authenticated submission.

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/draftmill/draftmill/internal/core"
)

const defaultPort = 465

// Config holds the SMTP account notices are sent from.
type Config struct {
	// Host is the SMTP server hostname.
	Host string
	// Port is the submission port. Defaults to 465 (SMTPS).
	Port int
	// Address is both the login and the From address of every notice.
	Address string
	// Password is the account password or app password.
	Password string
}

// Sender is the SMTP-backed core.MailSender implementation.
type Sender struct {
	client *mail.Client
	from   string
}

// NewSender creates a Sender from the given configuration.
func NewSender(cfg Config) (*Sender, error) {
	if cfg.Host == "" {
		return nil, errors.New("Host is required")
	}
	if cfg.Address == "" {
		return nil, errors.New("Address is required")
	}
	if cfg.Password == "" {
		return nil, errors.New("Password is required")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Address),
		mail.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &Sender{client: client, from: cfg.Address}, nil
}

// Send delivers one notice. HTML content goes out as the preferred part of
// a multipart/alternative message with the text as fallback.
func (s *Sender) Send(ctx context.Context, m core.OutboundMail) error {
	msg, err := s.compose(m)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *Sender) compose(m core.OutboundMail) (*mail.Msg, error) {
	if m.To == "" {
		return nil, errors.New("mail has no recipient")
	}
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Text)
	if m.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, m.HTML)
	}
	return msg, nil
}
