package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"
)

var dialAndSend = func(ctx context.Context, c *gomail.Client, msgs ...*gomail.Msg) error {
	return c.DialAndSendWithContext(ctx, msgs...)
}

// SMTPConfig describes the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

// SMTPSender sends HTML mail through an SMTP relay.
type SMTPSender struct {
	cfg       SMTPConfig
	templates *Templates
}

func NewSMTPSender(cfg SMTPConfig, t *Templates) *SMTPSender {
	return &SMTPSender{cfg: cfg, templates: t}
}

func (s *SMTPSender) SendConfirmation(ctx context.Context, m Message) error {
	body, err := s.templates.RenderConfirmation(m)
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}
	return s.send(ctx, m.Email, "Confirm your email", body)
}

func (s *SMTPSender) SendPasswordReset(ctx context.Context, m Message) error {
	body, err := s.templates.RenderPasswordReset(m)
	if err != nil {
		return fmt.Errorf("render password reset: %w", err)
	}
	return s.send(ctx, m.Email, "Reset your password", body)
}

func (s *SMTPSender) send(ctx context.Context, to, subject, body string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, body)

	client, err := gomail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := dialAndSend(ctx, client, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) clientOptions() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.User != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.User),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}
