// Package mail renders and delivers transactional email.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gomail "github.com/wneessen/go-mail"
)

// Template names understood by the renderer.
const (
	TemplateVerifyEmail        = "verify-email"
	TemplateAdminApproval      = "admin-approval"
	TemplateAccountActivated   = "account-activated"
	TemplateNominationReceived = "nomination-received"
)

// ErrNoRecipient is returned when a message has no To address.
var ErrNoRecipient = errors.New("mail: recipient required")

// Message is one outgoing email. Data is passed to the template as-is.
type Message struct {
	To   string
	Data any
}

// Sender is what the workflow and jobs depend on.
type Sender interface {
	Send(ctx context.Context, template string, msg Message) error
}

// SMTPConfig describes the outgoing relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPMailer renders templates and delivers them over SMTP.
type SMTPMailer struct {
	cfg      SMTPConfig
	renderer *Renderer
	logger   *slog.Logger
	dial     func(ctx context.Context, msg *gomail.Msg) error
}

// NewSMTPMailer constructs a mailer using the embedded templates.
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &SMTPMailer{cfg: cfg, renderer: renderer, logger: logger}
	m.dial = m.dialAndSend
	return m, nil
}

// Send renders template with msg.Data and delivers it to msg.To.
func (m *SMTPMailer) Send(ctx context.Context, template string, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	rendered, err := m.renderer.Render(template, msg.Data)
	if err != nil {
		return err
	}
	out := gomail.NewMsg()
	if err := out.FromFormat(m.cfg.FromName, m.cfg.From); err != nil {
		return fmt.Errorf("mail: from: %w", err)
	}
	if err := out.To(msg.To); err != nil {
		return fmt.Errorf("mail: to: %w", err)
	}
	out.Subject(rendered.Subject)
	out.SetBodyString(gomail.TypeTextPlain, rendered.Body)

	if err := m.dial(ctx, out); err != nil {
		return fmt.Errorf("mail: deliver %s: %w", template, err)
	}
	m.logger.Info("mail sent", slog.String("template", template), slog.String("to", msg.To))
	return nil
}

func (m *SMTPMailer) dialAndSend(ctx context.Context, msg *gomail.Msg) error {
	opts := []gomail.Option{
		gomail.WithPort(m.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.Username),
			gomail.WithPassword(m.cfg.Password),
		)
	}
	client, err := gomail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// LogMailer renders messages and logs them instead of sending. Used when no
// SMTP host is configured.
type LogMailer struct {
	renderer *Renderer
	logger   *slog.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *slog.Logger) (*LogMailer, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{renderer: renderer, logger: logger}, nil
}

// Send implements Sender.
func (m *LogMailer) Send(ctx context.Context, template string, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	rendered, err := m.renderer.Render(template, msg.Data)
	if err != nil {
		return err
	}
	m.logger.Info("mail (not sent)",
		slog.String("template", template),
		slog.String("to", msg.To),
		slog.String("subject", rendered.Subject),
		slog.String("body", rendered.Body))
	return nil
}
