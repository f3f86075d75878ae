package app

import (
	"log/slog"

	"github.com/giftdrive/casework/internal/mail"
)

// NewMailer returns an SMTP mailer, or a mailer that only logs when no SMTP
// host is configured.
func NewMailer(cfg *Config, logger *slog.Logger) (mail.Sender, error) {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST empty, outgoing mail is logged only")
		return mail.NewLogMailer(logger)
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, logger)
}
