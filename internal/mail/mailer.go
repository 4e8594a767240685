package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"trackmate/internal/config"
)

// Mailer delivers the password-reset message. Production uses SMTP; in
// dev mode the link is logged instead and surfaced to the caller by the
// recovery service.
type Mailer interface {
	SendPasswordReset(to string, fullName string, resetLink string) error
}

type SMTPMailer struct {
	cfg config.SMTPConfig
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) SendPasswordReset(to string, fullName string, resetLink string) error {
	var body strings.Builder
	fmt.Fprintf(&body, "From: %s <%s>\r\n", m.cfg.FromName, m.cfg.From)
	fmt.Fprintf(&body, "To: %s\r\n", to)
	body.WriteString("Subject: Password Reset - TrackMate\r\n")
	body.WriteString("\r\n")
	fmt.Fprintf(&body, "Hello %s,\r\n\r\n", fullName)
	body.WriteString("You requested a password reset. Click the link below to reset your password:\r\n\r\n")
	body.WriteString(resetLink + "\r\n\r\n")
	body.WriteString("This link will expire in 1 hour.\r\n\r\n")
	body.WriteString("If you didn't request this, please ignore this email.\r\n")

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(body.String())); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	return nil
}

// LogMailer is the dev-mode delivery path: the reset link only hits the log.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendPasswordReset(to string, fullName string, resetLink string) error {
	m.log.Info().
		Str("to", to).
		Str("reset_link", resetLink).
		Msg("password reset link (dev mode, not emailed)")
	return nil
}
