// Package email sends plain notification emails over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SMTPConfig holds configuration for the SMTP server.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromName  string
	FromEmail string
}

// Mailer sends emails through one SMTP server. With no host configured it logs and
// drops every message, which keeps local development free of an SMTP dependency.
type Mailer struct {
	config SMTPConfig
	logger *zap.Logger
}

// NewMailer creates a mailer.
func NewMailer(config SMTPConfig, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{config: config, logger: logger}
}

// Enabled reports whether an SMTP host is configured.
func (m *Mailer) Enabled() bool {
	return m.config.Host != ""
}

// Send delivers a plain-text message to one recipient.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if !m.Enabled() {
		m.logger.Debug("SMTP not configured, email not sent", zap.String("to", to), zap.String("subject", subject))
		return nil
	}
	if to == "" {
		return fmt.Errorf("email recipient is empty")
	}

	msg := BuildMessage(m.from(), to, subject, body, time.Now())
	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))

	done := make(chan error, 1)
	go func() { done <- m.deliver(addr, to, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send email: %w", err)
		}
		m.logger.Debug("email sent", zap.String("to", to), zap.String("subject", subject))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send email: %w", ctx.Err())
	}
}

func (m *Mailer) deliver(addr, to string, msg []byte) error {
	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}
	// Port 465 speaks TLS from the first byte; everything else upgrades with STARTTLS.
	if m.config.Port != 465 {
		return smtp.SendMail(addr, auth, m.config.FromEmail, []string{to}, msg)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.config.Host})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	client, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(m.config.FromEmail); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return client.Quit()
}

func (m *Mailer) from() string {
	if m.config.FromName == "" {
		return m.config.FromEmail
	}
	return fmt.Sprintf("%s <%s>", m.config.FromName, m.config.FromEmail)
}

// BuildMessage renders an RFC 5322 message with CRLF line endings.
func BuildMessage(from, to, subject, body string, at time.Time) []byte {
	var b strings.Builder
	header := [][2]string{
		{"From", from},
		{"To", to},
		{"Subject", stripNewlines(subject)},
		{"Date", at.Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=UTF-8"},
	}
	for _, h := range header {
		b.WriteString(h[0] + ": " + h[1] + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
