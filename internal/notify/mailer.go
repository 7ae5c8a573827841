// Package notify sends operator mail over plain SMTP.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

type Mailer interface {
	SendWelcome(ctx context.Context, msg Welcome) error
}

type Welcome struct {
	To          string
	FullName    string
	CandidateNo string
	SiteName    string
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

type SMTPMailer struct {
	host string
	port int
	user string
	pass string
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer returns nil when SMTP is not configured. Callers treat a nil
// Mailer as "mail disabled".
func NewSMTPMailer(cfg SMTPConfig) Mailer {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 || strings.TrimSpace(cfg.From) == "" {
		return nil
	}
	return &SMTPMailer{
		host: strings.TrimSpace(cfg.Host),
		port: cfg.Port,
		user: strings.TrimSpace(cfg.User),
		pass: cfg.Pass,
		from: strings.TrimSpace(cfg.From),
		send: smtp.SendMail,
	}
}

func (m *SMTPMailer) SendWelcome(ctx context.Context, w Welcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	site := strings.TrimSpace(w.SiteName)
	if site == "" {
		site = "IELTS Practice"
	}

	subject := "Welcome to " + site
	body := fmt.Sprintf(
		"Hello %s,\n\nYour candidate account is ready.\nCandidate number: %s\nSign in with this email address and the password given by your centre.\n",
		w.FullName, w.CandidateNo,
	)
	msg := buildMessage(m.from, w.To, subject, body)

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	if err := m.send(addr, auth, m.from, []string{w.To}, msg); err != nil {
		return fmt.Errorf("smtp send welcome: %w", err)
	}
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	return []byte("From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		body + "\r\n")
}
