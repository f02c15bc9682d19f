package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/jordan-wright/email"
)

// SMTPConfig holds the outgoing mail account.
type SMTPConfig struct {
	Host       string
	Port       int
	Sender     string
	Password   string
	Recipients []string
}

// Email sends one plain-text message per recipient through an SMTP server
// (STARTTLS when offered, PLAIN auth).
type Email struct {
	cfg  SMTPConfig
	send func(e *email.Email, addr string, a smtp.Auth) error
}

// NewEmail creates an Email notifier.
func NewEmail(cfg SMTPConfig) (*Email, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, errors.New("email: smtp host and port are required")
	}
	if cfg.Sender == "" {
		return nil, errors.New("email: sender address is required")
	}
	if len(cfg.Recipients) == 0 {
		return nil, errors.New("email: at least one recipient is required")
	}
	return &Email{
		cfg:  cfg,
		send: func(e *email.Email, addr string, a smtp.Auth) error { return e.Send(addr, a) },
	}, nil
}

func (m *Email) Notify(_ context.Context, alert Alert) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	auth := smtp.PlainAuth("", m.cfg.Sender, m.cfg.Password, m.cfg.Host)

	var errs []error
	for _, rcpt := range m.cfg.Recipients {
		msg := email.NewEmail()
		msg.From = m.cfg.Sender
		msg.To = []string{rcpt}
		msg.Subject = alert.Subject
		msg.Text = []byte(alert.Body)

		err := m.send(msg, addr, auth)
		if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
			err = m.send(msg, addr, nil)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("email: send to %s: %w", rcpt, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Email) Close() error { return nil }
