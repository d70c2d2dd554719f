package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/vaultops-systems/vaultops/internal/retry"
)

// SMTPTransport sends mail through a plain SMTP relay. Credentials come
// from the process environment and are never written anywhere.
type SMTPTransport struct {
	Host string
	Port string
	User string
	Pass string
	From string

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPTransport validates the relay settings.
func NewSMTPTransport(host, port, user, pass, from string) (*SMTPTransport, error) {
	if host == "" || from == "" {
		return nil, errors.New("smtp transport needs at least SMTP_HOST and SMTP_FROM")
	}
	if port == "" {
		port = "587"
	}
	return &SMTPTransport{Host: host, Port: port, User: user, Pass: pass, From: from, send: smtp.SendMail}, nil
}

func (t *SMTPTransport) Send(ctx context.Context, m Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", t.From)
	fmt.Fprintf(&msg, "To: %s\r\n", m.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", m.Subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(m.Body)

	var auth smtp.Auth
	if t.User != "" {
		auth = smtp.PlainAuth("", t.User, t.Pass, t.Host)
	}

	if err := t.send(t.Host+":"+t.Port, auth, t.From, []string{m.To}, []byte(msg.String())); err != nil {
		return retry.Transient(fmt.Errorf("smtp send to %s: %w", m.To, err))
	}
	return nil
}
