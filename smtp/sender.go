// Package smtp delivers mailout messages over SMTP via gomail. Suited to
// relays that accept synchronous submission (including local debug servers
// like MailHog); SMTP assigns no usable message id, so SendResult.MessageID
// stays empty.
package smtp

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/carevia/mailout"
)

// Sender sends messages through an SMTP relay.
type Sender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

var _ mailout.Sender = (*Sender)(nil)

// Send implements mailout.Sender. gomail dials per message; ctx cancellation
// is honored between queueing and dialing, not mid-handshake.
func (s *Sender) Send(ctx context.Context, msg mailout.Message) (mailout.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return mailout.SendResult{}, err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTMLBody)

	d := gomail.NewDialer(s.Host, s.Port, s.Username, s.Password)
	if err := d.DialAndSend(m); err != nil {
		return mailout.SendResult{}, fmt.Errorf("smtp send error: %w", err)
	}

	return mailout.SendResult{}, nil
}
