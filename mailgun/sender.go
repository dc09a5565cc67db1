// Package mailgun delivers mailout messages through the Mailgun API.
package mailgun

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/carevia/mailout"
)

// Config holds Mailgun credentials and the sender identity.
type Config struct {
	Domain string
	APIKey string
	From   string
}

func (c Config) validate() error {
	if c.Domain == "" || c.APIKey == "" || c.From == "" {
		return errors.New("mailgun: domain, api key, and from are required")
	}

	return nil
}

// Sender sends messages through Mailgun and reports the provider message id.
type Sender struct {
	mg   *mailgun.MailgunImpl
	from string
}

var _ mailout.Sender = (*Sender)(nil)

// NewSender constructs a Mailgun sender with validated configuration.
func NewSender(cfg Config) (*Sender, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Sender{
		mg:   mailgun.NewMailgun(cfg.Domain, cfg.APIKey),
		from: cfg.From,
	}, nil
}

// Send implements mailout.Sender. Tags map to Mailgun message tags.
func (s *Sender) Send(ctx context.Context, msg mailout.Message) (mailout.SendResult, error) {
	message := s.mg.NewMessage(s.from, msg.Subject, "", msg.To)
	message.SetHTML(msg.HTMLBody)
	for _, tag := range msg.Tags {
		if err := message.AddTag(tag); err != nil {
			return mailout.SendResult{}, fmt.Errorf("mailgun tag error: %w", err)
		}
	}

	_, id, err := s.mg.Send(ctx, message)
	if err != nil {
		return mailout.SendResult{}, fmt.Errorf("mailgun send error: %w", err)
	}

	return mailout.SendResult{MessageID: id}, nil
}
