package mailout

import "context"

// Message is the payload handed to the email provider.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	// Tags carry the email type and related entity for provider-side
	// filtering; providers that do not support tags may ignore them.
	Tags []string
}

// SendResult reports a successful provider handoff.
type SendResult struct {
	// MessageID is the provider-assigned identifier, if any.
	MessageID string
}

// Sender delivers a single message to the email provider.
//
// Send must respect ctx for cancellation and deadlines. A nil error means the
// provider accepted the message; any error is treated as a failed attempt.
type Sender interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) (SendResult, error)

// Send implements Sender.
func (fn SenderFunc) Send(ctx context.Context, msg Message) (SendResult, error) {
	return fn(ctx, msg)
}
