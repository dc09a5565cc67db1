package mailout

import (
	"net/mail"
	"time"

	"github.com/google/uuid"
)

// Entry describes a new email job to be enqueued.
//
// The body is expected to be fully rendered: the engine never touches
// templates, it only moves bytes to the provider.
type Entry struct {
	// ID is optional; if zero, the store assigns a UUID v7.
	ID uuid.UUID
	// Recipient is the destination address (RFC 5322).
	Recipient string
	// Subject is the message subject line.
	Subject string
	// BodyHTML is the rendered HTML body.
	BodyHTML string
	// EmailType tags the send intent (e.g. "request_approved",
	// "verification_resend") for filtering, metrics, and dedupe.
	EmailType string
	// RelatedEntityID optionally references the business entity this email is
	// about. Together with EmailType it forms the dedupe key.
	RelatedEntityID string
	// NextAttemptAt optionally delays the first attempt. Zero means due now.
	NextAttemptAt time.Time
}

// Validate checks required fields and that the recipient parses as an address.
func (e Entry) Validate() error {
	if e.Recipient == "" {
		return ErrRecipientRequired
	}
	if _, err := mail.ParseAddress(e.Recipient); err != nil {
		return ErrRecipientInvalid
	}
	if e.Subject == "" {
		return ErrSubjectRequired
	}
	if e.BodyHTML == "" {
		return ErrBodyRequired
	}
	if e.EmailType == "" {
		return ErrEmailTypeRequired
	}

	return nil
}

// EmailJob is a stored outbox job, as claimed for processing.
type EmailJob struct {
	ID              uuid.UUID
	Recipient       string
	Subject         string
	BodyHTML        string
	EmailType       string
	RelatedEntityID string
	Status          Status
	// AttemptCount is the number of resolved attempts so far. It never
	// decreases and grows by exactly one per resolution.
	AttemptCount  int
	NextAttemptAt time.Time
	ClaimedAt     *time.Time
	ClaimedBy     string
	MessageID     string
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
