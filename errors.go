package mailout

import "errors"

var (
	// ErrInvalidBatchSize indicates that the requested claim batch size is not positive.
	ErrInvalidBatchSize = errors.New("mailout batch size must be positive")
	// ErrRecipientRequired is returned when Entry.Recipient is empty.
	ErrRecipientRequired = errors.New("mailout recipient is required")
	// ErrRecipientInvalid is returned when Entry.Recipient is not a valid address.
	ErrRecipientInvalid = errors.New("mailout recipient address is invalid")
	// ErrSubjectRequired is returned when Entry.Subject is empty.
	ErrSubjectRequired = errors.New("mailout subject is required")
	// ErrBodyRequired is returned when Entry.BodyHTML is empty.
	ErrBodyRequired = errors.New("mailout rendered body is required")
	// ErrEmailTypeRequired is returned when Entry.EmailType is empty.
	ErrEmailTypeRequired = errors.New("mailout email type is required")
	// ErrNotClaimed is returned by terminal writes when the job is no longer
	// owned by the writing worker (reclaimed after staleness, or already terminal).
	ErrNotClaimed = errors.New("mailout job is not claimed by this worker")
	// ErrSendPanic indicates a sender panic converted to a job failure.
	ErrSendPanic = errors.New("mailout sender panic")
)
