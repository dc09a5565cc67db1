package mailout

import (
	"testing"
)

func TestEntryValidate(t *testing.T) {
	cases := []struct {
		name  string
		entry Entry
		err   error
	}{
		{
			name:  "missing recipient",
			entry: Entry{Subject: "hi", BodyHTML: "<p>hi</p>", EmailType: "welcome"},
			err:   ErrRecipientRequired,
		},
		{
			name:  "unparseable recipient",
			entry: Entry{Recipient: "not-an-address", Subject: "hi", BodyHTML: "<p>hi</p>", EmailType: "welcome"},
			err:   ErrRecipientInvalid,
		},
		{
			name:  "missing subject",
			entry: Entry{Recipient: "user@example.com", BodyHTML: "<p>hi</p>", EmailType: "welcome"},
			err:   ErrSubjectRequired,
		},
		{
			name:  "missing body",
			entry: Entry{Recipient: "user@example.com", Subject: "hi", EmailType: "welcome"},
			err:   ErrBodyRequired,
		},
		{
			name:  "missing email type",
			entry: Entry{Recipient: "user@example.com", Subject: "hi", BodyHTML: "<p>hi</p>"},
			err:   ErrEmailTypeRequired,
		},
		{
			name:  "valid",
			entry: Entry{Recipient: "user@example.com", Subject: "hi", BodyHTML: "<p>hi</p>", EmailType: "welcome"},
			err:   nil,
		},
		{
			name:  "valid with display name",
			entry: Entry{Recipient: "User <user@example.com>", Subject: "hi", BodyHTML: "<p>hi</p>", EmailType: "welcome"},
			err:   nil,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.entry.Validate()
			if tc.err == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.err != nil && err != tc.err {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusPending:         false,
		StatusClaimed:         false,
		StatusSent:            true,
		StatusFailedRetryable: false,
		StatusExhausted:       true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Fatalf("status %q: expected Terminal() = %v, got %v", status, want, got)
		}
	}
}
