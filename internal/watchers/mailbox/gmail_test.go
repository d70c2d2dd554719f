package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
)

func TestNewGmailFetcher_RequiresPaths(t *testing.T) {
	t.Setenv("GMAIL_CREDENTIALS", "")
	t.Setenv("GMAIL_TOKEN", "")
	_, err := NewGmailFetcher(context.Background(), GmailConfig{})
	assert.ErrorContains(t, err, "required")
}

func TestFromGmail_ExtractsHeaders(t *testing.T) {
	msg := &gmail.Message{
		Id:           "abc123",
		Snippet:      "please pay by Friday",
		InternalDate: time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC).UnixMilli(),
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Acme Billing <billing@acme.example>"},
				{Name: "Subject", Value: "Invoice #42"},
				{Name: "Date", Value: "Wed, 02 Apr 2025 08:30:00 +0000"},
			},
		},
	}

	m := fromGmail(msg)
	assert.Equal(t, "abc123", m.ID)
	assert.Equal(t, "billing@acme.example", m.Sender)
	assert.Equal(t, "Invoice #42", m.Subject)
	assert.Equal(t, "please pay by Friday", m.Snippet)
	require.False(t, m.Received.IsZero())
	assert.Equal(t, 2025, m.Received.Year())
}

func TestFromGmail_NoPayload(t *testing.T) {
	m := fromGmail(&gmail.Message{Id: "x", Snippet: "hi"})
	assert.Equal(t, "x", m.ID)
	assert.Empty(t, m.Sender)
	assert.True(t, m.Received.IsZero())
}

func TestSenderAddress(t *testing.T) {
	assert.Equal(t, "a@b.example", senderAddress("Alice <a@b.example>"))
	assert.Equal(t, "a@b.example", senderAddress("a@b.example"))
	assert.Equal(t, "not an address", senderAddress("not an address"))
}
