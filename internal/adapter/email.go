package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Mail is one outbound message.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Transport delivers mail. Implementations wrap SMTP or a provider API;
// credentials come from the environment, never from the note.
type Transport interface {
	Send(ctx context.Context, m Mail) error
}

// Email sends approved EMAIL and CLOUD_DRAFT_EMAIL notes.
type Email struct {
	transport Transport
	logger    *slog.Logger
}

// NewEmail creates the email adapter.
func NewEmail(t Transport, logger *slog.Logger) *Email {
	if logger == nil {
		logger = slog.Default()
	}
	return &Email{transport: t, logger: logger}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Channel(*vault.Note) string { return types.ChannelEmail }

// Dispatch sends the note body as a message. The recipient comes from
// the preamble (to, then reply-to sender); a note with neither is
// malformed and never retried.
func (e *Email) Dispatch(ctx context.Context, note *vault.Note) (types.Outcome, error) {
	to := note.Preamble.Extra["to"]
	if to == "" {
		to = note.Preamble.Sender
	}
	if to == "" {
		return types.OutcomeRejected, retry.Permanent(fmt.Errorf("note %s has no recipient", note.Stem()))
	}

	subject := note.Preamble.Subject
	if subject == "" {
		subject = subjectFromStem(note.Stem())
	}

	if err := e.transport.Send(ctx, Mail{To: to, Subject: subject, Body: note.Body}); err != nil {
		return types.OutcomeDeferred, fmt.Errorf("sending %s: %w", note.Stem(), err)
	}
	e.logger.Info("email sent", "file", note.Filename, "to", to)
	return types.OutcomeSent, nil
}

// subjectFromStem derives a readable subject from the topic segment of
// a canonical stem.
func subjectFromStem(stem string) string {
	parts := strings.Split(stem, "_")
	if len(parts) <= 2 {
		return stem
	}
	// Drop the leading kind and trailing timestamp.
	topic := parts[1 : len(parts)-1]
	if topic[0] == "DRAFT" || topic[0] == "EMAIL" { // CLOUD_DRAFT_EMAIL_ stems
		for len(topic) > 0 && (topic[0] == "DRAFT" || topic[0] == "EMAIL" || topic[0] == "CLOUD") {
			topic = topic[1:]
		}
	}
	if len(topic) == 0 {
		return stem
	}
	return strings.Join(topic, " ")
}
