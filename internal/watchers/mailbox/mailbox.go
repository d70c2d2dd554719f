// Package mailbox triages an external mail account into EMAIL action
// notes. The account itself is reached through the Fetcher interface;
// credentials live in the process environment, never in the vault.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vaultops-systems/vaultops/internal/metrics"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/internal/watcher"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Message is one unread message as seen by the mail transport.
type Message struct {
	ID       string
	Sender   string
	Subject  string
	Snippet  string
	Received time.Time
}

// Fetcher lists currently unread messages. Implementations wrap IMAP,
// a provider API, or a test double.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Message, error)
}

// Business keywords that make a message actionable. Anything else is
// counted and left alone.
var actionKeywords = []string{
	"invoice", "payment", "contract", "proposal", "quotation", "quote",
	"meeting", "deadline", "urgent", "project", "order", "refund",
}

// Actionable reports whether a message needs a human or agent decision.
func Actionable(m Message) bool {
	text := strings.ToLower(m.Subject + " " + m.Snippet)
	for _, w := range actionKeywords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func priorityFor(m Message) types.Priority {
	text := strings.ToLower(m.Subject + " " + m.Snippet)
	switch {
	case strings.Contains(text, "urgent") || strings.Contains(text, "asap"):
		return types.P0
	case strings.Contains(text, "invoice") || strings.Contains(text, "payment") ||
		strings.Contains(text, "contract"):
		return types.P1
	default:
		return types.P2
	}
}

// Source adapts a Fetcher to the watcher framework.
type Source struct {
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a mailbox source over the given transport.
func New(f Fetcher, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{fetcher: f, logger: logger, now: time.Now}
}

func (s *Source) Name() string { return "mailbox" }

// Poll fetches unread mail and keeps only the actionable messages.
func (s *Source) Poll(ctx context.Context) ([]watcher.Item, error) {
	messages, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching mail: %w", err)
	}

	var items []watcher.Item
	skipped := 0
	for _, m := range messages {
		if !Actionable(m) {
			skipped++
			continue
		}
		created := s.now()
		received := m.Received
		if received.IsZero() {
			received = created
		}
		stem := vault.NewStem(types.KindEmail, m.Subject, received)
		items = append(items, watcher.Item{
			ID:   m.ID,
			Stem: stem,
			Preamble: types.Preamble{
				Type:     types.TypeEmail,
				Priority: priorityFor(m),
				Status:   types.StatusPending,
				Created:  created,
				Source:   s.Name(),
				Sender:   m.Sender,
				Subject:  m.Subject,
			},
			Body: fmt.Sprintf("From: %s\nSubject: %s\nReceived: %s\n\n%s\n",
				m.Sender, m.Subject, received.Format(time.RFC3339), m.Snippet),
		})
	}
	if skipped > 0 {
		metrics.MailAutoAcked.Add(int64(skipped))
		s.logger.Debug("auto-acknowledged mail", "count", skipped)
	}
	return items, nil
}
