// Package social turns inbound social-platform activity (DMs, mentions,
// connection requests) into SOCIAL action notes.
package social

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/internal/watcher"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Post is one inbound item from a platform feed.
type Post struct {
	ID        string
	Author    string
	Text      string
	URL       string
	CreatedAt time.Time
}

// Feed lists new inbound activity for one platform.
type Feed interface {
	Platform() string
	Fetch(ctx context.Context) ([]Post, error)
}

// Source adapts one platform feed to the watcher framework.
type Source struct {
	feed   Feed
	logger *slog.Logger
	now    func() time.Time
}

// New creates a social source over the given feed.
func New(f Feed, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{feed: f, logger: logger, now: time.Now}
}

func (s *Source) Name() string { return "social_" + strings.ToLower(s.feed.Platform()) }

// Poll fetches inbound activity and emits one note per post.
func (s *Source) Poll(ctx context.Context) ([]watcher.Item, error) {
	posts, err := s.feed.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching %s feed: %w", s.feed.Platform(), err)
	}

	platform := strings.ToUpper(s.feed.Platform())
	var items []watcher.Item
	for _, p := range posts {
		created := s.now()
		at := p.CreatedAt
		if at.IsZero() {
			at = created
		}
		topic := p.Author
		if topic == "" {
			topic = "inbound"
		}
		stem := vault.NewStem(types.KindSocial+"_"+platform, topic, at)
		noteType := types.TypeNotification
		if strings.EqualFold(platform, "linkedin") {
			noteType = types.TypeLinkedInMessage
		}
		body := fmt.Sprintf("Platform: %s\nFrom: %s\n", platform, p.Author)
		if p.URL != "" {
			body += "Link: " + p.URL + "\n"
		}
		body += "\n" + p.Text + "\n"
		items = append(items, watcher.Item{
			ID:   platform + ":" + p.ID,
			Stem: stem,
			Preamble: types.Preamble{
				Type:     noteType,
				Priority: types.P2,
				Status:   types.StatusPending,
				Created:  created,
				Source:   s.Name(),
				Platform: strings.ToLower(platform),
				Sender:   p.Author,
			},
			Body: body,
		})
	}
	return items, nil
}
