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

// Poster publishes to one or more social platforms.
type Poster interface {
	Post(ctx context.Context, platform, text string) (url string, err error)
}

// Social publishes approved posts.
type Social struct {
	poster Poster
	logger *slog.Logger
}

// NewSocial creates the social adapter.
func NewSocial(p Poster, logger *slog.Logger) *Social {
	if logger == nil {
		logger = slog.Default()
	}
	return &Social{poster: p, logger: logger}
}

func (s *Social) Name() string { return "social" }

func (s *Social) Channel(*vault.Note) string { return types.ChannelSocialPost }

// Dispatch publishes the note body. The platform comes from the
// preamble, the action verb, or the stem, in that order.
func (s *Social) Dispatch(ctx context.Context, note *vault.Note) (types.Outcome, error) {
	platform := platformFor(note)
	if platform == "" {
		return types.OutcomeRejected, retry.Permanent(fmt.Errorf("note %s names no platform", note.Stem()))
	}
	if strings.TrimSpace(note.Body) == "" {
		return types.OutcomeRejected, retry.Permanent(fmt.Errorf("note %s has an empty post body", note.Stem()))
	}

	url, err := s.poster.Post(ctx, platform, note.Body)
	if err != nil {
		return types.OutcomeDeferred, fmt.Errorf("posting %s to %s: %w", note.Stem(), platform, err)
	}
	s.logger.Info("post published", "file", note.Filename, "platform", platform, "url", url)
	return types.OutcomeSent, nil
}

func platformFor(note *vault.Note) string {
	if p := note.Preamble.Platform; p != "" {
		return strings.ToLower(p)
	}
	switch note.Preamble.Action {
	case types.ActionPostLinkedIn:
		return "linkedin"
	case types.ActionPostTwitter:
		return "twitter"
	case types.ActionPostFacebook:
		return "facebook"
	case types.ActionPostInstagram:
		return "instagram"
	}
	stem := note.Stem()
	if strings.HasPrefix(stem, types.KindLinkedInPost+"_") {
		return "linkedin"
	}
	return ""
}
