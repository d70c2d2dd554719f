// Package adapter executes approved action notes against external
// channels. Adapters are the only code that touches the outside world;
// everything upstream of them just moves files.
package adapter

import (
	"context"
	"strings"

	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Adapter executes one approved note. Dispatch must be idempotent per
// stem: the router may re-offer a note after a crash between the
// external call and the archive rename, and the ledger only narrows
// that window.
type Adapter interface {
	// Name identifies the adapter in logs and worker-pool keys.
	Name() string
	// Channel returns the rate-limit channel consumed by this note, or
	// "" when the note is not rate limited.
	Channel(note *vault.Note) string
	Dispatch(ctx context.Context, note *vault.Note) (types.Outcome, error)
}

// Registry resolves an approved note to the adapter that executes it.
type Registry struct {
	email      Adapter
	social     Adapter
	accounting Adapter
	generic    Adapter
}

// NewRegistry wires the four adapters. Any nil slot falls through to
// generic.
func NewRegistry(email, social, accounting, generic Adapter) *Registry {
	return &Registry{email: email, social: social, accounting: accounting, generic: generic}
}

// Select routes a note. Precedence: CLOUD_DRAFT_ stem prefixes first,
// then plain stem prefixes, then the preamble action verb, then the
// generic fallback. Filename wins over frontmatter so a mislabeled
// draft still reaches the channel its name promises.
func (r *Registry) Select(note *vault.Note) Adapter {
	stem := note.Stem()

	switch {
	case strings.HasPrefix(stem, "CLOUD_DRAFT_EMAIL_"):
		return r.pick(r.email)
	case strings.HasPrefix(stem, "CLOUD_DRAFT_SOCIAL_"):
		return r.pick(r.social)
	case strings.HasPrefix(stem, types.KindEmail+"_"):
		return r.pick(r.email)
	case strings.HasPrefix(stem, types.KindLinkedInPost+"_"),
		strings.HasPrefix(stem, types.KindSocial+"_"):
		return r.pick(r.social)
	}

	switch note.Preamble.Action {
	case types.ActionSendEmail:
		return r.pick(r.email)
	case types.ActionPostLinkedIn, types.ActionPostTwitter,
		types.ActionPostFacebook, types.ActionPostInstagram:
		return r.pick(r.social)
	case types.ActionCreateInvoice, types.ActionCreateQuote,
		types.ActionProcessPayment, types.ActionBankTransfer:
		return r.pick(r.accounting)
	}

	return r.generic
}

func (r *Registry) pick(a Adapter) Adapter {
	if a == nil {
		return r.generic
	}
	return a
}

// All returns the wired adapters, generic last.
func (r *Registry) All() []Adapter {
	var out []Adapter
	for _, a := range []Adapter{r.email, r.social, r.accounting, r.generic} {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}
