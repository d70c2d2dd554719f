package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Client is the ERP surface the accounting adapter needs. Partner upsert
// plus document creation; everything else stays in the ERP's own UI.
type Client interface {
	// EnsurePartner finds or creates the partner and returns its id.
	EnsurePartner(ctx context.Context, name string) (int64, error)
	CreateInvoice(ctx context.Context, partnerID int64, amount float64, currency, memo string) (ref string, err error)
	CreateQuotation(ctx context.Context, partnerID int64, amount float64, currency, memo string) (ref string, err error)
	// RegisterPayment records an incoming or outgoing payment against
	// the partner's ledger. It moves no money itself.
	RegisterPayment(ctx context.Context, partnerID int64, amount float64, currency, memo string) (ref string, err error)
}

// Accounting executes ERP actions from approved notes.
type Accounting struct {
	client Client
	logger *slog.Logger
}

// NewAccounting creates the accounting adapter.
func NewAccounting(c Client, logger *slog.Logger) *Accounting {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accounting{client: c, logger: logger}
}

func (a *Accounting) Name() string { return "accounting" }

// Channel rate-limits only money movement. Creating an invoice or a
// quotation is a document, not a payment.
func (a *Accounting) Channel(note *vault.Note) string {
	switch note.Preamble.Action {
	case types.ActionProcessPayment, types.ActionBankTransfer:
		return types.ChannelPayment
	}
	return ""
}

func (a *Accounting) Dispatch(ctx context.Context, note *vault.Note) (types.Outcome, error) {
	p := note.Preamble
	switch p.Action {
	case types.ActionCreateInvoice, types.ActionCreateQuote, types.ActionProcessPayment:
		return a.createDocument(ctx, note)
	case types.ActionBankTransfer:
		// Actual money movement never happens without a human at the
		// keyboard.
		return types.OutcomeRejected, retry.Policy(fmt.Errorf("action %s requires manual execution", p.Action))
	default:
		return types.OutcomeRejected, retry.Permanent(fmt.Errorf("accounting cannot handle action %q", p.Action))
	}
}

func (a *Accounting) createDocument(ctx context.Context, note *vault.Note) (types.Outcome, error) {
	p := note.Preamble
	if p.Partner == "" {
		return types.OutcomeRejected, retry.Permanent(fmt.Errorf("note %s names no partner", note.Stem()))
	}
	if p.Amount <= 0 {
		return types.OutcomeRejected, retry.Permanent(fmt.Errorf("note %s has a non-positive amount", note.Stem()))
	}
	currency := p.Currency
	if currency == "" {
		currency = "EUR"
	}

	partnerID, err := a.client.EnsurePartner(ctx, p.Partner)
	if err != nil {
		return types.OutcomeDeferred, fmt.Errorf("resolving partner %q: %w", p.Partner, err)
	}

	var ref string
	switch p.Action {
	case types.ActionCreateInvoice:
		ref, err = a.client.CreateInvoice(ctx, partnerID, p.Amount, currency, note.Body)
	case types.ActionCreateQuote:
		ref, err = a.client.CreateQuotation(ctx, partnerID, p.Amount, currency, note.Body)
	case types.ActionProcessPayment:
		ref, err = a.client.RegisterPayment(ctx, partnerID, p.Amount, currency, note.Body)
	}
	if err != nil {
		return types.OutcomeDeferred, fmt.Errorf("creating document for %s: %w", note.Stem(), err)
	}

	a.logger.Info("erp document created", "file", note.Filename, "action", p.Action, "ref", ref, "partner", p.Partner, "amount", p.Amount)
	return types.OutcomeSent, nil
}
