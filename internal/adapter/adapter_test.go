package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/testutil"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

type fakeTransport struct {
	sent []Mail
	err  error
}

func (t *fakeTransport) Send(_ context.Context, m Mail) error {
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, m)
	return nil
}

type fakePoster struct {
	posts []struct{ platform, text string }
	err   error
}

func (p *fakePoster) Post(_ context.Context, platform, text string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.posts = append(p.posts, struct{ platform, text string }{platform, text})
	return "https://example.com/post/1", nil
}

type fakeERP struct {
	partners  map[string]int64
	invoices  int
	quotes    int
	payments  int
	createErr error
}

func (c *fakeERP) EnsurePartner(_ context.Context, name string) (int64, error) {
	if c.partners == nil {
		c.partners = make(map[string]int64)
	}
	if id, ok := c.partners[name]; ok {
		return id, nil
	}
	id := int64(len(c.partners) + 1)
	c.partners[name] = id
	return id, nil
}

func (c *fakeERP) CreateInvoice(_ context.Context, _ int64, _ float64, _, _ string) (string, error) {
	if c.createErr != nil {
		return "", c.createErr
	}
	c.invoices++
	return "INV/2025/0001", nil
}

func (c *fakeERP) CreateQuotation(_ context.Context, _ int64, _ float64, _, _ string) (string, error) {
	if c.createErr != nil {
		return "", c.createErr
	}
	c.quotes++
	return "S00042", nil
}

func (c *fakeERP) RegisterPayment(_ context.Context, _ int64, _ float64, _, _ string) (string, error) {
	if c.createErr != nil {
		return "", c.createErr
	}
	c.payments++
	return "PAY/2025/0001", nil
}

func note(stem string, p types.Preamble, body string) *vault.Note {
	if p.Created.IsZero() {
		p.Created = time.Now()
	}
	if p.Status == "" {
		p.Status = types.StatusApproved
	}
	return &vault.Note{Stage: types.StageApproved, Filename: stem + ".md", Preamble: p, Body: body}
}

func testRegistry(t *testing.T) (*Registry, *fakeTransport, *fakePoster, *fakeERP, *vault.Vault) {
	t.Helper()
	v, _ := testutil.NewVault(t)
	tr := &fakeTransport{}
	po := &fakePoster{}
	erp := &fakeERP{}
	reg := NewRegistry(NewEmail(tr, nil), NewSocial(po, nil), NewAccounting(erp, nil), NewGeneric(v, nil))
	return reg, tr, po, erp, v
}

func TestSelect_Precedence(t *testing.T) {
	reg, _, _, _, _ := testRegistry(t)

	tests := []struct {
		stem   string
		action string
		want   string
	}{
		{"CLOUD_DRAFT_EMAIL_reply_20250101120000", "", "email"},
		{"CLOUD_DRAFT_SOCIAL_launch_20250101120000", "", "social"},
		{"EMAIL_invoice_20250101120000", "", "email"},
		{"LINKEDIN_POST_launch_20250101120000", "", "social"},
		{"SOCIAL_TWITTER_mention_20250101120000", "", "social"},
		{"PLAN_q3_20250101120000", types.ActionSendEmail, "email"},
		{"PLAN_q3_20250101120000", types.ActionCreateInvoice, "accounting"},
		{"PLAN_q3_20250101120000", types.ActionPostLinkedIn, "social"},
		{"PLAN_q3_20250101120000", "", "generic"},
		// Filename wins over a conflicting frontmatter action.
		{"EMAIL_x_20250101120000", types.ActionCreateInvoice, "email"},
	}
	for _, tt := range tests {
		n := note(tt.stem, types.Preamble{Action: tt.action}, "body")
		assert.Equal(t, tt.want, reg.Select(n).Name(), "%s / %s", tt.stem, tt.action)
	}
}

func TestEmail_Dispatch(t *testing.T) {
	_, tr, _, _, _ := testRegistry(t)
	e := NewEmail(tr, nil)

	n := note("EMAIL_reply_20250101120000", types.Preamble{
		Type: types.TypeEmail, Sender: "client@example.com", Subject: "Re: proposal",
	}, "Thanks, attached.")

	out, err := e.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSent, out)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "client@example.com", tr.sent[0].To)
	assert.Equal(t, "Re: proposal", tr.sent[0].Subject)
}

func TestEmail_ExplicitRecipientWins(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEmail(tr, nil)
	n := note("EMAIL_x_20250101120000", types.Preamble{
		Sender: "old@example.com",
		Extra:  map[string]string{"to": "new@example.com"},
	}, "hi")

	_, err := e.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", tr.sent[0].To)
}

func TestEmail_NoRecipientIsPermanent(t *testing.T) {
	e := NewEmail(&fakeTransport{}, nil)
	n := note("EMAIL_x_20250101120000", types.Preamble{}, "hi")

	out, err := e.Dispatch(context.Background(), n)
	assert.Equal(t, types.OutcomeRejected, out)
	assert.Equal(t, types.FailurePermanent, retry.Categorize(err))
}

func TestEmail_TransportErrorDefers(t *testing.T) {
	e := NewEmail(&fakeTransport{err: errors.New("smtp 421")}, nil)
	n := note("EMAIL_x_20250101120000", types.Preamble{Sender: "a@b.c"}, "hi")

	out, err := e.Dispatch(context.Background(), n)
	assert.Equal(t, types.OutcomeDeferred, out)
	assert.Equal(t, types.FailureTransient, retry.Categorize(err))
}

func TestSocial_Dispatch(t *testing.T) {
	po := &fakePoster{}
	s := NewSocial(po, nil)
	n := note("LINKEDIN_POST_launch_20250101120000", types.Preamble{}, "We are live!")

	out, err := s.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSent, out)
	require.Len(t, po.posts, 1)
	assert.Equal(t, "linkedin", po.posts[0].platform)
}

func TestSocial_PlatformFromAction(t *testing.T) {
	po := &fakePoster{}
	s := NewSocial(po, nil)
	n := note("PLAN_tweet_20250101120000", types.Preamble{Action: types.ActionPostTwitter}, "hello")

	_, err := s.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, "twitter", po.posts[0].platform)
}

func TestSocial_NoPlatformIsPermanent(t *testing.T) {
	s := NewSocial(&fakePoster{}, nil)
	n := note("PLAN_post_20250101120000", types.Preamble{}, "hello")

	out, err := s.Dispatch(context.Background(), n)
	assert.Equal(t, types.OutcomeRejected, out)
	assert.Equal(t, types.FailurePermanent, retry.Categorize(err))
}

func TestAccounting_CreateInvoiceUpsertsPartner(t *testing.T) {
	erp := &fakeERP{}
	a := NewAccounting(erp, nil)
	p := types.Preamble{Action: types.ActionCreateInvoice, Partner: "Acme Ltd", Amount: 1500, Currency: "USD"}

	out, err := a.Dispatch(context.Background(), note("PLAN_invoice_20250101120000", p, "phase one"))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSent, out)
	assert.Equal(t, 1, erp.invoices)

	// Second document for the same partner reuses the record.
	out, err = a.Dispatch(context.Background(), note("PLAN_invoice2_20250101120001", p, "phase two"))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSent, out)
	assert.Len(t, erp.partners, 1)
}

func TestAccounting_PaymentRegistered(t *testing.T) {
	erp := &fakeERP{}
	a := NewAccounting(erp, nil)
	p := types.Preamble{Action: types.ActionProcessPayment, Partner: "Acme Ltd", Amount: 300}

	n := note("PLAN_payment_20250101120000", p, "deposit")
	assert.Equal(t, types.ChannelPayment, a.Channel(n))

	out, err := a.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSent, out)
	assert.Equal(t, 1, erp.payments)
}

func TestAccounting_BankTransferIsPolicyReject(t *testing.T) {
	a := NewAccounting(&fakeERP{}, nil)
	p := types.Preamble{Action: types.ActionBankTransfer, Partner: "Acme", Amount: 100}

	out, err := a.Dispatch(context.Background(), note("PLAN_wire_20250101120000", p, "wire"))
	assert.Equal(t, types.OutcomeRejected, out)
	assert.Equal(t, types.FailurePolicy, retry.Categorize(err))
}

func TestAccounting_MissingFieldsArePermanent(t *testing.T) {
	a := NewAccounting(&fakeERP{}, nil)

	out, err := a.Dispatch(context.Background(),
		note("PLAN_x_20250101120000", types.Preamble{Action: types.ActionCreateInvoice, Amount: 10}, ""))
	assert.Equal(t, types.OutcomeRejected, out)
	assert.Equal(t, types.FailurePermanent, retry.Categorize(err))

	out, err = a.Dispatch(context.Background(),
		note("PLAN_y_20250101120000", types.Preamble{Action: types.ActionCreateInvoice, Partner: "A"}, ""))
	assert.Equal(t, types.OutcomeRejected, out)
	assert.Equal(t, types.FailurePermanent, retry.Categorize(err))
}

func TestGeneric_WritesManualNotice(t *testing.T) {
	v, _ := testutil.NewVault(t)
	g := NewGeneric(v, nil)
	n := note("PLAN_mystery_20250101120000", types.Preamble{Type: "unknown"}, "??")

	out, err := g.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSkipped, out)

	names, err := v.List(types.StageNeedsAction)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.True(t, strings.HasPrefix(names[0], "NEEDS_MANUAL_ACTION_"))

	written, err := v.Load(types.StageNeedsAction, names[0])
	require.NoError(t, err)
	assert.Equal(t, "PLAN_mystery_20250101120000.md", written.Preamble.SourceFile)
	assert.Contains(t, written.Body, "??")
}

func TestLedger_RoundTrip(t *testing.T) {
	root := t.TempDir()
	l := NewLedger(root)

	assert.False(t, l.Dispatched("EMAIL_x_20250101120000"))
	require.NoError(t, l.Record("EMAIL_x_20250101120000"))
	assert.True(t, l.Dispatched("EMAIL_x_20250101120000"))

	reloaded := NewLedger(root)
	assert.True(t, reloaded.Dispatched("EMAIL_x_20250101120000"))
	assert.False(t, reloaded.Dispatched("EMAIL_y_20250101120000"))
}
