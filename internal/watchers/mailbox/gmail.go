package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/mail"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/vaultops-systems/vaultops/internal/retry"
)

const defaultMaxResults = 25

// GmailFetcher reads unread inbox messages through the Gmail API.
// OAuth material lives on disk outside the vault and in the process
// environment; nothing credential-shaped ever touches a vault file.
type GmailFetcher struct {
	svc        *gmail.Service
	maxResults int64
}

// GmailConfig locates the OAuth client and cached token. Both paths
// must point outside the vault tree.
type GmailConfig struct {
	CredentialsFile string // OAuth client JSON, default $GMAIL_CREDENTIALS
	TokenFile       string // cached user token, default $GMAIL_TOKEN
	MaxResults      int64
}

// NewGmailFetcher builds a fetcher from on-disk OAuth material.
func NewGmailFetcher(ctx context.Context, cfg GmailConfig) (*GmailFetcher, error) {
	if cfg.CredentialsFile == "" {
		cfg.CredentialsFile = os.Getenv("GMAIL_CREDENTIALS")
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = os.Getenv("GMAIL_TOKEN")
	}
	if cfg.CredentialsFile == "" || cfg.TokenFile == "" {
		return nil, fmt.Errorf("gmail: credentials and token file paths are required")
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}

	raw, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("gmail: reading oauth client: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(raw, gmail.GmailReadonlyScope, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("gmail: parsing oauth client: %w", err)
	}
	tok, err := loadToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("gmail: building service: %w", err)
	}
	return &GmailFetcher{svc: svc, maxResults: cfg.MaxResults}, nil
}

// GmailSetup runs the one-time interactive OAuth consent flow: prints
// the consent URL, reads the pasted code, and saves the token to the
// configured token file with owner-only permissions. Returns the token
// path. The token file must live outside the vault so the sync bridge
// never sees it.
func GmailSetup(ctx context.Context, cfg GmailConfig, in io.Reader, out io.Writer) (string, error) {
	if cfg.CredentialsFile == "" {
		cfg.CredentialsFile = os.Getenv("GMAIL_CREDENTIALS")
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = os.Getenv("GMAIL_TOKEN")
	}
	if cfg.CredentialsFile == "" || cfg.TokenFile == "" {
		return "", fmt.Errorf("gmail: credentials and token file paths are required")
	}

	raw, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return "", fmt.Errorf("gmail: reading oauth client: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(raw, gmail.GmailReadonlyScope, gmail.GmailModifyScope)
	if err != nil {
		return "", fmt.Errorf("gmail: parsing oauth client: %w", err)
	}

	url := oauthCfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Open this URL, authorize, and paste the code:\n%s\n> ", url)

	var code string
	if _, err := fmt.Fscan(in, &code); err != nil {
		return "", fmt.Errorf("gmail: reading auth code: %w", err)
	}
	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("gmail: exchanging auth code: %w", err)
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("gmail: encoding token: %w", err)
	}
	if err := os.WriteFile(cfg.TokenFile, data, 0o600); err != nil {
		return "", fmt.Errorf("gmail: saving token: %w", err)
	}
	return cfg.TokenFile, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gmail: reading token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("gmail: parsing token: %w", err)
	}
	return &tok, nil
}

// Fetch lists unread inbox messages with enough metadata to triage.
func (g *GmailFetcher) Fetch(ctx context.Context) ([]Message, error) {
	list, err := g.svc.Users.Messages.List("me").
		Q("is:unread in:inbox").
		MaxResults(g.maxResults).
		Context(ctx).Do()
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("gmail: listing unread: %w", err))
	}

	messages := make([]Message, 0, len(list.Messages))
	for _, ref := range list.Messages {
		msg, err := g.svc.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Date").
			Context(ctx).Do()
		if err != nil {
			return nil, retry.Transient(fmt.Errorf("gmail: fetching %s: %w", ref.Id, err))
		}
		messages = append(messages, fromGmail(msg))
	}
	return messages, nil
}

func fromGmail(msg *gmail.Message) Message {
	m := Message{ID: msg.Id, Snippet: msg.Snippet}
	if msg.InternalDate > 0 {
		m.Received = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return m
	}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "From":
			m.Sender = senderAddress(h.Value)
		case "Subject":
			m.Subject = h.Value
		}
	}
	return m
}

// senderAddress narrows "Name <addr>" headers to the bare address.
func senderAddress(raw string) string {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return raw
	}
	return addr.Address
}
