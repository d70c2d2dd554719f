package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/vaultops-systems/vaultops/internal/retry"
)

// ExecFeed reads inbound activity through an external automation
// command: `<bin> <platform> fetch` printing a JSON array of posts on
// stdout. Platform sessions stay inside that tool; this process never
// holds social credentials.
type ExecFeed struct {
	bin      string
	platform string
	timeout  time.Duration
}

// NewExecFeed wraps the configured feed command for one platform.
func NewExecFeed(bin, platform string, timeout time.Duration) (*ExecFeed, error) {
	if bin == "" {
		return nil, errors.New("no feed command configured (set FEED_CMD)")
	}
	if platform == "" {
		return nil, errors.New("feed platform is required")
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &ExecFeed{bin: bin, platform: platform, timeout: timeout}, nil
}

func (f *ExecFeed) Platform() string { return f.platform }

// feedPost is the wire shape the feed command prints.
type feedPost struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func (f *ExecFeed) Fetch(ctx context.Context) ([]Post, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	parts := strings.Fields(f.bin)
	args := append(parts[1:], f.platform, "fetch")

	cmd := exec.CommandContext(ctx, parts[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, retry.Transient(fmt.Errorf("fetching %s feed timed out after %s", f.platform, f.timeout))
		}
		return nil, retry.Transient(fmt.Errorf("fetching %s feed: %w (stderr: %s)",
			f.platform, err, strings.TrimSpace(stderr.String())))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, nil
	}
	var raw []feedPost
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, retry.Permanent(fmt.Errorf("parsing %s feed output: %w", f.platform, err))
	}

	posts := make([]Post, 0, len(raw))
	for _, p := range raw {
		posts = append(posts, Post{
			ID:        p.ID,
			Author:    p.Author,
			Text:      p.Text,
			URL:       p.URL,
			CreatedAt: p.CreatedAt,
		})
	}
	return posts, nil
}
