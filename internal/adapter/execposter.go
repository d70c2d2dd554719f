package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/vaultops-systems/vaultops/internal/retry"
)

// ExecPoster publishes social posts through an external automation
// command: `<bin> <platform>` with the post text on stdin. The command
// prints the published URL, if any, on stdout. Browser sessions stay
// inside that tool; this process never holds social credentials.
type ExecPoster struct {
	bin     string
	timeout time.Duration
}

// NewExecPoster wraps the configured posting command.
func NewExecPoster(bin string, timeout time.Duration) (*ExecPoster, error) {
	if bin == "" {
		return nil, errors.New("no posting command configured (set POSTER_CMD)")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ExecPoster{bin: bin, timeout: timeout}, nil
}

func (p *ExecPoster) Post(ctx context.Context, platform, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	parts := strings.Fields(p.bin)
	args := append(parts[1:], platform)

	cmd := exec.CommandContext(ctx, parts[0], args...)
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", retry.Transient(fmt.Errorf("posting to %s timed out after %s", platform, p.timeout))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 2 {
			// Exit 2 is the tool's contract for a post that can never
			// succeed (bad content, platform rejection).
			return "", retry.Permanent(fmt.Errorf("posting to %s: %s", platform, strings.TrimSpace(stderr.String())))
		}
		return "", retry.Transient(fmt.Errorf("posting to %s: %w (stderr: %s)", platform, err, strings.TrimSpace(stderr.String())))
	}
	return strings.TrimSpace(stdout.String()), nil
}
