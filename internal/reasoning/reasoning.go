// Package reasoning shells out to the reasoning CLI for the open-ended
// work the orchestrator cannot do mechanically: triaging new inbox
// items, drafting plans, refreshing the dashboard. The rest of the
// system treats it as one more subprocess behind an interface and
// never depends on this package from the vault or adapter layers.
package reasoning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vaultops-systems/vaultops/internal/retry"
)

const defaultTimeout = 10 * time.Minute

// Invoker runs one reasoning command to completion.
type Invoker interface {
	Invoke(ctx context.Context, command string) error
}

// Exec runs the binary named by REASONER_CMD with `--print /<command>`
// in the vault directory.
type Exec struct {
	bin     string
	workdir string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExec builds the subprocess invoker. An empty bin falls back to the
// REASONER_CMD environment variable.
func NewExec(bin, workdir string, timeout time.Duration, logger *slog.Logger) (*Exec, error) {
	if bin == "" {
		bin = os.Getenv("REASONER_CMD")
	}
	if bin == "" {
		return nil, errors.New("no reasoning command configured (set REASONER_CMD)")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{bin: bin, workdir: workdir, timeout: timeout, logger: logger.With("component", "reasoning")}, nil
}

// Invoke runs a single command, one attempt. Retry policy belongs to
// the caller's scheduler, not here.
func (e *Exec) Invoke(ctx context.Context, command string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	command = "/" + strings.TrimPrefix(command, "/")
	parts := strings.Fields(e.bin)
	args := append(parts[1:], "--print", command)

	cmd := exec.CommandContext(ctx, parts[0], args...)
	cmd.Dir = e.workdir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	e.logger.Info("reasoning invoked", "command", command)
	err := cmd.Run()
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return retry.Transient(fmt.Errorf("reasoning %s timed out after %s", command, e.timeout))
		}
		return retry.Transient(fmt.Errorf("reasoning %s failed: %w (stderr: %s)",
			command, err, strings.TrimSpace(stderr.String())))
	}
	e.logger.Info("reasoning complete", "command", command, "elapsed", elapsed)
	return nil
}

// Noop satisfies Invoker where no reasoner is configured, so scheduled
// jobs degrade to log lines instead of failing.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) Invoke(_ context.Context, command string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("reasoning skipped, no reasoner configured", "command", command)
	return nil
}
