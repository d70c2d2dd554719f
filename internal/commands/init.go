package commands

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vaultops-systems/vaultops/internal/config"
	"github.com/vaultops-systems/vaultops/internal/vault"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var skipGit bool

	cmd := &cobra.Command{
		Use:   "init [vault-dir]",
		Short: "Initialize a new vault",
		Long:  "Creates the stage directory tree, seed documents and a starter vaultops.yaml, and optionally initializes a git repository for the sync bridge.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0], skipGit)
		},
	}

	cmd.Flags().BoolVar(&skipGit, "skip-git", false, "Skip git repository setup")
	return cmd
}

func runInit(dir string, skipGit bool) error {
	bold := color.New(color.Bold)

	root, err := filepath.Abs(dir)
	if err != nil {
		return configErr(fmt.Errorf("resolving %s: %w", dir, err))
	}
	_, _ = bold.Printf("Initializing vault: %s\n", root)

	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating vault root: %w", err)
	}

	// Seed documents go in before Ensure so its placeholder versions
	// never appear.
	seeds := map[string]string{
		vault.HandbookFile: starterHandbook,
		vault.GoalsFile:    starterGoals,
		".gitignore":       vaultGitignore,
	}
	for name, content := range seeds {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	logger := newLogger()
	v := vault.New(root, "init", nil, logger)
	if err := v.Ensure(); err != nil {
		return fmt.Errorf("creating stage tree: %w", err)
	}

	configPath := filepath.Join(root, config.FileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		content := fmt.Sprintf(starterConfig, root)
		if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
	}

	color.Green("  ✓ Vault scaffolded")

	if !skipGit {
		if err := initGit(root); err != nil {
			color.Yellow("  ⚠ Git setup skipped: %v", err)
			color.Yellow("    Run manually: git -C %s init && git -C %s remote add origin <url>", root, root)
		} else {
			color.Green("  ✓ Git repository initialized")
		}
	} else {
		color.Yellow("  → Git setup skipped (--skip-git)")
	}

	fmt.Println()
	_, _ = bold.Println("Next steps:")
	fmt.Printf("  edit %s\n", filepath.Join(root, vault.HandbookFile))
	fmt.Printf("  vaultops orchestrate --config %s\n", configPath)
	fmt.Printf("  vaultops status --config %s\n", configPath)
	return nil
}

func initGit(root string) error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git not found in PATH")
	}
	if _, err := os.Stat(filepath.Join(root, ".git")); err == nil {
		return nil
	}
	cmd := exec.Command("git", "-C", root, "init")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git init: %s", string(out))
	}
	return nil
}

const starterConfig = `vault: %s
mode: local
orchestrator:
  pollInterval: 5s
  workersPerAdapter: 2
rateLimits:
  - channel: email
    capacity: 10
    refill: 10
    interval: 1h
  - channel: social_post
    capacity: 3
    refill: 3
    interval: 1h
  - channel: payment
    capacity: 3
    refill: 3
    interval: 24h
sync:
  interval: 5m
  branch: main
policy:
  amountThreshold: 100
`

const starterHandbook = `# Company Handbook

## Approval rules

- Any payment, bank transfer or invoice above the configured amount
  threshold needs an explicit APPROVAL_ record before dispatch.
- WhatsApp, payments and banking never run from the cloud peer.

## Communication channels

- Email replies within one business day.
- Social posts: at most 3 per hour per platform.
`

const starterGoals = `# Business Goals

- Keep the approval queue under 24 hours of latency.
- Zero unaudited external actions.
`

const vaultGitignore = `.env
.env.*
token.json
credentials.json
.dispatched.json
.seen_*.json
.sessions/
`
