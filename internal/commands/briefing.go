package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultops-systems/vaultops/internal/briefing"
	"github.com/vaultops-systems/vaultops/internal/retry"
)

// NewBriefingCmd creates the briefing command.
func NewBriefingCmd() *cobra.Command {
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "briefing",
		Short: "Write the morning briefing now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBriefing(&flags)
		},
	}

	flags.register(cmd)
	return cmd
}

// NewAuditCmd creates the audit command.
func NewAuditCmd() *cobra.Command {
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Write the weekly audit report now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(&flags)
		},
	}

	flags.register(cmd)
	return cmd
}

func runBriefing(flags *commonFlags) error {
	gen, closeFn, err := openGenerator(flags)
	if err != nil {
		return err
	}
	defer closeFn()

	name, err := gen.Morning()
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", name)
	return nil
}

func runAudit(flags *commonFlags) error {
	gen, closeFn, err := openGenerator(flags)
	if err != nil {
		return err
	}
	defer closeFn()

	name, err := gen.WeeklyAudit()
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", name)
	return nil
}

func openGenerator(flags *commonFlags) (*briefing.Generator, func(), error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger()
	v, rec, err := openVault(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return briefing.New(v, retry.RealClock(), logger), func() { _ = rec.Close() }, nil
}
