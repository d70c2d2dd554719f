package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vaultops-systems/vaultops/internal/eventlog"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

const recentEvents = 10

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depths and recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(&flags)
		},
	}

	flags.register(cmd)
	return cmd
}

func runStatus(flags *commonFlags) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}

	logger := newLogger()
	v, rec, err := openVault(cfg, logger)
	if err != nil {
		return err
	}
	defer rec.Close()

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Vault: %s (mode=%s)\n\n", v.Root(), cfg.Mode)

	renderQueues(v)

	if pending, err := v.List(types.StagePendingApproval); err == nil && len(pending) > 0 {
		fmt.Println()
		_, _ = bold.Println("Awaiting approval:")
		for _, name := range pending {
			color.Yellow("  ○ %s", name)
		}
	}

	events, err := eventlog.ReadDay(v.LogsDir(), time.Now())
	if err == nil && len(events) > 0 {
		if len(events) > recentEvents {
			events = events[len(events)-recentEvents:]
		}
		fmt.Println()
		_, _ = bold.Println("Recent activity:")
		for _, e := range events {
			line := fmt.Sprintf("  %s  %-24s %s",
				e.Timestamp.Format("15:04:05"), e.EventType, e.File)
			switch e.Result {
			case "error", "rejected":
				color.Red("%s", line)
			case "ok", "sent", "created":
				color.Green("%s", line)
			default:
				fmt.Println(line)
			}
		}
	}

	fmt.Println()
	return nil
}

func renderQueues(v *vault.Vault) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Queue", "Files"})

	stages := []types.Stage{
		types.StageInbox, types.StageNeedsAction, types.StagePlans,
		types.StagePendingApproval, types.StageApproved,
		types.StageRejected, types.StageDone,
	}
	for _, s := range stages {
		names, err := v.List(s)
		if err != nil {
			tw.AppendRow(table.Row{string(s), "?"})
			continue
		}
		tw.AppendRow(table.Row{string(s), len(names)})
	}
	for _, p := range []types.PeerMode{types.PeerLocal, types.PeerCloud} {
		names, _ := v.ListPeer(p)
		tw.AppendRow(table.Row{"In_Progress/" + string(p), len(names)})
	}
	tw.Render()
}
