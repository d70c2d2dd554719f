// Package briefing generates the human-facing reports: a morning
// briefing summarizing yesterday, and a weekly audit over the event
// log. Both are pure readers; they never move queue files.
package briefing

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/vaultops-systems/vaultops/internal/eventlog"
	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

const maxErrorLines = 5

// Generator writes reports into Briefings/.
type Generator struct {
	vault  *vault.Vault
	clock  retry.Clock
	logger *slog.Logger
}

// New creates a report generator over the vault.
func New(v *vault.Vault, clock retry.Clock, logger *slog.Logger) *Generator {
	if clock == nil {
		clock = retry.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{vault: v, clock: clock, logger: logger.With("component", "briefing")}
}

// Morning writes BRIEFING_<date>.md covering yesterday's activity and
// the current queue state. Returns the filename written.
func (g *Generator) Morning() (string, error) {
	now := g.clock.Now()
	yesterday := now.AddDate(0, 0, -1)

	events, err := eventlog.ReadDay(g.vault.LogsDir(), yesterday)
	if err != nil {
		return "", fmt.Errorf("reading yesterday's log: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "---\ntype: morning_briefing\ngenerated: %s\ncovers: %s\n---\n\n",
		now.Format(time.RFC3339), yesterday.Format("2006-01-02"))
	fmt.Fprintf(&sb, "# Morning Briefing %s\n\n", now.Format("2006-01-02"))

	fmt.Fprintf(&sb, "## Yesterday\n\n")
	if len(events) == 0 {
		sb.WriteString("No recorded activity.\n")
	} else {
		g.renderCounts(&sb, countByType(events))
		writeErrors(&sb, events)
	}

	sb.WriteString("\n## Queues This Morning\n\n")
	g.renderQueues(&sb)

	g.renderPendingApprovals(&sb)

	name := fmt.Sprintf("BRIEFING_%s.md", now.Format("2006-01-02"))
	written, err := g.vault.EmitRaw(types.StageBriefings, name, []byte(sb.String()))
	if err != nil {
		return "", fmt.Errorf("writing briefing: %w", err)
	}
	g.logger.Info("morning briefing written", "file", written, "events", len(events))
	return written, nil
}

// WeeklyAudit writes AUDIT_<date>.md over the trailing seven days:
// event volumes, error rates, and throttling.
func (g *Generator) WeeklyAudit() (string, error) {
	now := g.clock.Now()
	from := now.AddDate(0, 0, -7)

	events, err := eventlog.ReadRange(g.vault.LogsDir(), from, now)
	if err != nil {
		return "", fmt.Errorf("reading event log: %w", err)
	}

	counts := countByType(events)
	errCount := 0
	rateHits := 0
	for _, e := range events {
		if isError(e) {
			errCount++
		}
		if e.EventType == "dispatch_deferred" {
			rateHits++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "---\ntype: weekly_audit\ngenerated: %s\nperiod: %s to %s\n---\n\n",
		now.Format(time.RFC3339), from.Format("2006-01-02"), now.Format("2006-01-02"))
	fmt.Fprintf(&sb, "# Weekly Audit %s\n\n", now.Format("2006-01-02"))

	fmt.Fprintf(&sb, "## Summary\n\n")
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Metric", "Value"})
	tw.AppendRow(table.Row{"Total Events", len(events)})
	tw.AppendRow(table.Row{"Errors", errCount})
	tw.AppendRow(table.Row{"Error Rate", errorRate(errCount, len(events))})
	tw.AppendRow(table.Row{"Rate-Limit Deferrals", rateHits})
	sb.WriteString(tw.RenderMarkdown())
	sb.WriteString("\n\n## Events By Type\n\n")

	if len(counts) == 0 {
		sb.WriteString("No recorded activity this period.\n")
	} else {
		g.renderCounts(&sb, counts)
		writeErrors(&sb, events)
	}

	name := fmt.Sprintf("AUDIT_%s.md", now.Format("2006-01-02"))
	written, err := g.vault.EmitRaw(types.StageBriefings, name, []byte(sb.String()))
	if err != nil {
		return "", fmt.Errorf("writing audit: %w", err)
	}
	g.logger.Info("weekly audit written", "file", written, "events", len(events), "errors", errCount)
	return written, nil
}

func (g *Generator) renderCounts(sb *strings.Builder, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Event", "Count"})
	for _, k := range keys {
		tw.AppendRow(table.Row{k, counts[k]})
	}
	sb.WriteString(tw.RenderMarkdown())
	sb.WriteString("\n")
}

func (g *Generator) renderQueues(sb *strings.Builder) {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Stage", "Depth"})
	for _, stage := range []types.Stage{
		types.StageInbox, types.StageNeedsAction, types.StagePendingApproval,
		types.StageApproved, types.StageRejected, types.StageDone,
	} {
		names, err := g.vault.List(stage)
		if err != nil {
			continue
		}
		tw.AppendRow(table.Row{string(stage), len(names)})
	}
	for _, peer := range []types.PeerMode{types.PeerLocal, types.PeerCloud} {
		names, err := g.vault.ListPeer(peer)
		if err != nil {
			continue
		}
		tw.AppendRow(table.Row{"In_Progress/" + string(peer), len(names)})
	}
	sb.WriteString(tw.RenderMarkdown())
	sb.WriteString("\n")
}

func (g *Generator) renderPendingApprovals(sb *strings.Builder) {
	names, err := g.vault.List(types.StagePendingApproval)
	if err != nil || len(names) == 0 {
		return
	}
	sb.WriteString("\n## Awaiting Your Approval\n\n")
	for _, n := range names {
		fmt.Fprintf(sb, "- [ ] `%s`\n", n)
	}
}

func writeErrors(sb *strings.Builder, events []types.Event) {
	var errs []types.Event
	for _, e := range events {
		if isError(e) {
			errs = append(errs, e)
		}
	}
	if len(errs) == 0 {
		return
	}
	if len(errs) > maxErrorLines {
		errs = errs[len(errs)-maxErrorLines:]
	}
	sb.WriteString("\n### Recent Errors\n\n")
	for _, e := range errs {
		fmt.Fprintf(sb, "- %s `%s` %s %s\n",
			e.Timestamp.Format("15:04"), e.EventType, e.File, e.Detail)
	}
}

func countByType(events []types.Event) map[string]int {
	counts := map[string]int{}
	for _, e := range events {
		counts[e.EventType]++
	}
	return counts
}

func isError(e types.Event) bool {
	return e.Result == "error" || strings.Contains(e.EventType, "error") || strings.Contains(e.EventType, "failed")
}

func errorRate(errs, total int) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(errs)/float64(total)*100)
}
