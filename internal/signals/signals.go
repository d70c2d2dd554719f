// Package signals merges the cloud peer's status drops and the sync
// bridge's rolling status into the Cloud Agent section of Dashboard.md.
// Only the region between the cloud markers is rewritten, so the rest
// of the dashboard stays in the user's hands.
package signals

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

const (
	syncStatusFile = "SYNC_STATUS.md"
	maxDraftLines  = 10
	maxClaimLines  = 5
)

// Signal is one parsed status file.
type Signal struct {
	Filename string
	Type     string
	Status   string
	Fields   map[string]string
	At       time.Time
}

// Merger folds signals into the dashboard.
type Merger struct {
	vault  *vault.Vault
	rec    vault.Recorder
	clock  retry.Clock
	logger *slog.Logger
	dryRun bool
}

// New creates a merger over the vault.
func New(v *vault.Vault, rec vault.Recorder, clock retry.Clock, logger *slog.Logger, dryRun bool) *Merger {
	if clock == nil {
		clock = retry.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{vault: v, rec: rec, clock: clock, logger: logger.With("component", "merge_signals"), dryRun: dryRun}
}

// MergeOnce reads every pending signal, rewrites the dashboard's cloud
// region, and archives the consumed CLOUD_STATUS files to Done/. The
// rolling sync status stays in place. Returns the signal count.
func (m *Merger) MergeOnce() (int, error) {
	sigs, files, err := m.collect()
	if err != nil {
		return 0, err
	}

	section := m.renderSection(sigs)
	if m.dryRun {
		m.logger.Info("dry-run: would rewrite dashboard", "signals", len(sigs))
		return len(sigs), nil
	}

	if err := m.rewriteDashboard(section); err != nil {
		return 0, err
	}

	archived := 0
	for _, name := range files {
		if name == syncStatusFile {
			continue
		}
		if err := m.archive(name); err != nil {
			m.logger.Warn("signal archive failed", "file", name, "error", err)
			continue
		}
		archived++
	}

	m.record(len(sigs), archived)
	m.logger.Info("signals merged", "signals", len(sigs), "archived", archived)
	return len(sigs), nil
}

// collect parses CLOUD_STATUS files plus the rolling sync status.
func (m *Merger) collect() ([]Signal, []string, error) {
	names, err := m.vault.List(types.StageSignals)
	if err != nil {
		return nil, nil, fmt.Errorf("listing signals: %w", err)
	}
	sort.Strings(names)

	var sigs []Signal
	var consumed []string
	for _, name := range names {
		if !strings.HasPrefix(name, "CLOUD_") && name != syncStatusFile {
			continue
		}
		sig, err := m.parse(name)
		if err != nil {
			m.logger.Warn("unparsable signal skipped", "file", name, "error", err)
			continue
		}
		sigs = append(sigs, sig)
		consumed = append(consumed, name)
	}
	return sigs, consumed, nil
}

var bulletField = regexp.MustCompile(`- \*\*(.+?)\*\*: (.+)`)

func (m *Merger) parse(name string) (Signal, error) {
	note, err := m.vault.Load(types.StageSignals, name)
	if err != nil {
		return Signal{}, err
	}

	fields := map[string]string{}
	for k, v := range note.Preamble.Extra {
		fields[k] = v
	}
	for _, match := range bulletField.FindAllStringSubmatch(note.Body, -1) {
		fields[match[1]] = match[2]
	}

	at := note.Preamble.Created
	if ts, ok := fields["timestamp"]; ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			at = t
		}
	}
	if at.IsZero() {
		if t, ok := vault.StemTime(vault.Stem(name)); ok {
			at = t
		}
	}

	return Signal{
		Filename: name,
		Type:     note.Preamble.Type,
		Status:   string(note.Preamble.Status),
		Fields:   fields,
		At:       at,
	}, nil
}

// renderSection builds the markdown between the cloud markers.
func (m *Merger) renderSection(sigs []Signal) string {
	var cloud, syncSig *Signal
	for i := range sigs {
		s := &sigs[i]
		switch {
		case s.Type == types.TypeCloudStatus:
			if cloud == nil || s.At.After(cloud.At) {
				cloud = s
			}
		case s.Type == types.TypeSyncStatus || s.Filename == syncStatusFile:
			syncSig = s
		}
	}

	drafts := m.list(types.StagePendingApproval, "CLOUD_DRAFT_")
	claims, _ := m.vault.ListPeer(types.PeerCloud)

	var sb strings.Builder
	sb.WriteString("## Cloud Agent Status\n\n")

	if cloud == nil && syncSig == nil {
		sb.WriteString("_No cloud signals received yet._\n")
		return sb.String()
	}

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Field", "Value"})
	if cloud != nil {
		tw.AppendRow(table.Row{"Status", orUnknown(cloud.Fields["signal_status"])})
		tw.AppendRow(table.Row{"Last Active", cloud.At.Format("2006-01-02 15:04")})
		tw.AppendRow(table.Row{"Tasks Processed", orUnknown(cloud.Fields["tasks_processed"])})
	} else {
		tw.AppendRow(table.Row{"Status", "unknown"})
	}
	if syncSig != nil {
		tw.AppendRow(table.Row{"Vault Sync", fmt.Sprintf("%s (%s)", orUnknown(syncSig.Status), syncSig.At.Format("2006-01-02 15:04"))})
		tw.AppendRow(table.Row{"Files Pulled (last sync)", orZero(syncSig.Fields["files_pulled"])})
		tw.AppendRow(table.Row{"Files Pushed (last sync)", orZero(syncSig.Fields["files_pushed"])})
	}
	tw.AppendRow(table.Row{"Pending Cloud Drafts", fmt.Sprintf("%d", len(drafts))})
	tw.AppendRow(table.Row{"In-Progress (Cloud)", fmt.Sprintf("%d", len(claims))})
	sb.WriteString(tw.RenderMarkdown())
	sb.WriteString("\n")

	if len(drafts) > 0 {
		sb.WriteString("\n### Pending Cloud Drafts (awaiting your approval)\n\n")
		for i, d := range drafts {
			if i == maxDraftLines {
				break
			}
			fmt.Fprintf(&sb, "- [ ] `%s`\n", d)
		}
	}
	if len(claims) > 0 {
		sb.WriteString("\n### In-Progress (Cloud claiming)\n\n")
		for i, c := range claims {
			if i == maxClaimLines {
				break
			}
			fmt.Fprintf(&sb, "- `%s`\n", c)
		}
	}

	fmt.Fprintf(&sb, "\n_Last merged: %s_\n", m.clock.Now().Format("2006-01-02 15:04"))
	return sb.String()
}

// rewriteDashboard replaces only the marked region. A dashboard without
// markers gets the region appended; a missing dashboard is created.
func (m *Merger) rewriteDashboard(section string) error {
	region := vault.CloudRegionBegin + "\n" + section + vault.CloudRegionEnd

	raw, err := m.vault.ReadSingleton(vault.DashboardFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("reading dashboard: %w", err)
		}
		raw = []byte("# Dashboard\n\n")
	}

	current := string(raw)
	begin := strings.Index(current, vault.CloudRegionBegin)
	end := strings.Index(current, vault.CloudRegionEnd)

	var updated string
	if begin >= 0 && end > begin {
		updated = current[:begin] + region + current[end+len(vault.CloudRegionEnd):]
	} else {
		updated = strings.TrimRight(current, "\n") + "\n\n" + region + "\n"
	}

	if err := m.vault.WriteSingleton(vault.DashboardFile, []byte(updated)); err != nil {
		return fmt.Errorf("writing dashboard: %w", err)
	}
	return nil
}

// archive moves a consumed signal to Done/ under a SIGNAL_ name.
func (m *Merger) archive(name string) error {
	src := filepath.Join(m.vault.Dir(types.StageSignals), name)
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if _, err := m.vault.EmitRaw(types.StageDone, "SIGNAL_"+name, raw); err != nil {
		return err
	}
	return os.Remove(src)
}

func (m *Merger) list(stage types.Stage, prefix string) []string {
	names, err := m.vault.List(stage)
	if err != nil {
		return nil
	}
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func (m *Merger) record(count, archived int) {
	if m.rec == nil {
		return
	}
	if err := m.rec.Append(types.Event{
		EventType: "signals_merged",
		Actor:     "merge_signals",
		Result:    "ok",
		Detail:    fmt.Sprintf("signals=%d archived=%d", count, archived),
	}); err != nil {
		m.logger.Warn("audit append failed", "error", err)
	}
}
