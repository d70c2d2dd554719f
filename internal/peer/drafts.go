package peer

import (
	"fmt"
	"strings"

	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// draftEmailReply writes a CLOUD_DRAFT_EMAIL note into Pending_Approval/
// carrying a proposed reply. The local peer sends it only after a human
// moves the draft to Approved/.
func (a *Agent) draftEmailReply(src *vault.Note) (string, error) {
	now := a.clock.Now()
	stem := vault.NewStem(types.KindCloudDraft+"_"+types.KindEmail, topicOf(src), now)

	subject := src.Preamble.Subject
	if subject == "" {
		subject = "Re: " + topicOf(src)
	} else if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	p := types.Preamble{
		Type:       types.TypeCloudDraftEmail,
		Action:     types.ActionSendEmail,
		Priority:   src.Preamble.Priority,
		Status:     types.StatusPending,
		Created:    now,
		Source:     "cloud",
		SourceFile: src.Filename,
		Sender:     src.Preamble.Sender,
		Subject:    subject,
	}

	body := fmt.Sprintf("# Draft reply: %s\n\n", subject)
	if src.Preamble.Sender != "" {
		body += fmt.Sprintf("To: %s\n\n", src.Preamble.Sender)
	}
	body += "Hi,\n\nThanks for reaching out. "
	body += draftGist(src.Body)
	body += "\n\nBest regards\n\n---\n\n## Original\n\n" + src.Body + "\n"

	return a.vault.Emit(types.StagePendingApproval, stem, p, body)
}

// draftSocialPost writes a CLOUD_DRAFT_SOCIAL note for the platform the
// source task names.
func (a *Agent) draftSocialPost(src *vault.Note) (string, error) {
	platform := platformOf(src)
	if platform == "" {
		return "", fmt.Errorf("no platform on %s", src.Filename)
	}
	now := a.clock.Now()
	kind := types.KindCloudDraft + "_" + types.KindSocial + "_" + strings.ToUpper(platform)
	stem := vault.NewStem(kind, topicOf(src), now)

	p := types.Preamble{
		Type:       types.TypeCloudDraftSocial,
		Action:     "post_to_" + platform,
		Priority:   src.Preamble.Priority,
		Status:     types.StatusPending,
		Created:    now,
		Source:     "cloud",
		SourceFile: src.Filename,
		Platform:   platform,
	}

	body := fmt.Sprintf("# Draft %s post\n\n%s\n\n---\n\n## Source\n\n%s\n",
		platform, draftGist(src.Body), src.Body)

	return a.vault.Emit(types.StagePendingApproval, stem, p, body)
}

// topicOf recovers the middle segment of the source stem for reuse in
// the draft's stem, so drafts sort next to their origin.
func topicOf(src *vault.Note) string {
	stem := src.Stem()
	parts := strings.Split(stem, "_")
	if len(parts) > 2 {
		parts = parts[1 : len(parts)-1]
	}
	topic := strings.Join(parts, "_")
	if len(topic) > 40 {
		topic = topic[:40]
	}
	return topic
}

func platformOf(src *vault.Note) string {
	if p := strings.ToLower(src.Preamble.Platform); p != "" {
		return p
	}
	if rest, ok := strings.CutPrefix(src.Preamble.Action, "post_to_"); ok {
		return rest
	}
	if strings.HasPrefix(src.Stem(), types.KindLinkedInPost+"_") {
		return "linkedin"
	}
	return ""
}

// draftGist lifts the first non-heading line of the source body as the
// seed sentence of the draft.
func draftGist(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if len(line) > 200 {
			line = line[:200]
		}
		return line
	}
	return "Following up on the item below."
}
