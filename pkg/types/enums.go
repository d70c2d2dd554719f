// Package types defines the public domain types for the vaultops work orchestrator.
package types

import "time"

// Stage is a named queue directory inside the vault.
type Stage string

// Stage values enumerate the canonical vault directories.
const (
	StageInbox           Stage = "Inbox"
	StageNeedsAction     Stage = "Needs_Action"
	StageInProgress      Stage = "In_Progress"
	StagePlans           Stage = "Plans"
	StagePendingApproval Stage = "Pending_Approval"
	StageApproved        Stage = "Approved"
	StageRejected        Stage = "Rejected"
	StageDone            Stage = "Done"
	StageLogs            Stage = "Logs"
	StageBriefings       Stage = "Briefings"
	StageAccounting      Stage = "Accounting"
	StageSignals         Stage = "Signals"
)

// Stages lists every stage directory Ensure creates, in creation order.
var Stages = []Stage{
	StageInbox, StageNeedsAction, StageInProgress, StagePlans,
	StagePendingApproval, StageApproved, StageRejected, StageDone,
	StageLogs, StageBriefings, StageAccounting, StageSignals,
}

// Terminal reports whether the stage is absorbing: nothing leaves it.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageRejected
}

// Priority is the response-window class of an action note.
type Priority string

// Priority values, most to least urgent.
const (
	P0 Priority = "P0" // immediate
	P1 Priority = "P1" // 2h
	P2 Priority = "P2" // 24h
	P3 Priority = "P3" // 72h
)

// TTL returns the response window implied by the priority. P0 means
// "immediate"; one hour is the practical floor so a P0 note is not born
// expired. Used as the default expiry for notes without an explicit one.
func (p Priority) TTL() time.Duration {
	switch p {
	case P0:
		return time.Hour
	case P1:
		return 2 * time.Hour
	case P2:
		return 24 * time.Hour
	default:
		return 72 * time.Hour
	}
}

// Valid reports whether p is one of the four declared classes.
func (p Priority) Valid() bool {
	switch p {
	case P0, P1, P2, P3:
		return true
	}
	return false
}

// NoteStatus is the lifecycle state carried in a note's preamble.
type NoteStatus string

// NoteStatus values for the note lifecycle.
const (
	StatusPending    NoteStatus = "pending"
	StatusInProgress NoteStatus = "in_progress"
	StatusApproved   NoteStatus = "approved"
	StatusDone       NoteStatus = "done"
	StatusRejected   NoteStatus = "rejected"
)

// Rank orders statuses by lifecycle progress. The sync bridge keeps the
// side with the higher rank when both peers changed the same stem.
func (s NoteStatus) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusInProgress:
		return 2
	case StatusApproved:
		return 3
	case StatusDone, StatusRejected:
		return 4
	default:
		return 0
	}
}

// Outcome is an adapter's verdict on a single approved file.
type Outcome string

// Outcome values returned by adapter dispatch.
const (
	OutcomeSent     Outcome = "sent"
	OutcomeDrafted  Outcome = "drafted"
	OutcomeRejected Outcome = "rejected"
	OutcomeDeferred Outcome = "deferred"
	OutcomeSkipped  Outcome = "skipped"
)

// FailureCategory classifies an error for retry and routing decisions.
type FailureCategory string

// FailureCategory values taxonomize failures.
const (
	FailureTransient FailureCategory = "TRANSIENT"
	FailureTimeout   FailureCategory = "TIMEOUT"
	FailurePermanent FailureCategory = "PERMANENT"
	FailurePolicy    FailureCategory = "POLICY"
	FailureIntegrity FailureCategory = "INTEGRITY"
)

// PeerMode identifies which orchestrator peer a process is running as.
type PeerMode string

// PeerMode values for the two vault-sharing peers.
const (
	PeerLocal PeerMode = "local"
	PeerCloud PeerMode = "cloud"
)

// Other returns the opposite peer.
func (m PeerMode) Other() PeerMode {
	if m == PeerCloud {
		return PeerLocal
	}
	return PeerCloud
}

// NoteType values used in the preamble's type field.
const (
	TypeEmail              = "email"
	TypeFileDrop           = "file_drop"
	TypeLinkedInMessage    = "linkedin_message"
	TypeSocialPostApproval = "social_post_approval"
	TypeERPAction          = "erp_action"
	TypeSecurityReview     = "security_review"
	TypeManualAction       = "manual_action_required"
	TypeNotification       = "notification"
	TypeCloudDraftEmail    = "cloud_draft_email"
	TypeCloudDraftSocial   = "cloud_draft_social"
	TypeSyncStatus         = "sync_status"
	TypeCloudStatus        = "cloud_status"
)

// Action verbs used in the preamble's action field.
const (
	ActionSendEmail      = "send_email"
	ActionPostLinkedIn   = "post_to_linkedin"
	ActionPostTwitter    = "post_to_twitter"
	ActionPostFacebook   = "post_to_facebook"
	ActionPostInstagram  = "post_to_instagram"
	ActionCreateInvoice  = "create_invoice"
	ActionCreateQuote    = "create_quotation"
	ActionAcknowledge    = "acknowledge_and_archive"
	ActionProcessPayment = "process_payment"
	ActionBankTransfer   = "bank_transfer"
)

// Filename kind prefixes. The stem format is KIND_TOPIC_YYYYMMDDHHMMSS.
const (
	KindEmail        = "EMAIL"
	KindFile         = "FILE"
	KindApproval     = "APPROVAL"
	KindLinkedInPost = "LINKEDIN_POST"
	KindSocial       = "SOCIAL"
	KindCloudDraft   = "CLOUD_DRAFT"
	KindPlan         = "PLAN"
	KindUrgent       = "URGENT"
	KindSignal       = "SIGNAL"
)

// Rate-limit channel names.
const (
	ChannelEmail      = "email"
	ChannelSocialPost = "social_post"
	ChannelPayment    = "payment"
)
