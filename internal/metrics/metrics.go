// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	NotesEmitted       = expvar.NewInt("notes_emitted")
	NotesDispatched    = expvar.NewInt("notes_dispatched")
	DispatchFailures   = expvar.NewInt("dispatch_failures")
	DispatchDeferred   = expvar.NewInt("dispatch_deferred")
	NotesQuarantined   = expvar.NewInt("notes_quarantined")
	NotesExpired       = expvar.NewInt("notes_expired")
	ClaimsWon          = expvar.NewInt("claims_won")
	ClaimsLost         = expvar.NewInt("claims_lost")
	ClaimsSwept        = expvar.NewInt("claims_swept")
	WatcherPolls       = expvar.NewInt("watcher_polls")
	WatcherPollErrors  = expvar.NewInt("watcher_poll_errors")
	WatcherItemsSeen   = expvar.NewInt("watcher_items_seen")
	MailAutoAcked      = expvar.NewInt("mail_auto_acked")
	SyncCycles         = expvar.NewInt("sync_cycles")
	SyncFailures       = expvar.NewInt("sync_failures")
	SchedulerRuns      = expvar.NewInt("scheduler_runs")
	SchedulerOverlaps  = expvar.NewInt("scheduler_overlaps_skipped")
	RateLimitDeferrals = expvar.NewInt("rate_limit_deferrals")
)
