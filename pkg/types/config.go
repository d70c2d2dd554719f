package types

import "time"

// Config is the root of vaultops.yaml.
type Config struct {
	Vault        string             `yaml:"vault"`
	Mode         PeerMode           `yaml:"mode,omitempty"`
	DryRun       bool               `yaml:"dryRun,omitempty"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Watchers     WatchersConfig     `yaml:"watchers,omitempty"`
	RateLimits   []RateLimitConfig  `yaml:"rateLimits,omitempty"`
	Retry        *RetryPolicy       `yaml:"retry,omitempty"`
	Sync         SyncConfig         `yaml:"sync,omitempty"`
	Policy       PolicyConfig       `yaml:"policy,omitempty"`
}

// MaxPollInterval bounds the Approved/ rescan fallback so a missed
// fsnotify event delays a dispatch by at most this much.
const MaxPollInterval = 5 * time.Second

// OrchestratorConfig tunes the approval router.
type OrchestratorConfig struct {
	PollInterval      time.Duration `yaml:"pollInterval,omitempty"`      // Approved/ rescan fallback, <= 5s
	DispatchTimeout   time.Duration `yaml:"dispatchTimeout,omitempty"`   // per adapter call, default 30s
	ShutdownGrace     time.Duration `yaml:"shutdownGrace,omitempty"`     // default 10s
	WorkersPerAdapter int           `yaml:"workersPerAdapter,omitempty"` // default 2
	DeferCooldown     time.Duration `yaml:"deferCooldown,omitempty"`     // revisit delay for deferred stems
	ClaimTTL          time.Duration `yaml:"claimTTL,omitempty"`          // stale In_Progress sweep age
}

// WatchersConfig tunes the watcher processes.
type WatchersConfig struct {
	DefaultInterval time.Duration            `yaml:"defaultInterval,omitempty"` // network sources, 30-180s
	Intervals       map[string]time.Duration `yaml:"intervals,omitempty"`       // per watcher name
}

// RateLimitConfig declares a token bucket for a named channel.
type RateLimitConfig struct {
	Channel  string        `yaml:"channel"`
	Capacity int           `yaml:"capacity"`
	Refill   int           `yaml:"refill"`   // tokens per interval
	Interval time.Duration `yaml:"interval"` // refill interval
}

// SyncConfig tunes the git sync bridge.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"` // default 5m
	Branch   string        `yaml:"branch,omitempty"`   // default main, env GIT_VAULT_BRANCH
	Remote   string        `yaml:"remote,omitempty"`   // default origin
}

// PolicyConfig holds handbook rules the router re-checks even for
// approved files.
type PolicyConfig struct {
	AmountThreshold float64 `yaml:"amountThreshold,omitempty"` // default 100
}

// DefaultRateLimits are the configured channels from the company handbook.
func DefaultRateLimits() []RateLimitConfig {
	return []RateLimitConfig{
		{Channel: ChannelEmail, Capacity: 10, Refill: 10, Interval: time.Hour},
		{Channel: ChannelSocialPost, Capacity: 3, Refill: 3, Interval: time.Hour},
		{Channel: ChannelPayment, Capacity: 3, Refill: 3, Interval: 24 * time.Hour},
	}
}
