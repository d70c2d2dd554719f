package types

import "time"

// Preamble is the structured key/value head of an action note. Unknown
// type-specific keys (sender, platform, channel, …) ride in Extra so no
// watcher or adapter loses fields it did not declare.
type Preamble struct {
	Type     string     `yaml:"type"`
	Action   string     `yaml:"action,omitempty"`
	Priority Priority   `yaml:"priority,omitempty"`
	Status   NoteStatus `yaml:"status,omitempty"`
	Created  time.Time  `yaml:"created"`
	Expires  *time.Time `yaml:"expires,omitempty"`

	Source     string  `yaml:"source,omitempty"`
	SourceFile string  `yaml:"source_file,omitempty"`
	Sender     string  `yaml:"sender,omitempty"`
	Subject    string  `yaml:"subject,omitempty"`
	Platform   string  `yaml:"platform,omitempty"`
	Channel    string  `yaml:"channel,omitempty"`
	Amount     float64 `yaml:"amount,omitempty"`
	Currency   string  `yaml:"currency,omitempty"`
	Partner    string  `yaml:"partner_name,omitempty"`

	Extra map[string]string `yaml:",inline"`
}

// Expired reports whether the note's deadline has passed at the given instant.
// Notes without an expiry never expire.
func (p Preamble) Expired(now time.Time) bool {
	return p.Expires != nil && now.After(*p.Expires)
}

// Event is one line in the vault's daily JSON-lines audit log.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Actor     string    `json:"actor"`
	File      string    `json:"file,omitempty"`
	Action    string    `json:"action,omitempty"`
	Result    string    `json:"result"`
	Detail    string    `json:"detail,omitempty"`
}

// RetryPolicy governs backoff behavior for a unit of work.
type RetryPolicy struct {
	MaxAttempts       int               `yaml:"maxAttempts" json:"maxAttempts"`
	BackoffSeconds    int               `yaml:"backoffSeconds" json:"backoffSeconds"`
	BackoffMultiplier float64           `yaml:"backoffMultiplier,omitempty" json:"backoffMultiplier,omitempty"`
	RetryableFailures []FailureCategory `yaml:"retryableFailures,omitempty" json:"retryableFailures,omitempty"`
}
