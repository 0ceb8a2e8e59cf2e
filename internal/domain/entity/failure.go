package entity

import "time"

// FailureKind is the classified category of an error.
type FailureKind string

const (
	FailureNetwork     FailureKind = "network"
	FailureTimeout     FailureKind = "timeout"
	FailureAuth        FailureKind = "auth"
	FailureRateLimit   FailureKind = "rate_limit"
	FailureParsing     FailureKind = "parsing"
	FailureStorage     FailureKind = "storage"
	FailureBroker      FailureKind = "broker"
	FailureValidation  FailureKind = "validation"
	FailureCircuitOpen FailureKind = "circuit_open"
	FailureUnknown     FailureKind = "unknown"
)

// Transient reports whether the kind is worth retrying by default.
func (k FailureKind) Transient() bool {
	switch k {
	case FailureNetwork, FailureTimeout, FailureRateLimit, FailureStorage, FailureBroker:
		return true
	case FailureAuth, FailureParsing, FailureValidation, FailureCircuitOpen, FailureUnknown:
		return false
	}
	return false
}

// Replayable reports whether dead-lettered messages of this kind may be replayed.
func (k FailureKind) Replayable() bool {
	return k != FailureValidation && k != FailureParsing
}

// NonReplayableKinds lists the kinds for which Replayable is false.
func NonReplayableKinds() []FailureKind {
	return []FailureKind{FailureValidation, FailureParsing}
}

// FailureRecord is one classified failure. Records are append-only.
type FailureRecord struct {
	ID         string
	Component  string
	Operation  string
	Kind       FailureKind
	Message    string
	OccurredAt time.Time
	RetryCount int
	Resolved   bool
}

// DLQMessage is a message that could not be delivered after exhausting retries.
type DLQMessage struct {
	ID      string
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string

	// Dependency names the circuit breaker guarding replay.
	Dependency string

	FailureKind        FailureKind
	ErrorMessage       string
	FailureCount       int
	FirstFailureAt     time.Time
	LastFailureAt      time.Time
	RecoveryAttempted  bool
	RecoverySuccessful bool
}

// Age returns how long ago the message first failed.
func (m *DLQMessage) Age(now time.Time) time.Duration {
	return now.Sub(m.FirstFailureAt)
}

// HealthSnapshot is a point-in-time aggregate of source health.
type HealthSnapshot struct {
	TakenAt      time.Time
	Total        int
	Active       int
	Healthy      int
	Warning      int
	Error        int
	Unknown      int
	HealthyRatio float64
}
