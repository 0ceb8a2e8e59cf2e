// Package retry provides retry logic with exponential backoff and jitter.
// Each operation type has its own named Policy; failures are classified once
// and the retry decision is made on the failure kind.
package retry

import (
	"math"
	"time"

	"regwatch/internal/domain/entity"
)

// Operation types governed by named policies.
const (
	OpFeedPoll           = "feed_poll"
	OpDocumentProcessing = "document_processing"
	OpPersistence        = "persistence"
	OpBrokerPublish      = "broker_publish"
	OpEventConsume       = "event_consume"
)

// Dependency names guarded by circuit breakers.
const (
	DepFeedSources      = "feed_sources"
	DepContentProcessor = "content_processor"
	DepStorage          = "storage"
	DepBroker           = "broker"
	DepRecompiler       = "recompiler"
)

// Policy holds the configuration for retrying one operation type.
type Policy struct {
	Name string

	// MaxAttempts is the total number of invocations, including the first
	MaxAttempts int

	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration

	// MaxDelay caps any single delay
	MaxDelay time.Duration

	// Multiplier is the exponential backoff base
	Multiplier float64

	// Jitter scales each delay by a random factor in [0.5, 1.0)
	Jitter bool

	// RetryOn, when non-empty, lists the only kinds that are retried
	RetryOn []entity.FailureKind

	// StopOn lists kinds that abort immediately
	StopOn []entity.FailureKind
}

var defaultStopOn = []entity.FailureKind{
	entity.FailureValidation,
	entity.FailureParsing,
	entity.FailureAuth,
	entity.FailureCircuitOpen,
}

var transientKinds = []entity.FailureKind{
	entity.FailureNetwork,
	entity.FailureTimeout,
	entity.FailureRateLimit,
	entity.FailureStorage,
	entity.FailureBroker,
}

// FeedPollPolicy returns the policy for fetching feed payloads.
func FeedPollPolicy() Policy {
	return Policy{
		Name:        OpFeedPoll,
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		RetryOn:     transientKinds,
		StopOn:      defaultStopOn,
	}
}

// DocumentProcessingPolicy returns the policy for the content processor.
// Unknown failures are retried since the processor is opaque.
func DocumentProcessingPolicy() Policy {
	return Policy{
		Name:        OpDocumentProcessing,
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		RetryOn:     append(append([]entity.FailureKind{}, transientKinds...), entity.FailureUnknown),
		StopOn:      defaultStopOn,
	}
}

// PersistencePolicy returns the policy for database operations.
// Fast retry for transient connection issues.
func PersistencePolicy() Policy {
	return Policy{
		Name:        OpPersistence,
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    1 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		RetryOn:     []entity.FailureKind{entity.FailureStorage, entity.FailureTimeout, entity.FailureNetwork},
		StopOn:      defaultStopOn,
	}
}

// BrokerPublishPolicy returns the policy for broker publishes.
func BrokerPublishPolicy() Policy {
	return Policy{
		Name:        OpBrokerPublish,
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		RetryOn:     transientKinds,
		StopOn:      defaultStopOn,
	}
}

// EventConsumePolicy returns the policy for downstream recompilation.
func EventConsumePolicy() Policy {
	p := DocumentProcessingPolicy()
	p.Name = OpEventConsume
	return p
}

// DefaultPolicies returns the named policies keyed by operation type.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		OpFeedPoll:           FeedPollPolicy(),
		OpDocumentProcessing: DocumentProcessingPolicy(),
		OpPersistence:        PersistencePolicy(),
		OpBrokerPublish:      BrokerPublishPolicy(),
		OpEventConsume:       EventConsumePolicy(),
	}
}

// DefaultBindings maps operation types to the dependency whose breaker guards them.
func DefaultBindings() map[string]string {
	return map[string]string{
		OpFeedPoll:           DepFeedSources,
		OpDocumentProcessing: DepContentProcessor,
		OpPersistence:        DepStorage,
		OpBrokerPublish:      DepBroker,
		OpEventConsume:       DepRecompiler,
	}
}

// Delay returns the wait before retry number attempt (1-based):
// min(BaseDelay * Multiplier^(attempt-1), MaxDelay), scaled into [0.5, 1.0)
// of that value when Jitter is set. random must return values in [0, 1).
func (p Policy) Delay(attempt int, random func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter && random != nil {
		d *= 0.5 + 0.5*random()
	}
	return time.Duration(d)
}

// ShouldRetry reports whether a failure of kind may be retried under p.
func (p Policy) ShouldRetry(kind entity.FailureKind) bool {
	for _, k := range p.StopOn {
		if k == kind {
			return false
		}
	}
	if len(p.RetryOn) == 0 {
		return true
	}
	for _, k := range p.RetryOn {
		if k == kind {
			return true
		}
	}
	return false
}
