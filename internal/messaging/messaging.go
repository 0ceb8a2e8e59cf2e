// Package messaging defines the narrow broker interface used by the event
// publisher, the consumer and the dead-letter router.
package messaging

import (
	"context"
)

// Well-known header names.
const (
	HeaderEventKind      = "event-kind"
	HeaderCorrelationID  = "correlation-id"
	HeaderPriority       = "priority"
	HeaderContentType    = "content-type"
	HeaderIdempotencyKey = "idempotency-key"
	HeaderPartitionKey   = "partition-key"
	HeaderDeadLetterID   = "dead-letter-id"
)

// DLQSuffix is appended to a topic to form its dead-letter topic.
const DLQSuffix = ".dlq"

// DeadLetterTopic returns the dead-letter destination for topic.
func DeadLetterTopic(topic string) string {
	return topic + DLQSuffix
}

// Message is a single broker message. Key determines ordering: messages
// with the same key are delivered in publish order.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

// Delivery is a received message. Commit acknowledges it; an uncommitted
// delivery may be redelivered.
type Delivery struct {
	Message
	Commit func(ctx context.Context) error
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Subscriber interface {
	// Subscribe delivers messages from topics until ctx is cancelled.
	Subscribe(ctx context.Context, topics []string) (<-chan Delivery, error)
}

type Broker interface {
	Publisher
	Subscriber
	Close() error
}
