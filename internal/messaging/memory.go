package messaging

import (
	"context"
	"errors"
	"sync"
)

// ErrBrokerClosed is returned by a closed MemoryBroker.
var ErrBrokerClosed = errors.New("broker closed")

type memorySubscription struct {
	topics map[string]bool
	ch     chan Delivery
	done   chan struct{}
}

// MemoryBroker is an in-process Broker for local runs and tests. Delivery is
// synchronous per subscriber, so same-key ordering follows publish order.
type MemoryBroker struct {
	mu        sync.Mutex
	subs      []*memorySubscription
	published map[string][]Message
	committed int
	closed    bool
	buffer    int
}

// NewMemoryBroker creates a broker whose subscriptions buffer up to buffer deliveries.
func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBroker{published: make(map[string][]Message), buffer: buffer}
}

// Publish stores msg and hands it to every subscriber of its topic,
// blocking while a subscriber's buffer is full.
func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	b.published[msg.Topic] = append(b.published[msg.Topic], cloneMessage(msg))
	subs := make([]*memorySubscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.topics[msg.Topic] {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		d := Delivery{Message: cloneMessage(msg), Commit: b.commit}
		select {
		case s.ch <- d:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBroker) commit(context.Context) error {
	b.mu.Lock()
	b.committed++
	b.mu.Unlock()
	return nil
}

// Subscribe registers a subscription that ends when ctx is cancelled.
func (b *MemoryBroker) Subscribe(ctx context.Context, topics []string) (<-chan Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}

	s := &memorySubscription{
		topics: make(map[string]bool, len(topics)),
		ch:     make(chan Delivery, b.buffer),
		done:   make(chan struct{}),
	}
	for _, t := range topics {
		s.topics[t] = true
	}
	b.subs = append(b.subs, s)

	go func() {
		<-ctx.Done()
		b.unsubscribe(s)
	}()
	return s.ch, nil
}

func (b *MemoryBroker) unsubscribe(s *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.done)
			return
		}
	}
}

// Published returns the messages published to topic so far.
func (b *MemoryBroker) Published(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.published[topic]))
	copy(out, b.published[topic])
	return out
}

// Committed returns how many deliveries were committed.
func (b *MemoryBroker) Committed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}

// Close rejects further publishes and ends all subscriptions.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.done)
	}
	b.subs = nil
	return nil
}

func cloneMessage(m Message) Message {
	c := m
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	if m.Headers != nil {
		c.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			c.Headers[k] = v
		}
	}
	return c
}
