// Package broker adapts NATS to the messaging interfaces. Core NATS gives
// fire-and-forget delivery; JetStream mode adds persistence, explicit acks
// and de-duplication by idempotency key.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"regwatch/internal/domain/entity"
	"regwatch/internal/messaging"
	"regwatch/internal/resilience/failure"
)

// Config configures the NATS connection.
type Config struct {
	URL       string
	JetStream bool

	// JetStream settings.
	Stream          string
	Subjects        []string
	Durable         string
	DuplicateWindow time.Duration
	AckWait         time.Duration
	MaxDeliver      int
}

// DefaultConfig returns the settings used when the config file has none.
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		JetStream:       true,
		Stream:          "REGWATCH",
		Subjects:        []string{"regwatch.>"},
		Durable:         "regwatch-consumer",
		DuplicateWindow: 2 * time.Minute,
		AckWait:         30 * time.Second,
		MaxDeliver:      -1,
	}
}

// NATSBroker implements messaging.Broker on a NATS connection.
type NATSBroker struct {
	cfg    Config
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *slog.Logger
}

var _ messaging.Broker = (*NATSBroker)(nil)

// Connect dials NATS with automatic reconnection and, in JetStream mode,
// creates or updates the stream. Extra nats options are appended to the defaults.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger, opts ...nats.Option) (*NATSBroker, error) {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if len(cfg.Subjects) == 0 {
		cfg.Subjects = def.Subjects
	}
	if cfg.Durable == "" {
		cfg.Durable = def.Durable
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = def.DuplicateWindow
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = def.AckWait
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = def.MaxDeliver
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := []nats.Option{
		nats.Name("regwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrlRedacted()))
		}),
	}
	nc, err := nats.Connect(cfg.URL, append(defaults, opts...)...)
	if err != nil {
		return nil, failure.Wrap(entity.FailureBroker, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err))
	}

	b := &NATSBroker{cfg: cfg, nc: nc, logger: logger}
	if !cfg.JetStream {
		return b, nil
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, failure.Wrap(entity.FailureBroker, fmt.Errorf("jetstream context: %w", err))
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   cfg.Subjects,
		Storage:    jetstream.FileStorage,
		Duplicates: cfg.DuplicateWindow,
	})
	if err != nil {
		nc.Close()
		return nil, failure.Wrap(entity.FailureBroker, fmt.Errorf("create stream %s: %w", cfg.Stream, err))
	}
	b.js = js
	b.stream = stream
	return b, nil
}

// Publish sends msg to its topic. In JetStream mode it waits for the stream
// ack and sets Nats-Msg-Id from the idempotency-key header.
func (b *NATSBroker) Publish(ctx context.Context, msg messaging.Message) error {
	m := toNATS(msg)
	if b.js == nil {
		if err := b.nc.PublishMsg(m); err != nil {
			return failure.Wrap(entity.FailureBroker, fmt.Errorf("publish %s: %w", msg.Topic, err))
		}
		return nil
	}

	var opts []jetstream.PublishOpt
	if id := msg.Headers[messaging.HeaderIdempotencyKey]; id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}
	ack, err := b.js.PublishMsg(ctx, m, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("publish %s: %w", msg.Topic, err)
		}
		return failure.Wrap(entity.FailureBroker, fmt.Errorf("publish %s: %w", msg.Topic, err))
	}
	if ack.Duplicate {
		b.logger.Debug("duplicate publish suppressed by stream",
			slog.String("topic", msg.Topic),
			slog.String("key", msg.Key))
	}
	return nil
}

// Subscribe delivers messages from topics until ctx is cancelled, then
// closes the channel. In JetStream mode a durable consumer with explicit
// acks is used; an uncommitted delivery is redelivered after AckWait.
func (b *NATSBroker) Subscribe(ctx context.Context, topics []string) (<-chan messaging.Delivery, error) {
	if len(topics) == 0 {
		return nil, errors.New("subscribe: no topics")
	}
	out := make(chan messaging.Delivery, 64)
	var (
		mu     sync.Mutex
		closed bool
	)
	deliver := func(d messaging.Delivery) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- d:
		case <-ctx.Done():
		}
	}
	shutdown := func(stop func()) {
		<-ctx.Done()
		stop()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}

	if b.js == nil {
		subs := make([]*nats.Subscription, 0, len(topics))
		unsubscribe := func() {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
		}
		for _, topic := range topics {
			sub, err := b.nc.Subscribe(topic, func(m *nats.Msg) {
				deliver(messaging.Delivery{
					Message: fromNATS(m.Subject, m.Data, m.Header),
					Commit:  func(context.Context) error { return nil },
				})
			})
			if err != nil {
				unsubscribe()
				return nil, failure.Wrap(entity.FailureBroker, fmt.Errorf("subscribing to %s: %w", topic, err))
			}
			subs = append(subs, sub)
		}
		// Flush registers the subscriptions before messages from other
		// connections are routed.
		if err := b.nc.Flush(); err != nil {
			unsubscribe()
			return nil, failure.Wrap(entity.FailureBroker, fmt.Errorf("flushing subscription: %w", err))
		}
		go shutdown(unsubscribe)
		return out, nil
	}

	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:        b.cfg.Durable,
		FilterSubjects: topics,
		AckPolicy:      jetstream.AckExplicitPolicy,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		AckWait:        b.cfg.AckWait,
		MaxDeliver:     b.cfg.MaxDeliver,
	})
	if err != nil {
		return nil, failure.Wrap(entity.FailureBroker, fmt.Errorf("create consumer %s: %w", b.cfg.Durable, err))
	}
	cc, err := consumer.Consume(func(m jetstream.Msg) {
		deliver(messaging.Delivery{
			Message: fromNATS(m.Subject(), m.Data(), m.Headers()),
			Commit:  func(context.Context) error { return m.Ack() },
		})
	})
	if err != nil {
		return nil, failure.Wrap(entity.FailureBroker, fmt.Errorf("consume %s: %w", b.cfg.Durable, err))
	}
	go shutdown(cc.Stop)
	return out, nil
}

// StreamMessages returns the number of messages held by the stream, or 0
// outside JetStream mode.
func (b *NATSBroker) StreamMessages(ctx context.Context) (uint64, error) {
	if b.stream == nil {
		return 0, nil
	}
	info, err := b.stream.Info(ctx)
	if err != nil {
		return 0, failure.Wrap(entity.FailureBroker, err)
	}
	return info.State.Msgs, nil
}

// Connected reports whether the connection is currently up.
func (b *NATSBroker) Connected() bool {
	return b.nc.IsConnected()
}

// Close drains the connection.
func (b *NATSBroker) Close() error {
	if err := b.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		b.nc.Close()
		return err
	}
	return nil
}

func toNATS(msg messaging.Message) *nats.Msg {
	m := nats.NewMsg(msg.Topic)
	m.Data = msg.Payload
	for k, v := range msg.Headers {
		m.Header.Set(k, v)
	}
	if msg.Key != "" && m.Header.Get(messaging.HeaderPartitionKey) == "" {
		m.Header.Set(messaging.HeaderPartitionKey, msg.Key)
	}
	return m
}

func fromNATS(subject string, data []byte, header nats.Header) messaging.Message {
	msg := messaging.Message{Topic: subject, Payload: data}
	if len(header) > 0 {
		msg.Headers = make(map[string]string, len(header))
		for k := range header {
			msg.Headers[k] = header.Get(k)
		}
	}
	msg.Key = msg.Headers[messaging.HeaderPartitionKey]
	return msg
}
