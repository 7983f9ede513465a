package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/miladsoleymani/cloudstream/broker"
	"github.com/miladsoleymani/cloudstream/core"
)

func init() {
	broker.Register("kafka", func(cfg broker.Config) (core.Broker, error) {
		return New(cfg.Brokers, optsFromConfig(cfg)...)
	})
}

var topicName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateTopicName reports whether name is a legal Kafka topic name.
func ValidateTopicName(name string) error {
	if !topicName.MatchString(name) || len(name) > 249 {
		return fmt.Errorf("%w: topic name %q must match %s and be at most 249 characters",
			core.ErrConfiguration, name, topicName)
	}
	return nil
}

// Broker implements core.Broker for Apache Kafka using segmentio/kafka-go.
//
// Design decisions:
//   - One kafka.Writer shared across all Publish calls (thread-safe by library).
//     Its balancer honors the partition header.
//   - One kafka.Reader per consumer goroutine. Consumers of a group commit
//     offsets after the handler succeeds; a failed message is not committed.
//   - Consumers bound to one partition read it directly, without a group.
//   - Provision creates missing topics and checks partition counts.
type Broker struct {
	brokers []string
	opts    options
	logger  *slog.Logger

	writer *kafka.Writer
	client *kafka.Client
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

var (
	_ core.Broker            = (*Broker)(nil)
	_ core.Provisioner       = (*Broker)(nil)
	_ core.NativePartitioner = (*Broker)(nil)
)

// New creates a Kafka Broker.
func New(brokers []string, fns ...Option) (*Broker, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka: at least one broker address is required", core.ErrConfiguration)
	}

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               headerBalancer{next: opts.balancer},
		BatchSize:              opts.batchSize,
		Async:                  opts.async,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: opts.autoCreateTopics,
	}
	client := &kafka.Client{Addr: kafka.TCP(brokers...)}
	if opts.dialer != nil {
		transport := &kafka.Transport{
			TLS:  opts.dialer.TLS,
			SASL: opts.dialer.SASLMechanism,
		}
		w.Transport = transport
		client.Transport = transport
	}

	return &Broker{
		brokers: brokers,
		opts:    opts,
		logger:  slog.Default().With("broker", "kafka"),
		writer:  w,
		client:  client,
		subs:    make(map[*subscription]struct{}),
	}, nil
}

// NativePartitioning reports that Kafka routes on the partition header.
func (b *Broker) NativePartitioning() bool { return true }

// Publish sends a message to the destination topic.
func (b *Broker) Publish(ctx context.Context, dst core.Destination, msg *core.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	b.mu.Unlock()

	if err := ValidateTopicName(dst.Name); err != nil {
		return err
	}
	value, err := core.PayloadBytes(msg)
	if err != nil {
		return fmt.Errorf("kafka: publish to %q: %w", dst.Name, err)
	}
	km := kafka.Message{
		Topic:   dst.Name,
		Value:   value,
		Headers: toHeaders(msg.Headers()),
	}
	if key := msg.HeaderString(HeaderMessageKey); key != "" {
		km.Key = []byte(key)
	}
	if err := b.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka: publish to %q: %w", dst.Name, err)
	}
	return nil
}

// Provision creates the topic with dst.PartitionCount partitions, or checks
// that an existing topic has enough of them.
func (b *Broker) Provision(ctx context.Context, dst core.Destination) error {
	if err := ValidateTopicName(dst.Name); err != nil {
		return err
	}
	want := max(dst.PartitionCount, 1)

	meta, err := b.client.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{dst.Name}})
	if err != nil {
		return fmt.Errorf("kafka: metadata for %q: %w", dst.Name, err)
	}
	var existing *kafka.Topic
	for i := range meta.Topics {
		if meta.Topics[i].Name == dst.Name && meta.Topics[i].Error == nil {
			existing = &meta.Topics[i]
		}
	}

	if existing == nil {
		if !b.opts.autoCreateTopics {
			return fmt.Errorf("kafka: topic %q does not exist", dst.Name)
		}
		res, err := b.client.CreateTopics(ctx, &kafka.CreateTopicsRequest{
			Topics: []kafka.TopicConfig{{
				Topic:             dst.Name,
				NumPartitions:     want,
				ReplicationFactor: b.opts.replicationFactor,
			}},
		})
		if err != nil {
			return fmt.Errorf("kafka: create topic %q: %w", dst.Name, err)
		}
		if err := res.Errors[dst.Name]; err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
			return fmt.Errorf("kafka: create topic %q: %w", dst.Name, err)
		}
		b.logger.Info("created topic", "topic", dst.Name, "partitions", want)
		return nil
	}

	have := len(existing.Partitions)
	if have >= want {
		return nil
	}
	if !b.opts.autoAddPartitions {
		return fmt.Errorf("kafka: topic %q has %d partitions, %d required", dst.Name, have, want)
	}
	res, err := b.client.CreatePartitions(ctx, &kafka.CreatePartitionsRequest{
		Topics: []kafka.TopicPartitionsConfig{{Name: dst.Name, Count: int32(want)}},
	})
	if err != nil {
		return fmt.Errorf("kafka: add partitions to %q: %w", dst.Name, err)
	}
	if err := res.Errors[dst.Name]; err != nil {
		return fmt.Errorf("kafka: add partitions to %q: %w", dst.Name, err)
	}
	b.logger.Info("added partitions", "topic", dst.Name, "from", have, "to", want)
	return nil
}

// Subscribe starts consumers for the destination and returns immediately.
func (b *Broker) Subscribe(ctx context.Context, opts core.SubscribeOptions, handler core.Handler) (io.Closer, error) {
	if err := ValidateTopicName(opts.Destination.Name); err != nil {
		return nil, err
	}

	n := max(opts.Concurrency, 1)
	cfg := kafka.ReaderConfig{
		Brokers:  b.brokers,
		Topic:    opts.Destination.Name,
		MinBytes: b.opts.minBytes,
		MaxBytes: b.opts.maxBytes,
		MaxWait:  b.opts.maxWait,
	}
	if b.opts.dialer != nil {
		cfg.Dialer = b.opts.dialer
	}
	if opts.Partition >= 0 {
		cfg.Partition = opts.Partition
		cfg.StartOffset = b.opts.startOffset
		n = 1
	} else {
		cfg.GroupID = opts.Group
		if opts.Anonymous {
			cfg.StartOffset = kafka.LastOffset
		} else {
			cfg.StartOffset = b.opts.startOffset
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrBrokerClosed
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{broker: b, cancel: cancel}
	for range n {
		r := kafka.NewReader(cfg)
		sub.readers = append(sub.readers, r)
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			b.consumeLoop(subCtx, r, cfg.GroupID != "", handler)
		}()
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// consumeLoop fetches messages and dispatches them to the handler.
func (b *Broker) consumeLoop(ctx context.Context, r *kafka.Reader, commit bool, handler core.Handler) {
	for {
		raw, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				b.logger.Error("fetch failed", "topic", r.Config().Topic, "error", err)
			}
			return
		}

		if err := handler(ctx, toMessage(raw)); err != nil {
			// Offset is not committed; the message is redelivered after a
			// rebalance or restart.
			b.logger.Warn("handler failed", "topic", raw.Topic, "partition", raw.Partition,
				"offset", raw.Offset, "error", err)
			continue
		}
		if commit {
			if err := r.CommitMessages(ctx, raw); err != nil && ctx.Err() == nil {
				b.logger.Error("commit failed", "topic", raw.Topic, "offset", raw.Offset, "error", err)
			}
		}
	}
}

// Close flushes the writer and closes all readers.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("kafka: close writer: %w", err))
	}
	return errors.Join(errs...)
}

type subscription struct {
	broker  *Broker
	cancel  context.CancelFunc
	readers []*kafka.Reader
	wg      sync.WaitGroup
	once    sync.Once
	err     error
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		var errs []error
		for _, r := range s.readers {
			if err := r.Close(); err != nil {
				errs = append(errs, fmt.Errorf("kafka: close reader: %w", err))
			}
		}
		s.wg.Wait()
		s.err = errors.Join(errs...)

		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
	return s.err
}

// optsFromConfig extracts options from the broker.Config.Extra map.
func optsFromConfig(cfg broker.Config) []Option {
	var opts []Option
	if v, ok := cfg.ExtraBool("async"); ok && v {
		opts = append(opts, WithAsync(true))
	}
	if v, ok := cfg.ExtraInt("batch_size"); ok {
		opts = append(opts, WithBatchSize(v))
	}
	if v, ok := cfg.ExtraInt("max_bytes"); ok {
		opts = append(opts, WithMaxBytes(v))
	}
	if v, ok := cfg.ExtraInt("replication_factor"); ok {
		opts = append(opts, WithReplicationFactor(v))
	}
	if v, ok := cfg.ExtraBool("auto_add_partitions"); ok {
		opts = append(opts, WithAutoAddPartitions(v))
	}
	if v, ok := cfg.ExtraBool("auto_create_topics"); ok {
		opts = append(opts, WithAutoCreateTopics(v))
	}
	if v, ok := cfg.ExtraString("start_offset"); ok {
		switch v {
		case "earliest":
			opts = append(opts, WithStartOffset(kafka.FirstOffset))
		case "latest":
			opts = append(opts, WithStartOffset(kafka.LastOffset))
		}
	}
	return opts
}
