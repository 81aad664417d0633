// Package bus is the publish/subscribe adapter over Kafka. Two logical
// topics carry the two delivery classes; delivery is at-least-once and the
// consumer loop never lets one bad event block the topic.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/dd-25/Meetup/internal/chat"
	"github.com/dd-25/Meetup/internal/config"
	"github.com/dd-25/Meetup/pkg/log"
)

// Producer publishes chat events to the class topics.
type Producer struct {
	producer *kafka.Producer
	cfg      config.KafkaConfig
	doneCh   chan struct{}
}

func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	producer := &Producer{
		producer: p,
		cfg:      cfg,
		doneCh:   make(chan struct{}),
	}

	go producer.deliveryReportHandler()

	if err := producer.ensureTopics(); err != nil {
		log.L().Warn().Err(err).Msg("failed to ensure kafka topics (may already exist)")
	}

	return producer, nil
}

func (p *Producer) topicFor(class chat.Class) string {
	if class == chat.ClassEphemeral {
		return p.cfg.EphemeralTopic
	}
	return p.cfg.PersistentTopic
}

// Publish sends an event to its class topic, keyed by room (ephemeral) or
// team (persistent) so ordering holds per scope.
func (p *Producer) Publish(_ context.Context, class chat.Class, event *chat.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := event.TeamID
	if class == chat.ClassEphemeral {
		key = event.RoomID
	}

	topic := p.topicFor(class)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

func (p *Producer) ensureTopics() error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": p.cfg.Brokers})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := p.cfg.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	specs := []kafka.TopicSpecification{
		{Topic: p.cfg.EphemeralTopic, NumPartitions: partitions, ReplicationFactor: 1},
		{Topic: p.cfg.PersistentTopic, NumPartitions: partitions, ReplicationFactor: 1},
	}

	results, err := admin.CreateTopics(ctx, specs)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			log.L().Warn().Str(log.FieldTopic, r.Topic).Str("reason", r.Error.String()).Msg("failed to create topic")
		}
	}

	return nil
}

func (p *Producer) deliveryReportHandler() {
	for e := range p.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			log.L().Error().Err(m.TopicPartition.Error).Msg("kafka delivery failed")
		}
	}
	close(p.doneCh)
}

func (p *Producer) Close() error {
	p.producer.Flush(5000)
	p.producer.Close()
	<-p.doneCh
	return nil
}

var _ chat.Publisher = (*Producer)(nil)

// Handler receives every consumed event tagged with its delivery class.
type Handler interface {
	Handle(ctx context.Context, class chat.Class, event *chat.Event) error
}

// Consumer reads both class topics in one consumer group and forwards each
// event to the handler. A handler error or panic is logged and the loop
// continues: dropping one event beats a poison-message livelock.
type Consumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	handler  Handler
}

func NewConsumer(cfg config.KafkaConfig, handler Handler) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       cfg.Brokers,
		"group.id":                cfg.GroupID,
		"auto.offset.reset":       cfg.AutoOffsetReset,
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
		"session.timeout.ms":      cfg.SessionTimeoutMs,
		"heartbeat.interval.ms":   cfg.HeartbeatIntervalMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{consumer: c, cfg: cfg, handler: handler}, nil
}

// Run consumes until ctx is cancelled or a fatal kafka error occurs.
func (c *Consumer) Run(ctx context.Context) error {
	topics := []string{c.cfg.EphemeralTopic, c.cfg.PersistentTopic}
	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	log.L().Info().
		Strs("topics", topics).
		Str("group", c.cfg.GroupID).
		Msg("kafka consumer started")

	for {
		select {
		case <-ctx.Done():
			log.L().Info().Msg("kafka consumer stopping")
			return nil
		default:
		}

		ev := c.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			c.handleMessage(ctx, e)
		case kafka.Error:
			log.L().Error().
				Str("reason", e.String()).
				Bool("fatal", e.IsFatal()).
				Msg("kafka error")
			if e.IsFatal() {
				return fmt.Errorf("fatal kafka error: %w", e)
			}
		case kafka.OffsetsCommitted:
			// Normal auto-commit acknowledgement
		default:
			// Ignore other events (rebalance, stats, etc.)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg *kafka.Message) {
	// A panicking handler must not take the poll loop down with it.
	defer func() {
		if r := recover(); r != nil {
			log.L().Error().
				Any("panic", r).
				Int32("partition", int32(msg.TopicPartition.Partition)).
				Msg("handler panicked, skipping event")
		}
	}()

	class := chat.ClassPersistent
	if msg.TopicPartition.Topic != nil && *msg.TopicPartition.Topic == c.cfg.EphemeralTopic {
		class = chat.ClassEphemeral
	}

	var event chat.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.L().Warn().Err(err).Msg("skipping malformed chat event")
		return
	}

	if err := c.handler.Handle(ctx, class, &event); err != nil {
		log.L().Error().Err(err).
			Str(log.FieldEventID, event.ID).
			Str(log.FieldClass, string(class)).
			Int32("partition", int32(msg.TopicPartition.Partition)).
			Msg("handler error, skipping event")
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
