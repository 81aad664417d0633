package bus

import (
	"context"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-25/Meetup/internal/chat"
	"github.com/dd-25/Meetup/internal/config"
)

type funcHandler func(ctx context.Context, class chat.Class, event *chat.Event) error

func (f funcHandler) Handle(ctx context.Context, class chat.Class, event *chat.Event) error {
	return f(ctx, class, event)
}

func testKafkaConfig() config.KafkaConfig {
	return config.KafkaConfig{EphemeralTopic: "temp-chat", PersistentTopic: "persistent-chat"}
}

func kafkaMessage(topic string, value []byte) *kafka.Message {
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic},
		Value:          value,
	}
}

func TestHandleMessageClassifiesByTopic(t *testing.T) {
	var classes []chat.Class
	c := &Consumer{
		cfg: testKafkaConfig(),
		handler: funcHandler(func(_ context.Context, class chat.Class, _ *chat.Event) error {
			classes = append(classes, class)
			return nil
		}),
	}

	c.handleMessage(context.Background(), kafkaMessage("temp-chat", []byte(`{"id":"e1"}`)))
	c.handleMessage(context.Background(), kafkaMessage("persistent-chat", []byte(`{"id":"e2"}`)))

	assert.Equal(t, []chat.Class{chat.ClassEphemeral, chat.ClassPersistent}, classes)
}

func TestHandleMessageSkipsMalformedPayload(t *testing.T) {
	called := false
	c := &Consumer{
		cfg: testKafkaConfig(),
		handler: funcHandler(func(_ context.Context, _ chat.Class, _ *chat.Event) error {
			called = true
			return nil
		}),
	}

	c.handleMessage(context.Background(), kafkaMessage("persistent-chat", []byte(`not json`)))

	assert.False(t, called, "malformed payload must never reach the handler")
}

func TestHandleMessageSurvivesHandlerPanic(t *testing.T) {
	calls := 0
	c := &Consumer{
		cfg: testKafkaConfig(),
		handler: funcHandler(func(_ context.Context, _ chat.Class, event *chat.Event) error {
			calls++
			if event.ID == "poison" {
				panic("handler blew up")
			}
			return nil
		}),
	}

	require.NotPanics(t, func() {
		c.handleMessage(context.Background(), kafkaMessage("persistent-chat", []byte(`{"id":"poison"}`)))
	})

	// The loop keeps delivering after the panic.
	c.handleMessage(context.Background(), kafkaMessage("persistent-chat", []byte(`{"id":"ok"}`)))
	assert.Equal(t, 2, calls)
}
