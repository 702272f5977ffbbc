package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/chatroom/logging"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "chatroom.events"

var ErrNoBrokers = errors.New("no kafka brokers configured")

// KafkaPublisher writes events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates an asynchronous writer for topic on brokers.
// Connections are made lazily on the first publish. Write failures are only
// reported to logger since Publish returns before the batch is flushed.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if topic == "" {
		topic = DefaultTopic
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}

	logger = logging.OrNop(logger).With(zap.String("topic", topic))
	w.Completion = func(messages []kafka.Message, err error) {
		if err != nil {
			logger.Warn("failed to publish events", zap.Int("count", len(messages)), zap.Error(err))
		}
	}
	return &KafkaPublisher{writer: w}, nil
}

// Topic returns the destination topic.
func (p *KafkaPublisher) Topic() string {
	return p.writer.Topic
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encode(event Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}

	key := event.ConnectionID
	if key == "" {
		key = string(event.Type)
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil
}
