package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
)

// EventTypeHeader names the message header carrying Event.Type.
const EventTypeHeader = "event-type"

// Event is one message. Events with the same Key land on the same partition
// and stay ordered. Value is encoded as JSON.
type Event struct {
	Key   string
	Type  string
	Value any
}

// Producer writes events to one topic synchronously.
type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

// NewProducer returns a producer for topic. Each Publish is a single
// acknowledged write with no client-side retry; callers decide on retries.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchSize:              1,
			BatchTimeout:           10 * time.Millisecond,
			MaxAttempts:            1,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func encodeMessage(event Event) (kafka.Message, error) {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding %s event: %w", event.Type, err)
	}
	msg := kafka.Message{Key: []byte(event.Key), Value: value, Time: time.Now()}
	if event.Type != "" {
		msg.Headers = []kafka.Header{{Key: EventTypeHeader, Value: []byte(event.Type)}}
	}
	return msg, nil
}

func (p *Producer) Publish(ctx context.Context, event Event) error {
	msg, err := encodeMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing to %s: %w", p.topic, err)
	}
	p.logger.Debug("event published", "key", event.Key, "type", event.Type, "bytes", len(msg.Value))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
