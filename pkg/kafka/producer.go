package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
)

// TypeHeader carries the event type so readers can filter without decoding.
const TypeHeader = "event-type"

// Event is one message. Key picks the partition (the emitting process's
// name, so each process's events stay ordered); Value is JSON-encoded.
type Event struct {
	Key   string
	Type  string
	Value any
}

// Producer publishes JSON-encoded events to one topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer writes to topic with hash partitioning on the event key and
// waits for every in-sync replica.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes one event synchronously.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	msg, err := encode(event, time.Now())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %s event to %s: %w", event.Type, p.writer.Topic, err)
	}
	p.logger.Debug("event published", "key", event.Key, "type", event.Type, "value_size", len(msg.Value))
	return nil
}

func encode(event Event, at time.Time) (kafka.Message, error) {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling %s event: %w", event.Type, err)
	}
	msg := kafka.Message{Key: []byte(event.Key), Value: value, Time: at}
	if event.Type != "" {
		msg.Headers = []kafka.Header{{Key: TypeHeader, Value: []byte(event.Type)}}
	}
	return msg, nil
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
