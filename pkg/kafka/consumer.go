// Package kafka carries crawl and search events over segmentio/kafka-go. The
// driver and dispatcher publish JSON events tagged with their type; searchctl
// tails them with a Consumer.
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

// Message is one received event.
type Message struct {
	Key       string
	Type      string
	Value     []byte
	Time      time.Time
	Partition int
	Offset    int64
}

// MessageHandler is invoked for each message. A returned error leaves the
// message uncommitted.
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer reads one topic in a consumer group.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
	backoff time.Duration
}

// NewConsumer reads topic in cfg.ConsumerGroup, starting from the newest
// offset when the group has none committed. Fetches return as soon as one
// message is available, which suits tailing.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", cfg.ConsumerGroup),
		handler: handler,
		backoff: time.Second,
	}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("consumer started")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Warn("failed to fetch message", "error", err, "retry_in", c.backoff)
			select {
			case <-time.After(c.backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		msg := decode(m)
		if err := c.handler(ctx, msg); err != nil {
			c.logger.Error("failed to process message", "partition", msg.Partition, "offset", msg.Offset, "type", msg.Type, "error", err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

func decode(m kafka.Message) Message {
	msg := Message{
		Key:       string(m.Key),
		Value:     m.Value,
		Time:      m.Time,
		Partition: m.Partition,
		Offset:    m.Offset,
	}
	for _, h := range m.Headers {
		if h.Key == TypeHeader {
			msg.Type = string(h.Value)
		}
	}
	return msg
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
