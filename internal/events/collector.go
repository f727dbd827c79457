package events

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/kafka"
)

// Publisher writes one event to the stream.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Collector buffers events and publishes them from a single goroutine. When
// the buffer is full new events are dropped rather than blocking the caller.
type Collector struct {
	publisher Publisher
	key       string
	eventCh   chan any
	logger    *slog.Logger
	done      chan struct{}
}

// NewCollector keys every event with key (the emitting process's name).
func NewCollector(publisher Publisher, key string, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		publisher: publisher,
		key:       key,
		eventCh:   make(chan any, bufferSize),
		logger:    slog.Default().With("component", "event-collector", "key", key),
		done:      make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("event collector started", "buffer_size", cap(c.eventCh))
}

func (c *Collector) Track(event any) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("event dropped (buffer full)")
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event any) {
	msg := kafka.Event{Key: c.key, Type: string(TypeOf(event)), Value: event}
	if err := c.publisher.Publish(ctx, msg); err != nil {
		c.logger.Error("failed to publish event", "type", msg.Type, "error", err)
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(context.Background(), event)
		default:
			return
		}
	}
}
