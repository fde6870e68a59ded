package kafka

import (
	"context"
	"time"

	"github.com/jmehdipour/tokengen/internal/config"
	"github.com/segmentio/kafka-go"
)

type Message = kafka.Message

// Consumer reads one topic as part of a consumer group. Offsets are committed
// explicitly, after the caller has handled the message.
type Consumer struct {
	r     *kafka.Reader
	topic string
}

// NewConsumer joins cfg.GroupID on topic. Zero-valued tuning falls back to
// 1KB min bytes, 10MB max bytes, 1s commit interval and 50ms max wait.
func NewConsumer(cfg config.KafkaConfig, topic string) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          topic,
		MinBytes:       1 << 10,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        50 * time.Millisecond,
	}
	if cfg.MinBytes > 0 {
		rc.MinBytes = cfg.MinBytes
	}
	if cfg.MaxBytes > 0 {
		rc.MaxBytes = cfg.MaxBytes
	}
	if cfg.CommitInterval > 0 {
		rc.CommitInterval = time.Duration(cfg.CommitInterval) * time.Millisecond
	}

	return &Consumer{r: kafka.NewReader(rc), topic: topic}
}

func (c *Consumer) Topic() string { return c.topic }

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }
