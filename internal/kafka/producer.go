package kafka

import (
	"context"
	"time"

	"github.com/jmehdipour/tokengen/internal/config"
	"github.com/segmentio/kafka-go"
)

// Producer publishes outbox rows. Topic is taken from each message.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	return &Producer{w: w}
}

// Publish blocks until every message is acknowledged or the write fails.
func (p *Producer) Publish(ctx context.Context, msgs ...Message) error {
	return p.w.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error { return p.w.Close() }
