package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/tokengen/internal/kafka"
	"github.com/jmehdipour/tokengen/internal/metrics"
	"github.com/jmehdipour/tokengen/internal/repository"
	"go.uber.org/zap"
)

// Publisher is the Kafka side of the relay.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// Relay moves committed outbox rows to Kafka. A row is marked published only
// after the broker acknowledged it, so delivery is at-least-once.
type Relay struct {
	Outbox    repository.OutboxRepository
	Publisher Publisher
	Log       *zap.Logger

	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

func NewRelay(outbox repository.OutboxRepository, pub Publisher, log *zap.Logger) *Relay {
	return &Relay{
		Outbox:       outbox,
		Publisher:    pub,
		Log:          log.Named("relay"),
		PollInterval: 500 * time.Millisecond,
		BatchSize:    100,
		MaxAttempts:  20,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	tick := time.NewTicker(r.PollInterval)
	defer tick.Stop()

	for {
		// drain while full batches keep coming
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil && ctx.Err() == nil {
				r.Log.Error("relay batch", zap.Error(err))
			}
			if err != nil || n < r.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// RelayOnce publishes one batch and reports how many rows it handled.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.Outbox.FetchUnpublished(ctx, r.BatchSize, r.MaxAttempts)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	ids := make([]int64, 0, len(events))
	for _, e := range events {
		msgs = append(msgs, kafka.Message{
			Topic: e.Topic,
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
		})
		ids = append(ids, e.ID)
	}

	if err := r.Publisher.Publish(ctx, msgs...); err != nil {
		metrics.OutboxPublishedTotal.WithLabelValues("failed").Add(float64(len(ids)))
		if berr := r.Outbox.BumpAttempts(ctx, ids); berr != nil {
			r.Log.Error("bump outbox attempts", zap.Error(berr))
		}
		return 0, err
	}

	if err := r.Outbox.MarkPublished(ctx, ids, time.Now()); err != nil {
		return 0, err
	}
	metrics.OutboxPublishedTotal.WithLabelValues("ok").Add(float64(len(ids)))
	r.Log.Debug("relayed outbox batch", zap.Int("size", len(ids)))
	return len(ids), nil
}
