package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/tokengen/internal/dispatcher"
	"github.com/jmehdipour/tokengen/internal/kafka"
	"github.com/jmehdipour/tokengen/internal/metrics"
	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/repository"
	"go.uber.org/zap"
)

// Source is the Kafka side of the notifier.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, env model.TokenIssued) error
}

const (
	defaultRetryBackoff = 100 * time.Millisecond
	maxRetryBackoff     = 5 * time.Second
	commitTimeout       = 5 * time.Second
)

// Notifier:
// - fetches TokenIssued envelopes from Kafka,
// - delivers them through the dispatcher,
// - batches delivery records into token_notifications.
//
// Kafka commits are cumulative per partition, so each partition is pinned to
// one lane and handled in offset order. A message is committed only after it
// is fully handled; on shutdown the lane stops and nothing past the first
// unfinished offset is committed.
type Notifier struct {
	// Dependencies
	Source        Source
	Notifications repository.NotificationsRepository
	Dispatch      Sender
	Log           *zap.Logger

	// Behavior
	Workers      int           // number of partition lanes
	BatchSize    int           // max buffered records per flush
	BatchWait    time.Duration // max time to wait before flush
	RetryBackoff time.Duration // first wait between delivery-status lookups, doubled up to 5s
}

func NewNotifier(src Source, notifications repository.NotificationsRepository, dispatch Sender, log *zap.Logger) *Notifier {
	return &Notifier{
		Source:        src,
		Notifications: notifications,
		Dispatch:      dispatch,
		Log:           log.Named("notifier"),
		Workers:       8,
		BatchSize:     100,
		BatchWait:     300 * time.Millisecond,
		RetryBackoff:  defaultRetryBackoff,
	}
}

// Run starts the worker and blocks until ctx is cancelled and pending
// delivery records are flushed.
func (w *Notifier) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 8
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 100
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 300 * time.Millisecond
	}
	if w.RetryBackoff <= 0 {
		w.RetryBackoff = defaultRetryBackoff
	}

	records := make(chan model.TokenNotification, w.BatchSize*2)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w.runBatchWriter(records)
	}()

	lanes := make([]chan kafka.Message, w.Workers)
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 4)
	}
	go func() {
		defer func() {
			for _, l := range lanes {
				close(l)
			}
		}()
		for {
			m, err := w.Source.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Warn("kafka fetch", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			select {
			case lanes[laneFor(m.Partition, len(lanes))] <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for _, lane := range lanes {
		wg.Add(1)
		go func(lane <-chan kafka.Message) {
			defer wg.Done()
			for m := range lane {
				if ctx.Err() != nil {
					continue // drain; later offsets stay uncommitted
				}
				w.processOne(ctx, m, records)
			}
		}(lane)
	}

	wg.Wait()
	close(records)
	<-writerDone
	return nil
}

func laneFor(partition, lanes int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % lanes
}

func (w *Notifier) processOne(ctx context.Context, m kafka.Message, out chan<- model.TokenNotification) {
	var env model.TokenIssued
	if err := json.Unmarshal(m.Value, &env); err != nil || env.TokenID == "" {
		w.commit(ctx, m) // poison → commit, skip
		w.Log.Warn("bad token envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}

	sent, err := w.alreadySent(ctx, env.TokenID)
	if err != nil {
		w.Log.Info("stopped before delivery; left uncommitted",
			zap.String("token_id", env.TokenID), zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))
		return
	}
	if sent {
		w.commit(ctx, m)
		return
	}

	rec := model.TokenNotification{
		TokenID:   env.TokenID,
		Recipient: env.Recipient,
		Attempts:  1,
	}
	if derr := w.Dispatch.Send(ctx, env); derr != nil {
		if ctx.Err() != nil {
			return // shutting down; redelivered on restart
		}
		msg := derr.Error()
		rec.Status, rec.LastError = model.NotificationFailed, &msg
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		w.Log.Warn("notification failed", zap.String("token_id", env.TokenID), zap.Bool("no_recipient", errors.Is(derr, dispatcher.ErrNoRecipient)), zap.Error(derr))
	} else {
		rec.Status = model.NotificationSent
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}
	rec.UpdatedAt = time.Now()
	out <- rec

	// at-least-once; token_notifications dedupes redelivery
	w.commit(ctx, m)
}

// alreadySent looks up the delivery status, retrying with backoff until it
// succeeds or ctx is done.
func (w *Notifier) alreadySent(ctx context.Context, tokenID string) (bool, error) {
	backoff := w.RetryBackoff
	for {
		sent, err := w.Notifications.SentTokenIDs(ctx, []string{tokenID})
		if err == nil {
			return sent[tokenID], nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		w.Log.Warn("lookup delivery status", zap.String("token_id", tokenID), zap.Duration("retry_in", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

// commit outlives ctx so a handled message is not redelivered just because
// shutdown started.
func (w *Notifier) commit(ctx context.Context, m kafka.Message) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := w.Source.Commit(cctx, m); err != nil {
		w.Log.Warn("kafka commit", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

// runBatchWriter does size/time-based flushes until in is closed.
func (w *Notifier) runBatchWriter(in <-chan model.TokenNotification) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	batch := make([]model.TokenNotification, 0, w.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.Notifications.BatchUpsert(ctx, batch); err != nil {
			w.Log.Error("write delivery records", zap.Int("size", len(batch)), zap.Error(err))
		} else {
			w.Log.Debug("flushed delivery records", zap.Int("size", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.BatchSize {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}
