package ledger

import (
	"context"
	"time"

	"github.com/jmehdipour/tokengen/internal/metrics"
	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/repository"
	"go.uber.org/zap"
)

// Recorder buffers usage events and writes them to the audit store in
// batches. Record never blocks; a full buffer drops the event.
type Recorder struct {
	repo repository.UsageRepository
	log  *zap.Logger

	BatchSize int
	BatchWait time.Duration

	ch   chan model.UsageEvent
	done chan struct{}
}

func NewRecorder(repo repository.UsageRepository, bufferSize int, log *zap.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &Recorder{
		repo:      repo,
		log:       log.Named("usage"),
		BatchSize: 500,
		BatchWait: time.Second,
		ch:        make(chan model.UsageEvent, bufferSize),
		done:      make(chan struct{}),
	}
}

var _ UsageSink = (*Recorder)(nil)

func (r *Recorder) Record(e model.UsageEvent) {
	select {
	case r.ch <- e:
	default:
		metrics.UsageEventsTotal.WithLabelValues("dropped").Inc()
		r.log.Warn("usage buffer full, dropping event", zap.String("token_id", e.TokenID))
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)

	batch := make([]model.UsageEvent, 0, r.BatchSize)
	ticker := time.NewTicker(r.BatchWait)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := r.repo.InsertBatch(ctx, batch); err != nil {
			metrics.UsageEventsTotal.WithLabelValues("failed").Add(float64(len(batch)))
			r.log.Error("write usage batch", zap.Int("size", len(batch)), zap.Error(err))
		} else {
			metrics.UsageEventsTotal.WithLabelValues("written").Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-r.ch:
					batch = append(batch, e)
				default:
					fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					flush(fctx)
					cancel()
					return
				}
			}
		case e := <-r.ch:
			batch = append(batch, e)
			if len(batch) >= r.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// Wait blocks until Run has flushed and returned.
func (r *Recorder) Wait() {
	<-r.done
}
