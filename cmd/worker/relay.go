package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/tokengen/internal/db"
	"github.com/jmehdipour/tokengen/internal/kafka"
	"github.com/jmehdipour/tokengen/internal/logger"
	"github.com/jmehdipour/tokengen/internal/repository"
	"github.com/jmehdipour/tokengen/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Publish outbox rows to Kafka",
	RunE:  runRelay,
}

func runRelay(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.MustNew(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQLConnection(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) kafka producer
	producer := kafka.NewProducer(cfg.Kafka)
	defer func() { _ = producer.Close() }()

	r := worker.NewRelay(repository.NewOutboxRepository(dbx), producer, log)

	// tune knobs
	if cfg.Outbox.PollInterval > 0 {
		r.PollInterval = cfg.Outbox.PollInterval
	}
	if cfg.Outbox.BatchSize > 0 {
		r.BatchSize = cfg.Outbox.BatchSize
	}
	if cfg.Outbox.MaxAttempts > 0 {
		r.MaxAttempts = cfg.Outbox.MaxAttempts
	}

	// 4) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("relay started",
		zap.Duration("poll_interval", r.PollInterval),
		zap.Int("batch_size", r.BatchSize),
		zap.Int("max_attempts", r.MaxAttempts),
	)
	return r.Run(ctx)
}
