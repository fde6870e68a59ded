package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/tokengen/internal/db"
	"github.com/jmehdipour/tokengen/internal/dispatcher"
	"github.com/jmehdipour/tokengen/internal/kafka"
	"github.com/jmehdipour/tokengen/internal/logger"
	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/repository"
	"github.com/jmehdipour/tokengen/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Deliver issued tokens to their owners",
	RunE:  runNotifier,
}

func runNotifier(cmd *cobra.Command, args []string) error {
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

	// 3) providers → dispatcher
	provs, err := dispatcher.NewProviders(cfg.Providers, log)
	if err != nil {
		return err
	}
	disp := dispatcher.NewDispatcher(provs, cfg.Notifier.MaxRetryAttempts)

	// 4) kafka consumer
	consumer := kafka.NewConsumer(cfg.Kafka, model.TopicTokenIssued)
	defer consumer.Close()

	w := worker.NewNotifier(consumer, repository.NewNotificationsRepository(dbx), disp, log)

	// tune knobs
	if cfg.Notifier.WorkerCount > 0 {
		w.Workers = cfg.Notifier.WorkerCount
	}
	if cfg.Notifier.BatchSize > 0 {
		w.BatchSize = cfg.Notifier.BatchSize
	}
	if cfg.Notifier.BatchWait > 0 {
		w.BatchWait = cfg.Notifier.BatchWait
	}
	if cfg.Notifier.RetryBackoff > 0 {
		w.RetryBackoff = cfg.Notifier.RetryBackoff
	}

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("notifier started",
		zap.String("topic", consumer.Topic()),
		zap.String("group", cfg.Kafka.GroupID),
		zap.Int("providers", len(provs)),
		zap.Int("workers", w.Workers),
	)
	return w.Run(ctx)
}
