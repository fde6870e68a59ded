package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/tokengen/internal/auth"
	"github.com/jmehdipour/tokengen/internal/config"
	"github.com/jmehdipour/tokengen/internal/db"
	httpSrv "github.com/jmehdipour/tokengen/internal/http"
	"github.com/jmehdipour/tokengen/internal/logger"
	"github.com/jmehdipour/tokengen/internal/repository"
	"github.com/jmehdipour/tokengen/internal/service/admin"
	"github.com/jmehdipour/tokengen/internal/service/catalog"
	"github.com/jmehdipour/tokengen/internal/service/ledger"
	"github.com/jmehdipour/tokengen/internal/service/orders"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.MustNew(cfg.Log.Level)
		defer func() { _ = log.Sync() }()

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() {
			_ = chDB.Close()
		}()

		// repos (MySQL)
		tiersRepo := repository.NewTiersRepository(mysqlDB)
		ordersRepo := repository.NewOrdersRepository(mysqlDB)
		tokensRepo := repository.NewTokensRepository(mysqlDB)
		outboxRepo := repository.NewOutboxRepository(mysqlDB)

		// repos (ClickHouse, Redis)
		usageRepo := repository.NewCHUsageRepository(chDB)
		tierCache := repository.NewRedisTierCache(redisClient)

		// usage audit runs beside the server and is flushed after it stops
		recorder := ledger.NewRecorder(usageRepo, cfg.Usage.BufferSize, log)
		if cfg.Usage.BatchSize > 0 {
			recorder.BatchSize = cfg.Usage.BatchSize
		}
		if cfg.Usage.BatchWait > 0 {
			recorder.BatchWait = cfg.Usage.BatchWait
		}
		recCtx, stopRecorder := context.WithCancel(context.Background())
		go recorder.Run(recCtx)

		// services
		policy := auth.NewPolicy()
		ledgerSvc := ledger.New(tokensRepo, ordersRepo, outboxRepo, usageRepo, recorder, policy, log)
		ordersSvc := orders.New(
			repository.NewTxRunner(mysqlDB),
			ordersRepo,
			tiersRepo,
			tokensRepo,
			ledgerSvc,
			policy,
			cfg.Proof.AllowedHosts,
			log,
		)

		server := httpSrv.NewServer(cfg.HTTP, httpSrv.Services{
			Catalog:  catalog.New(tiersRepo, tierCache, cfg.Catalog.CacheTTL, log),
			Orders:   ordersSvc,
			Ledger:   ledgerSvc,
			Admin:    admin.New(ordersRepo, ordersSvc, policy),
			Verifier: auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		}, log)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}

		stopRecorder()
		recorder.Wait()
		return nil
	},
}
