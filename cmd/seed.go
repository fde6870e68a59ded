package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmehdipour/tokengen/internal/config"
	"github.com/jmehdipour/tokengen/internal/db"
	"github.com/jmehdipour/tokengen/internal/logger"
	"github.com/jmehdipour/tokengen/internal/repository"
	"github.com/jmehdipour/tokengen/internal/service/catalog"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the tier catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL and Redis
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		var cache repository.TierCache
		if rdb, err := db.NewRedisClient(cfg.Redis); err != nil {
			log.Printf(">> redis unavailable, tier cache not invalidated: %v", err)
		} else {
			defer func() { _ = rdb.Close() }()
			cache = repository.NewRedisTierCache(rdb)
		}

		log.Println(">> Seeding tiers...")

		svc := catalog.New(repository.NewTiersRepository(sqlDB), cache, cfg.Catalog.CacheTTL, logger.MustNew(cfg.Log.Level))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := svc.Seed(ctx, catalog.DefaultTiers()); err != nil {
			return fmt.Errorf("seed tiers: %w", err)
		}

		log.Println(">> Seed completed")
		return nil
	},
}
