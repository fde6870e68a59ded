package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/tokengen/internal/apperr"
	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/repository"
	"go.uber.org/zap"
)

// Service serves the tier catalog. The active list is read through the
// cache; cache failures fall back to the database.
type Service struct {
	tiers repository.TiersRepository
	cache repository.TierCache // optional
	ttl   time.Duration
	log   *zap.Logger
}

func New(tiersRepo repository.TiersRepository, cache repository.TierCache, ttl time.Duration, log *zap.Logger) *Service {
	return &Service{tiers: tiersRepo, cache: cache, ttl: ttl, log: log.Named("catalog")}
}

// ListActive returns active tiers by ascending price.
func (s *Service) ListActive(ctx context.Context) ([]model.Tier, error) {
	if s.cache != nil {
		tiers, ok, err := s.cache.Get(ctx)
		if err != nil {
			s.log.Warn("tier cache read failed", zap.Error(err))
		} else if ok {
			return tiers, nil
		}
	}

	tiers, err := s.tiers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	if tiers == nil {
		tiers = []model.Tier{}
	}

	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.Set(ctx, tiers, s.ttl); err != nil {
			s.log.Warn("tier cache write failed", zap.Error(err))
		}
	}
	return tiers, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Tier, error) {
	t, err := s.tiers.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("get tier: %w", err)
	}
	if t == nil {
		return nil, apperr.NotFound("tier not found")
	}
	return t, nil
}

// Seed upserts tiers by name and drops the cached list.
func (s *Service) Seed(ctx context.Context, tiers []model.Tier) error {
	for _, t := range tiers {
		if err := s.tiers.Upsert(ctx, t); err != nil {
			return fmt.Errorf("upsert tier %q: %w", t.Name, err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.Warn("tier cache invalidate failed", zap.Error(err))
		}
	}
	return nil
}
