package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/tokengen/internal/apperr"
	"github.com/jmehdipour/tokengen/internal/auth"
	"github.com/jmehdipour/tokengen/internal/metrics"
	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/repository"
	"github.com/jmehdipour/tokengen/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const (
	maxSecretAttempts = 5
	recentUsageLimit  = 100
)

// UsageSink accepts audit events without blocking the caller.
type UsageSink interface {
	Record(e model.UsageEvent)
}

// Service issues tokens and meters their consumption.
type Service struct {
	tokens repository.TokensRepository
	orders repository.OrdersRepository
	outbox repository.OutboxRepository
	usage  repository.UsageRepository
	sink   UsageSink
	policy auth.Policy
	log    *zap.Logger

	now       func() time.Time
	newSecret func() (string, error)
}

// New constructs the ledger service.
func New(
	tokensRepo repository.TokensRepository,
	ordersRepo repository.OrdersRepository,
	outboxRepo repository.OutboxRepository,
	usageRepo repository.UsageRepository,
	sink UsageSink,
	policy auth.Policy,
	log *zap.Logger,
) *Service {
	return &Service{
		tokens:    tokensRepo,
		orders:    ordersRepo,
		outbox:    outboxRepo,
		usage:     usageRepo,
		sink:      sink,
		policy:    policy,
		log:       log.Named("ledger"),
		now:       time.Now,
		newSecret: util.NewSecret,
	}
}

// IssueTx creates the token for a confirmed order and queues its notification,
// both inside tx. The quota and validity come from the order's snapshot.
func (s *Service) IssueTx(ctx context.Context, tx *sqlx.Tx, order *model.Order) (*model.Token, error) {
	if order.Status != model.OrderConfirmed {
		return nil, apperr.InvalidState("tokens are issued only for confirmed orders")
	}

	existing, err := s.tokens.GetByOrderID(ctx, tx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup token by order: %w", err)
	}
	if existing != nil {
		return nil, apperr.InvalidState("token already issued for this order")
	}

	now := s.now()
	tok := model.Token{
		ID:          util.NewID(),
		UserID:      order.UserID,
		OrderID:     order.ID,
		Requests:    order.Requests,
		MaxRequests: order.Requests,
		Active:      true,
		CreatedAt:   now,
	}
	if order.DurationDays > 0 {
		exp := now.Add(time.Duration(order.DurationDays) * 24 * time.Hour)
		tok.ExpiresAt = &exp
	}

	for attempt := 1; ; attempt++ {
		secret, err := s.newSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		tok.Secret = secret

		err = s.tokens.Insert(ctx, tx, tok)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrTokenExists) {
			return nil, apperr.InvalidState("token already issued for this order")
		}
		if errors.Is(err, repository.ErrDuplicateSecret) && attempt < maxSecretAttempts {
			s.log.Warn("token secret collision, regenerating", zap.String("order_id", order.ID), zap.Int("attempt", attempt))
			continue
		}
		return nil, fmt.Errorf("insert token: %w", err)
	}

	env := model.TokenIssued{
		TokenID:   tok.ID,
		OrderID:   order.ID,
		UserID:    order.UserID,
		Secret:    tok.Secret,
		TierName:  order.TierName,
		Quota:     tok.MaxRequests,
		ExpiresAt: tok.ExpiresAt,
	}
	if order.ContactEmail != nil {
		env.Recipient = *order.ContactEmail
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if err := s.outbox.Insert(ctx, tx, "token", tok.ID, model.TopicTokenIssued, payload); err != nil {
		return nil, fmt.Errorf("insert outbox: %w", err)
	}

	return &tok, nil
}

// Redeem spends one request of the token. Expected failures come back as the
// Redemption outcome; the error is reserved for storage faults.
func (s *Service) Redeem(ctx context.Context, secret, ip, userAgent string) (model.Redemption, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		metrics.RedemptionsTotal.WithLabelValues(model.OutcomeInvalidToken.String()).Inc()
		return model.Redemption{Outcome: model.OutcomeInvalidToken}, nil
	}

	now := s.now()
	red, err := s.tokens.Consume(ctx, secret, now)
	if err != nil {
		metrics.RedemptionsTotal.WithLabelValues("error").Inc()
		return model.Redemption{}, fmt.Errorf("consume token: %w", err)
	}
	metrics.RedemptionsTotal.WithLabelValues(red.Outcome.String()).Inc()

	if red.Outcome.OK() {
		s.sink.Record(model.UsageEvent{
			ID:        util.NewID(),
			TokenID:   red.TokenID,
			UserID:    red.UserID,
			IPAddress: ip,
			UserAgent: userAgent,
			CreatedAt: now,
		})
	}
	return red, nil
}

// Validate classifies the token without spending quota.
func (s *Service) Validate(ctx context.Context, secret string) (model.Validation, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return model.Validation{}, apperr.Validation("token is required")
	}

	tok, err := s.tokens.GetBySecret(ctx, secret)
	if err != nil {
		return model.Validation{}, fmt.Errorf("get token: %w", err)
	}
	outcome := model.Classify(tok, s.now())
	if !outcome.OK() {
		return model.Validation{Valid: false, Error: outcome.ValidationMessage()}, nil
	}

	remaining, maxRequests := tok.Requests, tok.MaxRequests
	return model.Validation{
		Valid:             true,
		RemainingRequests: &remaining,
		MaxRequests:       &maxRequests,
		ExpiresAt:         tok.ExpiresAt,
	}, nil
}

// ListMine returns the caller's tokens, newest first.
func (s *Service) ListMine(ctx context.Context, actor auth.Actor) ([]model.Token, error) {
	if err := s.policy.Authenticated(actor); err != nil {
		return nil, err
	}
	tokens, err := s.tokens.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// Stats returns a token with its order terms and recent usage. Usage comes
// from the audit store; when it is unavailable the token is still returned.
func (s *Service) Stats(ctx context.Context, actor auth.Actor, tokenID string) (*model.TokenStats, error) {
	if err := s.policy.Authenticated(actor); err != nil {
		return nil, err
	}

	tok, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if tok == nil {
		return nil, apperr.NotFound("token not found")
	}
	if err := s.policy.OwnerOrAdmin(actor, tok.UserID); err != nil {
		return nil, err
	}

	stats := &model.TokenStats{Token: *tok, RecentUsage: []model.UsageEvent{}}

	order, err := s.orders.Get(ctx, nil, tok.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order != nil {
		stats.TierName = order.TierName
	}

	if n, err := s.usage.CountByToken(ctx, tok.ID); err != nil {
		s.log.Warn("usage count unavailable", zap.String("token_id", tok.ID), zap.Error(err))
	} else {
		stats.UsageCount = n
	}
	if recent, err := s.usage.ListByToken(ctx, tok.ID, recentUsageLimit); err != nil {
		s.log.Warn("recent usage unavailable", zap.String("token_id", tok.ID), zap.Error(err))
	} else if recent != nil {
		stats.RecentUsage = recent
	}

	return stats, nil
}
