package orders

import (
	"context"
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

// Issuer creates the token for an order inside the confirming transaction.
type Issuer interface {
	IssueTx(ctx context.Context, tx *sqlx.Tx, order *model.Order) (*model.Token, error)
}

// Service drives the order lifecycle. Every status change goes through
// model.NextOrderStatus and a status-guarded write.
type Service struct {
	tx     repository.TxRunner
	orders repository.OrdersRepository
	tiers  repository.TiersRepository
	tokens repository.TokensRepository
	issuer Issuer
	policy auth.Policy
	log    *zap.Logger

	proofHosts []string
	now        func() time.Time
}

// New constructs the order service.
func New(
	txRunner repository.TxRunner,
	ordersRepo repository.OrdersRepository,
	tiersRepo repository.TiersRepository,
	tokensRepo repository.TokensRepository,
	issuer Issuer,
	policy auth.Policy,
	proofHosts []string,
	log *zap.Logger,
) *Service {
	return &Service{
		tx:         txRunner,
		orders:     ordersRepo,
		tiers:      tiersRepo,
		tokens:     tokensRepo,
		issuer:     issuer,
		policy:     policy,
		log:        log.Named("orders"),
		proofHosts: proofHosts,
		now:        time.Now,
	}
}

type CreateInput struct {
	TierID         string
	WhatsappNumber string
}

// Create opens a PENDING order and snapshots the tier's terms onto it.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (*model.Order, error) {
	if err := s.policy.Authenticated(actor); err != nil {
		return nil, err
	}

	tierID := strings.TrimSpace(in.TierID)
	if tierID == "" {
		return nil, apperr.Validation("tierId is required")
	}
	phone, err := util.NormalizeWhatsApp(in.WhatsappNumber)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	tier, err := s.tiers.Get(ctx, tierID)
	if err != nil {
		return nil, fmt.Errorf("get tier: %w", err)
	}
	if tier == nil || !tier.Active {
		return nil, apperr.NotFound("tier not found")
	}

	now := s.now()
	order := model.Order{
		ID:             util.NewID(),
		UserID:         actor.UserID,
		TierID:         tier.ID,
		TierName:       tier.Name,
		WhatsappNumber: phone,
		TotalPrice:     tier.Price,
		Requests:       tier.Requests,
		DurationDays:   tier.Duration,
		Status:         model.OrderPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if email := strings.TrimSpace(actor.Email); email != "" {
		order.ContactEmail = &email
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	metrics.OrderTransitionsTotal.WithLabelValues("create", "ok").Inc()
	return &order, nil
}

// Get returns an order with its token. Owners and admins only.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (*model.OrderDetail, error) {
	if err := s.policy.Authenticated(actor); err != nil {
		return nil, err
	}
	order, err := s.load(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.OwnerOrAdmin(actor, order.UserID); err != nil {
		return nil, err
	}

	tok, err := s.tokens.GetByOrderID(ctx, nil, order.ID)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &model.OrderDetail{Order: *order, Token: tok}, nil
}

// ListMine returns the caller's orders, newest first.
func (s *Service) ListMine(ctx context.Context, actor auth.Actor) ([]model.Order, error) {
	if err := s.policy.Authenticated(actor); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// UploadProof attaches a payment proof URL. The order is untouched when the
// URL is rejected.
func (s *Service) UploadProof(ctx context.Context, actor auth.Actor, id, rawURL string) (*model.Order, error) {
	order, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if _, err := model.NextOrderStatus(order.Status, model.ActionUploadProof); err != nil {
		s.count(model.ActionUploadProof, err)
		return nil, err
	}
	proof, err := util.ValidateProofURL(rawURL, s.proofHosts)
	if err != nil {
		s.count(model.ActionUploadProof, err)
		return nil, apperr.Validation(err.Error())
	}
	return s.setProof(ctx, order.ID, &proof, model.ActionUploadProof)
}

func (s *Service) DeleteProof(ctx context.Context, actor auth.Actor, id string) (*model.Order, error) {
	order, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if _, err := model.NextOrderStatus(order.Status, model.ActionDeleteProof); err != nil {
		s.count(model.ActionDeleteProof, err)
		return nil, err
	}
	return s.setProof(ctx, order.ID, nil, model.ActionDeleteProof)
}

// Cancel is the buyer's own rejection of a PENDING order.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id string) (*model.Order, error) {
	order, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	reason := model.CancelledByUserReason
	return s.apply(ctx, nil, order, model.ActionCancel, repository.StatusChange{RejectedReason: &reason})
}

// RetryPayment reopens a rejected order and clears its proof and reason.
func (s *Service) RetryPayment(ctx context.Context, actor auth.Actor, id string) (*model.Order, error) {
	order, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, nil, order, model.ActionRetryPayment, repository.StatusChange{ClearProof: true})
}

func (s *Service) Reject(ctx context.Context, actor auth.Actor, id, reason string) (*model.Order, error) {
	if err := s.policy.Admin(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("rejection reason is required")
	}
	order, err := s.load(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, nil, order, model.ActionReject, repository.StatusChange{RejectedReason: &reason})
}

// Confirm approves a PENDING order and issues its token in the same
// transaction. A concurrent second confirm fails with InvalidState.
func (s *Service) Confirm(ctx context.Context, actor auth.Actor, id string) (*model.OrderDetail, error) {
	if err := s.policy.Admin(actor); err != nil {
		return nil, err
	}
	order, err := s.load(ctx, nil, id)
	if err != nil {
		return nil, err
	}

	var detail model.OrderDetail
	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		confirmed, err := s.apply(ctx, tx, order, model.ActionConfirm, repository.StatusChange{ConfirmedBy: actor.UserID})
		if err != nil {
			return err
		}
		tok, err := s.issuer.IssueTx(ctx, tx, confirmed)
		if err != nil {
			return err
		}
		detail = model.OrderDetail{Order: *confirmed, Token: tok}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TokensIssuedTotal.Inc()
	s.log.Info("order confirmed",
		zap.String("order_id", detail.ID),
		zap.String("token_id", detail.Token.ID),
		zap.String("admin_id", actor.UserID),
	)
	return &detail, nil
}

// RetryIssue issues the token for a CONFIRMED order that has none.
func (s *Service) RetryIssue(ctx context.Context, actor auth.Actor, id string) (*model.Token, error) {
	if err := s.policy.Admin(actor); err != nil {
		return nil, err
	}

	var tok *model.Token
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		tok, err = s.issuer.IssueTx(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.TokensIssuedTotal.Inc()
	s.log.Info("token issued on retry", zap.String("order_id", id), zap.String("token_id", tok.ID))
	return tok, nil
}

// ---- helpers ----

func (s *Service) load(ctx context.Context, tx *sqlx.Tx, id string) (*model.Order, error) {
	order, err := s.orders.Get(ctx, tx, strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, apperr.NotFound("order not found")
	}
	return order, nil
}

// owned loads an order the caller must own.
func (s *Service) owned(ctx context.Context, actor auth.Actor, id string) (*model.Order, error) {
	if err := s.policy.Authenticated(actor); err != nil {
		return nil, err
	}
	order, err := s.load(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Owner(actor, order.UserID); err != nil {
		return nil, err
	}
	return order, nil
}

// apply validates action against the FSM, then performs the guarded write.
func (s *Service) apply(ctx context.Context, tx *sqlx.Tx, order *model.Order, action model.OrderAction, change repository.StatusChange) (*model.Order, error) {
	next, err := model.NextOrderStatus(order.Status, action)
	if err != nil {
		s.count(action, err)
		return nil, err
	}

	change.From = model.AllowedFrom(action)
	change.To = next
	change.At = s.now()

	ok, err := s.orders.Transition(ctx, tx, order.ID, change)
	if err != nil {
		return nil, fmt.Errorf("%s order: %w", action, err)
	}
	if !ok {
		err := s.raced(ctx, tx, order.ID, action)
		s.count(action, err)
		return nil, err
	}

	updated, err := s.load(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	s.count(action, nil)
	return updated, nil
}

func (s *Service) setProof(ctx context.Context, id string, proof *string, action model.OrderAction) (*model.Order, error) {
	ok, err := s.orders.SetProof(ctx, id, proof, model.AllowedFrom(action), s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	if !ok {
		err := s.raced(ctx, nil, id, action)
		s.count(action, err)
		return nil, err
	}
	updated, err := s.load(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	s.count(action, nil)
	return updated, nil
}

// raced explains a guarded write that matched no row: the order is gone or
// its status moved on since it was read.
func (s *Service) raced(ctx context.Context, tx *sqlx.Tx, id string, action model.OrderAction) error {
	current, err := s.load(ctx, tx, id)
	if err != nil {
		return err
	}
	if _, err := model.NextOrderStatus(current.Status, action); err != nil {
		return err
	}
	return apperr.InvalidState("order was modified concurrently")
}

func (s *Service) count(action model.OrderAction, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrInvalidState), errors.Is(err, apperr.ErrValidation):
		result = "rejected"
	default:
		result = "error"
	}
	metrics.OrderTransitionsTotal.WithLabelValues(string(action), result).Inc()
}
