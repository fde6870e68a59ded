package admin

import (
	"context"
	"fmt"

	"github.com/jmehdipour/tokengen/internal/apperr"
	"github.com/jmehdipour/tokengen/internal/auth"
	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/repository"
	"github.com/jmehdipour/tokengen/internal/service/orders"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Service is the admin approval gateway. Each call checks the admin
// capability before touching state.
type Service struct {
	orders repository.OrdersRepository
	flow   *orders.Service
	policy auth.Policy
}

func New(ordersRepo repository.OrdersRepository, flow *orders.Service, policy auth.Policy) *Service {
	return &Service{orders: ordersRepo, flow: flow, policy: policy}
}

// Authorize reports whether actor may use the admin operations. Handlers
// call it before decoding a request body.
func (s *Service) Authorize(actor auth.Actor) error {
	return s.policy.Admin(actor)
}

// ListOrders lists orders newest first, optionally filtered by status.
func (s *Service) ListOrders(ctx context.Context, actor auth.Actor, status string, limit, offset int) ([]model.Order, error) {
	if err := s.policy.Admin(actor); err != nil {
		return nil, err
	}

	var f repository.OrderFilter
	if status != "" {
		st, ok := model.ParseOrderStatus(status)
		if !ok {
			return nil, apperr.Validation(fmt.Sprintf("unknown order status %q", status))
		}
		f.Status = st
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	f.Limit, f.Offset = limit, offset

	list, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return list, nil
}

func (s *Service) Confirm(ctx context.Context, actor auth.Actor, id string) (*model.OrderDetail, error) {
	if err := s.policy.Admin(actor); err != nil {
		return nil, err
	}
	return s.flow.Confirm(ctx, actor, id)
}

func (s *Service) Reject(ctx context.Context, actor auth.Actor, id, reason string) (*model.Order, error) {
	if err := s.policy.Admin(actor); err != nil {
		return nil, err
	}
	return s.flow.Reject(ctx, actor, id, reason)
}

func (s *Service) RetryIssue(ctx context.Context, actor auth.Actor, id string) (*model.Token, error) {
	if err := s.policy.Admin(actor); err != nil {
		return nil, err
	}
	return s.flow.RetryIssue(ctx, actor, id)
}

func (s *Service) Stats(ctx context.Context, actor auth.Actor) (model.OrderStats, error) {
	if err := s.policy.Admin(actor); err != nil {
		return model.OrderStats{}, err
	}
	st, err := s.orders.Stats(ctx)
	if err != nil {
		return model.OrderStats{}, fmt.Errorf("order stats: %w", err)
	}
	return st, nil
}
