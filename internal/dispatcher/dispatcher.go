package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jmehdipour/tokengen/internal/model"
)

var (
	ErrNoHealthy = fmt.Errorf("no healthy providers")
	ErrNoAcquire = fmt.Errorf("provider not acquired")
)

// Dispatcher delivers token notifications over round-robin providers,
// skipping those whose breaker is open.
type Dispatcher struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
	maxAttempts       int
}

func NewDispatcher(provs []Provider, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 3
	}

	return &Dispatcher{providers: provs, maxAttempts: maxAttempts}
}

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, fmt.Errorf("%w (%s)", ErrNoHealthy, d.describe())
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, env model.TokenIssued) error {
	p, err := d.selectProvider()
	if err != nil {
		return err
	}

	if !p.Acquire() {
		return ErrNoAcquire
	}

	return p.Send(ctx, env)
}

// Send returns nil once any provider accepts the notification.
func (d *Dispatcher) Send(ctx context.Context, env model.TokenIssued) error {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		err := d.tryOnce(ctx, env)
		if err == nil {
			return nil
		}
		last = err
		if errors.Is(err, ErrNoRecipient) || ctx.Err() != nil {
			break
		}
	}

	if last == nil {
		last = fmt.Errorf("send notification failed")
	}

	return last
}

// describe lists provider breaker states, e.g. "smtp=open, api=half_open".
func (d *Dispatcher) describe() string {
	parts := make([]string, 0, len(d.providers))
	for _, p := range d.providers {
		st := "unknown"
		if sp, ok := p.(interface{ BreakerState() BreakerState }); ok {
			st = sp.BreakerState().String()
		}
		parts = append(parts, p.Name()+"="+st)
	}
	return strings.Join(parts, ", ")
}
