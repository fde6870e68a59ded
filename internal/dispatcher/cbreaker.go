package dispatcher

import (
	"sync"
	"time"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

const (
	defaultFailThreshold = 3
	defaultOpenFor       = 15 * time.Second
)

// MicroBreaker keeps a mail provider out of rotation after failThreshold
// consecutive failures. Once openFor has passed, one probe send is let through;
// its outcome closes or re-opens the breaker.
type MicroBreaker struct {
	mu               sync.Mutex
	st               BreakerState
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool

	now func() time.Time
}

// NewMicroBreaker falls back to 3 failures and a 15s open window for
// non-positive arguments.
func NewMicroBreaker(threshold int, openFor time.Duration) *MicroBreaker {
	if threshold <= 0 {
		threshold = defaultFailThreshold
	}
	if openFor <= 0 {
		openFor = defaultOpenFor
	}
	return &MicroBreaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

func (b *MicroBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

// probeDue reports whether an open breaker may send a probe. Caller holds mu.
func (b *MicroBreaker) probeDue() bool {
	return !b.probeInFlight && b.now().After(b.nextTryAt)
}

// Ready reports whether the provider should be considered for the next send.
func (b *MicroBreaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case BreakerOpen:
		return b.probeDue()
	case BreakerHalfOpen:
		return !b.probeInFlight
	default:
		return true
	}
}

// TryAcquire claims a send slot. In open or half-open state only one caller
// gets the probe.
func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case BreakerOpen:
		if !b.probeDue() {
			return false
		}
		b.st = BreakerHalfOpen
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
	default:
		return true
	}
	b.probeInFlight = true
	return true
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = BreakerClosed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == BreakerHalfOpen {
		b.trip()
		return
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.trip()
	}
}

// trip opens the breaker for openFor. Caller holds mu.
func (b *MicroBreaker) trip() {
	b.st = BreakerOpen
	b.nextTryAt = b.now().Add(b.openFor)
	b.probeInFlight = false
}

// Record feeds a send outcome to the breaker and passes err through.
func (b *MicroBreaker) Record(err error) error {
	if err != nil {
		b.OnFailure()
		return err
	}
	b.OnSuccess()
	return nil
}
