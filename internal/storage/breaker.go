package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"file-drop/internal/drop"
)

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // calls flow
	StateOpen                         // calls fail fast
	StateHalfOpen                     // one trial call is let through
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the breaker is open.
	ErrCircuitOpen = fmt.Errorf("blob store circuit breaker is open: %w", drop.ErrBackendUnavailable)
	// ErrTrialInFlight is returned to callers arriving while the half-open
	// trial call is running.
	ErrTrialInFlight = fmt.Errorf("blob store recovery trial in flight: %w", drop.ErrBackendUnavailable)
)

// Breaker guards a Store: after maxFailures consecutive failures it rejects
// calls for timeout, then lets a single trial call decide whether to close again.
type Breaker struct {
	store Store
	log   *slog.Logger

	mu          sync.Mutex
	maxFailures uint32
	timeout     time.Duration
	state       CircuitState
	failures    uint32
	openedAt    time.Time
	inTrial     bool

	total    uint64
	failed   uint64
	rejected uint64

	now func() time.Time
}

// BreakerStats is a snapshot of a Breaker.
type BreakerStats struct {
	State    string `json:"state"`
	Failures uint32 `json:"failures"`
	Total    uint64 `json:"total"`
	Failed   uint64 `json:"failed"`
	Rejected uint64 `json:"rejected"`
}

// NewBreaker wraps store. Zero values fall back to 5 failures and 30s.
func NewBreaker(store Store, maxFailures uint32, timeout time.Duration, logger *slog.Logger) *Breaker {
	if maxFailures == 0 {
		maxFailures = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		store:       store,
		log:         logger.With("component", "blob_breaker"),
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

func (b *Breaker) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return b.execute(func() error { return b.store.Put(ctx, key, data, contentType) })
}

func (b *Breaker) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	var ref string
	err := b.execute(func() error {
		var err error
		ref, err = b.store.Sign(ctx, key, ttl)
		return err
	})
	return ref, err
}

func (b *Breaker) Delete(ctx context.Context, key string) error {
	return b.execute(func() error { return b.store.Delete(ctx, key) })
}

// Ping bypasses the breaker so health checks see the real backend.
func (b *Breaker) Ping(ctx context.Context) error {
	return b.store.Ping(ctx)
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns counters for health reporting.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:    b.state.String(),
		Failures: b.failures,
		Total:    b.total,
		Failed:   b.failed,
		Rejected: b.rejected,
	}
}

func (b *Breaker) execute(fn func() error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(err, trial)
	return err
}

// admit reports whether the call may proceed and whether it is the single
// half-open trial call.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total++

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			b.rejected++
			return false, fmt.Errorf("%w (retry after %s)", ErrCircuitOpen, b.timeout)
		}
		b.state = StateHalfOpen
		b.inTrial = true
		b.log.Info("circuit half-open", "after", b.timeout)
		return true, nil
	case StateHalfOpen:
		if b.inTrial {
			b.rejected++
			return false, ErrTrialInFlight
		}
		b.inTrial = true
		return true, nil
	}
	return false, nil
}

// record applies the outcome of a call. Only the trial call moves the circuit out
// of half-open; calls admitted earlier while closed only feed the counters.
func (b *Breaker) record(err error, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.inTrial = false
	}

	// A caller giving up says nothing about the backend.
	if err != nil && errors.Is(err, context.Canceled) {
		if trial {
			b.state = StateOpen
		}
		return
	}

	if err == nil {
		switch {
		case trial:
			b.log.Info("circuit closed", "reason", "trial call succeeded")
			b.state = StateClosed
			b.failures = 0
		case b.state == StateClosed:
			b.failures = 0
		}
		return
	}

	b.failed++
	switch {
	case trial:
		b.log.Warn("circuit reopened", "reason", "trial call failed", "err", err)
		b.state = StateOpen
		b.openedAt = b.now()
	case b.state == StateClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.log.Warn("circuit opened", "failures", b.failures, "timeout", b.timeout, "err", err)
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
}
