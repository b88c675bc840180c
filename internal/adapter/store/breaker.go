package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"ppi-control/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker around a store.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive faults before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration
	// Interval clears failure counts while closed. 0 keeps them until the circuit opens.
	Interval time.Duration
}

// BreakerStore wraps a domain.Store so repeated persistence faults fail fast
// with ErrStoreUnavailable instead of piling up on a dead backend.
// Business outcomes such as ErrNotFound never trip the breaker.
type BreakerStore struct {
	inner   domain.Store
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerStore wraps inner with a circuit breaker. Zero config values use defaults.
func NewBreakerStore(inner domain.Store, cfg BreakerConfig, logger *slog.Logger) *BreakerStore {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "store",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsCollaboratorFault(err)
		},
	})
	return &BreakerStore{inner: inner, breaker: cb}
}

func (b *BreakerStore) run(op string, fn func() error) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewSubSystemError("store", "BreakerStore."+op, domain.ErrStoreUnavailable, err.Error())
	}
	return err
}

func (b *BreakerStore) Insert(ctx context.Context, collection string, rec domain.Record) (domain.Record, error) {
	var out domain.Record
	err := b.run("Insert", func() error {
		var err error
		out, err = b.inner.Insert(ctx, collection, rec)
		return err
	})
	return out, err
}

func (b *BreakerStore) Update(ctx context.Context, collection, id string, patch domain.Record) (domain.Record, error) {
	var out domain.Record
	err := b.run("Update", func() error {
		var err error
		out, err = b.inner.Update(ctx, collection, id, patch)
		return err
	})
	return out, err
}

func (b *BreakerStore) Query(ctx context.Context, collection string, q domain.Query) ([]domain.Record, error) {
	var out []domain.Record
	err := b.run("Query", func() error {
		var err error
		out, err = b.inner.Query(ctx, collection, q)
		return err
	})
	return out, err
}

func (b *BreakerStore) Delete(ctx context.Context, collection, id string) (domain.Record, error) {
	var out domain.Record
	err := b.run("Delete", func() error {
		var err error
		out, err = b.inner.Delete(ctx, collection, id)
		return err
	})
	return out, err
}

// State returns the current breaker state for health reporting.
func (b *BreakerStore) State() gobreaker.State {
	return b.breaker.State()
}

var _ domain.Store = (*BreakerStore)(nil)
