// Package catalog guards product lookups with circuit breakers so a failing
// database degrades cart operations quickly instead of stalling them.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/aims-checkout/internal/domain/product"
)

// ErrUnavailable is returned while a breaker is open.
var ErrUnavailable = errors.New("catalog temporarily unavailable")

// BreakerConfig tunes both breakers.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts reset.
	Interval time.Duration
	// Timeout is how long a breaker stays open.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

// Guarded decorates a product.Repository with circuit breakers.
type Guarded struct {
	next product.Repository
	list *gobreaker.CircuitBreaker[[]product.Product]
	get  *gobreaker.CircuitBreaker[*product.Product]
}

var _ product.Repository = (*Guarded)(nil)

// NewGuarded wraps next.
func NewGuarded(next product.Repository, cfg BreakerConfig, lg *zap.Logger) *Guarded {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				lg.Warn("Catalog breaker state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
			IsSuccessful: isSuccessful,
		}
	}
	return &Guarded{
		next: next,
		list: gobreaker.NewCircuitBreaker[[]product.Product](settings("catalog.list")),
		get:  gobreaker.NewCircuitBreaker[*product.Product](settings("catalog.get")),
	}
}

// isSuccessful keeps caller-side outcomes from tripping the breaker.
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, product.ErrNotFound) ||
		errors.Is(err, context.Canceled)
}

func (g *Guarded) List(ctx context.Context) ([]product.Product, error) {
	products, err := g.list.Execute(func() ([]product.Product, error) {
		return g.next.List(ctx)
	})
	return products, mapBreakerError(err)
}

func (g *Guarded) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	p, err := g.get.Execute(func() (*product.Product, error) {
		return g.next.GetByID(ctx, id)
	})
	return p, mapBreakerError(err)
}

func mapBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Wrap(ErrUnavailable, err.Error())
	}
	return err
}
