package circuitbreaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Config tunes a breaker around an outbound dependency.
type Config struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig trips after half of at least three calls in a window fail.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      60 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

// Wrapper guards an outbound call with a circuit breaker.
type Wrapper struct {
	cb *gobreaker.CircuitBreaker
}

func NewWrapper(cfg Config) *Wrapper {
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 3
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && ratio >= cfg.FailureRatio
		},
	}

	return &Wrapper{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under the breaker, honoring context cancellation before
// the call.
func (w *Wrapper) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return w.cb.Execute(fn)
}

// Open reports whether the breaker is currently rejecting calls.
func (w *Wrapper) Open() bool {
	return w.cb.State() == gobreaker.StateOpen
}
