package provider

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/kgerrors"
)

// Breaker guards one provider endpoint. Fatal request errors (bad input,
// auth) do not count against the circuit; only transient failures trip it.
type Breaker struct {
	cb           *gobreaker.CircuitBreaker
	openDuration time.Duration
}

// NewBreaker builds a circuit breaker from configuration.
func NewBreaker(name string, cfg config.Breaker, logger *zap.Logger) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.HalfOpenRequests),
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinRequests) {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// A rejected prompt is the caller's problem, not the endpoint's.
			return !kgerrors.IsRetryable(err)
		},
	})
	return &Breaker{cb: cb, openDuration: cfg.OpenDuration}
}

// Do runs fn through the breaker. An open circuit maps to a non-retryable
// provider error so the retry loop stops immediately; the RetryAfter hint
// tells job-level schedulers when to try again.
func (b *Breaker) Do(op string, fn func() error) error {
	if b == nil {
		return fn()
	}
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		e := kgerrors.New(kgerrors.KindProvider, "%s unavailable: circuit open", b.cb.Name())
		e.RetryAfter = b.openDuration
		return e.WithOp(op).WithCause(err)
	}
	return err
}
