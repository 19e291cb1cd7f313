package provider

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"kgraph/internal/kgerrors"
)

// RetryConfig controls retry behavior for provider calls.
type RetryConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig retries transient failures three times with exponential
// backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// backoff computes the delay before the given attempt (1-based), with +/-25%
// jitter so synchronized clients do not retry in lockstep.
func (c RetryConfig) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}
	d := time.Duration(float64(c.BackoffBase) * multiplier)
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	jitter := float64(d) * 0.25 * (rand.Float64()*2 - 1)
	return d + time.Duration(jitter)
}

// withRetry runs fn until it succeeds, fails fatally, or attempts run out.
// A RetryAfter hint on the error overrides the computed backoff.
func withRetry(ctx context.Context, cfg RetryConfig, logger *zap.Logger, op string, fn func(context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !kgerrors.IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.backoff(attempt)
		var ke *kgerrors.Error
		if errors.As(err, &ke) && ke.RetryAfter > 0 {
			delay = ke.RetryAfter
		}

		logger.Debug("provider call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return kgerrors.Cancelled(op).WithCause(ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}
