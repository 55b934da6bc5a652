package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"openscan/internal/domain"
)

// RetryPolicy retries transient failures with exponential backoff. Only
// RPC and storage unavailability are transient; malformed data and
// normalization failures are surfaced on the first attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	return p
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrRPCUnavailable) || errors.Is(err, domain.ErrStorageUnavailable)
}

// Do runs fn up to MaxAttempts times, sleeping BaseDelay, 2*BaseDelay,
// 4*BaseDelay... between attempts. The last error is returned unwrapped so
// callers can still classify it.
func (p RetryPolicy) Do(ctx context.Context, clock Clock, op string, fn func() error) error {
	p = p.withDefaults()

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.BaseDelay << (attempt - 1)
			slog.Warn("retrying after transient failure",
				"op", op,
				"attempt", attempt+1,
				"max_attempts", p.MaxAttempts,
				"delay", delay,
				"err", err,
			)
			// Check cancellation first: if the clock fires immediately the
			// select below would otherwise pick a ready case at random.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(delay):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}
