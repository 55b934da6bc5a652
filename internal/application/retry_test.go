package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"openscan/internal/domain"
)

func TestRetrySucceedsWithinBudget(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	attempts := 0
	err := policy.Do(context.Background(), &fakeClock{}, "op", func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("%w: flaky", domain.ErrRPCUnavailable)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	attempts := 0
	err := policy.Do(context.Background(), &fakeClock{}, "op", func() error {
		attempts++
		return fmt.Errorf("%w: down", domain.ErrStorageUnavailable)
	})
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("Do returned %v, want ErrStorageUnavailable", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestRetryDoesNotRetryFatalErrors(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	for _, sentinel := range []error{domain.ErrRPCMalformed, domain.ErrNormalization, domain.ErrDuplicateBlock} {
		attempts := 0
		err := policy.Do(context.Background(), &fakeClock{}, "op", func() error {
			attempts++
			return fmt.Errorf("%w: broken", sentinel)
		})
		if !errors.Is(err, sentinel) {
			t.Fatalf("Do returned %v, want %v", err, sentinel)
		}
		if attempts != 1 {
			t.Fatalf("%v retried %d times", sentinel, attempts)
		}
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Millisecond}
	attempts := 0
	err := policy.Do(ctx, &fakeClock{}, "op", func() error {
		attempts++
		cancel()
		return fmt.Errorf("%w: down", domain.ErrRPCUnavailable)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do returned %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}
