package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryingTranslator retries the wrapped translator on ErrUnavailable only,
// with linear backoff. Rejections surface immediately.
type RetryingTranslator struct {
	next     Translator
	attempts int
	backoff  time.Duration
	sleep    func(context.Context, time.Duration) error
}

func NewRetryingTranslator(next Translator, attempts int, backoff time.Duration) *RetryingTranslator {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingTranslator{
		next:     next,
		attempts: attempts,
		backoff:  backoff,
		sleep:    sleepContext,
	}
}

func (t *RetryingTranslator) Translate(ctx context.Context, payload Payload) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		result, err := t.next.Translate(ctx, payload)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return Result{}, err
		}
		lastErr = err
		if attempt == t.attempts {
			break
		}
		if err := t.sleep(ctx, t.backoff*time.Duration(attempt)); err != nil {
			return Result{}, err
		}
	}
	return Result{}, fmt.Errorf("after %d attempts: %w", t.attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
