package retry

import (
	"context"
	"fmt"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     bool // Exponential backoff: Delay, 2*Delay, 4*Delay, ...
}

// Default is used for flaky feed hosts: three attempts, doubling from one second.
var Default = RetryConfig{MaxAttempts: 3, Delay: time.Second, Backoff: true}

// WithRetry calls fn until it succeeds, the attempts are exhausted or ctx is done.
func WithRetry(ctx context.Context, config RetryConfig, fn func() error) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("gave up after %d attempts: %w", attempt-1, lastErr)
			}
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == config.MaxAttempts {
			return fmt.Errorf("failed after %d attempts: %w", config.MaxAttempts, err)
		}

		timer := time.NewTimer(Delay(config, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("gave up after %d attempts: %w", attempt, lastErr)
		case <-timer.C:
		}
	}

	return lastErr
}

// Delay returns the pause that follows the given (1-based) failed attempt.
func Delay(config RetryConfig, attempt int) time.Duration {
	if !config.Backoff || attempt <= 1 {
		return config.Delay
	}
	return config.Delay << (attempt - 1)
}
