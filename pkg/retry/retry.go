package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/trigg3rX/taskmarket/pkg/logging"
)

// RetryConfig configures exponential backoff for idempotent operations.
type RetryConfig struct {
	MaxRetries      int           // total attempts, including the first
	InitialDelay    time.Duration // delay before the second attempt
	MaxDelay        time.Duration
	BackoffFactor   float64
	JitterFactor    float64 // fraction of the delay added at random
	LogRetryAttempt bool
	// ShouldRetry decides whether err on the given attempt (1-based) is
	// worth another try. Nil retries every error.
	ShouldRetry func(err error, attempt int) bool
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      3,
		InitialDelay:    250 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffFactor:   2.0,
		JitterFactor:    0.2,
		LogRetryAttempt: true,
	}
}

func (c *RetryConfig) Validate() error {
	if c.MaxRetries < 1 {
		return errors.New("MaxRetries must be >= 1")
	}
	if c.InitialDelay <= 0 {
		return errors.New("InitialDelay must be positive")
	}
	if c.MaxDelay < c.InitialDelay {
		return errors.New("MaxDelay must be >= InitialDelay")
	}
	if c.BackoffFactor < 1.0 {
		return errors.New("BackoffFactor must be >= 1.0")
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1.0 {
		return errors.New("JitterFactor must be between 0.0 and 1.0")
	}
	return nil
}

// CalculateDelayWithJitter adds up to jitterFactor*baseDelay of random delay.
func CalculateDelayWithJitter(baseDelay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return baseDelay
	}
	return baseDelay + time.Duration(jitterFactor*float64(baseDelay)*rand.Float64())
}

// CalculateNextDelay applies the backoff factor, capped at maxDelay.
func CalculateNextDelay(currentDelay time.Duration, backoffFactor float64, maxDelay time.Duration) time.Duration {
	next := time.Duration(float64(currentDelay) * backoffFactor)
	if next > maxDelay {
		return maxDelay
	}
	return next
}

// Retry runs operation until it succeeds, the attempts are exhausted, the
// predicate declines, or ctx is done. The last operation error is wrapped
// in the returned error.
func Retry[T any](ctx context.Context, operation func() (T, error), config *RetryConfig, logger logging.Logger) (T, error) {
	var zero T
	if config == nil {
		config = DefaultRetryConfig()
	} else if err := config.Validate(); err != nil {
		return zero, fmt.Errorf("invalid retry config: %w", err)
	}

	var lastErr error
	delay := config.InitialDelay
	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if config.ShouldRetry != nil && !config.ShouldRetry(err, attempt) {
			return zero, err
		}
		if attempt == config.MaxRetries {
			break
		}

		sleep := CalculateDelayWithJitter(delay, config.JitterFactor)
		if config.LogRetryAttempt && logger != nil {
			logger.Warnf("Attempt %d/%d failed: %v. Retrying in %v...", attempt, config.MaxRetries, err, sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
			delay = CalculateNextDelay(delay, config.BackoffFactor, config.MaxDelay)
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		}
	}

	return zero, fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries, lastErr)
}

// RetryFunc is Retry for operations without a result.
func RetryFunc(ctx context.Context, operation func() error, config *RetryConfig, logger logging.Logger) error {
	_, err := Retry(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, config, logger)
	return err
}
