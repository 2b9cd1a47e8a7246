package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// BackoffConfig contains configuration for retry delays
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"max_attempts"`
	Jitter       bool          `json:"jitter"`
}

// DefaultBackoffConfig returns exponential backoff with jitter
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// FixedConfig waits the same delay between every attempt.
func FixedConfig(delay time.Duration, attempts int) BackoffConfig {
	return BackoffConfig{
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
		MaxAttempts:  attempts,
	}
}

// Backoff runs operations until they succeed or attempts run out
type Backoff struct {
	config BackoffConfig
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func NewBackoff(config BackoffConfig) *Backoff {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &Backoff{config: config}
}

// Retry executes operation until it succeeds. The operation receives the
// 1-based attempt number. The last error is returned once attempts run out.
func (b *Backoff) Retry(ctx context.Context, operation func(attempt int) error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate stops early on errors isRetryable rejects
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func(attempt int) error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == b.config.MaxAttempts {
			break
		}

		delay := b.calculateDelay(attempt)
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// MaxAttempts returns the configured attempt budget
func (b *Backoff) MaxAttempts() int {
	return b.config.MaxAttempts
}

func (b *Backoff) calculateDelay(attempt int) time.Duration {
	delay := float64(b.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= b.config.Multiplier
	}
	if delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}

	// ±25%
	if b.config.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64() - 0.5) * 2 * jitter
		if delay < 0 {
			delay = float64(b.config.InitialDelay)
		}
		if delay > float64(b.config.MaxDelay) {
			delay = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(delay)
}
