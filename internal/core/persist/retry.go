package persist

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"
)

// RetryPolicy bounds the exponential backoff applied to transient storage
// errors. MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns the default retry configuration
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay is the wait before retry number attempt (1-based)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay < 0) {
		delay = p.MaxDelay
	}
	return delay
}

// IsTransient is the default classifier: lock and timeout class errors
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "database table is locked", "sqlite_busy", "sqlite_locked", "busy timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// retry runs fn until it succeeds, fails with a non-transient error, or the
// policy runs out. It returns the number of retries performed.
func (e *Engine) retry(ctx context.Context, op string, batch int, fn func() error) (int, error) {
	attempts := max(e.retryPolicy.MaxAttempts, 1)
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return attempt - 1, nil
		}
		if !e.transient(err) {
			return attempt - 1, err
		}
		if attempt >= attempts {
			return attempt - 1, &ContentionError{Op: op, BatchIndex: batch, Attempts: attempt, Err: err}
		}

		delay := e.retryPolicy.Delay(attempt)
		e.logger.WarnContext(ctx, "storage_retry",
			slog.String("op", op),
			slog.Int("batch", batch),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if e.observer != nil && batch >= 0 {
			e.observer.BatchRetried()
		}
		e.sleep(delay)
	}
}
