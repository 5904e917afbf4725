package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, +/- share of each delay

	// OnRetry, when set, is called before each wait with the failed attempt
	// number (starting at 1), its error and the delay about to be slept.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig returns defaults for short database operations:
// 3 retries, 100ms doubling up to 5s, 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// StartupConfig returns defaults for connecting to PostgreSQL and Redis while
// they may still be starting: 6 retries, 500ms doubling up to 10s.
func StartupConfig() *Config {
	return &Config{
		MaxRetries:   6,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// errPermanent marks an error that must not be retried.
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// Permanent wraps err so that Do and DoWithResult return it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errPermanent{err: err}
}

func jittered(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return delay
	}
	return time.Duration(float64(delay) + float64(delay)*factor*(rand.Float64()*2-1))
}

// Do executes fn with exponential backoff.
// Returns nil on success, or the last error once retries are exhausted.
// A context cancelled while waiting ends the loop with ctx.Err().
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn and returns both result and error.
// The result of the last attempt is returned even when it failed.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	delay := cfg.InitialDelay
	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		var perm errPermanent
		if errors.As(err, &perm) {
			return result, perm.err
		}
		if attempt >= cfg.MaxRetries {
			return result, err
		}

		wait := jittered(delay, cfg.JitterFactor)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"the database system is starting up",
	"deadlock",
	"network is unreachable",
	"loading the dataset in memory", // redis LOADING
}

// IsRetryable reports whether err looks transient.
// Errors implementing IsRetryable() bool decide for themselves.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// DoIfRetryable is Do that gives up at once on errors IsRetryable rejects.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	return Do(ctx, cfg, func() error {
		err := fn()
		if err != nil && !IsRetryable(err) {
			return Permanent(err)
		}
		return err
	})
}
