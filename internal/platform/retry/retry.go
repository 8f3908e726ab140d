// Package retry provides a backoff combinator for transient store failures.
package retry

import (
	"context"
	"errors"
	"time"
)

// Transient marks an error as retryable. Wrap a store error with it to opt
// the operation into the backoff loop.
type Transient struct {
	Err error
}

func (t *Transient) Error() string { return "transient: " + t.Err.Error() }
func (t *Transient) Unwrap() error { return t.Err }

// MarkTransient wraps err as retryable. Returns nil for a nil err.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// Config controls the backoff loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultConfig matches the completion-write policy: up to 3 attempts with
// the delay doubling from 100ms.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}
}

// Do invokes fn up to cfg.MaxAttempts times, sleeping cfg.BaseDelay doubled
// per attempt between tries. Only errors marked transient are retried; any
// other error (and the final transient error) is returned as-is. The context
// aborts the wait between attempts.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	delay := cfg.BaseDelay
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
