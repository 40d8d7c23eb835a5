package frame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tlog "github.com/teslashibe/go-traffic/internal/log"
)

// ErrSourceUnavailable matches errors returned when a source cannot be opened
// within the retry budget.
var ErrSourceUnavailable = errors.New("frame: source unavailable")

// Default retry settings.
const (
	DefaultRetries    = 3
	DefaultRetryDelay = 5 * time.Second
)

// RetryConfig bounds the attempts made by Open.
type RetryConfig struct {
	Retries int           `yaml:"retries"`     // Total open attempts (default 3)
	Delay   time.Duration `yaml:"retry_delay"` // Wait between attempts (default 5s)
}

// DefaultRetryConfig returns 3 attempts spaced 5 seconds apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Retries: DefaultRetries,
		Delay:   DefaultRetryDelay,
	}
}

// SourceUnavailableError reports the source and how many attempts were made.
type SourceUnavailableError struct {
	Source   string
	Attempts int
	Err      error // Last open error
}

// Error implements the error interface.
func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("failed to open video source %s after %d attempts: %v", e.Source, e.Attempts, e.Err)
}

// Unwrap returns the last open error.
func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSourceUnavailable) true.
func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// Waiter blocks for d or until ctx is done.
type Waiter func(ctx context.Context, d time.Duration) error

// Sleep is the production Waiter.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpenOptions customise Open.
type OpenOptions struct {
	Logger *slog.Logger
	Wait   Waiter
}

// Open tries to open id up to cfg.Retries times, waiting cfg.Delay between
// attempts. When every attempt fails it returns a *SourceUnavailableError.
// Cancelling ctx during a wait aborts with ctx.Err().
func Open(ctx context.Context, open Opener, id string, cfg RetryConfig, opts ...OpenOptions) (Source, error) {
	var o OpenOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Wait == nil {
		o.Wait = Sleep
	}
	logger := tlog.For(o.Logger, "frame.open").With("source", id)

	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		src, err := open(id)
		if err == nil {
			if attempt > 1 {
				logger.Info("video source opened after retry", "attempt", attempt)
			}
			return src, nil
		}
		lastErr = err

		logger.Warn(fmt.Sprintf("Attempt %d/%d: could not open video source %s", attempt, retries, id),
			"error", err,
		)

		if attempt == retries {
			break
		}
		if err := o.Wait(ctx, cfg.Delay); err != nil {
			return nil, err
		}
	}

	return nil, &SourceUnavailableError{Source: id, Attempts: retries, Err: lastErr}
}
