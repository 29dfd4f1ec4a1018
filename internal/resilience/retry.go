package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/GriffinCanCode/voicenote/internal/errors"
)

const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultJitterFactor = 0.2

	// Extraction runs while the user is still talking.
	LLMMaxRetries = 2
	LLMBaseDelay  = 300 * time.Millisecond
	LLMMaxDelay   = 2 * time.Second
)

// RetryConfig controls Retry. A negative JitterFactor disables jitter; zero
// fields take the Default* values.
type RetryConfig struct {
	Name         string
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryableGRPC,
	}
}

// LLMRetryConfig is used for completions requested during a live recording.
func LLMRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.Name = "llm"
	cfg.MaxRetries = LLMMaxRetries
	cfg.BaseDelay = LLMBaseDelay
	cfg.MaxDelay = LLMMaxDelay
	return cfg
}

func (c RetryConfig) normalized() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	switch {
	case c.JitterFactor < 0:
		c.JitterFactor = 0
	case c.JitterFactor == 0:
		c.JitterFactor = d.JitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = d.IsRetryable
	}
	return c
}

// delay is the wait after failed attempt n (0-indexed), spread by up to
// JitterFactor/2 either side.
func (c RetryConfig) delay(n int) time.Duration {
	d := Backoff{Initial: c.BaseDelay, Max: c.MaxDelay}.Delay(n + 1)
	if c.JitterFactor == 0 {
		return d
	}
	spread := float64(d) * c.JitterFactor
	return d + time.Duration(spread*(rand.Float64()-0.5))
}

var (
	retryableCodes = map[codes.Code]bool{
		codes.Unavailable:       true,
		codes.DeadlineExceeded:  true,
		codes.ResourceExhausted: true,
		codes.Aborted:           true,
		codes.Internal:          true,
	}
	transientCodes = map[codes.Code]bool{
		codes.Unavailable:      true,
		codes.DeadlineExceeded: true,
		codes.Aborted:          true,
	}
)

// IsRetryableGRPC reports whether a unary backend call is worth repeating.
// Application errors decide by their code; other non-status errors are retried.
func IsRetryableGRPC(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, ErrOpen):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	if _, ok := apperrors.As(err); ok {
		return apperrors.IsRetryable(err)
	}
	if s, ok := status.FromError(err); ok {
		return retryableCodes[s.Code()]
	}
	return true
}

// IsTransientTransport reports whether a stream failed in a way that a
// reconnect can fix. Errors the backend reports about the request are not.
func IsTransientTransport(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	s, ok := status.FromError(err)
	return ok && transientCodes[s.Code()]
}

// Retry calls fn until it succeeds, returns a non-retryable error, or has been
// retried MaxRetries times. The last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.normalized()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries || !cfg.IsRetryable(err) {
			return err
		}

		wait := cfg.delay(attempt)
		slog.Debug("retrying", "op", cfg.Name, "attempt", attempt+1, "of", cfg.MaxRetries, "wait", wait, "error", err)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
