package model

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/logging"
)

// BackoffMode selects how successive retry delays grow.
type BackoffMode string

const (
	BackoffFixed       BackoffMode = "fixed"
	BackoffLinear      BackoffMode = "linear"
	BackoffExponential BackoffMode = "exponential"
)

// Policy encapsulates retry/backoff settings for transient backend failures.
// It is immutable after construction.
type Policy struct {
	Mode       BackoffMode   // fixed|linear|exponential
	Initial    time.Duration // base delay
	Max        time.Duration // cap for growth
	MaxRetries int           // maximum retry attempts after the first failure
}

// DefaultPolicy returns a sensible default policy (exponential, 1s initial, 30s cap, 3 retries).
func DefaultPolicy() Policy {
	return Policy{Mode: BackoffExponential, Initial: time.Second, Max: 30 * time.Second, MaxRetries: 3}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(mode BackoffMode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	if mode != "" {
		switch mode {
		case BackoffFixed, BackoffLinear, BackoffExponential:
			p.Mode = mode
		default:
			// unknown -> keep default
		}
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case BackoffFixed:
		return p.Initial
	case BackoffExponential:
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max {
			return p.Max
		}
		return d
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

// RetryOptions configures a RetryModel.
type RetryOptions struct {
	// Policy controls delay growth and the retry ceiling.
	Policy Policy

	// Logger receives a line per retry; defaults to NoOpLogger.
	Logger logging.Logger
}

// RetryModel decorates a Model and transparently retries transient failures
// (rate limits, timeouts, 5xx) according to its Policy. Permanent failures
// and context cancellation pass through immediately.
type RetryModel struct {
	inner  Model
	policy Policy
	logger logging.Logger
}

// WithRetry wraps a model with transient-failure retries.
func WithRetry(inner Model, optFns ...func(o *RetryOptions)) *RetryModel {
	opts := RetryOptions{
		Policy: DefaultPolicy(),
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &RetryModel{
		inner:  inner,
		policy: opts.Policy,
		logger: opts.Logger,
	}
}

// Generate implements Model. The wrapped model is invoked up to
// 1+MaxRetries times; only errors core.IsTransient reports true for are
// retried, with context-aware backoff sleeps in between.
func (m *RetryModel) Generate(ctx context.Context, req Request) (*Response, error) {
	var lastErr error

	for retry := 0; ; retry++ {
		resp, err := m.inner.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !core.IsTransient(err) {
			return nil, err
		}

		lastErr = err
		if retry >= m.policy.MaxRetries {
			break
		}

		delay := m.policy.Delay(retry + 1)
		m.logger.Warn("transient backend failure, retry %d/%d in %s: %v", retry+1, m.policy.MaxRetries, delay, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("giving up after %d retries: %w", m.policy.MaxRetries, lastErr)
}

// Info implements Model interface.
func (m *RetryModel) Info() Info { return m.inner.Info() }
