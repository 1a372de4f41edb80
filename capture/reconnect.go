package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/tagstream/source"
)

// ReconnectPolicy controls how a lost source is re-acquired.
type ReconnectPolicy struct {
	// RetryDelay is the delay before the first attempt (default 1s).
	RetryDelay time.Duration
	// MaxRetryDelay caps the exponential backoff (default 30s).
	MaxRetryDelay time.Duration
	// MaxRetries bounds the attempts per outage. Zero retries forever.
	MaxRetries int
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.RetryDelay <= 0 {
		p.RetryDelay = time.Second
	}
	if p.MaxRetryDelay <= 0 {
		p.MaxRetryDelay = 30 * time.Second
	}
	if p.MaxRetryDelay < p.RetryDelay {
		p.MaxRetryDelay = p.RetryDelay
	}
	return p
}

// Backoff returns the delay before the given attempt (1-based):
// RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxRetryDelay {
			return p.MaxRetryDelay
		}
	}
	return min(delay, p.MaxRetryDelay)
}

func (l *Loop) reconnect(ctx context.Context, rc source.Reconnector) error {
	p := l.cfg.Reconnect
	var lastErr error
	for attempt := 1; p.MaxRetries == 0 || attempt <= p.MaxRetries; attempt++ {
		delay := p.Backoff(attempt)
		l.logger.Info("reconnecting source", map[string]any{
			"stage":   "capture",
			"attempt": attempt,
			"delay":   delay.String(),
		})
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		if lastErr = rc.Reconnect(ctx); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("source reconnect failed", map[string]any{
			"stage":   "capture",
			"attempt": attempt,
			"error":   lastErr.Error(),
		})
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryBudgetExhausted, p.MaxRetries, lastErr)
}
