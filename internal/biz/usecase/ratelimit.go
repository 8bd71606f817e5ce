package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/whatsuit/replybridge/internal/biz/domain"
)

// RateLimiterConfig contains sliding window settings
type RateLimiterConfig struct {
	Window      time.Duration
	MaxRequests int
	MaxBackoff  time.Duration // cap for RetryWithBackoff delays
}

// DefaultRateLimiterConfig allows 15 requests per minute
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Window:      60 * time.Second,
		MaxRequests: 15,
		MaxBackoff:  30 * time.Second,
	}
}

// RateLimiter is a sliding window admission controller
type RateLimiter struct {
	cfg RateLimiterConfig

	mu         sync.Mutex
	timestamps []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return &RateLimiter{
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Allow admits a request if fewer than MaxRequests were admitted in the last Window
func (l *RateLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.cfg.Window)

	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	l.timestamps = kept

	if len(l.timestamps) >= l.cfg.MaxRequests {
		return false
	}
	l.timestamps = append(l.timestamps, now)
	return true
}

// InWindow returns the number of admitted requests still inside the window
func (l *RateLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	windowStart := l.now().Add(-l.cfg.Window)
	n := 0
	for _, ts := range l.timestamps {
		if ts.After(windowStart) {
			n++
		}
	}
	return n
}

// Admit runs Allow under RetryWithBackoff and returns ErrRateLimited when
// every attempt was rejected
func (l *RateLimiter) Admit(ctx context.Context, maxRetries int, initialDelay time.Duration) error {
	return l.RetryWithBackoff(ctx, maxRetries, initialDelay, func(context.Context) error {
		if !l.Allow() {
			return domain.ErrRateLimited
		}
		return nil
	})
}

// RetryWithBackoff runs op up to maxRetries times. Only rate-limit errors are
// retried; the delay doubles after each attempt up to MaxBackoff.
func (l *RateLimiter) RetryWithBackoff(ctx context.Context, maxRetries int, initialDelay time.Duration, op func(ctx context.Context) error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	delay := initialDelay

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !domain.IsRateLimit(err) || attempt == maxRetries-1 {
			return err
		}
		if serr := l.sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
		if delay > l.cfg.MaxBackoff {
			delay = l.cfg.MaxBackoff
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
