// Package ratelimit bounds OTP issuance per phone number over a sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

// Limiter counts attempts per phone number inside a trailing window
type Limiter struct {
	store       WindowStore
	maxAttempts int
	window      time.Duration
	clock       shared.Clock
	logger      *slog.Logger
}

func NewLimiter(cfg *config.RateLimitConfig, store WindowStore, clock shared.Clock, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:       store,
		maxAttempts: cfg.MaxAttempts,
		window:      cfg.Window,
		clock:       clock,
		logger:      logger,
	}
}

// recent prunes attempts that fell out of the window and counts the rest
func (l *Limiter) recent(ctx context.Context, phone string) (int, time.Time, error) {
	now := l.clock.Now()
	if err := l.store.Prune(ctx, phone, now.Add(-l.window)); err != nil {
		return 0, now, fmt.Errorf("failed to prune attempts: %w", err)
	}
	count, err := l.store.Count(ctx, phone)
	if err != nil {
		return 0, now, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, now, nil
}

// IsLimited reports whether phone has used up its attempts in the current window
func (l *Limiter) IsLimited(ctx context.Context, phone string) (bool, error) {
	count, _, err := l.recent(ctx, phone)
	if err != nil {
		return false, err
	}
	return count >= l.maxAttempts, nil
}

// RecordAttempt stores one attempt for phone at the current time
func (l *Limiter) RecordAttempt(ctx context.Context, phone string) error {
	_, now, err := l.recent(ctx, phone)
	if err != nil {
		return err
	}
	if err := l.store.Add(ctx, phone, now, l.window); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	l.logger.Debug("Recorded OTP attempt", "phone", phone)
	return nil
}

// Remaining returns how many attempts phone may still make in the current window
func (l *Limiter) Remaining(ctx context.Context, phone string) (int, error) {
	count, _, err := l.recent(ctx, phone)
	if err != nil {
		return 0, err
	}
	return max(l.maxAttempts-count, 0), nil
}

// RetryAfter returns how long phone must wait before its next attempt is allowed
func (l *Limiter) RetryAfter(ctx context.Context, phone string) (time.Duration, error) {
	count, now, err := l.recent(ctx, phone)
	if err != nil || count < l.maxAttempts {
		return 0, err
	}

	oldest, ok, err := l.store.Oldest(ctx, phone)
	if err != nil {
		return 0, fmt.Errorf("failed to read oldest attempt: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return max(oldest.Add(l.window).Sub(now), 0), nil
}

// Check returns a RateLimitError when phone is limited
func (l *Limiter) Check(ctx context.Context, phone string) error {
	limited, err := l.IsLimited(ctx, phone)
	if err != nil {
		return err
	}
	if !limited {
		return nil
	}
	retryAfter, err := l.RetryAfter(ctx, phone)
	if err != nil {
		l.logger.Warn("Failed to compute retry delay", "phone", phone, "error", err)
	}
	return shared.RateLimitError{Phone: phone, RetryAfter: retryAfter}
}
