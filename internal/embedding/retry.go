package embedding

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// retryWithBackoff runs op up to maxAttempts times, doubling the delay
// after each failure starting from baseDelay. Context errors end the loop
// immediately. The last error is returned when every attempt fails.
func retryWithBackoff(ctx context.Context, logger *zap.Logger, maxAttempts int, baseDelay time.Duration, op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			if attempt > 1 {
				logger.Debug("embedding request succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		logger.Debug("embedding request failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(lastErr),
		)
		if attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}
