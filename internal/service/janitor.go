package service

import (
	"context"
	"time"
)

// RunResetJanitor purges expired reset challenges every interval until ctx
// is cancelled. It returns immediately when interval is not positive.
func (s *AuthService) RunResetJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "reset janitor started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reset janitor stopped")
			return
		case <-ticker.C:
			n, err := s.PurgeExpiredResets(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "purging expired reset challenges", "error", err)
				continue
			}
			if n > 0 {
				s.logger.InfoContext(ctx, "expired reset challenges purged", "count", n)
			}
		}
	}
}
