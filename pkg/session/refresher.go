package session

import (
	"context"
	"time"
)

const (
	defaultRefreshInterval = 30 * time.Second
	maxBackoff             = 30 * time.Second
)

// StartRefresher re-fetches every record at a fixed cadence so idle drafts
// pick up external changes. Consecutive failures back off exponentially,
// capped at maxBackoff. It returns immediately and stops when ctx is done.
func (s *Session) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	go func() {
		failures := 0
		for {
			wait := interval
			if err := s.Refresh(ctx); err != nil {
				failures++
				wait = calculateBackoff(failures, interval)
				s.logger.Warn().Err(err).Int("failures", failures).Dur("retry_in", wait).Msg("Background refresh failed.")
			} else {
				failures = 0
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// calculateBackoff doubles base once per consecutive failure.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 || base >= maxBackoff {
		return base
	}
	backoff := base
	for i := 0; i < failures; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}
