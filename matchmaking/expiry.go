package matchmaking

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultExpiryInterval is how often the sweeper looks for overdue
// ready windows.
const DefaultExpiryInterval = time.Second

// ExpirySweeper drives ready-window expiry on a fixed interval, the same
// shape as the heartbeat sweep: nothing in the hot path arms per-match
// timers, the sweeper simply asks the coordinator for overdue matches.
type ExpirySweeper struct {
	coordinator *Coordinator
	interval    time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// NewExpirySweeper creates a sweeper for the coordinator. A non-positive
// interval falls back to DefaultExpiryInterval.
func NewExpirySweeper(coordinator *Coordinator, interval time.Duration, logger zerolog.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultExpiryInterval
	}
	return &ExpirySweeper{
		coordinator: coordinator,
		interval:    interval,
		now:         coordinator.now,
		logger:      logger.With().Str("com", "expiry").Logger(),
	}
}

// Run sweeps until the context is cancelled. Callers run it on its own
// goroutine.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			expired, err := s.coordinator.ExpireOverdue(ctx, s.now())
			if err != nil {
				s.logger.Error().Err(err).Msg("expiry sweep failed")
				continue
			}
			if expired > 0 {
				s.logger.Debug().Int("expired", expired).Msg("expiry sweep completed")
			}
		}
	}
}
