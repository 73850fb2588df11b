package instant

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper expires abandoned requests on a fixed interval so doctors are
// released even when nobody polls.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(svc *Service, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, logger: logger.With().Str("component", "sweeper").Logger()}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.svc.ExpireDue(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Int("expired", n).Msg("expiry sweep failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int("expired", n).Msg("expired stale requests")
	}
}
