package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper removes synthesized clips older than the retention window.
type Sweeper struct {
	store     Storage
	prefix    string
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewSweeper builds a sweeper over prefix.
func NewSweeper(store Storage, prefix string, retention, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{
		store:     store,
		prefix:    prefix,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("audio sweep failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep deletes expired objects and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	files, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for _, f := range files {
		if !f.LastModified.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, f.Key); err != nil {
			s.logger.Warn().Err(err).Str("key", f.Key).Msg("failed to delete expired clip")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Str("prefix", s.prefix).Msg("expired audio removed")
	}
	return removed, nil
}
