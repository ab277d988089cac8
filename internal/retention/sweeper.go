// Package retention removes articles that have aged past the retention horizon.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-indexer/internal/metrics"
	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

// DefaultDays is the retention horizon used when none is configured.
const DefaultDays = 7

// Deleter is the slice of news.Index the sweeper needs.
type Deleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result describes one sweep.
type Result struct {
	Cutoff  time.Time `json:"cutoff"`
	Deleted int64     `json:"deleted"`
}

// Sweeper deletes articles published before now minus the horizon.
type Sweeper struct {
	index  Deleter
	clock  news.Clock
	days   int
	logger *zap.Logger
}

// New constructs a Sweeper. Non-positive days fall back to DefaultDays.
func New(index Deleter, clock news.Clock, days int, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if days <= 0 {
		days = DefaultDays
	}
	return &Sweeper{index: index, clock: clock, days: days, logger: logger}
}

// Cutoff returns the instant before which articles are expired.
func (s *Sweeper) Cutoff() time.Time {
	return s.clock.Now().UTC().AddDate(0, 0, -s.days)
}

// Sweep deletes every article published strictly before Cutoff.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	cutoff := s.Cutoff()
	deleted, err := s.index.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return Result{Cutoff: cutoff}, fmt.Errorf("sweep articles before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.ObserveSwept(deleted)
	s.logger.Info("retention sweep complete",
		zap.Time("cutoff", cutoff),
		zap.Int("retention_days", s.days),
		zap.Int64("deleted", deleted),
	)
	return Result{Cutoff: cutoff, Deleted: deleted}, nil
}

// Run sweeps every interval until ctx is done. Failed sweeps are logged and
// retried on the next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		}
	}
}
