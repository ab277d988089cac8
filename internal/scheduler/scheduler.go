// Package scheduler drives periodic pipeline runs and retention sweeps.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
	"github.com/JakeFAU/realtime-news-indexer/internal/pipeline"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) (pipeline.Report, error)
}

// SweepLoop sweeps on its own ticker until ctx is done.
type SweepLoop interface {
	Run(ctx context.Context, interval time.Duration)
}

// Config sets the two cadences.
type Config struct {
	RunInterval   time.Duration
	SweepInterval time.Duration
}

// Scheduler fans out the run loop and the sweep loop.
type Scheduler struct {
	runner  Runner
	sweeper SweepLoop
	cfg     Config
	logger  *zap.Logger
}

// New creates a Scheduler. A nil sweeper disables periodic sweeps.
func New(runner Runner, sweeper SweepLoop, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return &Scheduler{runner: runner, sweeper: sweeper, cfg: cfg, logger: logger}
}

// Run starts both loops and blocks until ctx is done and they have exited.
// The first pipeline run starts immediately.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runLoop(ctx)
	}()
	if s.sweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.sweeper.Run(ctx, s.cfg.SweepInterval)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := s.runner.Run(ctx)
	fields := []zap.Field{
		zap.String("run_id", report.RunID),
		zap.String("status", string(report.Status)),
		zap.Int("fetched", report.Fetched),
		zap.Int("indexed", report.Indexed),
		zap.Int("skipped", report.SkippedTotal()),
		zap.Duration("duration", report.Duration),
	}
	switch {
	case err == nil:
		s.logger.Info("scheduled run finished", fields...)
	case errors.Is(err, news.ErrLocked):
		s.logger.Info("scheduled run skipped; lock held elsewhere", fields...)
	case errors.Is(err, context.Canceled):
		s.logger.Info("scheduled run canceled", fields...)
	default:
		s.logger.Error("scheduled run failed", append(fields, zap.Error(err))...)
	}
}
