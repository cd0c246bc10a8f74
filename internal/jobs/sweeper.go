package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/metrics"
)

// Sweeper periodically deletes job records older than MaxAge.
type Sweeper struct {
	store   capture.JobStore
	maxAge  time.Duration
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper returns a sweeper for store. Each run is bounded by one minute.
func NewSweeper(store capture.JobStore, maxAge time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:   store,
		maxAge:  maxAge,
		timeout: time.Minute,
		logger:  logger,
	}
}

// RunOnce sweeps immediately and returns the number of records removed.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	removed, err := s.store.Sweep(ctx, s.maxAge)
	metrics.ObserveSweep(removed)
	if err != nil {
		s.logger.Error("job sweep failed", zap.Int("removed", removed), zap.Error(err))
		return removed, fmt.Errorf("sweep job records: %w", err)
	}
	s.logger.Info("job sweep complete",
		zap.Int("removed", removed),
		zap.Duration("max_age", s.maxAge),
	)
	return removed, nil
}

// Start schedules RunOnce. schedule is a five-field cron expression or a
// descriptor such as "@hourly".
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("job sweeper started", zap.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep or ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop sweeper: %w", ctx.Err())
	}
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.RunOnce(ctx)
}
