// Package scheduler refreshes the session snapshot on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/lottery_dapp/internal/session"
	"github.com/R3E-Network/lottery_dapp/pkg/logger"
)

// DefaultTimeout bounds one scheduled refresh.
const DefaultTimeout = 30 * time.Second

// Refresher is the controller operation the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Stats counts scheduled runs.
type Stats struct {
	Runs    uint64 `json:"runs"`
	Skipped uint64 `json:"skipped"`
	Failed  uint64 `json:"failed"`
}

// Scheduler runs Refresh on a cron schedule ("*/30 * * * *", "@every 30s").
type Scheduler struct {
	cron    *cron.Cron
	target  Refresher
	log     *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	stats   Stats
	running bool
}

// New parses schedule and prepares the job. Nothing runs until Start.
func New(schedule string, target Refresher, log *logger.Logger) (*Scheduler, error) {
	if target == nil {
		return nil, errors.New("scheduler: refresher required")
	}
	if log == nil {
		log = logger.NewDefault("lottery")
	}
	log = log.Named("scheduler")

	s := &Scheduler{
		target:  target,
		log:     log,
		timeout: DefaultTimeout,
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log))))
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.log.Info("refresh scheduler started")
}

// Stop halts scheduling and waits for a running refresh or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.log.Info("refresh scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a copy of the run counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_ = s.RunOnce(ctx)
}

// RunOnce performs one refresh. No active lottery and a busy controller are
// skips, not failures.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	err := s.target.Refresh(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		s.stats.Runs++
		return nil
	case errors.Is(err, session.ErrNoLottery), errors.Is(err, session.ErrBusy):
		s.stats.Skipped++
		s.log.WithError(err).Debug("scheduled refresh skipped")
		return nil
	default:
		s.stats.Failed++
		s.log.WithError(err).Warn("scheduled refresh failed")
		return err
	}
}
