package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/grigta/hotspot/pkg/logger"
)

// SweepScheduler runs the expiry sweep on a cron schedule inside the server.
type SweepScheduler struct {
	sweeper  Sweeper
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	logger   logger.Logger
	mu       sync.Mutex
	running  bool
}

func NewSweepScheduler(sweeper Sweeper, schedule string, timeout time.Duration, log logger.Logger) *SweepScheduler {
	return &SweepScheduler{
		sweeper:  sweeper,
		schedule: schedule,
		timeout:  timeout,
		cron:     cron.New(),
		logger:   log.WithField("component", "sweep_scheduler"),
	}
}

func (s *SweepScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("sweep scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.RunNow); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Sweep scheduler started", logger.Field{Key: "schedule", Value: s.schedule})
	return nil
}

// Stop halts scheduling. The returned context is done once a running sweep
// has finished.
func (s *SweepScheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info("Stopping sweep scheduler")
	return s.cron.Stop()
}

func (s *SweepScheduler) RunNow() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if _, err := s.sweeper.Run(ctx); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			s.logger.Info("Previous sweep still running, skipping tick")
			return
		}
		s.logger.Error("Scheduled sweep failed", logger.Err(err))
	}
}
