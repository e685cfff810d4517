package sync

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pharmacy-favorites-sync/internal/config"
	"pharmacy-favorites-sync/internal/logger"
)

// Scheduler periodically forces an authoritative refresh of an initialized
// session. Uninitialized sessions are left to their consumers.
type Scheduler struct {
	cfg     config.SchedulerConfig
	engine  *Engine
	timeout time.Duration
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, engine *Engine, timeout time.Duration) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		engine:  engine,
		timeout: timeout,
		cron:    cron.New(),
	}
}

func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return nil
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, s.triggerRefresh)
	if err != nil {
		return err
	}

	s.entryID = id
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerRefresh() {
	if !s.engine.Status().IsInitialized {
		logger.Log.Debug("Session not initialized, skipping scheduled refresh")
		return
	}

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	logger.Log.Info("Triggering scheduled refresh")
	if _, err := s.engine.Refresh(ctx); err != nil {
		logger.Log.Error("Scheduled refresh failed", zap.Error(err))
	}
}
