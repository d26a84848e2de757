package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/transfa/user-service/internal/store"
)

const (
	defaultPurgeSchedule   = "@hourly"
	defaultOutboxRetention = 72 * time.Hour
	purgeTimeout           = time.Minute
)

// Scheduler runs periodic housekeeping jobs.
type Scheduler struct {
	cron      *cron.Cron
	outbox    store.OutboxRepository
	schedule  string
	retention time.Duration
	logger    *zap.Logger
}

// NewScheduler creates a scheduler that purges delivered outbox messages older than retention.
func NewScheduler(outbox store.OutboxRepository, schedule string, retention time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = defaultPurgeSchedule
	}
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	return &Scheduler{
		cron:      cron.New(cron.WithChain(cron.Recover(cronLogger))),
		outbox:    outbox,
		schedule:  schedule,
		retention: retention,
		logger:    logger,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.PurgeOutbox); err != nil {
		return err
	}
	s.logger.Info("scheduled outbox purge job", zap.String("schedule", s.schedule), zap.Duration("retention", s.retention))
	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// PurgeOutbox deletes delivered outbox messages past retention.
func (s *Scheduler) PurgeOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	n, err := s.outbox.PurgePublishedOutbox(ctx, s.retention)
	if err != nil {
		s.logger.Error("outbox purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("purged delivered outbox messages", zap.Int64("count", n))
	}
}
