package consolidate

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler triggers consolidation runs on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	pipeline *Pipeline
	logger   *logrus.Logger
}

// NewScheduler creates a scheduler for the pipeline.
func NewScheduler(p *Pipeline, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		cron:     cron.New(),
		pipeline: p,
		logger:   logger,
	}
}

// Start registers the schedule and starts the cron loop. Overlapping triggers
// are absorbed by the pipeline's own single-flight guard.
func (s *Scheduler) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.pipeline.Run(context.Background()); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				s.logger.Debug("Scheduled consolidation skipped, previous run still active")
				return
			}
			s.logger.WithError(err).Error("Scheduled consolidation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid consolidation schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.WithField("schedule", schedule).Info("Consolidation scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
