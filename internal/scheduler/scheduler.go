// Package scheduler runs cache maintenance on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/keiba-odds/internal/models"
	"github.com/yourusername/keiba-odds/internal/service"
)

// CacheMaintainer is the part of the data service the jobs drive.
type CacheMaintainer interface {
	PruneCache(ctx context.Context, olderThanDays int) (*service.PruneResult, error)
	PrefetchRaceList(ctx context.Context, date string) (int, error)
}

// Scheduler manages scheduled cache jobs
type Scheduler struct {
	cron            *cron.Cron
	svc             CacheMaintainer
	location        *time.Location
	now             func() time.Time
	logger          *logrus.Logger
	mu              sync.RWMutex
	isRunning       bool
	jobIDs          []cron.EntryID
	jobTimeout      time.Duration
	gracefulTimeout time.Duration
}

// NewScheduler creates a new scheduler evaluating cron expressions in loc.
func NewScheduler(svc CacheMaintainer, loc *time.Location, logger *logrus.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:            cron.New(cron.WithLocation(loc)),
		svc:             svc,
		location:        loc,
		now:             time.Now,
		logger:          logger,
		jobIDs:          make([]cron.EntryID, 0),
		jobTimeout:      10 * time.Minute,
		gracefulTimeout: 30 * time.Second,
	}
}

// SchedulePrune schedules the retention sweep.
func (s *Scheduler) SchedulePrune(cronExpression string, retentionDays int) error {
	if retentionDays < 0 {
		return fmt.Errorf("retention days must not be negative, got %d", retentionDays)
	}
	return s.add("cache_prune", cronExpression, func(ctx context.Context) error {
		return s.RunPrune(ctx, retentionDays)
	})
}

// SchedulePrefetch schedules fetching today's race list into the cache.
func (s *Scheduler) SchedulePrefetch(cronExpression string) error {
	return s.add("race_list_prefetch", cronExpression, s.RunPrefetch)
}

func (s *Scheduler) add(name, cronExpression string, job func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot schedule job while scheduler is running")
	}

	jobFunc := func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()

		start := time.Now()
		log := s.logger.WithField("job", name)
		if err := job(ctx); err != nil {
			log.WithError(err).Error("Scheduled job failed")
			return
		}
		log.WithField("duration", time.Since(start).String()).Debug("Scheduled job completed")
	}

	entryID, err := s.cron.AddFunc(cronExpression, jobFunc)
	if err != nil {
		return fmt.Errorf("failed to add job %s: %w", name, err)
	}

	s.jobIDs = append(s.jobIDs, entryID)
	s.logger.WithFields(logrus.Fields{
		"job":  name,
		"cron": cronExpression,
	}).Info("Scheduled job")
	return nil
}

// RunPrune removes cache entries older than retentionDays.
func (s *Scheduler) RunPrune(ctx context.Context, retentionDays int) error {
	res, err := s.svc.PruneCache(ctx, retentionDays)
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"older_than_days": res.OlderThanDays,
		"removed":         res.Removed,
	}).Info("Retention sweep completed")
	return nil
}

// RunPrefetch caches today's race list. A missing live feed is not an
// error: there is simply nothing to prefetch from.
func (s *Scheduler) RunPrefetch(ctx context.Context) error {
	date := s.now().In(s.location).Format(models.DateLayout)
	n, err := s.svc.PrefetchRaceList(ctx, date)
	if errors.Is(err, models.ErrSourceUnavailable) {
		s.logger.WithField("date", date).Debug("Skipping prefetch, live feed not configured")
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"date":  date,
		"races": n,
	}).Info("Race list prefetched")
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	if len(s.jobIDs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("jobs", len(s.jobIDs)).Info("Scheduler started")

	return nil
}

// Stop waits for running jobs, up to the graceful timeout, and stops the
// scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
	case <-time.After(s.gracefulTimeout):
		s.logger.Warn("Scheduler stop timed out waiting for running jobs")
	}
	s.isRunning = false
	s.logger.Info("Scheduler stopped")

	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRun returns the time of the next scheduled job run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning || len(s.jobIDs) == 0 {
		return time.Time{}
	}

	nextRun := time.Time{}
	for _, jobID := range s.jobIDs {
		entry := s.cron.Entry(jobID)
		if entry.Valid() {
			if nextRun.IsZero() || entry.Next.Before(nextRun) {
				nextRun = entry.Next
			}
		}
	}

	return nextRun
}

// Entries returns information about scheduled entries
func (s *Scheduler) Entries() []cron.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]cron.Entry, 0, len(s.jobIDs))
	for _, jobID := range s.jobIDs {
		entry := s.cron.Entry(jobID)
		if entry.Valid() {
			entries = append(entries, entry)
		}
	}

	return entries
}
