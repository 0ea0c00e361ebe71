// Package pipeline runs background maintenance jobs: the cold-storage archive
// of closed positions on a cron schedule.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

// ArchiveJob archives positions closed longer ago than the retention window.
type ArchiveJob struct {
	archiver      domain.Archiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiveJob creates an ArchiveJob.
func NewArchiveJob(archiver domain.Archiver, retentionDays int, logger *slog.Logger) *ArchiveJob {
	if retentionDays < 1 {
		retentionDays = 90
	}
	return &ArchiveJob{
		archiver:      archiver,
		retentionDays: retentionDays,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With(slog.String("component", "archive_job")),
	}
}

// Cutoff returns the close time before which positions are archived.
func (j *ArchiveJob) Cutoff() time.Time {
	return j.now().AddDate(0, 0, -j.retentionDays)
}

// Run executes a single archive pass and returns the number of positions
// written.
func (j *ArchiveJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.Cutoff()
	j.logger.InfoContext(ctx, "archive: run started",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", j.retentionDays),
	)

	n, err := j.archiver.ArchiveClosedPositions(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("archive: closed positions before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	j.logger.InfoContext(ctx, "archive: run complete", slog.Int64("positions_archived", n))
	return n, nil
}

// ArchiveScheduler runs an ArchiveJob on a standard 5-field cron schedule
// ("minute hour day-of-month month day-of-week") and on demand. Runs never
// overlap.
type ArchiveScheduler struct {
	job      *ArchiveJob
	schedule cron.Schedule
	spec     string
	trigger  <-chan struct{}
	logger   *slog.Logger
}

// NewArchiveScheduler parses spec and creates a scheduler. trigger may be
// nil; each receive on it requests one extra run.
func NewArchiveScheduler(job *ArchiveJob, spec string, trigger <-chan struct{}, logger *slog.Logger) (*ArchiveScheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("archive: parse cron %q: %w", spec, err)
	}
	return &ArchiveScheduler{
		job:      job,
		schedule: schedule,
		spec:     spec,
		trigger:  trigger,
		logger:   logger.With(slog.String("component", "archive_scheduler")),
	}, nil
}

// Next returns the first scheduled run after t.
func (s *ArchiveScheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx ends, running the job on schedule and on trigger.
// Failed runs are logged and do not stop the scheduler.
func (s *ArchiveScheduler) Run(ctx context.Context) error {
	fire := make(chan struct{}, 1)

	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	}))
	c.Start()
	defer c.Stop()

	s.logger.InfoContext(ctx, "archive: scheduler started",
		slog.String("cron", s.spec),
		slog.Time("next_run", s.Next(time.Now())),
	)

	for {
		var reason string
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "archive: scheduler stopped")
			return ctx.Err()
		case <-fire:
			reason = "cron"
		case <-s.trigger:
			reason = "manual"
		}

		if _, err := s.job.Run(ctx); err != nil {
			s.logger.ErrorContext(ctx, "archive: run failed",
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
		}
	}
}
