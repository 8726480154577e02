// Package retention runs the scheduled sweep that deletes Job rows past
// their retention window, per spec §3: 24h for completed jobs, 7d for
// completed export jobs, 30d for failed export jobs, 7d for other failed
// jobs.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/job"
	"github.com/robfig/cron/v3"
)

const exportQueue = "data-export"

const (
	completedRetention       = 24 * time.Hour
	completedExportRetention = 7 * 24 * time.Hour
	failedExportRetention    = 30 * 24 * time.Hour
	failedRetention          = 7 * 24 * time.Hour
)

// Sweeper periodically deletes retained Job rows whose retention window
// has elapsed.
type Sweeper struct {
	client *ent.Client
	cron   *cron.Cron
}

// New constructs a Sweeper. schedule is a standard 5-field cron
// expression (e.g. "0 * * * *" for hourly).
func New(client *ent.Client, schedule string) (*Sweeper, error) {
	c := cron.New()
	s := &Sweeper{client: client, cron: c}
	if _, err := c.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("retention: invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the scheduled sweep. It returns immediately; the sweep
// runs on the cron's own goroutine until Stop is called.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one retention pass immediately, outside the cron schedule,
// and returns the total number of deleted rows.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	total := 0

	completedExport, err := s.client.Job.Delete().
		Where(
			job.Queue(exportQueue),
			job.StatusEQ(job.StatusCOMPLETED),
			job.CompletedAtLT(now.Add(-completedExportRetention)),
		).
		Exec(ctx)
	if err != nil {
		return total, fmt.Errorf("retention: failed to sweep completed exports: %w", err)
	}
	total += completedExport

	completedOther, err := s.client.Job.Delete().
		Where(
			job.QueueNEQ(exportQueue),
			job.StatusEQ(job.StatusCOMPLETED),
			job.CompletedAtLT(now.Add(-completedRetention)),
		).
		Exec(ctx)
	if err != nil {
		return total, fmt.Errorf("retention: failed to sweep completed jobs: %w", err)
	}
	total += completedOther

	failedExport, err := s.client.Job.Delete().
		Where(
			job.Queue(exportQueue),
			job.StatusEQ(job.StatusFAILED),
			job.CompletedAtLT(now.Add(-failedExportRetention)),
		).
		Exec(ctx)
	if err != nil {
		return total, fmt.Errorf("retention: failed to sweep failed exports: %w", err)
	}
	total += failedExport

	failedOther, err := s.client.Job.Delete().
		Where(
			job.QueueNEQ(exportQueue),
			job.StatusEQ(job.StatusFAILED),
			job.CompletedAtLT(now.Add(-failedRetention)),
		).
		Exec(ctx)
	if err != nil {
		return total, fmt.Errorf("retention: failed to sweep failed jobs: %w", err)
	}
	total += failedOther

	return total, nil
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := s.Sweep(ctx)
	if err != nil {
		slog.Error("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("retention sweep complete", "deleted", deleted)
	}
}
