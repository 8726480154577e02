// Package broker implements the durable priority queue: named queues
// backed by one Job table, claimed with FOR UPDATE SKIP LOCKED, retried
// with exponential backoff, and drained gracefully on shutdown.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/job"
	"github.com/codeready-toolchain/studyengine/pkg/metrics"
	"github.com/google/uuid"
)

// ErrNoJobsAvailable indicates no runnable job is currently queued.
var ErrNoJobsAvailable = errors.New("broker: no jobs available")

// Priority constants, lower runs first.
const (
	PriorityRealTime = 1
	PriorityHigh     = 5
	PriorityNormal   = 10
	PriorityLow      = 20
)

// ErrClass distinguishes retryable failures (re-queued with backoff) from
// terminal ones (moved straight to the failed set).
type ErrClass int

const (
	ClassTerminal ErrClass = iota
	ClassRetryable
)

// HandlerError lets a Handler classify its own failure.
type HandlerError struct {
	Err   error
	Class ErrClass
}

func (e *HandlerError) Error() string { return e.Err.Error() }
func (e *HandlerError) Unwrap() error { return e.Err }

// Retryable wraps err as a retryable failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &HandlerError{Err: err, Class: ClassRetryable}
}

// Terminal wraps err as a terminal failure.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &HandlerError{Err: err, Class: ClassTerminal}
}

func classify(err error) ErrClass {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Class
	}
	return ClassTerminal
}

// Handler processes one job's payload. progress reports 0-100.
type Handler func(ctx context.Context, payload map[string]interface{}, progress func(int)) error

// EnqueueOptions configures one Enqueue call.
type EnqueueOptions struct {
	JobID      string // idempotency key; generated if empty
	Priority   int    // default PriorityNormal
	MaxAttempts int   // default 3
	Queue      string
}

// Stats summarizes one queue's job counts by status.
type Stats struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Delayed   int
}

const (
	defaultMaxAttempts   = 3
	defaultBaseBackoff   = 5 * time.Second
	defaultHeartbeatTTL  = 30 * time.Second
	defaultPollInterval  = 500 * time.Millisecond
	defaultPollJitter    = 250 * time.Millisecond
	defaultShutdownGrace = 30 * time.Second
)

// Broker is the durable priority-queue abstraction over the Job table.
type Broker struct {
	client       *ent.Client
	podID        string
	baseBackoff  time.Duration
	pollInterval time.Duration
	pollJitter   time.Duration
	metrics      *metrics.Metrics
}

// New constructs a Broker. podID identifies this process for claim
// attribution and orphan recovery.
func New(client *ent.Client, podID string) *Broker {
	return &Broker{
		client:       client,
		podID:        podID,
		baseBackoff:  defaultBaseBackoff,
		pollInterval: defaultPollInterval,
		pollJitter:   defaultPollJitter,
	}
}

// WithMetrics attaches a Metrics collector; process outcomes, durations,
// active worker counts, and orphan recoveries are recorded against it.
// Safe to skip in tests that don't care about observability.
func (b *Broker) WithMetrics(m *metrics.Metrics) *Broker {
	b.metrics = m
	return b
}

// Enqueue inserts one job, upserting on JobID for idempotency: a repeat
// enqueue with the same JobID is a no-op returning the existing job's ID.
func (b *Broker) Enqueue(ctx context.Context, queue string, payload map[string]interface{}, opts EnqueueOptions) (string, error) {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	priority := opts.Priority
	if priority == 0 {
		priority = PriorityNormal
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}

	err := b.client.Job.Create().
		SetID(id).
		SetQueue(queue).
		SetPayload(payload).
		SetPriority(priority).
		SetAttemptsRemaining(maxAttempts).
		SetMaxAttempts(maxAttempts).
		OnConflictColumns(job.FieldID).
		DoNothing().
		Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("broker: failed to enqueue job %s: %w", id, err)
	}
	return id, nil
}

// BulkEntry is one job in an EnqueueBulk call. JobID is the same
// idempotency key Enqueue takes; left empty, one is generated.
type BulkEntry struct {
	JobID   string
	Payload map[string]interface{}
}

// EnqueueBulk inserts many jobs in one statement; each entry's JobID (if
// set) is honored for idempotency the same way Enqueue handles it, so a
// repeated call with the same JobIDs creates no duplicate jobs.
func (b *Broker) EnqueueBulk(ctx context.Context, queue string, entries []BulkEntry, opts EnqueueOptions) ([]string, error) {
	ids := make([]string, 0, len(entries))
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}
	priority := opts.Priority
	if priority == 0 {
		priority = PriorityNormal
	}

	builders := make([]*ent.JobCreate, 0, len(entries))
	for _, e := range entries {
		id := e.JobID
		if id == "" {
			id = uuid.NewString()
		}
		ids = append(ids, id)
		builders = append(builders, b.client.Job.Create().
			SetID(id).
			SetQueue(queue).
			SetPayload(e.Payload).
			SetPriority(priority).
			SetAttemptsRemaining(maxAttempts).
			SetMaxAttempts(maxAttempts))
	}
	if len(builders) == 0 {
		return ids, nil
	}
	if err := b.client.Job.CreateBulk(builders...).
		OnConflictColumns(job.FieldID).
		DoNothing().
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("broker: failed to bulk-enqueue %d jobs: %w", len(builders), err)
	}
	return ids, nil
}

// UpdateProgress records a job's completion percentage, best-effort.
func (b *Broker) UpdateProgress(ctx context.Context, jobID string, percent int) error {
	if err := b.client.Job.UpdateOneID(jobID).SetProgress(percent).Exec(ctx); err != nil {
		return fmt.Errorf("broker: failed to update progress for job %s: %w", jobID, err)
	}
	return nil
}

// Stats returns the job-count breakdown for one queue.
func (b *Broker) Stats(ctx context.Context, queue string) (Stats, error) {
	var stats Stats
	statusCounts := map[job.Status]*int{
		job.StatusQUEUED:    &stats.Waiting,
		job.StatusACTIVE:    &stats.Active,
		job.StatusCOMPLETED: &stats.Completed,
		job.StatusFAILED:    &stats.Failed,
		job.StatusDELAYED:   &stats.Delayed,
	}
	for status, dest := range statusCounts {
		n, err := b.client.Job.Query().Where(job.Queue(queue), job.StatusEQ(status)).Count(ctx)
		if err != nil {
			return stats, fmt.Errorf("broker: failed to count %s jobs: %w", status, err)
		}
		*dest = n
	}
	return stats, nil
}

// ReportQueueDepth queries per-status job counts for each of queues and
// sets them on the QueueDepth gauge. No-op if WithMetrics was never called.
func (b *Broker) ReportQueueDepth(ctx context.Context, queues []string) error {
	if b.metrics == nil {
		return nil
	}
	statuses := []job.Status{job.StatusQUEUED, job.StatusACTIVE, job.StatusCOMPLETED, job.StatusFAILED, job.StatusDELAYED}
	for _, queue := range queues {
		for _, status := range statuses {
			n, err := b.client.Job.Query().Where(job.Queue(queue), job.StatusEQ(status)).Count(ctx)
			if err != nil {
				return fmt.Errorf("broker: failed to count %s/%s jobs: %w", queue, status, err)
			}
			b.metrics.QueueDepth.WithLabelValues(queue, string(status)).Set(float64(n))
		}
	}
	return nil
}

// StartQueueDepthReporter runs ReportQueueDepth every interval until ctx is
// canceled. Intended to run on its own goroutine alongside Subscribe.
func (b *Broker) StartQueueDepthReporter(ctx context.Context, queues []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.ReportQueueDepth(ctx, queues); err != nil {
				slog.Error("failed to report queue depth", "error", err)
			}
		}
	}
}

// claimNext atomically claims the next runnable job on queue using FOR
// UPDATE SKIP LOCKED, ordered by priority then enqueue time.
func (b *Broker) claimNext(ctx context.Context, queue string) (*ent.Job, error) {
	tx, err := b.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker: failed to start claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	j, err := tx.Job.Query().
		Where(
			job.Queue(queue),
			job.StatusIn(job.StatusQUEUED, job.StatusDELAYED),
			job.NextRunAtLTE(now),
		).
		Order(ent.Asc(job.FieldPriority), ent.Asc(job.FieldCreatedAt)).
		Limit(1).
		ForUpdate(entsql.WithLockAction(entsql.SkipLocked)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("broker: failed to query runnable job: %w", err)
	}

	j, err = j.Update().
		SetStatus(job.StatusACTIVE).
		SetClaimedBy(b.podID).
		SetStartedAt(now).
		SetLastHeartbeatAt(now).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker: failed to claim job %s: %w", j.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("broker: failed to commit claim of job %s: %w", j.ID, err)
	}
	return j, nil
}

// Subscribe runs concurrency workers polling queue, each calling handler
// for claimed jobs, until ctx is cancelled. After cancellation it blocks
// until all workers have exited their current job, for at most
// defaultShutdownGrace.
func (b *Broker) Subscribe(ctx context.Context, queue string, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			b.runWorker(ctx, queue, workerID, handler)
		}(i)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	<-ctx.Done()
	select {
	case <-done:
	case <-time.After(defaultShutdownGrace):
		slog.Warn("broker workers did not stop within shutdown grace", "queue", queue)
	}
}

func (b *Broker) runWorker(ctx context.Context, queue string, workerID int, handler Handler) {
	log := slog.With("queue", queue, "worker", workerID, "pod_id", b.podID)
	log.Info("broker worker started")
	if b.metrics != nil {
		b.metrics.ActiveWorkers.WithLabelValues(queue).Inc()
		defer b.metrics.ActiveWorkers.WithLabelValues(queue).Dec()
	}
	for {
		select {
		case <-ctx.Done():
			log.Info("broker worker shutting down")
			return
		default:
		}

		j, err := b.claimNext(ctx, queue)
		if err != nil {
			if errors.Is(err, ErrNoJobsAvailable) {
				b.sleep(ctx, b.pollIntervalWithJitter())
				continue
			}
			log.Error("claim failed", "error", err)
			b.sleep(ctx, time.Second)
			continue
		}

		b.process(ctx, j, handler)
	}
}

func (b *Broker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (b *Broker) pollIntervalWithJitter() time.Duration {
	if b.pollJitter <= 0 {
		return b.pollInterval
	}
	offset := time.Duration(rand.Int64N(int64(2 * b.pollJitter)))
	return b.pollInterval - b.pollJitter + offset
}

func (b *Broker) process(ctx context.Context, j *ent.Job, handler Handler) {
	log := slog.With("job_id", j.ID, "queue", j.Queue)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	go b.runHeartbeat(heartbeatCtx, j.ID)
	defer cancelHeartbeat()

	progress := func(percent int) {
		if err := b.UpdateProgress(context.Background(), j.ID, percent); err != nil {
			log.Warn("progress update failed", "error", err)
		}
	}

	start := time.Now()
	err := handler(ctx, j.Payload, progress)
	cancelHeartbeat()

	if err == nil {
		if updErr := b.client.Job.UpdateOneID(j.ID).
			SetStatus(job.StatusCOMPLETED).
			SetProgress(100).
			SetCompletedAt(time.Now()).
			Exec(context.Background()); updErr != nil {
			log.Error("failed to mark job completed", "error", updErr)
		}
		b.observe(j.Queue, "completed", start)
		return
	}

	if classify(err) == ClassRetryable && j.AttemptsRemaining > 1 {
		backoff := b.baseBackoff * time.Duration(1<<uint(j.MaxAttempts-j.AttemptsRemaining))
		if updErr := b.client.Job.UpdateOneID(j.ID).
			SetStatus(job.StatusDELAYED).
			SetAttemptsRemaining(j.AttemptsRemaining - 1).
			SetNextRunAt(time.Now().Add(backoff)).
			SetErrorMessage(err.Error()).
			ClearClaimedBy().
			Exec(context.Background()); updErr != nil {
			log.Error("failed to reschedule job", "error", updErr)
		}
		b.observe(j.Queue, "retried", start)
		return
	}

	if updErr := b.client.Job.UpdateOneID(j.ID).
		SetStatus(job.StatusFAILED).
		SetErrorMessage(err.Error()).
		SetCompletedAt(time.Now()).
		Exec(context.Background()); updErr != nil {
		log.Error("failed to mark job failed", "error", updErr)
	}
	b.observe(j.Queue, "failed", start)
}

func (b *Broker) observe(queue, outcome string, start time.Time) {
	if b.metrics != nil {
		b.metrics.ObserveJob(queue, outcome, time.Since(start))
	}
}

func (b *Broker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(defaultHeartbeatTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.client.Job.UpdateOneID(jobID).
				SetLastHeartbeatAt(time.Now()).
				Exec(context.Background()); err != nil {
				slog.Warn("broker heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// RecoverOrphans re-queues ACTIVE jobs whose heartbeat is older than
// threshold, decrementing attempts the same way a retryable failure would.
func (b *Broker) RecoverOrphans(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)
	orphans, err := b.client.Job.Query().
		Where(
			job.StatusEQ(job.StatusACTIVE),
			job.LastHeartbeatAtLT(cutoff),
		).
		All(ctx)
	if err != nil {
		return 0, fmt.Errorf("broker: failed to query orphaned jobs: %w", err)
	}

	recovered := 0
	for _, j := range orphans {
		update := b.client.Job.UpdateOneID(j.ID).ClearClaimedBy()
		if j.AttemptsRemaining > 1 {
			update = update.SetStatus(job.StatusQUEUED).
				SetAttemptsRemaining(j.AttemptsRemaining - 1).
				SetNextRunAt(time.Now())
		} else {
			update = update.SetStatus(job.StatusFAILED).
				SetErrorMessage("orphaned: no heartbeat from claiming worker").
				SetCompletedAt(time.Now())
		}
		if err := update.Exec(ctx); err != nil {
			slog.Error("failed to recover orphaned job", "job_id", j.ID, "error", err)
			continue
		}
		recovered++
	}
	if b.metrics != nil && recovered > 0 {
		b.metrics.OrphansRecovered.Add(float64(recovered))
	}
	return recovered, nil
}

// Close blocks until ctx is done and then returns nil; it does not stop any
// subscription itself. Shutdown happens by cancelling the context passed to
// Subscribe and waiting for Subscribe to return. drainGracefully is
// accepted for API-contract parity with the named-queue abstraction and is
// not consulted.
func (b *Broker) Close(ctx context.Context, drainGracefully bool) error {
	_ = drainGracefully
	<-ctx.Done()
	return nil
}
