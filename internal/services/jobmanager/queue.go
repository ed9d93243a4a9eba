package jobmanager

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Job event types broadcast to WebSocket clients.
const (
	EventJobQueued    = "job_queued"
	EventJobStarted   = "job_started"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
	EventJobRetry     = "job_retry"
	EventJobCancelled = "job_cancelled"
)

func (jm *JobManager) broadcast(ctx context.Context, eventType string, job *models.Job) {
	if jm.hub == nil {
		return
	}
	pending, _ := jm.storage.JobQueueStore().CountPending(ctx)
	jm.hub.Broadcast(models.JobEvent{
		Type:      eventType,
		Job:       job,
		Timestamp: jm.now(),
		QueueSize: pending,
	})
}

// enqueue adds a job to the queue and broadcasts a "job_queued" event.
func (jm *JobManager) enqueue(ctx context.Context, job *models.Job) error {
	if err := jm.storage.JobQueueStore().Enqueue(ctx, job); err != nil {
		return err
	}
	jm.broadcast(ctx, EventJobQueued, job)
	return nil
}

// claim leases the next runnable job to owner and broadcasts a "job_started" event.
func (jm *JobManager) claim(ctx context.Context, owner string) (*models.Job, error) {
	job, err := jm.storage.JobQueueStore().Claim(ctx, owner, jm.config.GetLeaseDuration())
	if err != nil || job == nil {
		return job, err
	}
	jm.broadcast(ctx, EventJobStarted, job)
	return job, nil
}

// complete records the outcome of a job leased to owner and broadcasts the
// corresponding event. It reports false when the lease had already been lost,
// in which case the outcome is discarded.
func (jm *JobManager) complete(ctx context.Context, job *models.Job, owner string, execErr error, durationMS int64) bool {
	if err := jm.storage.JobQueueStore().Complete(ctx, job.ID, owner, execErr, durationMS); err != nil {
		if errors.Is(err, interfaces.ErrLeaseLost) {
			jm.logger.Warn().Str("job_id", job.ID).Str("owner", owner).Msg("Job lease lost before completion, outcome discarded")
			return false
		}
		jm.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to complete job in queue")
	}

	job.DurationMS = durationMS
	eventType := EventJobCompleted
	job.Status = models.JobStatusCompleted
	if execErr != nil {
		eventType = EventJobFailed
		job.Status = models.JobStatusFailed
		job.Error = execErr.Error()
	}
	jm.broadcast(ctx, eventType, job)
	return true
}

// retry returns a failed job to pending behind an exponential delay.
func (jm *JobManager) retry(ctx context.Context, job *models.Job, owner string, execErr error) error {
	runAfter := jm.now().Add(jm.retryDelay(job.Attempts))
	if err := jm.storage.JobQueueStore().Retry(ctx, job.ID, owner, execErr.Error(), runAfter); err != nil {
		jm.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to re-queue job")
		return err
	}

	jm.logger.Info().
		Str("job_id", job.ID).
		Int("attempt", job.Attempts).
		Int("max", job.MaxAttempts).
		Time("run_after", runAfter).
		Msg("Re-queued failed job")

	job.Status = models.JobStatusPending
	job.Error = execErr.Error()
	job.RunAfter = runAfter
	jm.broadcast(ctx, EventJobRetry, job)
	return nil
}

// Cancel withdraws a pending job and broadcasts a "job_cancelled" event.
// Running jobs cannot be cancelled; the store reports them as not found.
func (jm *JobManager) Cancel(ctx context.Context, id string) error {
	if err := jm.storage.JobQueueStore().Cancel(ctx, id); err != nil {
		return err
	}
	job, err := jm.storage.JobQueueStore().Get(ctx, id)
	if err != nil {
		return err
	}
	jm.logger.Info().Str("job_id", id).Str("job_type", job.JobType).Str("target", job.Target).Msg("Job cancelled")
	jm.broadcast(ctx, EventJobCancelled, job)
	return nil
}

// retryDelay returns the wait before retry number attempt (1-based):
// backoff_initial doubling per attempt, capped at backoff_max.
func (jm *JobManager) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = jm.config.GetBackoffInitial()
	b.MaxInterval = jm.config.GetBackoffMax()
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// EnqueueIfNeeded enqueues a job unless one with the same type and target is
// already pending or running, so at most one sync per account is in flight.
func (jm *JobManager) EnqueueIfNeeded(ctx context.Context, jobType, target string, priority int) error {
	exists, err := jm.storage.JobQueueStore().HasActiveJob(ctx, jobType, target)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	job := &models.Job{
		JobType:     jobType,
		Target:      target,
		Priority:    priority,
		Status:      models.JobStatusPending,
		CreatedAt:   jm.now(),
		MaxAttempts: jm.config.GetMaxRetries(),
	}
	return jm.enqueue(ctx, job)
}
