// Package jobmanager runs queued ledger work: exchange syncs and cost-basis
// recalculations. Jobs are claimed under a lease, heartbeated while running,
// and retried with exponential backoff.
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Compile-time interface check
var _ interfaces.JobManager = (*JobManager)(nil)

// JobManager runs the processor pool and the stale-lease recovery loop.
type JobManager struct {
	costBasis interfaces.CostBasisService
	sync      interfaces.ExchangeSyncService
	storage   interfaces.StorageManager
	logger    *common.Logger
	hub       *JobWSHub
	config    common.JobManagerConfig
	workerID  string
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobManager creates a new job manager.
func NewJobManager(
	costBasis interfaces.CostBasisService,
	syncSvc interfaces.ExchangeSyncService,
	storage interfaces.StorageManager,
	logger *common.Logger,
	config common.JobManagerConfig,
) *JobManager {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "tally"
	}
	return &JobManager{
		costBasis: costBasis,
		sync:      syncSvc,
		storage:   storage,
		logger:    logger,
		hub:       NewJobWSHub(logger),
		config:    config,
		workerID:  host + "-" + uuid.New().String()[:8],
		now:       time.Now,
	}
}

// safeGo launches a goroutine with panic recovery and logging.
func (jm *JobManager) safeGo(name string, fn func()) {
	jm.wg.Add(1)
	go func() {
		defer jm.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				jm.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in job manager goroutine")
			}
		}()
		fn()
	}()
}

// Start resets orphaned jobs, then launches the processor pool, the stale
// lease loop and the event hub. Calling Start again restarts everything.
func (jm *JobManager) Start() {
	jm.Stop()

	jm.mu.Lock()
	defer jm.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	jm.cancel = cancel

	// Nothing can legitimately be running before our processors exist
	if count, err := jm.storage.JobQueueStore().ResetRunningJobs(ctx); err != nil {
		jm.logger.Warn().Err(err).Msg("Failed to reset orphaned running jobs")
	} else if count > 0 {
		jm.logger.Info().Int("count", count).Msg("Reset orphaned running jobs to pending")
	}

	jm.hub.Reset()
	jm.safeGo("websocket-hub", jm.hub.Run)
	jm.safeGo("stale-recovery", func() { jm.staleLoop(ctx) })

	maxConc := jm.config.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 2
	}
	for i := 0; i < maxConc; i++ {
		owner := fmt.Sprintf("%s/%d", jm.workerID, i)
		jm.safeGo("processor-"+owner, func() { jm.processLoop(ctx, owner) })
	}

	jm.logger.Info().
		Str("worker_id", jm.workerID).
		Int("max_concurrent", maxConc).
		Dur("lease", jm.config.GetLeaseDuration()).
		Msg("Job manager started")
}

// Stop cancels all loops and waits for in-flight jobs to return.
func (jm *JobManager) Stop() {
	jm.mu.Lock()
	cancel := jm.cancel
	jm.cancel = nil
	jm.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	jm.hub.Stop()
	jm.wg.Wait()
	jm.logger.Info().Msg("Job manager stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (jm *JobManager) Running() bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	return jm.cancel != nil
}

// Hub returns the WebSocket hub for external handler registration.
func (jm *JobManager) Hub() *JobWSHub {
	return jm.hub
}

// processLoop claims and executes jobs until ctx is cancelled.
func (jm *JobManager) processLoop(ctx context.Context, owner string) {
	poll := jm.config.GetPollInterval()
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := jm.claim(ctx, owner)
		if err != nil {
			jm.logger.Warn().Err(err).Str("owner", owner).Msg("Processor: claim error")
		}
		if err != nil || job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(poll):
				continue
			}
		}

		jm.runJob(ctx, job, owner)
	}
}

// runJob executes one claimed job and records the outcome. The lease is
// renewed on every heartbeat; losing it cancels the job's context.
func (jm *JobManager) runJob(ctx context.Context, job *models.Job, owner string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		jm.heartbeat(jobCtx, cancel, job, owner)
	}()

	start := jm.now()
	execErr := jm.executeJob(jobCtx, job)
	durationMS := jm.now().Sub(start).Milliseconds()
	cancel()
	<-hbDone

	if ctx.Err() != nil {
		// Shutting down; startup or stale recovery will hand the job out again.
		jm.logger.Info().Str("job_id", job.ID).Msg("Job interrupted by shutdown")
		return
	}

	if execErr == nil {
		jm.logger.Debug().
			Str("job_id", job.ID).
			Str("job_type", job.JobType).
			Str("target", job.Target).
			Int64("duration_ms", durationMS).
			Msg("Job completed")
		if jm.complete(ctx, job, owner, nil, durationMS) {
			jm.afterSuccess(ctx, job)
		}
		return
	}

	jm.logger.Warn().
		Str("job_id", job.ID).
		Str("job_type", job.JobType).
		Str("target", job.Target).
		Int("attempt", job.Attempts).
		Int("max", job.MaxAttempts).
		Int64("duration_ms", durationMS).
		Err(execErr).
		Msg("Job failed")

	if job.Attempts < job.MaxAttempts {
		err := jm.retry(ctx, job, owner, execErr)
		if err == nil || errors.Is(err, interfaces.ErrLeaseLost) {
			return
		}
	}
	jm.complete(ctx, job, owner, execErr, durationMS)
}

func (jm *JobManager) heartbeat(ctx context.Context, cancelJob context.CancelFunc, job *models.Job, owner string) {
	ticker := time.NewTicker(jm.config.GetHeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			until := jm.now().Add(jm.config.GetLeaseDuration())
			if err := jm.storage.JobQueueStore().ExtendLease(ctx, job.ID, owner, until); err != nil {
				if ctx.Err() != nil {
					return
				}
				jm.logger.Warn().Str("job_id", job.ID).Str("owner", owner).Err(err).Msg("Lost job lease, cancelling")
				cancelJob()
				return
			}
		}
	}
}

// staleLoop returns jobs whose lease lapsed (a crashed or wedged worker) to
// pending and purges old finished jobs.
func (jm *JobManager) staleLoop(ctx context.Context) {
	ticker := time.NewTicker(jm.config.GetStaleCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jm.recoverStale(ctx)
			jm.purgeOldJobs(ctx)
		}
	}
}

func (jm *JobManager) recoverStale(ctx context.Context) int {
	n, err := jm.storage.JobQueueStore().RecoverStale(ctx, jm.now())
	if err != nil {
		jm.logger.Warn().Err(err).Msg("Failed to recover stale jobs")
		return 0
	}
	if n > 0 {
		jm.logger.Warn().Int("count", n).Msg("Recovered jobs with expired leases")
	}
	return n
}

// purgeOldJobs removes completed/failed jobs older than the configured purge duration.
func (jm *JobManager) purgeOldJobs(ctx context.Context) {
	cutoff := jm.now().Add(-jm.config.GetPurgeAfter())
	if n, err := jm.storage.JobQueueStore().PurgeCompleted(ctx, cutoff); err != nil {
		jm.logger.Warn().Err(err).Msg("Failed to purge old jobs")
	} else if n > 0 {
		jm.logger.Debug().Int("count", n).Msg("Purged finished jobs")
	}
}
