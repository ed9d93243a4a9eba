package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// jobSelectFields lists the fields to select from job_queue, aliasing job_id to id for struct mapping.
const jobSelectFields = "job_id as id, job_type, target, priority, status, created_at, run_after, started_at, completed_at, lease_owner, lease_expires_at, error, attempts, max_attempts, duration_ms"

type jobIDRow struct {
	JobID string `json:"job_id"`
}

// JobQueueStore implements interfaces.JobQueueStore using SurrealDB.
type JobQueueStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewJobQueueStore creates a new JobQueueStore.
func NewJobQueueStore(db *surrealdb.DB, logger *common.Logger) *JobQueueStore {
	return &JobQueueStore{db: db, logger: logger}
}

func jobRID(id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("job_queue", id)
}

func (s *JobQueueStore) Enqueue(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()[:8]
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}

	sql := `UPSERT $rid SET
		job_id = $job_id, job_type = $job_type, target = $target, priority = $priority,
		status = $status, created_at = $created_at, run_after = $run_after, started_at = $started_at,
		completed_at = $completed_at, lease_owner = $lease_owner, lease_expires_at = $lease_expires_at,
		error = $error, attempts = $attempts, max_attempts = $max_attempts, duration_ms = $duration_ms`
	vars := map[string]any{
		"rid":              jobRID(job.ID),
		"job_id":           job.ID,
		"job_type":         job.JobType,
		"target":           job.Target,
		"priority":         job.Priority,
		"status":           job.Status,
		"created_at":       job.CreatedAt,
		"run_after":        job.RunAfter,
		"started_at":       job.StartedAt,
		"completed_at":     job.CompletedAt,
		"lease_owner":      job.LeaseOwner,
		"lease_expires_at": job.LeaseExpiresAt,
		"error":            job.Error,
		"attempts":         job.Attempts,
		"max_attempts":     job.MaxAttempts,
		"duration_ms":      job.DurationMS,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Claim selects the best candidate then conditionally updates it; a lost race
// against another worker moves on to the next candidate.
func (s *JobQueueStore) Claim(ctx context.Context, owner string, lease time.Duration) (*models.Job, error) {
	for attempt := 0; attempt < 3; attempt++ {
		now := time.Now()
		selectSQL := "SELECT " + jobSelectFields + " FROM job_queue WHERE status = $pending AND run_after <= $now ORDER BY priority DESC, created_at ASC LIMIT 1"
		candidates, err := queryRows[models.Job](ctx, s.db, selectSQL, map[string]any{
			"pending": models.JobStatusPending,
			"now":     now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to select candidate job: %w", err)
		}
		if len(candidates) == 0 {
			return nil, nil
		}
		candidate := candidates[0]

		expires := now.Add(lease)
		updateSQL := `UPDATE $rid SET status = $running, started_at = $now, attempts = attempts + 1,
			lease_owner = $owner, lease_expires_at = $expires WHERE status = $pending RETURN job_id`
		claimed, err := queryRows[jobIDRow](ctx, s.db, updateSQL, map[string]any{
			"rid":     jobRID(candidate.ID),
			"running": models.JobStatusRunning,
			"pending": models.JobStatusPending,
			"now":     now,
			"owner":   owner,
			"expires": expires,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to claim job: %w", err)
		}
		if len(claimed) == 0 {
			continue
		}

		candidate.Status = models.JobStatusRunning
		candidate.StartedAt = now
		candidate.Attempts++
		candidate.LeaseOwner = owner
		candidate.LeaseExpiresAt = expires
		return &candidate, nil
	}
	return nil, nil
}

func (s *JobQueueStore) ExtendLease(ctx context.Context, id, owner string, until time.Time) error {
	sql := "UPDATE $rid SET lease_expires_at = $until WHERE status = $running AND lease_owner = $owner RETURN job_id"
	rows, err := queryRows[jobIDRow](ctx, s.db, sql, map[string]any{
		"rid":     jobRID(id),
		"until":   until,
		"running": models.JobStatusRunning,
		"owner":   owner,
	})
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("job %s is not leased to %s: %w", id, owner, interfaces.ErrLeaseLost)
	}
	return nil
}

func (s *JobQueueStore) Complete(ctx context.Context, id, owner string, jobErr error, durationMS int64) error {
	status := models.JobStatusCompleted
	errStr := ""
	if jobErr != nil {
		status = models.JobStatusFailed
		errStr = jobErr.Error()
	}

	sql := `UPDATE $rid SET status = $status, completed_at = $now, error = $error, duration_ms = $dur,
		lease_owner = '', lease_expires_at = $zero
		WHERE status = $running AND lease_owner = $owner RETURN job_id`
	rows, err := queryRows[jobIDRow](ctx, s.db, sql, map[string]any{
		"rid":     jobRID(id),
		"status":  status,
		"now":     time.Now(),
		"error":   errStr,
		"dur":     durationMS,
		"zero":    time.Time{},
		"running": models.JobStatusRunning,
		"owner":   owner,
	})
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("complete job %s by %s: %w", id, owner, interfaces.ErrLeaseLost)
	}
	return nil
}

func (s *JobQueueStore) Retry(ctx context.Context, id, owner string, errMsg string, runAfter time.Time) error {
	sql := `UPDATE $rid SET status = $pending, error = $error, run_after = $run_after, lease_owner = '', lease_expires_at = $zero
		WHERE status = $running AND lease_owner = $owner RETURN job_id`
	rows, err := queryRows[jobIDRow](ctx, s.db, sql, map[string]any{
		"rid":       jobRID(id),
		"pending":   models.JobStatusPending,
		"error":     errMsg,
		"run_after": runAfter,
		"zero":      time.Time{},
		"running":   models.JobStatusRunning,
		"owner":     owner,
	})
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("retry job %s by %s: %w", id, owner, interfaces.ErrLeaseLost)
	}
	return nil
}

func (s *JobQueueStore) Cancel(ctx context.Context, id string) error {
	sql := "UPDATE $rid SET status = $status, completed_at = $now WHERE status = $pending RETURN job_id"
	rows, err := queryRows[jobIDRow](ctx, s.db, sql, map[string]any{
		"rid":     jobRID(id),
		"status":  models.JobStatusCancelled,
		"pending": models.JobStatusPending,
		"now":     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("pending job %s: %w", id, interfaces.ErrNotFound)
	}
	return nil
}

func (s *JobQueueStore) Get(ctx context.Context, id string) (*models.Job, error) {
	jobs, err := s.queryJobs(ctx, "SELECT "+jobSelectFields+" FROM $rid", map[string]any{"rid": jobRID(id)})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, interfaces.ErrNotFound)
	}
	return jobs[0], nil
}

func (s *JobQueueStore) ListPending(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := "SELECT " + jobSelectFields + " FROM job_queue WHERE status = $pending ORDER BY priority DESC, created_at ASC LIMIT $limit"
	vars := map[string]any{"pending": models.JobStatusPending, "limit": limit}
	return s.queryJobs(ctx, sql, vars)
}

func (s *JobQueueStore) ListAll(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := "SELECT " + jobSelectFields + " FROM job_queue ORDER BY created_at DESC LIMIT $limit"
	vars := map[string]any{"limit": limit}
	return s.queryJobs(ctx, sql, vars)
}

func (s *JobQueueStore) CountPending(ctx context.Context) (int, error) {
	sql := "SELECT count() AS cnt FROM job_queue WHERE status = $pending GROUP ALL"
	vars := map[string]any{"pending": models.JobStatusPending}

	type countResult struct {
		Cnt int `json:"cnt"`
	}

	rows, err := queryRows[countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending: %w", err)
	}
	if len(rows) > 0 {
		return rows[0].Cnt, nil
	}
	return 0, nil
}

func (s *JobQueueStore) HasActiveJob(ctx context.Context, jobType, target string) (bool, error) {
	sql := "SELECT count() AS cnt FROM job_queue WHERE job_type = $type AND target = $target AND status IN [$pending, $running] GROUP ALL"
	vars := map[string]any{
		"type":    jobType,
		"target":  target,
		"pending": models.JobStatusPending,
		"running": models.JobStatusRunning,
	}

	type countResult struct {
		Cnt int `json:"cnt"`
	}

	rows, err := queryRows[countResult](ctx, s.db, sql, vars)
	if err != nil {
		return false, fmt.Errorf("failed to check active job: %w", err)
	}
	return len(rows) > 0 && rows[0].Cnt > 0, nil
}

// releaseSQL takes the lease off the running jobs matched by the filter: jobs that
// used all their attempts fail, the rest return to pending.
const releaseSQL = `
	UPDATE job_queue SET status = $failed, completed_at = $now, lease_owner = '', lease_expires_at = $zero,
		error = string::concat($reason, " after ", <string> attempts, " attempts")
		WHERE status = $running AND max_attempts > 0 AND attempts >= max_attempts AND %[1]s RETURN job_id;
	UPDATE job_queue SET status = $pending, started_at = $zero, lease_owner = '', lease_expires_at = $zero
		WHERE status = $running AND %[1]s RETURN job_id;`

func (s *JobQueueStore) release(ctx context.Context, where string, vars map[string]any) (int, error) {
	vars["failed"] = models.JobStatusFailed
	vars["pending"] = models.JobStatusPending
	vars["running"] = models.JobStatusRunning
	vars["zero"] = time.Time{}
	if _, ok := vars["now"]; !ok {
		vars["now"] = time.Now()
	}

	results, err := surrealdb.Query[[]jobIDRow](ctx, s.db, fmt.Sprintf(releaseSQL, where), vars)
	if err != nil {
		return 0, err
	}
	n := 0
	if results != nil {
		for _, r := range *results {
			n += len(r.Result)
		}
	}
	return n, nil
}

// RecoverStale releases running jobs whose lease lapsed before now.
func (s *JobQueueStore) RecoverStale(ctx context.Context, now time.Time) (int, error) {
	n, err := s.release(ctx, "lease_expires_at > $zero AND lease_expires_at < $now", map[string]any{
		"now":    now,
		"reason": "lease expired",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	return n, nil
}

// ResetRunningJobs releases every job with status "running".
// Called on startup to recover jobs that were in-flight when the process crashed.
func (s *JobQueueStore) ResetRunningJobs(ctx context.Context) (int, error) {
	n, err := s.release(ctx, "true", map[string]any{"reason": "interrupted by restart"})
	if err != nil {
		return 0, fmt.Errorf("failed to reset running jobs: %w", err)
	}
	return n, nil
}

func (s *JobQueueStore) PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	sql := "DELETE FROM job_queue WHERE status IN [$completed, $failed] AND completed_at < $cutoff RETURN BEFORE"
	vars := map[string]any{
		"completed": models.JobStatusCompleted,
		"failed":    models.JobStatusFailed,
		"cutoff":    olderThan,
	}

	rows, err := queryRows[jobIDRow](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed jobs: %w", err)
	}
	return len(rows), nil
}

// queryJobs is a helper that runs a query and returns a slice of Job pointers.
func (s *JobQueueStore) queryJobs(ctx context.Context, sql string, vars map[string]any) ([]*models.Job, error) {
	rows, err := queryRows[models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, &rows[i])
	}
	return jobs, nil
}

// Compile-time check
var _ interfaces.JobQueueStore = (*JobQueueStore)(nil)
