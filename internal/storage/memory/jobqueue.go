package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// JobQueueStore is an in-memory job queue with lease semantics.
type JobQueueStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	now  func() time.Time
}

func NewJobQueueStore() *JobQueueStore {
	return &JobQueueStore{
		jobs: make(map[string]*models.Job),
		now:  time.Now,
	}
}

func (s *JobQueueStore) Enqueue(_ context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()[:8]
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *JobQueueStore) Claim(_ context.Context, owner string, lease time.Duration) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var best *models.Job
	for _, j := range s.jobs {
		if j.Status != models.JobStatusPending || j.RunAfter.After(now) {
			continue
		}
		if best == nil || j.Priority > best.Priority ||
			(j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = models.JobStatusRunning
	best.StartedAt = now
	best.Attempts++
	best.LeaseOwner = owner
	best.LeaseExpiresAt = now.Add(lease)
	cp := *best
	return &cp, nil
}

func (s *JobQueueStore) ExtendLease(_ context.Context, id, owner string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, interfaces.ErrNotFound)
	}
	if !heldBy(j, owner) {
		return fmt.Errorf("job %s is not leased to %s: %w", id, owner, interfaces.ErrLeaseLost)
	}
	j.LeaseExpiresAt = until
	return nil
}

func heldBy(j *models.Job, owner string) bool {
	return j.Status == models.JobStatusRunning && j.LeaseOwner == owner
}

func (s *JobQueueStore) Complete(_ context.Context, id, owner string, jobErr error, durationMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, interfaces.ErrNotFound)
	}
	if !heldBy(j, owner) {
		return fmt.Errorf("complete job %s by %s: %w", id, owner, interfaces.ErrLeaseLost)
	}
	j.Status = models.JobStatusCompleted
	j.Error = ""
	if jobErr != nil {
		j.Status = models.JobStatusFailed
		j.Error = jobErr.Error()
	}
	j.CompletedAt = s.now()
	j.DurationMS = durationMS
	j.LeaseOwner = ""
	j.LeaseExpiresAt = time.Time{}
	return nil
}

func (s *JobQueueStore) Retry(_ context.Context, id, owner string, errMsg string, runAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, interfaces.ErrNotFound)
	}
	if !heldBy(j, owner) {
		return fmt.Errorf("retry job %s by %s: %w", id, owner, interfaces.ErrLeaseLost)
	}
	j.Status = models.JobStatusPending
	j.Error = errMsg
	j.RunAfter = runAfter
	j.LeaseOwner = ""
	j.LeaseExpiresAt = time.Time{}
	return nil
}

func (s *JobQueueStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusPending {
		return fmt.Errorf("pending job %s: %w", id, interfaces.ErrNotFound)
	}
	j.Status = models.JobStatusCancelled
	j.CompletedAt = s.now()
	return nil
}

func (s *JobQueueStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, interfaces.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

func (s *JobQueueStore) ListPending(_ context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Job
	for _, j := range s.jobs {
		if j.Status == models.JobStatusPending {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JobQueueStore) ListAll(_ context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JobQueueStore) CountPending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.Status == models.JobStatusPending {
			n++
		}
	}
	return n, nil
}

func (s *JobQueueStore) HasActiveJob(_ context.Context, jobType, target string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		active := j.Status == models.JobStatusPending || j.Status == models.JobStatusRunning
		if active && j.JobType == jobType && j.Target == target {
			return true, nil
		}
	}
	return false, nil
}

func (s *JobQueueStore) RecoverStale(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.LeaseExpired(now) {
			releaseLease(j, now, "lease expired")
			n++
		}
	}
	return n, nil
}

func (s *JobQueueStore) ResetRunningJobs(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, j := range s.jobs {
		if j.Status == models.JobStatusRunning {
			releaseLease(j, now, "interrupted by restart")
			n++
		}
	}
	return n, nil
}

// releaseLease takes the lease off a running job. A job that has used all its
// attempts fails rather than returning to pending.
func releaseLease(j *models.Job, now time.Time, reason string) {
	j.LeaseOwner = ""
	j.LeaseExpiresAt = time.Time{}
	if j.AttemptsExhausted() {
		j.Status = models.JobStatusFailed
		j.Error = fmt.Sprintf("%s after %d attempts", reason, j.Attempts)
		j.CompletedAt = now
		return
	}
	j.Status = models.JobStatusPending
	j.StartedAt = time.Time{}
}

func (s *JobQueueStore) PurgeCompleted(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		done := j.Status == models.JobStatusCompleted || j.Status == models.JobStatusFailed
		if done && j.CompletedAt.Before(olderThan) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

var _ interfaces.JobQueueStore = (*JobQueueStore)(nil)
