package jobmanager

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Recalculation targets. An RFC3339 timestamp target recalculates as of that instant.
const (
	RecalcTargetAll       = "all"
	RecalcTargetSnapshots = "snapshots"
)

// executeJob dispatches a job to the service that handles its type.
func (jm *JobManager) executeJob(ctx context.Context, job *models.Job) error {
	switch job.JobType {
	case models.JobTypeExchangeSync:
		if jm.sync == nil {
			return fmt.Errorf("exchange sync not configured")
		}
		accountID, err := strconv.ParseInt(job.Target, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid account target %q: %w", job.Target, err)
		}
		_, err = jm.sync.SyncAccount(ctx, accountID)
		return err
	case models.JobTypeRecalculateCostBasis:
		opts, err := recalcOptions(job.Target)
		if err != nil {
			return err
		}
		_, err = jm.costBasis.Recalculate(ctx, opts)
		return err
	default:
		return fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

func recalcOptions(target string) (interfaces.RecalcOptions, error) {
	switch strings.TrimSpace(target) {
	case "", RecalcTargetAll:
		return interfaces.RecalcOptions{}, nil
	case RecalcTargetSnapshots:
		return interfaces.RecalcOptions{WriteSnapshots: true}, nil
	}
	asOf, err := time.Parse(time.RFC3339, target)
	if err != nil {
		return interfaces.RecalcOptions{}, fmt.Errorf("invalid recalculation target %q", target)
	}
	return interfaces.RecalcOptions{AsOf: asOf, WriteSnapshots: true}, nil
}

// afterSuccess chains follow-up work: every successful sync queues a recalculation.
func (jm *JobManager) afterSuccess(ctx context.Context, job *models.Job) {
	if job.JobType != models.JobTypeExchangeSync {
		return
	}
	if err := jm.EnqueueIfNeeded(ctx, models.JobTypeRecalculateCostBasis, RecalcTargetAll, models.PriorityRecalculateCostBasis); err != nil {
		jm.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to enqueue recalculation after sync")
	}
}
