package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// StartSyncScheduler registers the periodic exchange sync on the configured
// cron spec. An empty spec or a missing sync service disables it.
func (a *App) StartSyncScheduler() error {
	spec := strings.TrimSpace(a.Config.Scheduler.SyncSchedule)
	if spec == "" || a.SyncService == nil {
		a.Logger.Info().Msg("Sync scheduler: disabled")
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		enqueueDueSyncs(ctx, a.Storage, a.JobManager, a.Logger, time.Now())
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	c.Start()
	a.cron = c

	a.Logger.Info().Str("schedule", spec).Msg("Sync scheduler: started")
	return nil
}

// enqueueDueSyncs queues an exchange_sync job for every exchange-linked
// account whose last sync is older than the freshness window.
func enqueueDueSyncs(ctx context.Context, storage interfaces.StorageManager, jobs interfaces.JobManager, logger *common.Logger, now time.Time) int {
	accounts, err := storage.AccountStore().List(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Sync scheduler: failed to list accounts")
		return 0
	}

	queued := 0
	for _, acct := range accounts {
		if !acct.IsExchangeLinked() {
			continue
		}
		if common.IsFreshAt(acct.LastSyncedAt, common.FreshnessExchangeSync, now) {
			continue
		}
		target := strconv.FormatInt(acct.ID, 10)
		if err := jobs.EnqueueIfNeeded(ctx, models.JobTypeExchangeSync, target, models.PriorityExchangeSync); err != nil {
			logger.Warn().Err(err).Int64("account_id", acct.ID).Msg("Sync scheduler: failed to enqueue sync")
			continue
		}
		queued++
	}

	if queued > 0 {
		logger.Info().Int("accounts", queued).Msg("Sync scheduler: syncs queued")
	}
	return queued
}
