package syncer

import (
	"context"
	"fmt"
	"time"
)

// RunSweeper periodically sweeps the ledger for wedged jobs. This is the
// only self-healing path for a worker that died mid-import.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	e.logger.Info("Starting stuck-job sweeper",
		"interval", interval.String(), "threshold", e.stuckThreshold.String(), "restart", e.restartStuck)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.SweepOnce(ctx); err != nil {
				e.logger.Error("Stuck-job sweep failed", "error", err)
			}
		case <-ctx.Done():
			e.logger.Info("Sweeper shutting down", "reason", ctx.Err())
			return
		}
	}
}

// SweepOnce finds running jobs whose updated_at is older than the threshold
// and fails them. When restart is enabled it also resets them to pending with
// zeroed counters and re-dispatches the bootstrap under the same lock key.
func (e *Engine) SweepOnce(ctx context.Context) error {
	stuck, err := e.store.ListStuckJobs(ctx, e.stuckThreshold)
	if err != nil {
		return fmt.Errorf("failed to list stuck jobs: %w", err)
	}

	for _, job := range stuck {
		logger := e.logger.With("job_id", job.ID, "lock_key", job.LockKey)
		cause := fmt.Sprintf("job stuck in running for over %s (last update %s)",
			e.stuckThreshold, job.UpdatedAt.Format(time.RFC3339))

		if err := e.store.MarkJobFailed(ctx, job.ID, cause); err != nil {
			logger.Error("Failed to fail stuck job", "error", err)
			continue
		}
		logger.Warn("Marked stuck job failed", "stale_since", job.UpdatedAt)

		if !e.restartStuck {
			continue
		}
		if err := e.store.ResetJobPending(ctx, job.ID); err != nil {
			logger.Error("Failed to reset stuck job for restart", "error", err)
			continue
		}
		logger.Info("Restarting bootstrap for recovered job")
		go e.runBootstrap(context.WithoutCancel(ctx), job.ID)
	}
	return nil
}
