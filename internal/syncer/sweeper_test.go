// internal/syncer/sweeper_test.go
package syncer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github-org-mirror/internal/model"
)

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()
	threshold := 30 * time.Minute
	stale := time.Now().Add(-time.Hour)

	t.Run("fails and restarts stuck jobs", func(t *testing.T) {
		store := new(MockStore)
		engine := testEngine(store, new(MockClient), Options{
			StuckJobThreshold: threshold,
			RestartStuckJobs:  true,
		})

		stuck := model.SyncJob{
			ID:        "job-stuck",
			LockKey:   "inst:42:repo:7",
			State:     model.JobRunning,
			UpdatedAt: stale,
		}
		store.On("ListStuckJobs", ctx, threshold).Return([]model.SyncJob{stuck}, nil).Once()
		store.On("MarkJobFailed", ctx, "job-stuck", mock.MatchedBy(func(cause string) bool {
			return strings.Contains(cause, "stuck in running")
		})).Return(nil).Once()
		store.On("ResetJobPending", ctx, "job-stuck").Return(nil).Once()
		// The restart dispatch loads the job; give it a dead end.
		store.On("GetJob", mock.Anything, "job-stuck").Return(model.SyncJob{}, false, nil).Maybe()

		err := engine.SweepOnce(ctx)

		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("only fails jobs when restarting is disabled", func(t *testing.T) {
		store := new(MockStore)
		engine := testEngine(store, new(MockClient), Options{
			StuckJobThreshold: threshold,
			RestartStuckJobs:  false,
		})

		stuck := model.SyncJob{ID: "job-stuck", State: model.JobRunning, UpdatedAt: stale}
		store.On("ListStuckJobs", ctx, threshold).Return([]model.SyncJob{stuck}, nil).Once()
		store.On("MarkJobFailed", ctx, "job-stuck", mock.Anything).Return(nil).Once()

		err := engine.SweepOnce(ctx)

		require.NoError(t, err)
		store.AssertNotCalled(t, "ResetJobPending")
	})

	t.Run("a healthy ledger is a no-op", func(t *testing.T) {
		store := new(MockStore)
		engine := testEngine(store, new(MockClient), Options{StuckJobThreshold: threshold})

		store.On("ListStuckJobs", ctx, threshold).Return([]model.SyncJob{}, nil).Once()

		err := engine.SweepOnce(ctx)

		require.NoError(t, err)
		store.AssertNotCalled(t, "MarkJobFailed")
	})

	t.Run("keeps sweeping past a job that cannot be failed", func(t *testing.T) {
		store := new(MockStore)
		engine := testEngine(store, new(MockClient), Options{
			StuckJobThreshold: threshold,
			RestartStuckJobs:  true,
		})

		first := model.SyncJob{ID: "job-a", State: model.JobRunning, UpdatedAt: stale}
		second := model.SyncJob{ID: "job-b", State: model.JobRunning, UpdatedAt: stale}
		store.On("ListStuckJobs", ctx, threshold).Return([]model.SyncJob{first, second}, nil).Once()
		store.On("MarkJobFailed", ctx, "job-a", mock.Anything).Return(assert.AnError).Once()
		store.On("MarkJobFailed", ctx, "job-b", mock.Anything).Return(nil).Once()
		store.On("ResetJobPending", ctx, "job-b").Return(nil).Once()
		store.On("GetJob", mock.Anything, "job-b").Return(model.SyncJob{}, false, nil).Maybe()

		err := engine.SweepOnce(ctx)

		require.NoError(t, err)
		store.AssertExpectations(t)
		store.AssertNotCalled(t, "ResetJobPending", ctx, "job-a")
	})
}
