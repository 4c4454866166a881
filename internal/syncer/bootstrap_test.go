// internal/syncer/bootstrap_test.go
package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	gh "github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	apperrors "github-org-mirror/internal/errors"
	"github-org-mirror/internal/model"
)

func TestRunBootstrap_ResumesFromCompletedSteps(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	client := new(MockClient)
	engine := testEngine(store, client, Options{})
	repo := testRepo()

	// Everything but the permission step already ran in a previous dispatch.
	job := model.SyncJob{
		ID:           "job-resume",
		RepositoryID: repo.ID,
		State:        model.JobPending,
		CompletedSteps: []string{
			"branches", "pulls", "issues", "commits",
			"check_runs", "workflow_runs", "pull_files",
		},
	}
	store.On("GetJob", ctx, "job-resume").Return(job, true, nil)
	store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, true, nil).Once()
	store.On("MarkJobRunning", ctx, "job-resume", "permissions").Return(nil).Once()

	collaborator := &gh.User{
		ID:          gh.Int64(501),
		Login:       gh.String("reviewer"),
		Permissions: map[string]bool{"pull": true, "push": true},
	}
	client.On("ListCollaborators", ctx, "acme", "widgets").Return([]*gh.User{collaborator}, nil).Once()
	store.On("UpsertUsers", ctx, mock.Anything).Return(nil).Once()
	store.On("UpsertPermissions", ctx, repo.ID, mock.MatchedBy(func(rows []model.PermissionRow) bool {
		return len(rows) == 1 && rows[0].UserID == 501 && rows[0].Push
	})).Return(nil).Once()

	store.On("CompleteJobStep", ctx, "job-resume", "permissions", 1).Return(nil).Once()
	store.On("MarkJobDone", ctx, "job-resume").Return(nil).Once()
	store.On("RebuildCounters", ctx, repo.ID).Return(nil).Once()

	engine.runBootstrap(ctx, "job-resume")

	store.AssertExpectations(t)
	client.AssertExpectations(t)
	client.AssertNotCalled(t, "ListBranches")
	client.AssertNotCalled(t, "ListPullRequests")
	client.AssertNotCalled(t, "ListCommits")
}

func TestRunBootstrap_StandsDownWhenSuperseded(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	client := new(MockClient)
	engine := testEngine(store, client, Options{})
	repo := testRepo()

	pending := model.SyncJob{ID: "job-sup", RepositoryID: repo.ID, State: model.JobPending}
	failed := pending
	failed.State = model.JobFailed

	// The initial load sees a pending job; the re-read before the first step
	// sees the sweep's verdict.
	store.On("GetJob", ctx, "job-sup").Return(pending, true, nil).Once()
	store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, true, nil).Once()
	store.On("GetJob", ctx, "job-sup").Return(failed, true, nil).Once()

	engine.runBootstrap(ctx, "job-sup")

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkJobRunning")
	store.AssertNotCalled(t, "MarkJobDone")
	client.AssertNotCalled(t, "ListBranches")
}

func TestRunBootstrap_FailsJobWhenStepCannotFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := new(MockStore)
	client := new(MockClient)
	engine := testEngine(store, client, Options{})
	repo := testRepo()

	job := model.SyncJob{
		ID:           "job-fail",
		RepositoryID: repo.ID,
		State:        model.JobPending,
		// Only the branch step remains; it will fail.
		CompletedSteps: []string{
			"pulls", "issues", "commits",
			"check_runs", "workflow_runs", "pull_files", "permissions",
		},
	}
	store.On("GetJob", ctx, "job-fail").Return(job, true, nil)
	store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, true, nil).Once()
	store.On("MarkJobRunning", ctx, "job-fail", "branches").Return(nil)

	boom := errors.New("repository moved")
	client.On("ListBranches", ctx, "acme", "widgets", mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, boom)

	store.On("MarkJobFailed", ctx, "job-fail", mock.MatchedBy(func(cause string) bool {
		return strings.HasPrefix(cause, "step branches:")
	})).Return(nil).Once()

	engine.runBootstrap(ctx, "job-fail")

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkJobDone")
	store.AssertNotCalled(t, "CompleteJobStep")
}

// A sweep or resync verdict that lands while the worker sleeps in the retry
// backoff must not be overwritten: the guarded running transition refuses and
// the worker stands down without retrying or re-failing the job.
func TestRunBootstrap_StandsDownWhenFailedDuringBackoff(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	client := new(MockClient)
	engine := testEngine(store, client, Options{})
	repo := testRepo()

	job := model.SyncJob{
		ID:           "job-bk",
		RepositoryID: repo.ID,
		State:        model.JobPending,
		CompletedSteps: []string{
			"pulls", "issues", "commits",
			"check_runs", "workflow_runs", "pull_files", "permissions",
		},
	}
	store.On("GetJob", ctx, "job-bk").Return(job, true, nil)
	store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, true, nil).Once()
	store.On("MarkJobRunning", ctx, "job-bk", "branches").Return(nil).Once()

	client.On("ListBranches", ctx, "acme", "widgets", mock.Anything).
		Return(nil, errors.New("connection reset")).Once()
	store.On("MarkJobRetry", ctx, "job-bk", mock.Anything).Return(nil).Once()

	// The verdict landed during the sleep; the post-backoff transition refuses.
	store.On("MarkJobRunning", ctx, "job-bk", "branches").
		Return(apperrors.ErrJobTerminal).Once()

	engine.runBootstrap(ctx, "job-bk")

	store.AssertExpectations(t)
	client.AssertNumberOfCalls(t, "ListBranches", 1)
	store.AssertNotCalled(t, "MarkJobFailed")
	store.AssertNotCalled(t, "MarkJobDone")
}

func TestRunStepWithRetry(t *testing.T) {
	repo := testRepo()

	t.Run("retries a transient failure and succeeds", func(t *testing.T) {
		store := new(MockStore)
		engine := testEngine(store, new(MockClient), Options{})

		store.On("MarkJobRetry", mock.Anything, "job-r", mock.Anything).Return(nil).Once()
		store.On("MarkJobRunning", mock.Anything, "job-r", "branches").Return(nil).Once()

		attempts := 0
		step := func(context.Context, Client, model.Repository) (int, error) {
			attempts++
			if attempts == 1 {
				return 0, errors.New("connection reset")
			}
			return 12, nil
		}

		count, err := engine.runStepWithRetry(context.Background(), "job-r", "branches", step, nil, repo)

		assert.NoError(t, err)
		assert.Equal(t, 12, count)
		assert.Equal(t, 2, attempts)
		store.AssertExpectations(t)
	})

	t.Run("uses the rate limit hint as the delay floor", func(t *testing.T) {
		store := new(MockStore)
		engine := testEngine(store, new(MockClient), Options{})

		store.On("MarkJobRetry", mock.Anything, "job-rl", mock.Anything).Return(nil).Once()
		store.On("MarkJobRunning", mock.Anything, "job-rl", "pulls").Return(nil).Once()

		hint := backoffBase + 500*time.Millisecond
		attempts := 0
		step := func(context.Context, Client, model.Repository) (int, error) {
			attempts++
			if attempts == 1 {
				return 0, &apperrors.RateLimitError{RetryAfter: hint}
			}
			return 3, nil
		}

		start := time.Now()
		count, err := engine.runStepWithRetry(context.Background(), "job-rl", "pulls", step, nil, repo)
		elapsed := time.Since(start)

		assert.NoError(t, err)
		assert.Equal(t, 3, count)
		assert.GreaterOrEqual(t, elapsed, hint, "hint above the backoff must win")
	})

	t.Run("stops when the context is canceled", func(t *testing.T) {
		store := new(MockStore)
		engine := testEngine(store, new(MockClient), Options{})

		ctx, cancel := context.WithCancel(context.Background())
		step := func(context.Context, Client, model.Repository) (int, error) {
			cancel()
			return 0, errors.New("interrupted")
		}

		_, err := engine.runStepWithRetry(ctx, "job-c", "issues", step, nil, repo)

		assert.ErrorIs(t, err, context.Canceled)
		store.AssertNotCalled(t, "MarkJobRetry")
	})
}
