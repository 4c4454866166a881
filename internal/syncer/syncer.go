// Package syncer drives the synchronization engine: the durable bootstrap
// import, the on-demand/webhook single-entity sync, the permission refresher
// and the stuck-job sweep. Network fetches and store writes are strictly
// separated: a fetch produces a value, the write is its own idempotent
// transaction, so a failed fetch can be retried without re-applying writes.
package syncer

import (
	"context"
	"log/slog"
	"time"

	gh "github.com/google/go-github/v62/github"

	ghclient "github-org-mirror/internal/github"
	"github-org-mirror/internal/model"
)

// Store is the persistence surface the engine writes through. The pgx store
// implements it; tests substitute a mock.
type Store interface {
	UpsertRepository(ctx context.Context, r *model.Repository) (model.Repository, error)
	GetRepositoryByOwnerName(ctx context.Context, owner, name string) (model.Repository, bool, error)
	GetRepositoryByID(ctx context.Context, id int64) (model.Repository, bool, error)
	GetConnectingUserToken(ctx context.Context, repositoryID int64) (string, error)

	CreateJob(ctx context.Context, repositoryID, installationID int64, jobType model.JobType, reason string) (model.SyncJob, error)
	GetJob(ctx context.Context, id string) (model.SyncJob, bool, error)
	GetActiveJobByLockKey(ctx context.Context, lockKey string) (model.SyncJob, bool, error)
	MarkJobRunning(ctx context.Context, id, step string) error
	CompleteJobStep(ctx context.Context, id, step string, items int) error
	MarkJobRetry(ctx context.Context, id, cause string) error
	MarkJobDone(ctx context.Context, id string) error
	MarkJobFailed(ctx context.Context, id, cause string) error
	ResetJobPending(ctx context.Context, id string) error
	ListStuckJobs(ctx context.Context, threshold time.Duration) ([]model.SyncJob, error)

	UpsertUsers(ctx context.Context, users []model.User) error
	UpsertBranches(ctx context.Context, repositoryID int64, branches []model.Branch) error
	UpsertPullRequests(ctx context.Context, prs []model.PullRequest) error
	UpsertIssues(ctx context.Context, issues []model.Issue) error
	UpsertCommits(ctx context.Context, commits []model.Commit) error
	UpsertCheckRuns(ctx context.Context, runs []model.CheckRun) error
	UpsertWorkflowRuns(ctx context.Context, runs []model.WorkflowRun) error
	UpsertWorkflowJobs(ctx context.Context, jobs []model.WorkflowJob) error
	UpsertComments(ctx context.Context, comments []model.Comment) error
	UpsertReviews(ctx context.Context, reviews []model.Review) error
	UpsertReviewComments(ctx context.Context, comments []model.ReviewComment) error
	UpsertPullFiles(ctx context.Context, repositoryID int64, pullNumber int, files []model.PullRequestFile) error
	UpsertPermissions(ctx context.Context, repositoryID int64, rows []model.PermissionRow) error

	PullRequestExists(ctx context.Context, repositoryID int64, number int) (bool, error)
	IssueExists(ctx context.Context, repositoryID int64, number int) (bool, error)
	ListOpenPullHeads(ctx context.Context, repositoryID int64) ([]model.PullHead, error)
	RebuildCounters(ctx context.Context, repositoryID int64) error
}

// Client is the slice of the API gateway the engine calls.
type Client interface {
	GetRepository(ctx context.Context, owner, name string) (*gh.Repository, error)
	ListBranches(ctx context.Context, owner, name string, fn func([]*gh.Branch) error) error
	ListPullRequests(ctx context.Context, owner, name string, fn func([]*gh.PullRequest) error) error
	ListIssues(ctx context.Context, owner, name string, fn func([]*gh.Issue) error) error
	ListCommits(ctx context.Context, owner, name string, since time.Time, fn func([]*gh.RepositoryCommit) error) error
	ListCheckRunsForRef(ctx context.Context, owner, name, ref string) ([]*gh.CheckRun, error)
	ListWorkflowRuns(ctx context.Context, owner, name string, fn func([]*gh.WorkflowRun) error) error
	ListWorkflowJobs(ctx context.Context, owner, name string, runID int64) ([]*gh.WorkflowJob, error)
	GetPullRequest(ctx context.Context, owner, name string, number int) (*gh.PullRequest, bool, error)
	GetIssue(ctx context.Context, owner, name string, number int) (*gh.Issue, bool, error)
	ListIssueComments(ctx context.Context, owner, name string, number int) ([]*gh.IssueComment, error)
	ListReviews(ctx context.Context, owner, name string, number int) ([]*gh.PullRequestReview, error)
	ListReviewComments(ctx context.Context, owner, name string, number int) ([]*gh.PullRequestComment, error)
	ListPullFiles(ctx context.Context, owner, name string, number int) ([]*gh.CommitFile, error)
	ListCollaborators(ctx context.Context, owner, name string) ([]*gh.User, error)
	GetPullDiff(ctx context.Context, owner, name string, number int) (string, bool, error)
	GetJobLogs(ctx context.Context, owner, name string, jobID int64) (string, bool, error)
	SearchAssignableUsers(ctx context.Context, owner, name, query string) ([]ghclient.AssignableUser, error)
}

// ClientFactory builds a client holding the credential resolved for one
// repository (connecting user token, else installation token).
type ClientFactory func(ctx context.Context, repo model.Repository) (Client, error)

// Engine ties the store, the client factory and the recovery loops together.
type Engine struct {
	store   Store
	clients ClientFactory
	logger  *slog.Logger

	stuckThreshold      time.Duration
	restartStuck        bool
	permissionStaleness time.Duration
}

type Options struct {
	StuckJobThreshold   time.Duration
	RestartStuckJobs    bool
	PermissionStaleness time.Duration
}

func NewEngine(store Store, clients ClientFactory, logger *slog.Logger, opts Options) *Engine {
	if opts.StuckJobThreshold == 0 {
		opts.StuckJobThreshold = 30 * time.Minute
	}
	if opts.PermissionStaleness == 0 {
		opts.PermissionStaleness = 6 * time.Hour
	}
	return &Engine{
		store:               store,
		clients:             clients,
		logger:              logger,
		stuckThreshold:      opts.StuckJobThreshold,
		restartStuck:        opts.RestartStuckJobs,
		permissionStaleness: opts.PermissionStaleness,
	}
}

// Connect registers a repository and kicks off its bootstrap. A second
// connect for the same repository is a no-op while a job is active.
func (e *Engine) Connect(ctx context.Context, owner, name string, installationID int64, connectingUserID *int64) (model.SyncJob, error) {
	probe := model.Repository{InstallationID: installationID}
	client, err := e.clients(ctx, probe)
	if err != nil {
		return model.SyncJob{}, err
	}
	ghRepo, err := client.GetRepository(ctx, owner, name)
	if err != nil {
		return model.SyncJob{}, err
	}

	repo, err := e.store.UpsertRepository(ctx, ghclient.TranslateRepository(ghRepo, installationID, connectingUserID))
	if err != nil {
		return model.SyncJob{}, err
	}

	job, err := e.store.CreateJob(ctx, repo.ID, installationID, model.JobTypeBootstrap, "connect")
	if err != nil {
		return model.SyncJob{}, err
	}

	go e.runBootstrap(context.WithoutCancel(ctx), job.ID)
	return job, nil
}

// PullDiff proxies the raw diff text of a pull request; diffs are never
// persisted, only the file summaries are.
func (e *Engine) PullDiff(ctx context.Context, repo model.Repository, number int) (string, bool, error) {
	client, err := e.clients(ctx, repo)
	if err != nil {
		return "", false, err
	}
	return client.GetPullDiff(ctx, repo.Owner, repo.Name, number)
}

// JobLogs proxies the raw log text of one workflow job.
func (e *Engine) JobLogs(ctx context.Context, repo model.Repository, jobID int64) (string, bool, error) {
	client, err := e.clients(ctx, repo)
	if err != nil {
		return "", false, err
	}
	return client.GetJobLogs(ctx, repo.Owner, repo.Name, jobID)
}

// AssignableUsers proxies the assignable-user search.
func (e *Engine) AssignableUsers(ctx context.Context, repo model.Repository, query string) ([]ghclient.AssignableUser, error) {
	client, err := e.clients(ctx, repo)
	if err != nil {
		return nil, err
	}
	return client.SearchAssignableUsers(ctx, repo.Owner, repo.Name, query)
}

// Backfill creates a backfill job on the same ledger as the bootstrap. The
// shared lock key keeps it mutually exclusive with any active import.
func (e *Engine) Backfill(ctx context.Context, repo model.Repository) (model.SyncJob, error) {
	job, err := e.store.CreateJob(ctx, repo.ID, repo.InstallationID, model.JobTypeBackfill, "backfill")
	if err != nil {
		return model.SyncJob{}, err
	}
	go e.runBootstrap(context.WithoutCancel(ctx), job.ID)
	return job, nil
}

// Resync is the admin path: the active job (if any) is superseded and a
// fresh bootstrap is dispatched under the same lock key.
func (e *Engine) Resync(ctx context.Context, repo model.Repository) (model.SyncJob, error) {
	lockKey := model.LockKey(repo.InstallationID, repo.ID)
	if active, ok, err := e.store.GetActiveJobByLockKey(ctx, lockKey); err != nil {
		return model.SyncJob{}, err
	} else if ok {
		if err := e.store.MarkJobFailed(ctx, active.ID, "superseded by operator resync"); err != nil {
			return model.SyncJob{}, err
		}
	}

	job, err := e.store.CreateJob(ctx, repo.ID, repo.InstallationID, model.JobTypeBootstrap, "resync")
	if err != nil {
		return model.SyncJob{}, err
	}
	go e.runBootstrap(context.WithoutCancel(ctx), job.ID)
	return job, nil
}
