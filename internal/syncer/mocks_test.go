// internal/syncer/mocks_test.go
package syncer

import (
	"context"
	"time"

	gh "github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/mock"

	ghclient "github-org-mirror/internal/github"
	"github-org-mirror/internal/model"
)

// MockStore is a mock of the Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpsertRepository(ctx context.Context, r *model.Repository) (model.Repository, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(model.Repository), args.Error(1)
}
func (m *MockStore) GetRepositoryByOwnerName(ctx context.Context, owner, name string) (model.Repository, bool, error) {
	args := m.Called(ctx, owner, name)
	return args.Get(0).(model.Repository), args.Bool(1), args.Error(2)
}
func (m *MockStore) GetRepositoryByID(ctx context.Context, id int64) (model.Repository, bool, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Repository), args.Bool(1), args.Error(2)
}
func (m *MockStore) GetConnectingUserToken(ctx context.Context, repositoryID int64) (string, error) {
	args := m.Called(ctx, repositoryID)
	return args.String(0), args.Error(1)
}
func (m *MockStore) CreateJob(ctx context.Context, repositoryID, installationID int64, jobType model.JobType, reason string) (model.SyncJob, error) {
	args := m.Called(ctx, repositoryID, installationID, jobType, reason)
	return args.Get(0).(model.SyncJob), args.Error(1)
}
func (m *MockStore) GetJob(ctx context.Context, id string) (model.SyncJob, bool, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.SyncJob), args.Bool(1), args.Error(2)
}
func (m *MockStore) GetActiveJobByLockKey(ctx context.Context, lockKey string) (model.SyncJob, bool, error) {
	args := m.Called(ctx, lockKey)
	return args.Get(0).(model.SyncJob), args.Bool(1), args.Error(2)
}
func (m *MockStore) MarkJobRunning(ctx context.Context, id, step string) error {
	return m.Called(ctx, id, step).Error(0)
}
func (m *MockStore) CompleteJobStep(ctx context.Context, id, step string, items int) error {
	return m.Called(ctx, id, step, items).Error(0)
}
func (m *MockStore) MarkJobRetry(ctx context.Context, id, cause string) error {
	return m.Called(ctx, id, cause).Error(0)
}
func (m *MockStore) MarkJobDone(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *MockStore) MarkJobFailed(ctx context.Context, id, cause string) error {
	return m.Called(ctx, id, cause).Error(0)
}
func (m *MockStore) ResetJobPending(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *MockStore) ListStuckJobs(ctx context.Context, threshold time.Duration) ([]model.SyncJob, error) {
	args := m.Called(ctx, threshold)
	return args.Get(0).([]model.SyncJob), args.Error(1)
}
func (m *MockStore) UpsertUsers(ctx context.Context, users []model.User) error {
	return m.Called(ctx, users).Error(0)
}
func (m *MockStore) UpsertBranches(ctx context.Context, repositoryID int64, branches []model.Branch) error {
	return m.Called(ctx, repositoryID, branches).Error(0)
}
func (m *MockStore) UpsertPullRequests(ctx context.Context, prs []model.PullRequest) error {
	return m.Called(ctx, prs).Error(0)
}
func (m *MockStore) UpsertIssues(ctx context.Context, issues []model.Issue) error {
	return m.Called(ctx, issues).Error(0)
}
func (m *MockStore) UpsertCommits(ctx context.Context, commits []model.Commit) error {
	return m.Called(ctx, commits).Error(0)
}
func (m *MockStore) UpsertCheckRuns(ctx context.Context, runs []model.CheckRun) error {
	return m.Called(ctx, runs).Error(0)
}
func (m *MockStore) UpsertWorkflowRuns(ctx context.Context, runs []model.WorkflowRun) error {
	return m.Called(ctx, runs).Error(0)
}
func (m *MockStore) UpsertWorkflowJobs(ctx context.Context, jobs []model.WorkflowJob) error {
	return m.Called(ctx, jobs).Error(0)
}
func (m *MockStore) UpsertComments(ctx context.Context, comments []model.Comment) error {
	return m.Called(ctx, comments).Error(0)
}
func (m *MockStore) UpsertReviews(ctx context.Context, reviews []model.Review) error {
	return m.Called(ctx, reviews).Error(0)
}
func (m *MockStore) UpsertReviewComments(ctx context.Context, comments []model.ReviewComment) error {
	return m.Called(ctx, comments).Error(0)
}
func (m *MockStore) UpsertPullFiles(ctx context.Context, repositoryID int64, pullNumber int, files []model.PullRequestFile) error {
	return m.Called(ctx, repositoryID, pullNumber, files).Error(0)
}
func (m *MockStore) UpsertPermissions(ctx context.Context, repositoryID int64, rows []model.PermissionRow) error {
	return m.Called(ctx, repositoryID, rows).Error(0)
}
func (m *MockStore) PullRequestExists(ctx context.Context, repositoryID int64, number int) (bool, error) {
	args := m.Called(ctx, repositoryID, number)
	return args.Bool(0), args.Error(1)
}
func (m *MockStore) IssueExists(ctx context.Context, repositoryID int64, number int) (bool, error) {
	args := m.Called(ctx, repositoryID, number)
	return args.Bool(0), args.Error(1)
}
func (m *MockStore) ListOpenPullHeads(ctx context.Context, repositoryID int64) ([]model.PullHead, error) {
	args := m.Called(ctx, repositoryID)
	return args.Get(0).([]model.PullHead), args.Error(1)
}
func (m *MockStore) RebuildCounters(ctx context.Context, repositoryID int64) error {
	return m.Called(ctx, repositoryID).Error(0)
}

// MockClient is a mock of the Client interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) GetRepository(ctx context.Context, owner, name string) (*gh.Repository, error) {
	args := m.Called(ctx, owner, name)
	return args.Get(0).(*gh.Repository), args.Error(1)
}
func (m *MockClient) ListBranches(ctx context.Context, owner, name string, fn func([]*gh.Branch) error) error {
	args := m.Called(ctx, owner, name, fn)
	if pages, ok := args.Get(0).([][]*gh.Branch); ok {
		for _, page := range pages {
			if err := fn(page); err != nil {
				return err
			}
		}
		return args.Error(1)
	}
	return args.Error(1)
}
func (m *MockClient) ListPullRequests(ctx context.Context, owner, name string, fn func([]*gh.PullRequest) error) error {
	args := m.Called(ctx, owner, name, fn)
	if pages, ok := args.Get(0).([][]*gh.PullRequest); ok {
		for _, page := range pages {
			if err := fn(page); err != nil {
				return err
			}
		}
		return args.Error(1)
	}
	return args.Error(1)
}
func (m *MockClient) ListIssues(ctx context.Context, owner, name string, fn func([]*gh.Issue) error) error {
	args := m.Called(ctx, owner, name, fn)
	if pages, ok := args.Get(0).([][]*gh.Issue); ok {
		for _, page := range pages {
			if err := fn(page); err != nil {
				return err
			}
		}
		return args.Error(1)
	}
	return args.Error(1)
}
func (m *MockClient) ListCommits(ctx context.Context, owner, name string, since time.Time, fn func([]*gh.RepositoryCommit) error) error {
	args := m.Called(ctx, owner, name, since, fn)
	if pages, ok := args.Get(0).([][]*gh.RepositoryCommit); ok {
		for _, page := range pages {
			if err := fn(page); err != nil {
				return err
			}
		}
		return args.Error(1)
	}
	return args.Error(1)
}
func (m *MockClient) ListCheckRunsForRef(ctx context.Context, owner, name, ref string) ([]*gh.CheckRun, error) {
	args := m.Called(ctx, owner, name, ref)
	return args.Get(0).([]*gh.CheckRun), args.Error(1)
}
func (m *MockClient) ListWorkflowRuns(ctx context.Context, owner, name string, fn func([]*gh.WorkflowRun) error) error {
	args := m.Called(ctx, owner, name, fn)
	if pages, ok := args.Get(0).([][]*gh.WorkflowRun); ok {
		for _, page := range pages {
			if err := fn(page); err != nil {
				return err
			}
		}
		return args.Error(1)
	}
	return args.Error(1)
}
func (m *MockClient) ListWorkflowJobs(ctx context.Context, owner, name string, runID int64) ([]*gh.WorkflowJob, error) {
	args := m.Called(ctx, owner, name, runID)
	return args.Get(0).([]*gh.WorkflowJob), args.Error(1)
}
func (m *MockClient) GetPullRequest(ctx context.Context, owner, name string, number int) (*gh.PullRequest, bool, error) {
	args := m.Called(ctx, owner, name, number)
	var pr *gh.PullRequest
	if v := args.Get(0); v != nil {
		pr = v.(*gh.PullRequest)
	}
	return pr, args.Bool(1), args.Error(2)
}
func (m *MockClient) GetIssue(ctx context.Context, owner, name string, number int) (*gh.Issue, bool, error) {
	args := m.Called(ctx, owner, name, number)
	var issue *gh.Issue
	if v := args.Get(0); v != nil {
		issue = v.(*gh.Issue)
	}
	return issue, args.Bool(1), args.Error(2)
}
func (m *MockClient) ListIssueComments(ctx context.Context, owner, name string, number int) ([]*gh.IssueComment, error) {
	args := m.Called(ctx, owner, name, number)
	return args.Get(0).([]*gh.IssueComment), args.Error(1)
}
func (m *MockClient) ListReviews(ctx context.Context, owner, name string, number int) ([]*gh.PullRequestReview, error) {
	args := m.Called(ctx, owner, name, number)
	return args.Get(0).([]*gh.PullRequestReview), args.Error(1)
}
func (m *MockClient) ListReviewComments(ctx context.Context, owner, name string, number int) ([]*gh.PullRequestComment, error) {
	args := m.Called(ctx, owner, name, number)
	return args.Get(0).([]*gh.PullRequestComment), args.Error(1)
}
func (m *MockClient) ListPullFiles(ctx context.Context, owner, name string, number int) ([]*gh.CommitFile, error) {
	args := m.Called(ctx, owner, name, number)
	return args.Get(0).([]*gh.CommitFile), args.Error(1)
}
func (m *MockClient) ListCollaborators(ctx context.Context, owner, name string) ([]*gh.User, error) {
	args := m.Called(ctx, owner, name)
	return args.Get(0).([]*gh.User), args.Error(1)
}
func (m *MockClient) GetPullDiff(ctx context.Context, owner, name string, number int) (string, bool, error) {
	args := m.Called(ctx, owner, name, number)
	return args.String(0), args.Bool(1), args.Error(2)
}
func (m *MockClient) GetJobLogs(ctx context.Context, owner, name string, jobID int64) (string, bool, error) {
	args := m.Called(ctx, owner, name, jobID)
	return args.String(0), args.Bool(1), args.Error(2)
}
func (m *MockClient) SearchAssignableUsers(ctx context.Context, owner, name, query string) ([]ghclient.AssignableUser, error) {
	args := m.Called(ctx, owner, name, query)
	return args.Get(0).([]ghclient.AssignableUser), args.Error(1)
}
