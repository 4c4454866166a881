package model

import (
	"fmt"
	"time"
)

// Repository is a connected GitHub repository. Rows are never hard-deleted;
// Archived/Disabled are the soft states.
type Repository struct {
	ID               int64
	GithubRepoID     int64
	InstallationID   int64
	Owner            string
	Name             string
	Private          bool
	Archived         bool
	Disabled         bool
	ConnectingUserID *int64
	RepoCreatedAt    time.Time
	RepoUpdatedAt    time.Time
	CachedAt         time.Time
	DBCreatedAt      time.Time
	DBUpdatedAt      time.Time
}

// JobState is the lifecycle state of a sync job.
type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobRetry   JobState = "retry"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// Terminal reports whether the state admits no further transitions (short of
// an explicit recovery reset).
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// JobType distinguishes the one-time full import from later backfills.
type JobType string

const (
	JobTypeBootstrap JobType = "bootstrap"
	JobTypeBackfill  JobType = "backfill"
)

// SyncJob is one row of the sync job ledger. At most one non-terminal job
// may exist per lock key; rows are kept forever as an audit trail.
type SyncJob struct {
	ID             string
	LockKey        string
	RepositoryID   int64
	InstallationID int64
	Type           JobType
	TriggerReason  string
	State          JobState
	AttemptCount   int
	CurrentStep    string
	CompletedSteps []string
	ItemsFetched   int
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LockKey derives the deterministic mutual-exclusion key for a repository's
// sync job.
func LockKey(installationID, repositoryID int64) string {
	return fmt.Sprintf("inst:%d:repo:%d", installationID, repositoryID)
}

// User is a GitHub account referenced by synced entities.
type User struct {
	GithubID  int64
	Login     string
	AvatarURL string
	Type      string
	CachedAt  time.Time
}

type Branch struct {
	RepositoryID int64
	Name         string
	HeadSHA      string
	Protected    bool
	CachedAt     time.Time
}

type PullRequest struct {
	GithubID        int64
	RepositoryID    int64
	Number          int
	State           string
	Title           string
	Body            string
	AuthorID        *int64
	HeadSHA         string
	HeadRef         string
	BaseRef         string
	Draft           bool
	Merged          bool
	MergedAt        *time.Time
	ClosedAt        *time.Time
	GithubCreatedAt time.Time
	GithubUpdatedAt time.Time
	CachedAt        time.Time
}

type Issue struct {
	GithubID        int64
	RepositoryID    int64
	Number          int
	State           string
	Title           string
	Body            string
	AuthorID        *int64
	AssigneeIDs     []int64
	ClosedAt        *time.Time
	GithubCreatedAt time.Time
	GithubUpdatedAt time.Time
	CachedAt        time.Time
}

type Commit struct {
	RepositoryID int64
	SHA          string
	Message      string
	AuthorName   string
	AuthorEmail  string
	AuthorID     *int64
	CommittedAt  time.Time
	CachedAt     time.Time
}

type CheckRun struct {
	GithubID        int64
	RepositoryID    int64
	HeadSHA         string
	Name            string
	Status          string
	Conclusion      string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	GithubUpdatedAt time.Time
	CachedAt        time.Time
}

type WorkflowRun struct {
	GithubID        int64
	RepositoryID    int64
	WorkflowID      int64
	Name            string
	HeadSHA         string
	HeadBranch      string
	RunNumber       int
	Event           string
	Status          string
	Conclusion      string
	ActorID         *int64
	GithubCreatedAt time.Time
	GithubUpdatedAt time.Time
	CachedAt        time.Time
}

type WorkflowJob struct {
	GithubID     int64
	RepositoryID int64
	RunID        int64
	Name         string
	Status       string
	Conclusion   string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CachedAt     time.Time
}

// Comment is an issue or PR conversation comment.
type Comment struct {
	GithubID        int64
	RepositoryID    int64
	IssueNumber     int
	AuthorID        *int64
	Body            string
	GithubCreatedAt time.Time
	GithubUpdatedAt time.Time
	CachedAt        time.Time
}

type Review struct {
	GithubID        int64
	RepositoryID    int64
	PullNumber      int
	AuthorID        *int64
	State           string
	Body            string
	SubmittedAt     *time.Time
	GithubUpdatedAt time.Time
	CachedAt        time.Time
}

// ReviewComment is an inline code comment attached to a review.
type ReviewComment struct {
	GithubID        int64
	RepositoryID    int64
	PullNumber      int
	ReviewID        *int64
	AuthorID        *int64
	Path            string
	Line            int
	Body            string
	GithubCreatedAt time.Time
	GithubUpdatedAt time.Time
	CachedAt        time.Time
}

// PullRequestFile is one changed file of a PR, captured by the file-diff sync.
type PullRequestFile struct {
	RepositoryID int64
	PullNumber   int
	Path         string
	Status       string
	Additions    int
	Deletions    int
	Patch        string
	CachedAt     time.Time
}

// PermissionRow caches a user's effective access to one repository.
// Flags are cumulative as reported by GitHub; RoleName is informational.
type PermissionRow struct {
	UserID       int64
	RepositoryID int64
	Pull         bool
	Triage       bool
	Push         bool
	Maintain     bool
	Admin        bool
	RoleName     string
	SyncedAt     time.Time
}

// DeadLetter records a payload that failed validation or processing.
// Append-only, read by operator tooling.
type DeadLetter struct {
	ID         int64
	DeliveryID string
	Source     string
	Reason     string
	Payload    string
	CreatedAt  time.Time
}

// RepoCounters is the derived per-repository view the dashboard reads.
type RepoCounters struct {
	RepositoryID    int64
	OpenPulls       int
	OpenIssues      int
	QueuedCheckRuns int
	RebuiltAt       time.Time
}

// PullHead pairs an open PR number with its head SHA. The PR bootstrap step
// collects these for the check-run and file-diff steps.
type PullHead struct {
	Number  int
	HeadSHA string
}
