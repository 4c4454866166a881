package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github-org-mirror/internal/model"
)

// The writers below share one shape: natural-key ON CONFLICT upserts whose
// DO UPDATE is guarded by the out-of-order check
//
//	WHERE EXCLUDED.github_updated_at >= t.github_updated_at
//
// so a stale fetch arriving after a fresher one (bootstrap racing a webhook)
// converges instead of regressing. Ties are last-call-wins. "Already up to
// date" is silent convergence, never an error. Batches run through
// inChunkedTx: ~50 records per serializable transaction.

func (s *Store) UpsertBranches(ctx context.Context, repositoryID int64, branches []model.Branch) error {
	return inChunkedTx(ctx, s, branches, func(tx pgx.Tx, chunk []model.Branch) error {
		for _, b := range chunk {
			_, err := tx.Exec(ctx, `
				INSERT INTO branches (repository_id, name, head_sha, protected, cached_at)
				VALUES ($1, $2, $3, $4, now())
				ON CONFLICT (repository_id, name) DO UPDATE SET
					head_sha = EXCLUDED.head_sha,
					protected = EXCLUDED.protected,
					cached_at = now()`,
				repositoryID, b.Name, b.HeadSHA, b.Protected)
			if err != nil {
				return fmt.Errorf("failed to upsert branch %q: %w", b.Name, err)
			}
		}
		return nil
	})
}

// UpsertPullRequests writes PR batches without touching the derived counter
// view. Bulk import defers the rebuild to bootstrap completion; the on-demand
// path triggers its own refresh after the write.
func (s *Store) UpsertPullRequests(ctx context.Context, prs []model.PullRequest) error {
	return inChunkedTx(ctx, s, prs, func(tx pgx.Tx, chunk []model.PullRequest) error {
		for _, pr := range chunk {
			_, err := tx.Exec(ctx, `
				INSERT INTO pull_requests (github_id, repository_id, number, state, title,
					body, author_id, head_sha, head_ref, base_ref, draft, merged,
					merged_at, closed_at, github_created_at, github_updated_at, cached_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())
				ON CONFLICT (repository_id, number) DO UPDATE SET
					github_id = EXCLUDED.github_id,
					state = EXCLUDED.state,
					title = EXCLUDED.title,
					body = EXCLUDED.body,
					author_id = EXCLUDED.author_id,
					head_sha = EXCLUDED.head_sha,
					head_ref = EXCLUDED.head_ref,
					base_ref = EXCLUDED.base_ref,
					draft = EXCLUDED.draft,
					merged = EXCLUDED.merged,
					merged_at = EXCLUDED.merged_at,
					closed_at = EXCLUDED.closed_at,
					github_updated_at = EXCLUDED.github_updated_at,
					cached_at = now()
				WHERE EXCLUDED.github_updated_at >= pull_requests.github_updated_at`,
				pr.GithubID, pr.RepositoryID, pr.Number, pr.State, pr.Title, pr.Body,
				pr.AuthorID, pr.HeadSHA, pr.HeadRef, pr.BaseRef, pr.Draft, pr.Merged,
				pr.MergedAt, pr.ClosedAt, pr.GithubCreatedAt, pr.GithubUpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert pull request #%d: %w", pr.Number, err)
			}
		}
		return nil
	})
}

func (s *Store) UpsertIssues(ctx context.Context, issues []model.Issue) error {
	return inChunkedTx(ctx, s, issues, func(tx pgx.Tx, chunk []model.Issue) error {
		for _, is := range chunk {
			_, err := tx.Exec(ctx, `
				INSERT INTO issues (github_id, repository_id, number, state, title, body,
					author_id, assignee_ids, closed_at, github_created_at, github_updated_at, cached_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
				ON CONFLICT (repository_id, number) DO UPDATE SET
					github_id = EXCLUDED.github_id,
					state = EXCLUDED.state,
					title = EXCLUDED.title,
					body = EXCLUDED.body,
					author_id = EXCLUDED.author_id,
					assignee_ids = EXCLUDED.assignee_ids,
					closed_at = EXCLUDED.closed_at,
					github_updated_at = EXCLUDED.github_updated_at,
					cached_at = now()
				WHERE EXCLUDED.github_updated_at >= issues.github_updated_at`,
				is.GithubID, is.RepositoryID, is.Number, is.State, is.Title, is.Body,
				is.AuthorID, is.AssigneeIDs, is.ClosedAt, is.GithubCreatedAt, is.GithubUpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert issue #%d: %w", is.Number, err)
			}
		}
		return nil
	})
}

// UpsertCommits writes commits keyed by SHA. Commits are immutable, so
// conflicts are simply skipped.
func (s *Store) UpsertCommits(ctx context.Context, commits []model.Commit) error {
	return inChunkedTx(ctx, s, commits, func(tx pgx.Tx, chunk []model.Commit) error {
		for _, cm := range chunk {
			_, err := tx.Exec(ctx, `
				INSERT INTO commits (repository_id, sha, message, author_name,
					author_email, author_id, committed_at, cached_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now())
				ON CONFLICT (repository_id, sha) DO NOTHING`,
				cm.RepositoryID, cm.SHA, cm.Message, cm.AuthorName, cm.AuthorEmail,
				cm.AuthorID, cm.CommittedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert commit %s: %w", cm.SHA, err)
			}
		}
		return nil
	})
}

func (s *Store) UpsertCheckRuns(ctx context.Context, runs []model.CheckRun) error {
	return inChunkedTx(ctx, s, runs, func(tx pgx.Tx, chunk []model.CheckRun) error {
		for _, cr := range chunk {
			_, err := tx.Exec(ctx, `
				INSERT INTO check_runs (github_id, repository_id, head_sha, name, status,
					conclusion, started_at, completed_at, github_updated_at, cached_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
				ON CONFLICT (github_id) DO UPDATE SET
					head_sha = EXCLUDED.head_sha,
					name = EXCLUDED.name,
					status = EXCLUDED.status,
					conclusion = EXCLUDED.conclusion,
					started_at = EXCLUDED.started_at,
					completed_at = EXCLUDED.completed_at,
					github_updated_at = EXCLUDED.github_updated_at,
					cached_at = now()
				WHERE EXCLUDED.github_updated_at >= check_runs.github_updated_at`,
				cr.GithubID, cr.RepositoryID, cr.HeadSHA, cr.Name, cr.Status,
				cr.Conclusion, cr.StartedAt, cr.CompletedAt, cr.GithubUpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert check run %d: %w", cr.GithubID, err)
			}
		}
		return nil
	})
}

func (s *Store) UpsertWorkflowRuns(ctx context.Context, runs []model.WorkflowRun) error {
	return inChunkedTx(ctx, s, runs, func(tx pgx.Tx, chunk []model.WorkflowRun) error {
		for _, wr := range chunk {
			_, err := tx.Exec(ctx, `
				INSERT INTO workflow_runs (github_id, repository_id, workflow_id, name,
					head_sha, head_branch, run_number, event, status, conclusion,
					actor_id, github_created_at, github_updated_at, cached_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
				ON CONFLICT (github_id) DO UPDATE SET
					name = EXCLUDED.name,
					head_sha = EXCLUDED.head_sha,
					head_branch = EXCLUDED.head_branch,
					run_number = EXCLUDED.run_number,
					event = EXCLUDED.event,
					status = EXCLUDED.status,
					conclusion = EXCLUDED.conclusion,
					actor_id = EXCLUDED.actor_id,
					github_updated_at = EXCLUDED.github_updated_at,
					cached_at = now()
				WHERE EXCLUDED.github_updated_at >= workflow_runs.github_updated_at`,
				wr.GithubID, wr.RepositoryID, wr.WorkflowID, wr.Name, wr.HeadSHA,
				wr.HeadBranch, wr.RunNumber, wr.Event, wr.Status, wr.Conclusion,
				wr.ActorID, wr.GithubCreatedAt, wr.GithubUpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert workflow run %d: %w", wr.GithubID, err)
			}
		}
		return nil
	})
}

// UpsertWorkflowJobs writes jobs keyed by GitHub ID. Jobs carry no
// updated_at; completion time is the closest monotonic signal.
func (s *Store) UpsertWorkflowJobs(ctx context.Context, jobs []model.WorkflowJob) error {
	return inChunkedTx(ctx, s, jobs, func(tx pgx.Tx, chunk []model.WorkflowJob) error {
		for _, j := range chunk {
			_, err := tx.Exec(ctx, `
				INSERT INTO workflow_jobs (github_id, repository_id, run_id, name,
					status, conclusion, started_at, completed_at, cached_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
				ON CONFLICT (github_id) DO UPDATE SET
					name = EXCLUDED.name,
					status = EXCLUDED.status,
					conclusion = EXCLUDED.conclusion,
					started_at = EXCLUDED.started_at,
					completed_at = EXCLUDED.completed_at,
					cached_at = now()
				WHERE COALESCE(EXCLUDED.completed_at, 'infinity'::timestamptz)
					>= COALESCE(workflow_jobs.completed_at, '-infinity'::timestamptz)`,
				j.GithubID, j.RepositoryID, j.RunID, j.Name, j.Status, j.Conclusion,
				j.StartedAt, j.CompletedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert workflow job %d: %w", j.GithubID, err)
			}
		}
		return nil
	})
}

func (s *Store) UpsertComments(ctx context.Context, comments []model.Comment) error {
	return inChunkedTx(ctx, s, comments, func(tx pgx.Tx, chunk []model.Comment) error {
		for _, cm := range chunk {
			_, err := tx.Exec(ctx, `
				INSERT INTO comments (github_id, repository_id, issue_number, author_id,
					body, github_created_at, github_updated_at, cached_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now())
				ON CONFLICT (github_id) DO UPDATE SET
					body = EXCLUDED.body,
					author_id = EXCLUDED.author_id,
					github_updated_at = EXCLUDED.github_updated_at,
					cached_at = now()
				WHERE EXCLUDED.github_updated_at >= comments.github_updated_at`,
				cm.GithubID, cm.RepositoryID, cm.IssueNumber, cm.AuthorID, cm.Body,
				cm.GithubCreatedAt, cm.GithubUpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert comment %d: %w", cm.GithubID, err)
			}
		}
		return nil
	})
}

func (s *Store) UpsertReviews(ctx context.Context, reviews []model.Review) error {
	return inChunkedTx(ctx, s, reviews, func(tx pgx.Tx, chunk []model.Review) error {
		for _, rv := range chunk {
			_, err := tx.Exec(ctx, `
				INSERT INTO reviews (github_id, repository_id, pull_number, author_id,
					state, body, submitted_at, github_updated_at, cached_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
				ON CONFLICT (github_id) DO UPDATE SET
					state = EXCLUDED.state,
					body = EXCLUDED.body,
					submitted_at = EXCLUDED.submitted_at,
					github_updated_at = EXCLUDED.github_updated_at,
					cached_at = now()
				WHERE EXCLUDED.github_updated_at >= reviews.github_updated_at`,
				rv.GithubID, rv.RepositoryID, rv.PullNumber, rv.AuthorID, rv.State,
				rv.Body, rv.SubmittedAt, rv.GithubUpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert review %d: %w", rv.GithubID, err)
			}
		}
		return nil
	})
}

func (s *Store) UpsertReviewComments(ctx context.Context, comments []model.ReviewComment) error {
	return inChunkedTx(ctx, s, comments, func(tx pgx.Tx, chunk []model.ReviewComment) error {
		for _, rc := range chunk {
			_, err := tx.Exec(ctx, `
				INSERT INTO review_comments (github_id, repository_id, pull_number,
					review_id, author_id, path, line, body,
					github_created_at, github_updated_at, cached_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
				ON CONFLICT (github_id) DO UPDATE SET
					review_id = EXCLUDED.review_id,
					author_id = EXCLUDED.author_id,
					path = EXCLUDED.path,
					line = EXCLUDED.line,
					body = EXCLUDED.body,
					github_updated_at = EXCLUDED.github_updated_at,
					cached_at = now()
				WHERE EXCLUDED.github_updated_at >= review_comments.github_updated_at`,
				rc.GithubID, rc.RepositoryID, rc.PullNumber, rc.ReviewID, rc.AuthorID,
				rc.Path, rc.Line, rc.Body, rc.GithubCreatedAt, rc.GithubUpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert review comment %d: %w", rc.GithubID, err)
			}
		}
		return nil
	})
}

// UpsertPullFiles replaces a PR's file set. The file list has no remote
// timestamps; it is replaced wholesale per (repository, number).
func (s *Store) UpsertPullFiles(ctx context.Context, repositoryID int64, pullNumber int, files []model.PullRequestFile) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM pull_request_files WHERE repository_id = $1 AND pull_number = $2`,
		repositoryID, pullNumber); err != nil {
		return err
	}
	for _, f := range files {
		_, err := tx.Exec(ctx, `
			INSERT INTO pull_request_files (repository_id, pull_number, path, status,
				additions, deletions, patch, cached_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
			repositoryID, pullNumber, f.Path, f.Status, f.Additions, f.Deletions, f.Patch)
		if err != nil {
			return fmt.Errorf("failed to insert pull file %q: %w", f.Path, err)
		}
	}
	return tx.Commit(ctx)
}

// PullRequestExists is the on-demand sync's idempotent short-circuit.
func (s *Store) PullRequestExists(ctx context.Context, repositoryID int64, number int) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pull_requests WHERE repository_id = $1 AND number = $2)`,
		repositoryID, number).Scan(&exists)
	return exists, err
}

func (s *Store) IssueExists(ctx context.Context, repositoryID int64, number int) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM issues WHERE repository_id = $1 AND number = $2)`,
		repositoryID, number).Scan(&exists)
	return exists, err
}

func (s *Store) GetPullRequest(ctx context.Context, repositoryID int64, number int) (model.PullRequest, bool, error) {
	var pr model.PullRequest
	err := s.pool.QueryRow(ctx, `
		SELECT github_id, repository_id, number, state, title, body, author_id,
			head_sha, head_ref, base_ref, draft, merged, merged_at, closed_at,
			github_created_at, github_updated_at, cached_at
		FROM pull_requests WHERE repository_id = $1 AND number = $2`,
		repositoryID, number).Scan(
		&pr.GithubID, &pr.RepositoryID, &pr.Number, &pr.State, &pr.Title, &pr.Body,
		&pr.AuthorID, &pr.HeadSHA, &pr.HeadRef, &pr.BaseRef, &pr.Draft, &pr.Merged,
		&pr.MergedAt, &pr.ClosedAt, &pr.GithubCreatedAt, &pr.GithubUpdatedAt, &pr.CachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PullRequest{}, false, nil
	}
	if err != nil {
		return model.PullRequest{}, false, err
	}
	return pr, true, nil
}

func (s *Store) GetIssue(ctx context.Context, repositoryID int64, number int) (model.Issue, bool, error) {
	var is model.Issue
	err := s.pool.QueryRow(ctx, `
		SELECT github_id, repository_id, number, state, title, body, author_id,
			assignee_ids, closed_at, github_created_at, github_updated_at, cached_at
		FROM issues WHERE repository_id = $1 AND number = $2`,
		repositoryID, number).Scan(
		&is.GithubID, &is.RepositoryID, &is.Number, &is.State, &is.Title, &is.Body,
		&is.AuthorID, &is.AssigneeIDs, &is.ClosedAt, &is.GithubCreatedAt,
		&is.GithubUpdatedAt, &is.CachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Issue{}, false, nil
	}
	if err != nil {
		return model.Issue{}, false, err
	}
	return is, true, nil
}

// ListOpenPullHeads returns (number, head SHA) pairs for all open PRs,
// consumed by the check-run and file-diff steps.
func (s *Store) ListOpenPullHeads(ctx context.Context, repositoryID int64) ([]model.PullHead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT number, head_sha FROM pull_requests WHERE repository_id = $1 AND state = 'open'`,
		repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var heads []model.PullHead
	for rows.Next() {
		var h model.PullHead
		if err := rows.Scan(&h.Number, &h.HeadSHA); err != nil {
			return nil, err
		}
		heads = append(heads, h)
	}
	return heads, rows.Err()
}
