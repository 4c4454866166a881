package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github-org-mirror/internal/model"
)

// RebuildCounters recomputes the derived per-repository counters from the
// domain tables. The bootstrap triggers one full rebuild on completion.
func (s *Store) RebuildCounters(ctx context.Context, repositoryID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO repo_counters (repository_id, open_pulls, open_issues, queued_check_runs, rebuilt_at)
		SELECT $1,
			(SELECT count(*) FROM pull_requests WHERE repository_id = $1 AND state = 'open'),
			(SELECT count(*) FROM issues WHERE repository_id = $1 AND state = 'open'),
			(SELECT count(*) FROM check_runs WHERE repository_id = $1 AND status IN ('queued', 'in_progress')),
			now()
		ON CONFLICT (repository_id) DO UPDATE SET
			open_pulls = EXCLUDED.open_pulls,
			open_issues = EXCLUDED.open_issues,
			queued_check_runs = EXCLUDED.queued_check_runs,
			rebuilt_at = now()`,
		repositoryID)
	return err
}

// GetCounters reads the derived view. A missing row falls back to a bounded
// live scan of the domain tables.
func (s *Store) GetCounters(ctx context.Context, repositoryID int64) (model.RepoCounters, error) {
	var c model.RepoCounters
	err := s.pool.QueryRow(ctx, `
		SELECT repository_id, open_pulls, open_issues, queued_check_runs, rebuilt_at
		FROM repo_counters WHERE repository_id = $1`, repositoryID).Scan(
		&c.RepositoryID, &c.OpenPulls, &c.OpenIssues, &c.QueuedCheckRuns, &c.RebuiltAt)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.RepoCounters{}, err
	}
	s.logger.Debug("Counter row missing, scanning domain tables", "repository_id", repositoryID)

	c.RepositoryID = repositoryID
	err = s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM pull_requests WHERE repository_id = $1 AND state = 'open'),
			(SELECT count(*) FROM issues WHERE repository_id = $1 AND state = 'open'),
			(SELECT count(*) FROM check_runs WHERE repository_id = $1 AND status IN ('queued', 'in_progress'))`,
		repositoryID).Scan(&c.OpenPulls, &c.OpenIssues, &c.QueuedCheckRuns)
	if err != nil {
		return model.RepoCounters{}, err
	}
	return c, nil
}
