package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github-org-mirror/internal/model"
)

const repoColumns = `id, github_repo_id, installation_id, owner, name, private,
	archived, disabled, connecting_user_id, repo_created_at, repo_updated_at,
	cached_at, db_created_at, db_updated_at`

func scanRepository(row pgx.Row) (model.Repository, error) {
	var r model.Repository
	err := row.Scan(&r.ID, &r.GithubRepoID, &r.InstallationID, &r.Owner, &r.Name,
		&r.Private, &r.Archived, &r.Disabled, &r.ConnectingUserID,
		&r.RepoCreatedAt, &r.RepoUpdatedAt, &r.CachedAt, &r.DBCreatedAt, &r.DBUpdatedAt)
	return r, err
}

// UpsertRepository creates or refreshes a repository keyed by its immutable
// GitHub ID. Soft states (archived/disabled) are refreshed; rows are never
// deleted.
func (s *Store) UpsertRepository(ctx context.Context, r *model.Repository) (model.Repository, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO repositories (github_repo_id, installation_id, owner, name,
			private, archived, disabled, connecting_user_id,
			repo_created_at, repo_updated_at, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (github_repo_id) DO UPDATE SET
			installation_id = EXCLUDED.installation_id,
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			private = EXCLUDED.private,
			archived = EXCLUDED.archived,
			disabled = EXCLUDED.disabled,
			repo_updated_at = EXCLUDED.repo_updated_at,
			cached_at = now(),
			db_updated_at = now()
		RETURNING `+repoColumns,
		r.GithubRepoID, r.InstallationID, r.Owner, r.Name, r.Private,
		r.Archived, r.Disabled, r.ConnectingUserID, r.RepoCreatedAt, r.RepoUpdatedAt)

	repo, err := scanRepository(row)
	if err != nil {
		return model.Repository{}, fmt.Errorf("failed to upsert repository %s/%s: %w", r.Owner, r.Name, err)
	}
	return repo, nil
}

// GetRepositoryByOwnerName looks a repository up by its slug. found is false
// when the repository was never connected.
func (s *Store) GetRepositoryByOwnerName(ctx context.Context, owner, name string) (model.Repository, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE owner = $1 AND name = $2`, owner, name)
	repo, err := scanRepository(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Repository{}, false, nil
	}
	if err != nil {
		return model.Repository{}, false, err
	}
	return repo, true, nil
}

// GetRepositoryByID looks a repository up by its local ID.
func (s *Store) GetRepositoryByID(ctx context.Context, id int64) (model.Repository, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE id = $1`, id)
	repo, err := scanRepository(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Repository{}, false, nil
	}
	if err != nil {
		return model.Repository{}, false, err
	}
	return repo, true, nil
}

// GetRepositoryByGithubID looks a repository up by its remote ID (webhooks
// carry that, not the local one).
func (s *Store) GetRepositoryByGithubID(ctx context.Context, githubID int64) (model.Repository, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE github_repo_id = $1`, githubID)
	repo, err := scanRepository(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Repository{}, false, nil
	}
	if err != nil {
		return model.Repository{}, false, err
	}
	return repo, true, nil
}

// SetConnectingUser backfills the connecting-user reference. This is the
// documented admin patch; nothing else mutates domain rows outside the
// upsert writers.
func (s *Store) SetConnectingUser(ctx context.Context, repositoryID int64, userID *int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE repositories SET connecting_user_id = $2, db_updated_at = now() WHERE id = $1`,
		repositoryID, userID)
	return err
}

// GetConnectingUserToken returns the OAuth token of the repository's
// connecting user, empty when no user is linked or no token is stored.
func (s *Store) GetConnectingUserToken(ctx context.Context, repositoryID int64) (string, error) {
	var token *string
	err := s.pool.QueryRow(ctx, `
		SELECT u.oauth_token FROM repositories r
		JOIN users u ON u.github_id = r.connecting_user_id
		WHERE r.id = $1`, repositoryID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", nil
	}
	return *token, nil
}
