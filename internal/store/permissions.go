package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github-org-mirror/internal/model"
)

// UpsertPermissions replaces the cached permission rows for a repository's
// collaborators. Rows for users no longer in the batch are removed: the
// collaborator list is the removal source of truth.
func (s *Store) UpsertPermissions(ctx context.Context, repositoryID int64, rows []model.PermissionRow) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	userIDs := make([]int64, 0, len(rows))
	for _, r := range rows {
		userIDs = append(userIDs, r.UserID)
		_, err := tx.Exec(ctx, `
			INSERT INTO permissions (user_id, repository_id, pull, triage, push,
				maintain, admin, role_name, synced_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			ON CONFLICT (user_id, repository_id) DO UPDATE SET
				pull = EXCLUDED.pull,
				triage = EXCLUDED.triage,
				push = EXCLUDED.push,
				maintain = EXCLUDED.maintain,
				admin = EXCLUDED.admin,
				role_name = EXCLUDED.role_name,
				synced_at = now()`,
			r.UserID, repositoryID, r.Pull, r.Triage, r.Push, r.Maintain, r.Admin, r.RoleName)
		if err != nil {
			return fmt.Errorf("failed to upsert permission for user %d: %w", r.UserID, err)
		}
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM permissions WHERE repository_id = $1 AND NOT (user_id = ANY($2))`,
		repositoryID, userIDs)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetPermissionRow returns the cached row for (user, repository), nil when
// none exists.
func (s *Store) GetPermissionRow(ctx context.Context, userID, repositoryID int64) (*model.PermissionRow, error) {
	var r model.PermissionRow
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, repository_id, pull, triage, push, maintain, admin, role_name, synced_at
		FROM permissions WHERE user_id = $1 AND repository_id = $2`,
		userID, repositoryID).Scan(
		&r.UserID, &r.RepositoryID, &r.Pull, &r.Triage, &r.Push, &r.Maintain,
		&r.Admin, &r.RoleName, &r.SyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
