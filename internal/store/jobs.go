package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github-org-mirror/internal/errors"
	"github-org-mirror/internal/model"
)

const jobColumns = `id, lock_key, repository_id, installation_id, type,
	trigger_reason, state, attempt_count, current_step, completed_steps,
	items_fetched, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (model.SyncJob, error) {
	var j model.SyncJob
	err := row.Scan(&j.ID, &j.LockKey, &j.RepositoryID, &j.InstallationID, &j.Type,
		&j.TriggerReason, &j.State, &j.AttemptCount, &j.CurrentStep,
		&j.CompletedSteps, &j.ItemsFetched, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// CreateJob inserts a pending ledger row for a lock key. When a non-terminal
// job already holds the key the call returns ErrJobExists and writes nothing:
// connect and backfill requests are idempotent. The check runs inside one
// transaction so two concurrent connects cannot both create a row.
func (s *Store) CreateJob(ctx context.Context, repositoryID, installationID int64, jobType model.JobType, reason string) (model.SyncJob, error) {
	lockKey := model.LockKey(installationID, repositoryID)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return model.SyncJob{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM sync_jobs
		WHERE lock_key = $1 AND state NOT IN ('done', 'failed')`, lockKey).Scan(&existing)
	if err != nil {
		return model.SyncJob{}, err
	}
	if existing > 0 {
		return model.SyncJob{}, apperrors.ErrJobExists
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO sync_jobs (id, lock_key, repository_id, installation_id, type,
			trigger_reason, state, attempt_count, current_step, completed_steps, items_fetched)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, '', '{}', 0)
		RETURNING `+jobColumns,
		uuid.NewString(), lockKey, repositoryID, installationID, jobType, reason)
	job, err := scanJob(row)
	if err != nil {
		return model.SyncJob{}, fmt.Errorf("failed to create sync job for %s: %w", lockKey, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.SyncJob{}, err
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (model.SyncJob, bool, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SyncJob{}, false, nil
	}
	if err != nil {
		return model.SyncJob{}, false, err
	}
	return job, true, nil
}

// GetActiveJobByLockKey returns the non-terminal job holding a lock key.
func (s *Store) GetActiveJobByLockKey(ctx context.Context, lockKey string) (model.SyncJob, bool, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM sync_jobs
		WHERE lock_key = $1 AND state NOT IN ('done', 'failed')
		ORDER BY created_at DESC LIMIT 1`, lockKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SyncJob{}, false, nil
	}
	if err != nil {
		return model.SyncJob{}, false, err
	}
	return job, true, nil
}

// MarkJobRunning transitions a job into running at the given step.
// attempt_count increments, as on every state transition.
func (s *Store) MarkJobRunning(ctx context.Context, id, step string) error {
	return s.transition(ctx, id, model.JobRunning, `current_step = $3`, step)
}

// CompleteJobStep appends a finished step and accumulates its item count.
func (s *Store) CompleteJobStep(ctx context.Context, id, step string, items int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs SET
			completed_steps = array_append(completed_steps, $2),
			items_fetched = items_fetched + $3,
			updated_at = now()
		WHERE id = $1 AND NOT ($2 = ANY(completed_steps))`, id, step, items)
	return err
}

func (s *Store) MarkJobRetry(ctx context.Context, id, cause string) error {
	return s.transition(ctx, id, model.JobRetry, `last_error = $3`, cause)
}

func (s *Store) MarkJobDone(ctx context.Context, id string) error {
	return s.transition(ctx, id, model.JobDone, `current_step = $3`, "")
}

func (s *Store) MarkJobFailed(ctx context.Context, id, cause string) error {
	return s.transition(ctx, id, model.JobFailed, `last_error = $3`, cause)
}

// ResetJobPending puts a failed job back to pending with zeroed counters,
// the recovery path's explicit reset.
func (s *Store) ResetJobPending(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs SET
			state = 'pending',
			attempt_count = 0,
			current_step = '',
			completed_steps = '{}',
			items_fetched = 0,
			last_error = NULL,
			updated_at = now()
		WHERE id = $1`, id)
	return err
}

// transition moves a job between states. done and failed are terminal: once a
// row lands there (the sweep, a resync supersession) no transition touches it
// again, so a worker that raced the verdict gets ErrJobTerminal instead of
// silently resurrecting the job. ResetJobPending is the sole revival path.
func (s *Store) transition(ctx context.Context, id string, to model.JobState, extra string, arg string) error {
	q := `UPDATE sync_jobs SET state = $2, attempt_count = attempt_count + 1, updated_at = now()`
	if extra != "" {
		q += `, ` + extra
	}
	q += ` WHERE id = $1 AND state NOT IN ('done', 'failed')`
	var tag pgconn.CommandTag
	var err error
	if extra != "" {
		tag, err = s.pool.Exec(ctx, q, id, to, arg)
	} else {
		tag, err = s.pool.Exec(ctx, q, id, to)
	}
	if err != nil {
		return fmt.Errorf("failed to transition job %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s to %s: %w", id, to, apperrors.ErrJobTerminal)
	}
	return nil
}

// ListStuckJobs selects running jobs whose updated_at is older than the
// threshold. updated_at is the sole staleness signal.
func (s *Store) ListStuckJobs(ctx context.Context, threshold time.Duration) ([]model.SyncJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM sync_jobs
		WHERE state = 'running' AND updated_at < now() - $1::interval`,
		threshold.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListJobs returns recent ledger rows for the operator surface.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]model.SyncJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
