// Package store owns all writes to the mirror's Postgres schema: the
// idempotent upsert writers, the sync job ledger, dead letters, permission
// rows and the derived per-repo counters.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github-org-mirror/internal/model"
)

// chunkSize bounds how many records one transaction writes. Chunking is a
// transport concern only; per-record idempotence holds regardless.
const chunkSize = 50

// Store is the pgx-backed persistence layer.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// chunks splits a batch into transaction-sized slices.
func chunks[T any](in []T, size int) [][]T {
	if len(in) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(in)+size-1)/size)
	for size < len(in) {
		in, out = in[size:], append(out, in[:size:size])
	}
	return append(out, in)
}

// inChunkedTx runs fn once per chunk, each inside its own serializable
// transaction. No partial chunk is ever observed.
func inChunkedTx[T any](ctx context.Context, s *Store, batch []T, fn func(pgx.Tx, []T) error) error {
	for _, chunk := range chunks(batch, chunkSize) {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := fn(tx, chunk); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit chunk: %w", err)
		}
	}
	return nil
}

// UpsertUsers writes GitHub accounts keyed by their numeric ID. Callers feed
// it through a model.UserCollector so each user is written once per batch.
func (s *Store) UpsertUsers(ctx context.Context, users []model.User) error {
	return inChunkedTx(ctx, s, users, func(tx pgx.Tx, chunk []model.User) error {
		for _, u := range chunk {
			_, err := tx.Exec(ctx, `
				INSERT INTO users (github_id, login, avatar_url, type, cached_at)
				VALUES ($1, $2, $3, $4, now())
				ON CONFLICT (github_id) DO UPDATE SET
					login = EXCLUDED.login,
					avatar_url = EXCLUDED.avatar_url,
					type = EXCLUDED.type,
					cached_at = now()`,
				u.GithubID, u.Login, u.AvatarURL, u.Type)
			if err != nil {
				return fmt.Errorf("failed to upsert user %d: %w", u.GithubID, err)
			}
		}
		return nil
	})
}
