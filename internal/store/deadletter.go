package store

import (
	"context"
	"fmt"

	"github-org-mirror/internal/model"
)

// Record appends a dead letter. It implements github.DeadLetterSink. The
// table is append-only; only operator tooling reads it.
func (s *Store) Record(ctx context.Context, source, deliveryID, reason, payload string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letters (delivery_id, source, reason, payload)
		VALUES ($1, $2, $3, $4)`,
		deliveryID, source, reason, payload)
	if err != nil {
		return fmt.Errorf("failed to record dead letter %s: %w", deliveryID, err)
	}
	return nil
}

// ListDeadLetters returns the most recent dead letters for inspection.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, delivery_id, source, reason, payload, created_at
		FROM dead_letters ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []model.DeadLetter
	for rows.Next() {
		var dl model.DeadLetter
		if err := rows.Scan(&dl.ID, &dl.DeliveryID, &dl.Source, &dl.Reason, &dl.Payload, &dl.CreatedAt); err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}
