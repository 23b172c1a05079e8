package store

import (
	"context"
	"time"

	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
)

// ProcessingRecordings returns every recording currently marked processing.
func (s *Store) ProcessingRecordings(ctx context.Context) ([]*models.Recording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, filename, storage_path, status, duration, language,
			active_execution, last_error_message, created_at, last_update_at
		FROM recordings WHERE status = ? ORDER BY last_update_at`,
		models.RecordingProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecordings(rows)
}

// ProcessingRecordingsOlderThan returns processing recordings whose last
// update is strictly before the cutoff. userID narrows the scan to one user
// when non-empty.
func (s *Store) ProcessingRecordingsOlderThan(ctx context.Context, cutoff time.Time, userID string) ([]*models.Recording, error) {
	query := `
		SELECT id, user_id, filename, storage_path, status, duration, language,
			active_execution, last_error_message, created_at, last_update_at
		FROM recordings WHERE status = ? AND last_update_at < ?`
	args := []any{models.RecordingProcessing, cutoff}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY last_update_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecordings(rows)
}
