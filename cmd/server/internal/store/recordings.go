package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
)

// CreateRecording inserts a new recording.
func (s *Store) CreateRecording(ctx context.Context, r *models.Recording) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, user_id, filename, storage_path, status, duration, language,
			active_execution, last_error_message, created_at, last_update_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Filename, r.StoragePath, r.Status, r.Duration, r.Language,
		r.ActiveExecution, r.LastErrorMessage, r.CreatedAt, r.LastUpdateAt)
	return err
}

// GetRecording returns one recording by id.
func (s *Store) GetRecording(ctx context.Context, id string) (*models.Recording, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, filename, storage_path, status, duration, language,
			active_execution, last_error_message, created_at, last_update_at
		FROM recordings WHERE id = ?`, id)
	return scanRecording(row)
}

// ListRecordingsByUser returns the user's recordings, newest first.
func (s *Store) ListRecordingsByUser(ctx context.Context, userID string) ([]*models.Recording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, filename, storage_path, status, duration, language,
			active_execution, last_error_message, created_at, last_update_at
		FROM recordings WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecordings(rows)
}

// SetRecordingStatus updates the recording's lifecycle state and touches
// last_update_at. lastError replaces the stored error message (empty clears).
func (s *Store) SetRecordingStatus(ctx context.Context, id string, status models.RecordingStatus, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET status = ?, last_error_message = ?, last_update_at = ? WHERE id = ?`,
		status, lastError, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireHit(res, ErrRecordingNotFound)
}

// SetActiveExecution records (or clears, with "") the recording's current
// execution id.
func (s *Store) SetActiveExecution(ctx context.Context, id, executionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET active_execution = ?, last_update_at = ? WHERE id = ?`,
		executionID, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireHit(res, ErrRecordingNotFound)
}

// SetRecordingMetadata stores the media duration and detected language.
func (s *Store) SetRecordingMetadata(ctx context.Context, id string, duration float64, language string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET duration = ?, language = ?, last_update_at = ? WHERE id = ?`,
		duration, language, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireHit(res, ErrRecordingNotFound)
}

// DeleteRecording removes a recording. Executions, speakers and segments
// cascade.
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireHit(res, ErrRecordingNotFound)
}

func scanRecording(row *sql.Row) (*models.Recording, error) {
	var r models.Recording
	err := row.Scan(&r.ID, &r.UserID, &r.Filename, &r.StoragePath, &r.Status, &r.Duration,
		&r.Language, &r.ActiveExecution, &r.LastErrorMessage, &r.CreatedAt, &r.LastUpdateAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRecordings(rows *sql.Rows) ([]*models.Recording, error) {
	var out []*models.Recording
	for rows.Next() {
		var r models.Recording
		if err := rows.Scan(&r.ID, &r.UserID, &r.Filename, &r.StoragePath, &r.Status, &r.Duration,
			&r.Language, &r.ActiveExecution, &r.LastErrorMessage, &r.CreatedAt, &r.LastUpdateAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func requireHit(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
