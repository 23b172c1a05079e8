package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
)

const executionColumns = `id, recording_id, task_type, status, stage, progress,
	error_message, failure_kind, created_at, updated_at, completed_at`

// CreateExecution inserts a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *models.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, recording_id, task_type, status, stage, progress,
			error_message, failure_kind, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RecordingID, e.TaskType, e.Status, e.Stage, e.Progress,
		e.ErrorMessage, e.FailureKind, e.CreatedAt, e.UpdatedAt, e.CompletedAt)
	return err
}

// GetExecution returns one execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	return e, err
}

// ActiveExecutionForRecording returns the recording's single non-terminal
// execution, or nil when none is active.
func (s *Store) ActiveExecutionForRecording(ctx context.Context, recordingID string) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE recording_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		recordingID, models.ExecutionPending, models.ExecutionInProgress)
	e, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ListExecutionsByRecording returns the recording's executions, newest first.
func (s *Store) ListExecutionsByRecording(ctx context.Context, recordingID string) ([]*models.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE recording_id = ? ORDER BY created_at DESC`, recordingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// UpdateExecutionProgress advances the execution's stage and progress and
// touches updated_at, which the consistency monitor reads as liveness.
func (s *Store) UpdateExecutionProgress(ctx context.Context, id, stage string, progress float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, stage = ?, progress = ?, updated_at = ? WHERE id = ?`,
		models.ExecutionInProgress, stage, progress, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireHit(res, ErrExecutionNotFound)
}

// FinishExecution moves the execution to a terminal status.
func (s *Store) FinishExecution(ctx context.Context, id string, status models.ExecutionStatus, errorMessage, failureKind string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, error_message = ?, failure_kind = ?,
			updated_at = ?, completed_at = ? WHERE id = ?`,
		status, errorMessage, failureKind, now, now, id)
	if err != nil {
		return err
	}
	return requireHit(res, ErrExecutionNotFound)
}

// NonTerminalExecutions returns all pending or in-progress executions.
func (s *Store) NonTerminalExecutions(ctx context.Context) ([]*models.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE status IN (?, ?) ORDER BY created_at`,
		models.ExecutionPending, models.ExecutionInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func scanExecution(scan func(...any) error) (*models.Execution, error) {
	var e models.Execution
	err := scan(&e.ID, &e.RecordingID, &e.TaskType, &e.Status, &e.Stage, &e.Progress,
		&e.ErrorMessage, &e.FailureKind, &e.CreatedAt, &e.UpdatedAt, &e.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectExecutions(rows *sql.Rows) ([]*models.Execution, error) {
	var out []*models.Execution
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
