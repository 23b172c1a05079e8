package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
)

// CreateProfile inserts a new speaker profile.
func (s *Store) CreateProfile(ctx context.Context, p *models.SpeakerProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO speaker_profiles (id, user_id, name, created_at)
		VALUES (?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.CreatedAt)
	return err
}

// GetProfile returns one profile by id.
func (s *Store) GetProfile(ctx context.Context, id string) (*models.SpeakerProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at FROM speaker_profiles WHERE id = ?`, id)
	var p models.SpeakerProfile
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindProfileByName returns the user's profile with the given name, or
// ErrProfileNotFound.
func (s *Store) FindProfileByName(ctx context.Context, userID, name string) (*models.SpeakerProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at FROM speaker_profiles WHERE user_id = ? AND name = ?`,
		userID, name)
	var p models.SpeakerProfile
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfilesByUser returns the user's profiles ordered by name.
func (s *Store) ListProfilesByUser(ctx context.Context, userID string) ([]*models.SpeakerProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, created_at FROM speaker_profiles WHERE user_id = ? ORDER BY name`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SpeakerProfile
	for rows.Next() {
		var p models.SpeakerProfile
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeleteProfile removes one profile. Linked speakers keep their rows with
// the profile reference cleared.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM speaker_profiles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireHit(res, ErrProfileNotFound)
}
