package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
)

const speakerColumns = `id, recording_id, user_id, label, display_name, verified,
	suggested_name, confidence, COALESCE(profile_id, ''), created_at`

// CreateSpeaker inserts a new diarization-local speaker.
func (s *Store) CreateSpeaker(ctx context.Context, sp *models.Speaker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO speakers (id, recording_id, user_id, label, display_name, verified,
			suggested_name, confidence, profile_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.RecordingID, sp.UserID, sp.Label, sp.DisplayName, sp.Verified,
		sp.SuggestedName, sp.Confidence, nullableID(sp.ProfileID), sp.CreatedAt)
	return err
}

// GetSpeaker returns one speaker by id.
func (s *Store) GetSpeaker(ctx context.Context, id string) (*models.Speaker, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+speakerColumns+` FROM speakers WHERE id = ?`, id)
	sp, err := scanSpeaker(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSpeakerNotFound
	}
	return sp, err
}

// ListSpeakersByRecording returns all speakers of one recording.
func (s *Store) ListSpeakersByRecording(ctx context.Context, recordingID string) ([]*models.Speaker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+speakerColumns+` FROM speakers
		WHERE recording_id = ? ORDER BY label`, recordingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSpeakers(rows)
}

// ListSpeakersByProfile returns all speakers currently linked to one profile.
func (s *Store) ListSpeakersByProfile(ctx context.Context, profileID string) ([]*models.Speaker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+speakerColumns+` FROM speakers
		WHERE profile_id = ? ORDER BY created_at`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSpeakers(rows)
}

// ListUnverifiedSpeakersByName returns the user's unverified speakers whose
// suggested name matches, used for retroactive matching after an identity is
// confirmed.
func (s *Store) ListUnverifiedSpeakersByName(ctx context.Context, userID, name string) ([]*models.Speaker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+speakerColumns+` FROM speakers
		WHERE user_id = ? AND verified = 0 AND suggested_name = ?`, userID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSpeakers(rows)
}

// UpdateSpeakerIdentity overwrites the speaker's identity fields.
func (s *Store) UpdateSpeakerIdentity(ctx context.Context, sp *models.Speaker) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE speakers SET display_name = ?, verified = ?, suggested_name = ?,
			confidence = ?, profile_id = ? WHERE id = ?`,
		sp.DisplayName, sp.Verified, sp.SuggestedName, sp.Confidence,
		nullableID(sp.ProfileID), sp.ID)
	if err != nil {
		return err
	}
	return requireHit(res, ErrSpeakerNotFound)
}

// DeleteSpeaker removes one speaker. Its segments keep their rows with a
// NULL speaker reference unless reassigned first.
func (s *Store) DeleteSpeaker(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM speakers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireHit(res, ErrSpeakerNotFound)
}

// PruneOrphanSpeakers deletes the recording's speakers that own no transcript
// segments and returns their ids. Running it twice is a no-op the second time.
func (s *Store) PruneOrphanSpeakers(ctx context.Context, recordingID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM speakers
		WHERE recording_id = ?
		  AND id NOT IN (SELECT speaker_id FROM transcript_segments WHERE speaker_id IS NOT NULL)`,
		recordingID)
	if err != nil {
		return nil, err
	}
	var orphans []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		orphans = append(orphans, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range orphans {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM speakers WHERE id = ?`, id); err != nil {
			return nil, err
		}
	}
	return orphans, nil
}

func scanSpeaker(scan func(...any) error) (*models.Speaker, error) {
	var sp models.Speaker
	err := scan(&sp.ID, &sp.RecordingID, &sp.UserID, &sp.Label, &sp.DisplayName, &sp.Verified,
		&sp.SuggestedName, &sp.Confidence, &sp.ProfileID, &sp.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func collectSpeakers(rows *sql.Rows) ([]*models.Speaker, error) {
	var out []*models.Speaker
	for rows.Next() {
		sp, err := scanSpeaker(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}
