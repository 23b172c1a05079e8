package store

import (
	"context"

	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
)

// ReplaceSegments atomically swaps the recording's transcript for the given
// segments. Used by the finalize stage, which always writes the full result.
func (s *Store) ReplaceSegments(ctx context.Context, recordingID string, segments []*models.TranscriptSegment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM transcript_segments WHERE recording_id = ?`, recordingID); err != nil {
		return err
	}
	for _, seg := range segments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transcript_segments (recording_id, speaker_id, start_time, end_time, text)
			VALUES (?, ?, ?, ?, ?)`,
			recordingID, nullableID(seg.SpeakerID), seg.Start, seg.End, seg.Text); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListSegments returns the recording's transcript in temporal order.
func (s *Store) ListSegments(ctx context.Context, recordingID string) ([]*models.TranscriptSegment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recording_id, COALESCE(speaker_id, ''), start_time, end_time, text
		FROM transcript_segments WHERE recording_id = ? ORDER BY start_time`, recordingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TranscriptSegment
	for rows.Next() {
		var seg models.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.RecordingID, &seg.SpeakerID, &seg.Start, &seg.End, &seg.Text); err != nil {
			return nil, err
		}
		out = append(out, &seg)
	}
	return out, rows.Err()
}

// ReassignSegments moves every segment of the source speaker to the target
// speaker and returns the number of segments moved.
func (s *Store) ReassignSegments(ctx context.Context, sourceSpeakerID, targetSpeakerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transcript_segments SET speaker_id = ? WHERE speaker_id = ?`,
		targetSpeakerID, sourceSpeakerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountSegmentsBySpeaker returns the number of segments attributed to one
// speaker.
func (s *Store) CountSegmentsBySpeaker(ctx context.Context, speakerID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcript_segments WHERE speaker_id = ?`, speakerID).Scan(&n)
	return n, err
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
