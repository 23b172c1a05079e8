package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRecording(t *testing.T, s *Store, userID string) *models.Recording {
	t.Helper()
	now := time.Now().UTC()
	r := &models.Recording{
		ID:           uuid.NewString(),
		UserID:       userID,
		Filename:     "standup.wav",
		StoragePath:  "/media/standup.wav",
		Status:       models.RecordingPending,
		CreatedAt:    now,
		LastUpdateAt: now,
	}
	require.NoError(t, s.CreateRecording(context.Background(), r))
	return r
}

func newTestExecution(t *testing.T, s *Store, recordingID string, status models.ExecutionStatus) *models.Execution {
	t.Helper()
	now := time.Now().UTC()
	e := &models.Execution{
		ID:          uuid.NewString(),
		RecordingID: recordingID,
		TaskType:    models.TaskTranscription,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateExecution(context.Background(), e))
	return e
}

func newTestSpeaker(t *testing.T, s *Store, recordingID, userID, label string) *models.Speaker {
	t.Helper()
	sp := &models.Speaker{
		ID:          uuid.NewString(),
		RecordingID: recordingID,
		UserID:      userID,
		Label:       label,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.CreateSpeaker(context.Background(), sp))
	return sp
}

func TestRecordingLifecycle(t *testing.T) {
	// Arrange
	s := newTestStore(t)
	ctx := context.Background()
	r := newTestRecording(t, s, "u1")

	// Act
	require.NoError(t, s.SetRecordingStatus(ctx, r.ID, models.RecordingProcessing, ""))
	require.NoError(t, s.SetRecordingMetadata(ctx, r.ID, 123.5, "en"))
	got, err := s.GetRecording(ctx, r.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, models.RecordingProcessing, got.Status)
	assert.Equal(t, 123.5, got.Duration)
	assert.Equal(t, "en", got.Language)
	assert.True(t, got.LastUpdateAt.After(r.LastUpdateAt) || got.LastUpdateAt.Equal(r.LastUpdateAt))
}

func TestGetRecordingNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRecording(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrRecordingNotFound)
}

func TestSetRecordingStatusStoresLastError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := newTestRecording(t, s, "u1")

	require.NoError(t, s.SetRecordingStatus(ctx, r.ID, models.RecordingError, "transcription failed: out of memory"))

	got, err := s.GetRecording(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingError, got.Status)
	assert.Equal(t, "transcription failed: out of memory", got.LastErrorMessage)
}

func TestActiveExecutionForRecording(t *testing.T) {
	// Arrange: one terminal and one active execution
	s := newTestStore(t)
	ctx := context.Background()
	r := newTestRecording(t, s, "u1")
	done := newTestExecution(t, s, r.ID, models.ExecutionCompleted)
	active := newTestExecution(t, s, r.ID, models.ExecutionInProgress)

	// Act
	got, err := s.ActiveExecutionForRecording(ctx, r.ID)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, active.ID, got.ID)
	assert.NotEqual(t, done.ID, got.ID)
}

func TestActiveExecutionForRecordingNoneActive(t *testing.T) {
	s := newTestStore(t)
	r := newTestRecording(t, s, "u1")
	newTestExecution(t, s, r.ID, models.ExecutionFailed)

	got, err := s.ActiveExecutionForRecording(context.Background(), r.ID)

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExecutionProgressAndFinish(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := newTestRecording(t, s, "u1")
	e := newTestExecution(t, s, r.ID, models.ExecutionPending)

	require.NoError(t, s.UpdateExecutionProgress(ctx, e.ID, "speech_to_text", 0.25))
	require.NoError(t, s.FinishExecution(ctx, e.ID, models.ExecutionFailed, "boom", "internal"))

	got, err := s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, got.Status)
	assert.Equal(t, "speech_to_text", got.Stage)
	assert.Equal(t, 0.25, got.Progress)
	assert.Equal(t, "boom", got.ErrorMessage)
	assert.Equal(t, "internal", got.FailureKind)
	require.NotNil(t, got.CompletedAt)
}

func TestReplaceSegmentsSwapsTranscript(t *testing.T) {
	// Arrange
	s := newTestStore(t)
	ctx := context.Background()
	r := newTestRecording(t, s, "u1")
	sp := newTestSpeaker(t, s, r.ID, "u1", "SPEAKER_00")
	first := []*models.TranscriptSegment{
		{RecordingID: r.ID, SpeakerID: sp.ID, Start: 0, End: 1, Text: "old"},
	}
	require.NoError(t, s.ReplaceSegments(ctx, r.ID, first))

	// Act: replace with a different transcript
	second := []*models.TranscriptSegment{
		{RecordingID: r.ID, SpeakerID: sp.ID, Start: 0, End: 2, Text: "hello"},
		{RecordingID: r.ID, SpeakerID: sp.ID, Start: 2, End: 4, Text: "world"},
	}
	require.NoError(t, s.ReplaceSegments(ctx, r.ID, second))

	// Assert
	got, err := s.ListSegments(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "world", got[1].Text)
}

func TestReassignSegments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := newTestRecording(t, s, "u1")
	source := newTestSpeaker(t, s, r.ID, "u1", "SPEAKER_00")
	target := newTestSpeaker(t, s, r.ID, "u1", "SPEAKER_01")
	require.NoError(t, s.ReplaceSegments(ctx, r.ID, []*models.TranscriptSegment{
		{RecordingID: r.ID, SpeakerID: source.ID, Start: 0, End: 1, Text: "a"},
		{RecordingID: r.ID, SpeakerID: source.ID, Start: 1, End: 2, Text: "b"},
		{RecordingID: r.ID, SpeakerID: target.ID, Start: 2, End: 3, Text: "c"},
	}))

	moved, err := s.ReassignSegments(ctx, source.ID, target.ID)

	require.NoError(t, err)
	assert.Equal(t, int64(2), moved)
	n, err := s.CountSegmentsBySpeaker(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPruneOrphanSpeakersIsIdempotent(t *testing.T) {
	// Arrange: one speaker with segments, one without
	s := newTestStore(t)
	ctx := context.Background()
	r := newTestRecording(t, s, "u1")
	kept := newTestSpeaker(t, s, r.ID, "u1", "SPEAKER_00")
	orphan := newTestSpeaker(t, s, r.ID, "u1", "SPEAKER_01")
	require.NoError(t, s.ReplaceSegments(ctx, r.ID, []*models.TranscriptSegment{
		{RecordingID: r.ID, SpeakerID: kept.ID, Start: 0, End: 1, Text: "x"},
	}))

	// Act
	removed, err := s.PruneOrphanSpeakers(ctx, r.ID)
	require.NoError(t, err)
	removedAgain, err := s.PruneOrphanSpeakers(ctx, r.ID)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, []string{orphan.ID}, removed)
	assert.Empty(t, removedAgain, "second prune must find nothing")
	_, err = s.GetSpeaker(ctx, orphan.ID)
	assert.ErrorIs(t, err, ErrSpeakerNotFound)
	_, err = s.GetSpeaker(ctx, kept.ID)
	assert.NoError(t, err)
}

func TestUpdateSpeakerIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := newTestRecording(t, s, "u1")
	sp := newTestSpeaker(t, s, r.ID, "u1", "SPEAKER_00")
	conf := 0.87

	sp.DisplayName = "Alice"
	sp.Verified = true
	sp.SuggestedName = ""
	sp.Confidence = &conf
	require.NoError(t, s.UpdateSpeakerIdentity(ctx, sp))

	got, err := s.GetSpeaker(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.True(t, got.Verified)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.87, *got.Confidence, 1e-9)
}

func TestListUnverifiedSpeakersByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := newTestRecording(t, s, "u1")
	match := newTestSpeaker(t, s, r.ID, "u1", "SPEAKER_00")
	match.SuggestedName = "Bob"
	require.NoError(t, s.UpdateSpeakerIdentity(ctx, match))
	verified := newTestSpeaker(t, s, r.ID, "u1", "SPEAKER_01")
	verified.SuggestedName = "Bob"
	verified.Verified = true
	require.NoError(t, s.UpdateSpeakerIdentity(ctx, verified))

	got, err := s.ListUnverifiedSpeakersByName(ctx, "u1", "Bob")

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, match.ID, got[0].ID)
}

func TestProfileCRUDAndSetNullOnDelete(t *testing.T) {
	// Arrange
	s := newTestStore(t)
	ctx := context.Background()
	r := newTestRecording(t, s, "u1")
	p := &models.SpeakerProfile{ID: uuid.NewString(), UserID: "u1", Name: "Alice", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateProfile(ctx, p))
	sp := newTestSpeaker(t, s, r.ID, "u1", "SPEAKER_00")
	sp.ProfileID = p.ID
	require.NoError(t, s.UpdateSpeakerIdentity(ctx, sp))

	// Act
	byName, err := s.FindProfileByName(ctx, "u1", "Alice")
	require.NoError(t, err)
	require.NoError(t, s.DeleteProfile(ctx, p.ID))

	// Assert: speaker survives with the profile link cleared
	assert.Equal(t, p.ID, byName.ID)
	got, err := s.GetSpeaker(ctx, sp.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ProfileID)
}

func TestDeleteRecordingCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := newTestRecording(t, s, "u1")
	e := newTestExecution(t, s, r.ID, models.ExecutionCompleted)
	sp := newTestSpeaker(t, s, r.ID, "u1", "SPEAKER_00")
	require.NoError(t, s.ReplaceSegments(ctx, r.ID, []*models.TranscriptSegment{
		{RecordingID: r.ID, SpeakerID: sp.ID, Start: 0, End: 1, Text: "x"},
	}))

	require.NoError(t, s.DeleteRecording(ctx, r.ID))

	_, err := s.GetExecution(ctx, e.ID)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	_, err = s.GetSpeaker(ctx, sp.ID)
	assert.ErrorIs(t, err, ErrSpeakerNotFound)
	segs, err := s.ListSegments(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestProcessingRecordingsOlderThan(t *testing.T) {
	// Arrange: two processing recordings, only one past the cutoff
	s := newTestStore(t)
	ctx := context.Background()
	old := newTestRecording(t, s, "u1")
	fresh := newTestRecording(t, s, "u2")
	require.NoError(t, s.SetRecordingStatus(ctx, old.ID, models.RecordingProcessing, ""))
	require.NoError(t, s.SetRecordingStatus(ctx, fresh.ID, models.RecordingProcessing, ""))

	// Act: cutoff in the future catches both, user filter narrows to one
	cutoff := time.Now().UTC().Add(time.Hour)
	all, err := s.ProcessingRecordingsOlderThan(ctx, cutoff, "")
	require.NoError(t, err)
	scoped, err := s.ProcessingRecordingsOlderThan(ctx, cutoff, "u2")
	require.NoError(t, err)

	// Assert
	assert.Len(t, all, 2)
	require.Len(t, scoped, 1)
	assert.Equal(t, fresh.ID, scoped[0].ID)
	none, err := s.ProcessingRecordingsOlderThan(ctx, time.Now().UTC().Add(-time.Hour), "")
	require.NoError(t, err)
	assert.Empty(t, none)
}
