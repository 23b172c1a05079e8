package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxscribe/voxscribe/cmd/server/internal/device"
	"github.com/voxscribe/voxscribe/cmd/server/internal/inference"
	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
	"github.com/voxscribe/voxscribe/cmd/server/internal/notify"
	"github.com/voxscribe/voxscribe/cmd/server/internal/store"
)

// FakeResolver records pipeline handoffs without doing identity work.
type FakeResolver struct {
	mu           sync.Mutex
	EmbedCalls   int
	PersistCalls int
	LastSpeakers []*models.Speaker
	Err          error
}

func (f *FakeResolver) EmbedAndSuggest(ctx context.Context, rec *models.Recording, audio *inference.Audio,
	speakers []*models.Speaker, segments []*models.TranscriptSegment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EmbedCalls++
	f.LastSpeakers = speakers
	return f.Err
}

func (f *FakeResolver) PersistIndex(userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PersistCalls++
	return nil
}

func (f *FakeResolver) Calls() (embed, persist int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.EmbedCalls, f.PersistCalls
}

// blockingTranscriber parks until released so tests can observe a running
// execution.
type blockingTranscriber struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingTranscriber() *blockingTranscriber {
	return &blockingTranscriber{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingTranscriber) Transcribe(ctx context.Context, audio *inference.Audio, profile device.Profile) (*inference.Transcript, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return &inference.Transcript{Segments: []inference.Segment{{Start: 0, End: 1, Text: "ok"}}, Language: "en"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fixture struct {
	store    *store.Store
	orch     *Orchestrator
	resolver *FakeResolver
	notifier *notify.BufferNotifier
	engines  inference.Engines
}

func newFixture(t *testing.T, engines inference.Engines) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	devices := device.NewManager(device.NewHostAccelerator(), slog.Default())
	resolver := &FakeResolver{}
	notifier := &notify.BufferNotifier{}
	orch := New(st, engines, devices, resolver, notifier, devices.Select("cpu"), 2, slog.Default())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})
	return &fixture{store: st, orch: orch, resolver: resolver, notifier: notifier, engines: engines}
}

func (f *fixture) newRecording(t *testing.T, mediaBytes int) *models.Recording {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, make([]byte, mediaBytes), 0o644))
	now := time.Now().UTC()
	rec := &models.Recording{
		ID:           uuid.NewString(),
		UserID:       "u1",
		Filename:     "clip.wav",
		StoragePath:  path,
		Status:       models.RecordingPending,
		CreatedAt:    now,
		LastUpdateAt: now,
	}
	require.NoError(t, f.store.CreateRecording(context.Background(), rec))
	return rec
}

func (f *fixture) waitTerminal(t *testing.T, executionID string) *models.Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := f.store.GetExecution(context.Background(), executionID)
		require.NoError(t, err)
		if exec.Status.Terminal() {
			return exec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s never reached a terminal status", executionID)
	return nil
}

func TestRunCompletesEndToEnd(t *testing.T) {
	// Arrange: 4 seconds of synthetic audio
	f := newFixture(t, inference.FakeEngines())
	rec := f.newRecording(t, 4000)

	// Act
	exec, err := f.orch.Start(context.Background(), rec.ID)
	require.NoError(t, err)
	final := f.waitTerminal(t, exec.ID)

	// Assert execution outcome
	assert.Equal(t, models.ExecutionCompleted, final.Status)
	assert.Equal(t, 1.0, final.Progress)
	assert.Equal(t, StageFinalize, final.Stage)
	require.NotNil(t, final.CompletedAt)

	// Recording is complete with metadata and no active execution
	got, err := f.store.GetRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingCompleted, got.Status)
	assert.InDelta(t, 4.0, got.Duration, 1e-9)
	assert.Equal(t, "en", got.Language)
	assert.Empty(t, got.ActiveExecution)

	// Transcript persisted with speaker attribution
	segments, err := f.store.ListSegments(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, segments, 4)
	for _, seg := range segments {
		assert.NotEmpty(t, seg.SpeakerID)
	}
	speakers, err := f.store.ListSpeakersByRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Len(t, speakers, 2, "fake diarizer alternates two speakers")

	// Identity resolution was invoked once
	embed, persist := f.resolver.Calls()
	assert.Equal(t, 1, embed)
	assert.Equal(t, 1, persist)
}

func TestRunProgressIsMonotonic(t *testing.T) {
	f := newFixture(t, inference.FakeEngines())
	rec := f.newRecording(t, 3000)

	exec, err := f.orch.Start(context.Background(), rec.ID)
	require.NoError(t, err)
	f.waitTerminal(t, exec.ID)

	events := f.notifier.Events()
	require.NotEmpty(t, events)
	last := -1.0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Percent, last, "progress must never move backwards")
		last = ev.Percent
	}
	assert.Equal(t, 100.0, events[len(events)-1].Percent)
}

func TestRunEmptyAudioFailsAsNoAudioContent(t *testing.T) {
	// Arrange: zero-byte media decodes to zero samples
	f := newFixture(t, inference.FakeEngines())
	rec := f.newRecording(t, 0)

	// Act
	exec, err := f.orch.Start(context.Background(), rec.ID)
	require.NoError(t, err)
	final := f.waitTerminal(t, exec.ID)

	// Assert
	assert.Equal(t, models.ExecutionFailed, final.Status)
	assert.Equal(t, string(FailureNoAudioContent), final.FailureKind)
	got, err := f.store.GetRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingError, got.Status)
	assert.Contains(t, got.LastErrorMessage, "NO_AUDIO_CONTENT", "recording keeps the raw cause")
	assert.Empty(t, got.ActiveExecution)
	embed, _ := f.resolver.Calls()
	assert.Zero(t, embed, "identity work must not run on failure")

	// The user-facing guidance is delivered on the notification channel.
	events := f.notifier.Events()
	require.NotEmpty(t, events)
	assert.Contains(t, events[len(events)-1].Message, "no decodable audio")
}

func TestRunWhitespaceTranscriptFailsAsNoSpeechContent(t *testing.T) {
	engines := inference.FakeEngines()
	engines.Transcriber = &inference.FakeTranscriber{Script: []string{"  ", "\t", " "}}
	f := newFixture(t, engines)
	rec := f.newRecording(t, 3000)

	exec, err := f.orch.Start(context.Background(), rec.ID)
	require.NoError(t, err)
	final := f.waitTerminal(t, exec.ID)

	assert.Equal(t, models.ExecutionFailed, final.Status)
	assert.Equal(t, string(FailureNoSpeechContent), final.FailureKind)
}

func TestStartRejectsSecondActiveExecution(t *testing.T) {
	// Arrange: first execution parked inside speech_to_text
	engines := inference.FakeEngines()
	blocker := newBlockingTranscriber()
	engines.Transcriber = blocker
	f := newFixture(t, engines)
	rec := f.newRecording(t, 2000)

	first, err := f.orch.Start(context.Background(), rec.ID)
	require.NoError(t, err)
	<-blocker.started

	// Act
	_, err = f.orch.Start(context.Background(), rec.ID)

	// Assert
	assert.ErrorIs(t, err, ErrExecutionActive)

	// Release and let the first run finish cleanly
	close(blocker.release)
	final := f.waitTerminal(t, first.ID)
	assert.Equal(t, models.ExecutionCompleted, final.Status)
}

func TestCancelStopsAtStageBoundary(t *testing.T) {
	// Arrange: execution parked inside speech_to_text
	engines := inference.FakeEngines()
	blocker := newBlockingTranscriber()
	engines.Transcriber = blocker
	f := newFixture(t, engines)
	rec := f.newRecording(t, 2000)

	exec, err := f.orch.Start(context.Background(), rec.ID)
	require.NoError(t, err)
	<-blocker.started

	// Act
	require.True(t, f.orch.Cancel(exec.ID))
	final := f.waitTerminal(t, exec.ID)

	// Assert: cancelled execution, recording restartable
	assert.Equal(t, models.ExecutionCancelled, final.Status)
	assert.Equal(t, string(FailureCancelled), final.FailureKind)
	got, err := f.store.GetRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingPending, got.Status)
	assert.Empty(t, got.ActiveExecution)

	// A new start must now be accepted
	_, err = f.orch.Start(context.Background(), rec.ID)
	assert.NoError(t, err)
}

func TestCancelUnknownExecution(t *testing.T) {
	f := newFixture(t, inference.FakeEngines())

	assert.False(t, f.orch.Cancel("missing"))
}

func TestRunEngineErrorIsClassified(t *testing.T) {
	engines := inference.FakeEngines()
	engines.Transcriber = &inference.FakeTranscriber{Err: errors.New("CUDA error: out of memory on device 0")}
	f := newFixture(t, engines)
	rec := f.newRecording(t, 2000)

	exec, err := f.orch.Start(context.Background(), rec.ID)
	require.NoError(t, err)
	final := f.waitTerminal(t, exec.ID)

	assert.Equal(t, models.ExecutionFailed, final.Status)
	assert.Equal(t, string(FailureDeviceOOM), final.FailureKind)
	got, err := f.store.GetRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LastErrorMessage, "out of memory", "raw engine error, not the guidance text")
	events := f.notifier.Events()
	require.NotEmpty(t, events)
	assert.Contains(t, events[len(events)-1].Message, "shorter file")
}

func TestRunFailureAfterSpeakerMaterializationPrunesRows(t *testing.T) {
	// Arrange: speaker rows get created at assign_speakers, then the
	// matching stage blows up before any segment is persisted
	f := newFixture(t, inference.FakeEngines())
	f.resolver.Err = errors.New("embedding backend unavailable")
	rec := f.newRecording(t, 3000)

	// Act
	exec, err := f.orch.Start(context.Background(), rec.ID)
	require.NoError(t, err)
	final := f.waitTerminal(t, exec.ID)

	// Assert: no zero-segment speaker rows survive the failure
	require.Equal(t, models.ExecutionFailed, final.Status)
	speakers, err := f.store.ListSpeakersByRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Empty(t, speakers)
	got, err := f.store.GetRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LastErrorMessage, "embedding backend unavailable")
}

func TestStartUnknownRecording(t *testing.T) {
	f := newFixture(t, inference.FakeEngines())

	_, err := f.orch.Start(context.Background(), "missing")

	assert.ErrorIs(t, err, store.ErrRecordingNotFound)
}
