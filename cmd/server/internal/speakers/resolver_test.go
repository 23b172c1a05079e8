package speakers

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxscribe/voxscribe/cmd/server/internal/inference"
	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
	"github.com/voxscribe/voxscribe/cmd/server/internal/store"
	"github.com/voxscribe/voxscribe/pkg/similarity"
)

// stubEmbedder returns one fixed vector and counts the spans it was asked to
// embed.
type stubEmbedder struct {
	mu    sync.Mutex
	vec   []float64
	spans [][2]float64
}

func (e *stubEmbedder) Embed(ctx context.Context, audio *inference.Audio, start, end float64) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spans = append(e.spans, [2]float64{start, end})
	out := make([]float64, len(e.vec))
	copy(out, e.vec)
	return out, nil
}

func (e *stubEmbedder) spanCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.spans)
}

type fixture struct {
	store    *store.Store
	indexes  *similarity.Registry
	embedder *stubEmbedder
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	indexes := similarity.NewRegistry(t.TempDir(), slog.Default())
	embedder := &stubEmbedder{vec: []float64{1, 0}}
	resolver := NewResolver(st, indexes, embedder, DefaultPolicy(), slog.Default())
	return &fixture{store: st, indexes: indexes, embedder: embedder, resolver: resolver}
}

func (f *fixture) newRecording(t *testing.T, userID string) *models.Recording {
	t.Helper()
	now := time.Now().UTC()
	rec := &models.Recording{
		ID:           uuid.NewString(),
		UserID:       userID,
		Filename:     "clip.wav",
		StoragePath:  "/media/clip.wav",
		Status:       models.RecordingCompleted,
		CreatedAt:    now,
		LastUpdateAt: now,
	}
	require.NoError(t, f.store.CreateRecording(context.Background(), rec))
	return rec
}

func (f *fixture) newSpeaker(t *testing.T, rec *models.Recording, label string) *models.Speaker {
	t.Helper()
	sp := &models.Speaker{
		ID:          uuid.NewString(),
		RecordingID: rec.ID,
		UserID:      rec.UserID,
		Label:       label,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateSpeaker(context.Background(), sp))
	return sp
}

func (f *fixture) seedIndexEntry(t *testing.T, userID, sourceID, recordingID, name string, vec []float64) {
	t.Helper()
	require.NoError(t, f.indexes.ForUser(userID).Upsert(&similarity.VoiceEntry{
		UserID:      userID,
		Kind:        similarity.KindSpeaker,
		SourceID:    sourceID,
		RecordingID: recordingID,
		Name:        name,
		Vector:      vec,
	}))
}

func segmentsFor(rec *models.Recording, speakerID string, durations ...float64) []*models.TranscriptSegment {
	var out []*models.TranscriptSegment
	cursor := 0.0
	for _, d := range durations {
		out = append(out, &models.TranscriptSegment{
			RecordingID: rec.ID,
			SpeakerID:   speakerID,
			Start:       cursor,
			End:         cursor + d,
			Text:        "words",
		})
		cursor += d
	}
	return out
}

func testAudio() *inference.Audio {
	return &inference.Audio{Path: "clip.wav", SampleCount: 60 * 16000, SampleRate: 16000}
}

func TestEmbedAndSuggestUsesTopFiveLongSegments(t *testing.T) {
	// Arrange: seven segments over the minimum plus two below it
	f := newFixture(t)
	rec := f.newRecording(t, "u1")
	sp := f.newSpeaker(t, rec, "SPEAKER_00")
	segments := segmentsFor(rec, sp.ID, 0.2, 0.4, 1, 2, 3, 4, 5, 6, 7)

	// Act
	err := f.resolver.EmbedAndSuggest(context.Background(), rec, testAudio(), []*models.Speaker{sp}, segments)

	// Assert: only the five longest eligible segments were embedded
	require.NoError(t, err)
	assert.Equal(t, 5, f.embedder.spanCount())
	vec := f.indexes.ForUser("u1").Get(similarity.KindSpeaker, sp.ID)
	require.NotNil(t, vec)
	assert.InDeltaSlice(t, []float64{1, 0}, vec, 1e-9, "mean of identical embeddings is the embedding")
}

func TestEmbedAndSuggestSkipsSpeakerWithOnlyShortSegments(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecording(t, "u1")
	sp := f.newSpeaker(t, rec, "SPEAKER_00")
	segments := segmentsFor(rec, sp.ID, 0.1, 0.2, 0.3)

	err := f.resolver.EmbedAndSuggest(context.Background(), rec, testAudio(), []*models.Speaker{sp}, segments)

	require.NoError(t, err)
	assert.Nil(t, f.indexes.ForUser("u1").Get(similarity.KindSpeaker, sp.ID))
	assert.Zero(t, f.embedder.spanCount())
}

func TestEmbedAndSuggestAttachesNamedSuggestion(t *testing.T) {
	// Arrange: a confirmed voice from another recording, nearly identical
	f := newFixture(t)
	f.seedIndexEntry(t, "u1", "other-speaker", "other-rec", "Alice", []float64{1, 0.05})
	rec := f.newRecording(t, "u1")
	sp := f.newSpeaker(t, rec, "SPEAKER_00")
	segments := segmentsFor(rec, sp.ID, 2, 2)

	// Act
	err := f.resolver.EmbedAndSuggest(context.Background(), rec, testAudio(), []*models.Speaker{sp}, segments)

	// Assert
	require.NoError(t, err)
	got, err := f.store.GetSpeaker(context.Background(), sp.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.SuggestedName)
	require.NotNil(t, got.Confidence)
	assert.Greater(t, *got.Confidence, 0.9)
	assert.False(t, got.Verified)
}

func TestEmbedAndSuggestNeverMatchesOwnRecording(t *testing.T) {
	// A named voice in the same recording must not produce a suggestion.
	f := newFixture(t)
	rec := f.newRecording(t, "u1")
	f.seedIndexEntry(t, "u1", "sibling", rec.ID, "Alice", []float64{1, 0})
	sp := f.newSpeaker(t, rec, "SPEAKER_00")
	segments := segmentsFor(rec, sp.ID, 2, 2)

	err := f.resolver.EmbedAndSuggest(context.Background(), rec, testAudio(), []*models.Speaker{sp}, segments)

	require.NoError(t, err)
	got, err := f.store.GetSpeaker(context.Background(), sp.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SuggestedName)
}

func TestMatchesBelowListFloorNeverSurface(t *testing.T) {
	// Arrange: the only named candidate sits at ~0.4, under the 0.5 floor
	f := newFixture(t)
	f.seedIndexEntry(t, "u1", "named", "rec-a", "Alice", []float64{0.4, 0.9165151389911680})
	rec := f.newRecording(t, "u1")
	sp := f.newSpeaker(t, rec, "SPEAKER_00")
	segments := segmentsFor(rec, sp.ID, 2, 2)

	// Act
	err := f.resolver.EmbedAndSuggest(context.Background(), rec, testAudio(), []*models.Speaker{sp}, segments)

	// Assert: no suggestion is attached and the list stays empty
	require.NoError(t, err)
	got, err := f.store.GetSpeaker(context.Background(), sp.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SuggestedName)
	assert.Nil(t, got.Confidence)
	suggestions, err := f.resolver.SuggestionsFor(context.Background(), sp.ID)
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}

func TestWeakSuggestionSuppressedByStrongerUnnamedVoice(t *testing.T) {
	// Arrange: a lowered floor admits a named candidate at ~0.4 while an
	// unnamed voice scores ~0.8; the weak name must still be withheld.
	f := newFixture(t)
	policy := DefaultPolicy()
	policy.ListFloor = 0.3
	f.resolver = NewResolver(f.store, f.indexes, f.embedder, policy, slog.Default())
	f.seedIndexEntry(t, "u1", "named", "rec-a", "Alice", []float64{0.4, 0.9165151389911680})
	f.seedIndexEntry(t, "u1", "unnamed", "rec-b", "", []float64{0.8, 0.6})
	rec := f.newRecording(t, "u1")
	sp := f.newSpeaker(t, rec, "SPEAKER_00")
	segments := segmentsFor(rec, sp.ID, 2, 2)

	// Act
	err := f.resolver.EmbedAndSuggest(context.Background(), rec, testAudio(), []*models.Speaker{sp}, segments)

	// Assert: the weak name is withheld
	require.NoError(t, err)
	got, err := f.store.GetSpeaker(context.Background(), sp.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SuggestedName)
	assert.Nil(t, got.Confidence)
}

func TestConsolidateGroupsByNameAndCaps(t *testing.T) {
	matches := []similarity.Match{
		{Name: "Alice", Similarity: 0.6},
		{Name: "Alice", Similarity: 0.9},
		{Name: "Bob", Similarity: 0.7},
		{Name: "", Similarity: 0.95},
		{Name: "Carol", Similarity: 0.5},
		{Name: "Dave", Similarity: 0.45},
		{Name: "Erin", Similarity: 0.4},
		{Name: "Frank", Similarity: 0.35},
	}

	out := consolidate(matches, 5)

	require.Len(t, out, 5, "capped and unnamed dropped")
	assert.Equal(t, "Alice", out[0].Name)
	assert.Equal(t, 0.9, out[0].Confidence, "group confidence is the best member")
	assert.Len(t, out[0].Matches, 2)
	assert.Equal(t, "Bob", out[1].Name)
	assert.Equal(t, "Erin", out[4].Name, "weakest name falls off the list")
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Confidence, out[i].Confidence)
	}
}

func TestSuggestionsForReturnsConsolidatedList(t *testing.T) {
	f := newFixture(t)
	f.seedIndexEntry(t, "u1", "a", "rec-a", "Alice", []float64{1, 0.05})
	f.seedIndexEntry(t, "u1", "b", "rec-b", "Bob", []float64{1, 0.4})
	rec := f.newRecording(t, "u1")
	sp := f.newSpeaker(t, rec, "SPEAKER_00")
	segments := segmentsFor(rec, sp.ID, 2, 2)
	require.NoError(t, f.resolver.EmbedAndSuggest(context.Background(), rec, testAudio(), []*models.Speaker{sp}, segments))

	suggestions, err := f.resolver.SuggestionsFor(context.Background(), sp.ID)

	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.Equal(t, "Alice", suggestions[0].Name)
	assert.Equal(t, "Bob", suggestions[1].Name)
}

func TestSuggestionsForSpeakerWithoutEmbedding(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecording(t, "u1")
	sp := f.newSpeaker(t, rec, "SPEAKER_00")

	suggestions, err := f.resolver.SuggestionsFor(context.Background(), sp.ID)

	require.NoError(t, err)
	assert.Empty(t, suggestions)
}
