// Package speakers resolves diarization-local voice labels into persistent
// identities: embedding extraction, cross-recording matching, suggestions,
// merge and profile management.
package speakers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/voxscribe/voxscribe/cmd/server/internal/inference"
	"github.com/voxscribe/voxscribe/cmd/server/internal/metrics"
	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
	"github.com/voxscribe/voxscribe/cmd/server/internal/store"
	"github.com/voxscribe/voxscribe/pkg/similarity"
)

// Policy holds the tunable matching constants.
type Policy struct {
	// ListFloor is the minimum similarity for a match to appear in a
	// suggestion list at all.
	ListFloor float64
	// AutoSuggestThreshold is the minimum confidence for a name to be
	// attached to a speaker automatically.
	AutoSuggestThreshold float64
	// SuppressionMargin suppresses a weak named suggestion when an
	// unnamed voice outscores it by more than this margin.
	SuppressionMargin float64
	// SuggestionCap bounds the consolidated suggestion list.
	SuggestionCap int
	// MinSegmentSeconds excludes segments too short to embed reliably.
	MinSegmentSeconds float64
	// TopSegments bounds how many of the longest segments feed the
	// representative embedding.
	TopSegments int
}

// DefaultPolicy returns the production matching constants.
func DefaultPolicy() Policy {
	return Policy{
		ListFloor:            0.5,
		AutoSuggestThreshold: 0.5,
		SuppressionMargin:    0.3,
		SuggestionCap:        5,
		MinSegmentSeconds:    0.5,
		TopSegments:          5,
	}
}

// Resolver owns speaker identity state across the store and the per-user
// voice indexes.
type Resolver struct {
	store    *store.Store
	indexes  *similarity.Registry
	embedder inference.Embedder
	policy   Policy
	logger   *slog.Logger
}

// NewResolver creates the identity resolver.
func NewResolver(st *store.Store, indexes *similarity.Registry, embedder inference.Embedder,
	policy Policy, logger *slog.Logger) *Resolver {
	return &Resolver{store: st, indexes: indexes, embedder: embedder, policy: policy, logger: logger}
}

// EmbedAndSuggest extracts a representative voice embedding for each speaker,
// indexes it and attaches identity suggestions. Speakers with no segment long
// enough to embed are skipped; they stay unmatched, which is valid output.
func (r *Resolver) EmbedAndSuggest(ctx context.Context, rec *models.Recording, audio *inference.Audio,
	speakers []*models.Speaker, segments []*models.TranscriptSegment) error {

	idx := r.indexes.ForUser(rec.UserID)

	bySpeaker := make(map[string][]*models.TranscriptSegment)
	for _, seg := range segments {
		if seg.SpeakerID != "" {
			bySpeaker[seg.SpeakerID] = append(bySpeaker[seg.SpeakerID], seg)
		}
	}

	for _, sp := range speakers {
		embedding, err := r.representativeEmbedding(ctx, audio, bySpeaker[sp.ID])
		if err != nil {
			return fmt.Errorf("embed speaker %s: %w", sp.Label, err)
		}
		if embedding == nil {
			r.logger.Debug("speaker has no embeddable segments",
				slog.String("speaker_id", sp.ID), slog.String("label", sp.Label))
			continue
		}

		if err := idx.Upsert(&similarity.VoiceEntry{
			UserID:      rec.UserID,
			Kind:        similarity.KindSpeaker,
			SourceID:    sp.ID,
			RecordingID: rec.ID,
			Vector:      embedding,
		}); err != nil {
			return fmt.Errorf("index speaker %s: %w", sp.Label, err)
		}

		if err := r.applySuggestion(ctx, sp, embedding); err != nil {
			return fmt.Errorf("suggest identity for %s: %w", sp.Label, err)
		}
	}
	return nil
}

// PersistIndex flushes the user's voice index to disk.
func (r *Resolver) PersistIndex(userID string) error {
	return r.indexes.ForUser(userID).Save()
}

// representativeEmbedding embeds the speaker's longest segments and averages
// them. Returns nil when no segment meets the minimum length.
func (r *Resolver) representativeEmbedding(ctx context.Context, audio *inference.Audio,
	segments []*models.TranscriptSegment) ([]float64, error) {

	eligible := make([]*models.TranscriptSegment, 0, len(segments))
	for _, seg := range segments {
		if seg.End-seg.Start >= r.policy.MinSegmentSeconds {
			eligible = append(eligible, seg)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].End-eligible[i].Start > eligible[j].End-eligible[j].Start
	})
	if len(eligible) > r.policy.TopSegments {
		eligible = eligible[:r.policy.TopSegments]
	}

	vectors := make([][]float64, 0, len(eligible))
	for _, seg := range eligible {
		vec, err := r.embedder.Embed(ctx, audio, seg.Start, seg.End)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return similarity.MeanVector(vectors)
}

// Suggestion is one consolidated identity candidate for a speaker.
type Suggestion struct {
	Name       string             `json:"name"`
	Confidence float64            `json:"confidence"`
	Matches    []similarity.Match `json:"matches"`
}

// SuggestionsFor consolidates the index matches for one speaker into named
// candidates: grouped by name, confidence is the group's best similarity,
// ordered descending and capped.
func (r *Resolver) SuggestionsFor(ctx context.Context, speakerID string) ([]Suggestion, error) {
	sp, err := r.store.GetSpeaker(ctx, speakerID)
	if err != nil {
		return nil, err
	}
	idx := r.indexes.ForUser(sp.UserID)
	embedding := idx.Get(similarity.KindSpeaker, sp.ID)
	if embedding == nil {
		return nil, nil
	}
	matches := r.queryMatches(idx, sp, embedding)
	return consolidate(matches, r.policy.SuggestionCap), nil
}

func (r *Resolver) queryMatches(idx *similarity.VoiceIndex, sp *models.Speaker, embedding []float64) []similarity.Match {
	// Generous topK: consolidation caps the final list.
	return idx.Query(embedding, 4*r.policy.SuggestionCap, r.policy.ListFloor, similarity.QueryOptions{
		ExcludeRecording: sp.RecordingID,
	})
}

// consolidate groups matches by name. Unnamed matches carry no identity and
// are dropped from the list.
func consolidate(matches []similarity.Match, limit int) []Suggestion {
	byName := make(map[string]*Suggestion)
	var order []string
	for _, m := range matches {
		if m.Name == "" {
			continue
		}
		s, ok := byName[m.Name]
		if !ok {
			s = &Suggestion{Name: m.Name}
			byName[m.Name] = s
			order = append(order, m.Name)
		}
		s.Matches = append(s.Matches, m)
		if m.Similarity > s.Confidence {
			s.Confidence = m.Similarity
		}
	}

	out := make([]Suggestion, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// applySuggestion attaches the best named candidate to the speaker. A weak
// named candidate is suppressed when an unnamed voice resembles the speaker
// far more closely, since the name would then likely be wrong.
func (r *Resolver) applySuggestion(ctx context.Context, sp *models.Speaker, embedding []float64) error {
	idx := r.indexes.ForUser(sp.UserID)
	matches := r.queryMatches(idx, sp, embedding)
	suggestions := consolidate(matches, r.policy.SuggestionCap)
	if len(suggestions) == 0 {
		return nil
	}

	best := suggestions[0]
	bestUnnamed := 0.0
	for _, m := range matches {
		if m.Name == "" && m.Similarity > bestUnnamed {
			bestUnnamed = m.Similarity
		}
	}
	if best.Confidence < r.policy.AutoSuggestThreshold &&
		bestUnnamed > best.Confidence+r.policy.SuppressionMargin {
		metrics.RecordSuggestion("suppressed")
		r.logger.Debug("suggestion suppressed",
			slog.String("speaker_id", sp.ID),
			slog.String("name", best.Name),
			slog.Float64("confidence", best.Confidence),
			slog.Float64("best_unnamed", bestUnnamed),
		)
		return nil
	}

	conf := best.Confidence
	sp.SuggestedName = best.Name
	sp.Confidence = &conf
	if err := r.store.UpdateSpeakerIdentity(ctx, sp); err != nil {
		return err
	}
	metrics.RecordSuggestion("offered")
	return nil
}
