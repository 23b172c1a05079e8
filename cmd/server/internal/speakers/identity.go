package speakers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxscribe/voxscribe/cmd/server/internal/metrics"
	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
	"github.com/voxscribe/voxscribe/cmd/server/internal/store"
	"github.com/voxscribe/voxscribe/pkg/similarity"
)

// ResolveAction is a user decision about a speaker's suggested identity.
type ResolveAction string

const (
	ActionAccept        ResolveAction = "accept"
	ActionReject        ResolveAction = "reject"
	ActionCreateProfile ResolveAction = "create_profile"
)

var (
	ErrInvalidAction = errors.New("INVALID_RESOLVE_ACTION")
	ErrNameRequired  = errors.New("SPEAKER_NAME_REQUIRED")
	ErrMergeSelf     = errors.New("MERGE_SELF")
	ErrMergeScope    = errors.New("MERGE_DIFFERENT_RECORDING")
)

// Resolve applies a user decision to one speaker.
//
// accept confirms the suggested (or explicitly provided) name; the speaker is
// linked to the matching profile when one exists. reject clears the
// suggestion and any profile assignment and marks the speaker reviewed; a
// profile the speaker is removed from is recomputed over its remaining
// members. create_profile confirms the name
// and creates (or reuses) a persistent profile for it. accept and
// create_profile both trigger best-effort retroactive matching across the
// user's other recordings.
func (r *Resolver) Resolve(ctx context.Context, speakerID string, action ResolveAction, name string) (*models.Speaker, error) {
	sp, err := r.store.GetSpeaker(ctx, speakerID)
	if err != nil {
		return nil, err
	}

	formerProfileID := ""

	switch action {
	case ActionAccept:
		if name == "" {
			name = sp.SuggestedName
		}
		if name == "" {
			return nil, ErrNameRequired
		}
		sp.DisplayName = name
		sp.Verified = true
		sp.SuggestedName = ""
		sp.Confidence = nil

		// Link to an existing profile of that name, if any.
		profile, err := r.store.FindProfileByName(ctx, sp.UserID, name)
		switch {
		case err == nil:
			sp.ProfileID = profile.ID
		case errors.Is(err, store.ErrProfileNotFound):
			// Confirmed identity without a profile is fine.
		default:
			return nil, err
		}
		metrics.RecordSuggestion("accepted")

	case ActionReject:
		formerProfileID = sp.ProfileID
		sp.ProfileID = ""
		sp.SuggestedName = ""
		sp.Confidence = nil
		sp.Verified = true
		metrics.RecordSuggestion("rejected")

	case ActionCreateProfile:
		if name == "" {
			name = sp.SuggestedName
		}
		if name == "" {
			return nil, ErrNameRequired
		}
		profile, err := r.store.FindProfileByName(ctx, sp.UserID, name)
		if errors.Is(err, store.ErrProfileNotFound) {
			profile = &models.SpeakerProfile{
				ID:        uuid.NewString(),
				UserID:    sp.UserID,
				Name:      name,
				CreatedAt: time.Now().UTC(),
			}
			if err := r.store.CreateProfile(ctx, profile); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
		sp.DisplayName = name
		sp.Verified = true
		sp.SuggestedName = ""
		sp.Confidence = nil
		sp.ProfileID = profile.ID
		metrics.RecordSuggestion("created_profile")

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidAction, action)
	}

	if err := r.store.UpdateSpeakerIdentity(ctx, sp); err != nil {
		return nil, err
	}
	r.renameIndexEntry(sp)

	if sp.ProfileID != "" {
		if err := r.RecomputeProfile(ctx, sp.ProfileID); err != nil {
			return nil, err
		}
	}
	if formerProfileID != "" {
		if err := r.RecomputeProfile(ctx, formerProfileID); err != nil {
			return nil, err
		}
	}
	if action == ActionAccept || action == ActionCreateProfile {
		r.retroactiveMatch(ctx, sp)
	}
	return sp, nil
}

// Merge folds the source speaker into the target: segments are reparented,
// the target's stored embedding becomes the elementwise mean of both, the
// source disappears, and any affected profiles are recomputed. Both speakers
// must belong to the same recording.
func (r *Resolver) Merge(ctx context.Context, sourceID, targetID string) (*models.Speaker, error) {
	if sourceID == targetID {
		return nil, ErrMergeSelf
	}
	source, err := r.store.GetSpeaker(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	target, err := r.store.GetSpeaker(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if source.RecordingID != target.RecordingID {
		return nil, fmt.Errorf("%w: %s vs %s", ErrMergeScope, source.RecordingID, target.RecordingID)
	}

	if _, err := r.store.ReassignSegments(ctx, source.ID, target.ID); err != nil {
		return nil, err
	}

	idx := r.indexes.ForUser(target.UserID)
	sourceVec := idx.Get(similarity.KindSpeaker, source.ID)
	targetVec := idx.Get(similarity.KindSpeaker, target.ID)
	if sourceVec != nil && targetVec != nil {
		merged, err := similarity.MeanVector([][]float64{sourceVec, targetVec})
		if err != nil {
			return nil, fmt.Errorf("merge embeddings: %w", err)
		}
		if err := idx.Upsert(&similarity.VoiceEntry{
			UserID:      target.UserID,
			Kind:        similarity.KindSpeaker,
			SourceID:    target.ID,
			RecordingID: target.RecordingID,
			Name:        target.DisplayName,
			Vector:      merged,
		}); err != nil {
			return nil, err
		}
	} else if sourceVec != nil && targetVec == nil {
		// Target had nothing embeddable; the source's voice is all we have.
		if err := idx.Upsert(&similarity.VoiceEntry{
			UserID:      target.UserID,
			Kind:        similarity.KindSpeaker,
			SourceID:    target.ID,
			RecordingID: target.RecordingID,
			Name:        target.DisplayName,
			Vector:      sourceVec,
		}); err != nil {
			return nil, err
		}
	}
	idx.Delete(similarity.KindSpeaker, source.ID)

	if err := r.store.DeleteSpeaker(ctx, source.ID); err != nil {
		return nil, err
	}

	for _, profileID := range []string{source.ProfileID, target.ProfileID} {
		if profileID == "" {
			continue
		}
		if err := r.RecomputeProfile(ctx, profileID); err != nil {
			return nil, err
		}
	}
	idx.SaveAsync()
	return target, nil
}

// RecomputeProfile rebuilds the profile's consolidated embedding as the mean
// of all current members' stored embeddings. Correctness over throughput: the
// full membership is re-read every time, so the result never drifts.
func (r *Resolver) RecomputeProfile(ctx context.Context, profileID string) error {
	profile, err := r.store.GetProfile(ctx, profileID)
	if err != nil {
		return err
	}
	members, err := r.store.ListSpeakersByProfile(ctx, profileID)
	if err != nil {
		return err
	}

	idx := r.indexes.ForUser(profile.UserID)
	var vectors [][]float64
	for _, member := range members {
		if vec := idx.Get(similarity.KindSpeaker, member.ID); vec != nil {
			vectors = append(vectors, vec)
		}
	}
	if len(vectors) == 0 {
		idx.Delete(similarity.KindProfile, profileID)
		return nil
	}

	consolidated, err := similarity.MeanVector(vectors)
	if err != nil {
		return fmt.Errorf("recompute profile %s: %w", profileID, err)
	}
	return idx.Upsert(&similarity.VoiceEntry{
		UserID:   profile.UserID,
		Kind:     similarity.KindProfile,
		SourceID: profileID,
		Name:     profile.Name,
		Vector:   consolidated,
	})
}

// renameIndexEntry refreshes the display name carried on the speaker's index
// entry so future matches surface the confirmed identity.
func (r *Resolver) renameIndexEntry(sp *models.Speaker) {
	idx := r.indexes.ForUser(sp.UserID)
	vec := idx.Get(similarity.KindSpeaker, sp.ID)
	if vec == nil {
		return
	}
	if err := idx.Upsert(&similarity.VoiceEntry{
		UserID:      sp.UserID,
		Kind:        similarity.KindSpeaker,
		SourceID:    sp.ID,
		RecordingID: sp.RecordingID,
		Name:        sp.DisplayName,
		Vector:      vec,
	}); err != nil {
		r.logger.Warn("index rename failed",
			slog.String("speaker_id", sp.ID), slog.String("error", err.Error()))
	}
}

// retroactiveMatch re-suggests the confirmed identity to the user's other
// unverified speakers whose voices match it. Best effort: failures are
// logged, never returned.
func (r *Resolver) retroactiveMatch(ctx context.Context, confirmed *models.Speaker) {
	idx := r.indexes.ForUser(confirmed.UserID)
	embedding := idx.Get(similarity.KindSpeaker, confirmed.ID)
	if embedding == nil {
		return
	}

	// Speakers already carrying this suggestion keep their confidence unless
	// the new match is stronger.
	alreadySuggested := make(map[string]float64)
	if existing, err := r.store.ListUnverifiedSpeakersByName(ctx, confirmed.UserID, confirmed.DisplayName); err != nil {
		r.logger.Warn("retroactive suggestion lookup failed",
			slog.String("user_id", confirmed.UserID), slog.String("error", err.Error()))
	} else {
		for _, sp := range existing {
			if sp.Confidence != nil {
				alreadySuggested[sp.ID] = *sp.Confidence
			}
		}
	}

	matches := idx.Query(embedding, 4*r.policy.SuggestionCap, r.policy.AutoSuggestThreshold,
		similarity.QueryOptions{
			ExcludeRecording: confirmed.RecordingID,
			Kinds:            []similarity.EntryKind{similarity.KindSpeaker},
		})
	for _, m := range matches {
		if prev, ok := alreadySuggested[m.SourceID]; ok && prev >= m.Similarity {
			continue
		}
		sp, err := r.store.GetSpeaker(ctx, m.SourceID)
		if err != nil {
			continue
		}
		if sp.Verified || sp.DisplayName != "" {
			continue
		}
		conf := m.Similarity
		sp.SuggestedName = confirmed.DisplayName
		sp.Confidence = &conf
		if err := r.store.UpdateSpeakerIdentity(ctx, sp); err != nil {
			r.logger.Warn("retroactive suggestion failed",
				slog.String("speaker_id", sp.ID), slog.String("error", err.Error()))
			continue
		}
		metrics.RecordSuggestion("offered")
	}
	idx.SaveAsync()
}
