// Package similarity provides a per-user voice embedding index for speaker
// identity matching.
package similarity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
)

// EntryKind distinguishes recording-scoped speakers from persistent profiles.
type EntryKind string

const (
	KindSpeaker EntryKind = "speaker"
	KindProfile EntryKind = "profile"
)

// VoiceEntry is one indexed voice embedding. For KindSpeaker entries SourceID
// is the speaker ID and RecordingID is set; for KindProfile entries SourceID
// is the profile ID.
type VoiceEntry struct {
	UserID      string    `json:"user_id"`
	Kind        EntryKind `json:"kind"`
	SourceID    string    `json:"source_id"`
	RecordingID string    `json:"recording_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Vector      []float64 `json:"vector"`
	UpdatedAt   string    `json:"updated_at"` // RFC3339 timestamp
}

// VoiceIndex holds all voice embeddings of one user in memory and persists
// them to a JSON file. All operations are safe for concurrent use.
type VoiceIndex struct {
	mu       sync.RWMutex
	userID   string
	entries  map[string]*VoiceEntry // key: kind:sourceID
	filePath string
	logger   *slog.Logger
}

// NewVoiceIndex creates the voice index for one user and loads any existing
// persisted state. dataDir defaults to ./data when empty.
func NewVoiceIndex(userID, dataDir string, logger *slog.Logger) *VoiceIndex {
	if dataDir == "" {
		dataDir = "./data"
	}

	idx := &VoiceIndex{
		userID:   userID,
		entries:  make(map[string]*VoiceEntry),
		filePath: filepath.Join(dataDir, "users", userID, "voice_index.json"),
		logger:   logger,
	}

	if err := idx.Load(); err != nil {
		logger.Warn("voice index load failed, starting empty",
			slog.String("user_id", userID), slog.String("error", err.Error()))
	}
	return idx
}

// Load reads the index file into memory. A missing file yields an empty index.
func (x *VoiceIndex) Load() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	data, err := os.ReadFile(x.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read index file: %w", err)
	}

	var entries []*VoiceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("unmarshal index: %w", err)
	}

	x.entries = make(map[string]*VoiceEntry)
	for _, entry := range entries {
		if entry.UserID != x.userID {
			x.logger.Warn("skip entry with mismatched user",
				slog.String("entry_user", entry.UserID), slog.String("index_user", x.userID))
			continue
		}
		x.entries[makeKey(entry.Kind, entry.SourceID)] = entry
	}
	return nil
}

// Save persists the index atomically: write a temp file in the target
// directory, then rename over the old file.
func (x *VoiceIndex) Save() error {
	x.mu.RLock()
	entries := make([]*VoiceEntry, 0, len(x.entries))
	for _, entry := range x.entries {
		entries = append(entries, entry)
	}
	x.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].SourceID < entries[j].SourceID
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	dir := filepath.Dir(x.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "voice_index-*.json")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp index file: %w", err)
	}
	if err := os.Rename(tmpName, x.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

// Upsert adds or replaces one embedding.
func (x *VoiceIndex) Upsert(entry *VoiceEntry) error {
	if entry.UserID != x.userID {
		return fmt.Errorf("entry user %s does not match index user %s", entry.UserID, x.userID)
	}
	if len(entry.Vector) == 0 {
		return fmt.Errorf("entry %s has empty vector", entry.SourceID)
	}
	entry.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	x.mu.Lock()
	x.entries[makeKey(entry.Kind, entry.SourceID)] = entry
	x.mu.Unlock()
	return nil
}

// Get returns the stored vector for one entry, or nil when absent.
func (x *VoiceIndex) Get(kind EntryKind, sourceID string) []float64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if entry, ok := x.entries[makeKey(kind, sourceID)]; ok {
		return entry.Vector
	}
	return nil
}

// Delete removes one entry and reports whether it existed.
func (x *VoiceIndex) Delete(kind EntryKind, sourceID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	key := makeKey(kind, sourceID)
	if _, ok := x.entries[key]; !ok {
		return false
	}
	delete(x.entries, key)
	return true
}

// DeleteByRecording removes all speaker entries belonging to one recording
// and returns the number removed.
func (x *VoiceIndex) DeleteByRecording(recordingID string) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	count := 0
	for key, entry := range x.entries {
		if entry.Kind == KindSpeaker && entry.RecordingID == recordingID {
			delete(x.entries, key)
			count++
		}
	}
	return count
}

// Count returns the number of indexed entries.
func (x *VoiceIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// UserID returns the user this index is bound to.
func (x *VoiceIndex) UserID() string {
	return x.userID
}

// Match is one similarity query result.
type Match struct {
	Kind        EntryKind `json:"kind"`
	SourceID    string    `json:"source_id"`
	RecordingID string    `json:"recording_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Similarity  float64   `json:"similarity"`
}

// QueryOptions narrows a similarity query.
type QueryOptions struct {
	// ExcludeRecording drops speaker entries of the given recording so a
	// voice never matches against itself.
	ExcludeRecording string
	// Kinds limits results to the listed entry kinds. Empty means all.
	Kinds []EntryKind
}

// Query returns up to topK entries whose cosine similarity to the query
// vector meets the threshold, ordered by descending similarity.
func (x *VoiceIndex) Query(vector []float64, topK int, threshold float64, opts QueryOptions) []Match {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var results []Match
	for _, entry := range x.entries {
		if opts.ExcludeRecording != "" && entry.RecordingID == opts.ExcludeRecording {
			continue
		}
		if len(opts.Kinds) > 0 && !containsKind(opts.Kinds, entry.Kind) {
			continue
		}
		score := CosineSimilarity(vector, entry.Vector)
		if score >= threshold {
			results = append(results, Match{
				Kind:        entry.Kind,
				SourceID:    entry.SourceID,
				RecordingID: entry.RecordingID,
				Name:        entry.Name,
				Similarity:  score,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// CosineSimilarity computes cos(θ) = (A·B) / (||A|| * ||B||). Mismatched
// lengths and zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}

// MeanVector returns the elementwise arithmetic mean of the given vectors.
// All vectors must share one length.
func MeanVector(vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors to average")
	}
	dim := len(vectors[0])
	mean := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector length mismatch: %d vs %d", len(v), dim)
		}
		floats.Add(mean, v)
	}
	floats.Scale(1/float64(len(vectors)), mean)
	return mean, nil
}

func containsKind(kinds []EntryKind, k EntryKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func makeKey(kind EntryKind, sourceID string) string {
	return fmt.Sprintf("%s:%s", kind, sourceID)
}

// SaveAsync persists the index in the background. Failures are logged.
func (x *VoiceIndex) SaveAsync() {
	go func() {
		if err := x.Save(); err != nil {
			x.logger.Error("async index save failed",
				slog.String("user_id", x.userID), slog.String("error", err.Error()))
		}
	}()
}

// SchedulePeriodicSave saves the index on the given interval until the
// returned channel is closed.
func (x *VoiceIndex) SchedulePeriodicSave(interval time.Duration) chan struct{} {
	stop := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := x.Save(); err != nil {
					x.logger.Error("periodic index save failed",
						slog.String("user_id", x.userID), slog.String("error", err.Error()))
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}
