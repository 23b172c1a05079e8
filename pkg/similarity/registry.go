package similarity

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultSaveInterval is how often resident indexes are flushed to disk.
const DefaultSaveInterval = 5 * time.Minute

// Registry hands out one VoiceIndex per user, creating and loading it on
// first use. Indexes stay resident for the life of the process, each with a
// periodic background save until Close.
type Registry struct {
	mu        sync.Mutex
	dataDir   string
	logger    *slog.Logger
	saveEvery time.Duration
	indexes   map[string]*VoiceIndex
	stops     []chan struct{}
	closed    bool
}

// NewRegistry creates an empty index registry rooted at dataDir.
func NewRegistry(dataDir string, logger *slog.Logger) *Registry {
	return &Registry{
		dataDir:   dataDir,
		logger:    logger,
		saveEvery: DefaultSaveInterval,
		indexes:   make(map[string]*VoiceIndex),
	}
}

// ForUser returns the user's voice index, loading it on first access.
func (r *Registry) ForUser(userID string) *VoiceIndex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.indexes[userID]; ok {
		return idx
	}
	idx := NewVoiceIndex(userID, r.dataDir, r.logger)
	r.indexes[userID] = idx
	if !r.closed {
		r.stops = append(r.stops, idx.SchedulePeriodicSave(r.saveEvery))
	}
	return idx
}

// SaveAll persists every resident index. The first error is returned after
// all indexes have been attempted.
func (r *Registry) SaveAll() error {
	r.mu.Lock()
	indexes := make([]*VoiceIndex, 0, len(r.indexes))
	for _, idx := range r.indexes {
		indexes = append(indexes, idx)
	}
	r.mu.Unlock()

	var firstErr error
	for _, idx := range indexes {
		if err := idx.Save(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close stops the periodic saves and flushes every resident index.
func (r *Registry) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		for _, stop := range r.stops {
			close(stop)
		}
		r.stops = nil
	}
	r.mu.Unlock()
	return r.SaveAll()
}
