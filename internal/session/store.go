package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Utterance is the speech that followed a wake word, encoded as WAV
type Utterance struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	StreamID       uint32        `json:"stream_id"`
	DeviceID       string        `json:"device_id"`
	WakeTranscript string        `json:"wake_transcript"`
	Confidence     float64       `json:"confidence"`
	Strategy       string        `json:"strategy,omitempty"`
	Reason         string        `json:"reason"`
	DetectedAt     time.Time     `json:"detected_at"`
	FinalizedAt    time.Time     `json:"finalized_at"`
	Duration       time.Duration `json:"duration"`
	SampleRate     int           `json:"sample_rate"`
	Size           int           `json:"size_bytes"`
	Path           string        `json:"path,omitempty"`
	WAV            []byte        `json:"-"`
}

// Store keeps the most recent utterances in memory, oldest evicted first,
// and optionally writes each one to a directory.
type Store struct {
	limit     int
	outputDir string
	logger    *slog.Logger

	items []*Utterance // oldest first
	byID  map[string]*Utterance
	total uint64
	mu    sync.RWMutex
}

// StoreStats represents store statistics
type StoreStats struct {
	Stored    int    `json:"stored"`
	Limit     int    `json:"limit"`
	Total     uint64 `json:"total"`
	OutputDir string `json:"output_dir,omitempty"`
}

// NewStore creates a store holding up to limit utterances. When outputDir
// is set it is created if missing.
func NewStore(limit int, outputDir string, logger *slog.Logger) (*Store, error) {
	if limit < 1 {
		return nil, fmt.Errorf("store limit must be at least 1, got %d", limit)
	}
	if logger == nil {
		logger = slog.Default()
	}

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
		}
	}

	return &Store{
		limit:     limit,
		outputDir: outputDir,
		logger:    logger,
		byID:      make(map[string]*Utterance),
	}, nil
}

// Add stores u. The utterance is kept in memory even when writing the
// file fails.
func (s *Store) Add(u *Utterance) error {
	var writeErr error
	if s.outputDir != "" {
		path := filepath.Join(s.outputDir, u.ID+".wav")
		if err := os.WriteFile(path, u.WAV, 0o644); err != nil {
			writeErr = fmt.Errorf("failed to write utterance %s: %w", u.ID, err)
		} else {
			u.Path = path
			s.logger.Debug("Wrote utterance",
				slog.String("utterance_id", u.ID),
				slog.String("path", path))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, u)
	s.byID[u.ID] = u
	s.total++

	for len(s.items) > s.limit {
		evicted := s.items[0]
		s.items[0] = nil
		s.items = s.items[1:]
		delete(s.byID, evicted.ID)
	}

	return writeErr
}

// Get returns the utterance with the given ID
func (s *Store) Get(id string) (*Utterance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	return u, ok
}

// List returns stored utterances, newest first
func (s *Store) List() []*Utterance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Utterance, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		out = append(out, s.items[i])
	}
	return out
}

// Len returns the number of stored utterances
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// GetStats returns store statistics
func (s *Store) GetStats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreStats{
		Stored:    len(s.items),
		Limit:     s.limit,
		Total:     s.total,
		OutputDir: s.outputDir,
	}
}
