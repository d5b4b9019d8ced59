package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/voice-activation-service/internal/audio"
	"github.com/skypro1111/voice-activation-service/internal/events"
	"github.com/skypro1111/voice-activation-service/internal/metrics"
	"github.com/skypro1111/voice-activation-service/internal/recognition"
	"github.com/skypro1111/voice-activation-service/internal/wakeword"
)

// ErrTooManySessions is returned by Open when max_sessions is reached
var ErrTooManySessions = errors.New("too many active sessions")

// ErrManagerStopped is returned by Open after Stop
var ErrManagerStopped = errors.New("session manager stopped")

const cleanupInterval = 30 * time.Second

// Config contains everything needed to build a session pipeline
type Config struct {
	SampleRate     int
	BufferDuration time.Duration

	WakeWord       wakeword.Config
	ModelPath      string
	InitTimeout    time.Duration
	ProcessTimeout time.Duration

	Collector    audio.CollectorConfig
	VADThreshold float32
	VADReference float64

	QueueSize   int
	Timeout     time.Duration
	MaxSessions int
}

// UtteranceHandler receives each stored utterance. It runs on its own
// goroutine.
type UtteranceHandler func(ctx context.Context, u *Utterance)

// Option configures a Manager
type Option func(*Manager)

// WithMetrics records session activity
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithPublisher delivers session events
func WithPublisher(p events.Publisher) Option {
	return func(mgr *Manager) {
		if p != nil {
			mgr.publisher = p
		}
	}
}

// WithStore keeps finished utterances
func WithStore(s *Store) Option {
	return func(mgr *Manager) { mgr.store = s }
}

// WithUtteranceHandler passes finished utterances downstream
func WithUtteranceHandler(h UtteranceHandler) Option {
	return func(mgr *Manager) { mgr.handler = h }
}

// WithClock replaces the wall clock for buffers, collectors and detectors
func WithClock(clock func() time.Time) Option {
	return func(mgr *Manager) {
		if clock != nil {
			mgr.clock = clock
		}
	}
}

// Manager manages all listening sessions, keyed by stream ID
type Manager struct {
	config    Config
	factory   recognition.Factory
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher events.Publisher
	store     *Store
	handler   UtteranceHandler
	clock     func() time.Time

	sessions map[uint32]*Session
	stopped  bool
	mu       sync.RWMutex
	updateMu sync.Mutex // serializes wake word updates end to end

	handlers sync.WaitGroup

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its idle cleanup routine.
// A nil factory selects the stub recognition engine.
func NewManager(logger *slog.Logger, cfg Config, factory recognition.Factory, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("queue size must be at least 1, got %d", cfg.QueueSize)
	}
	if cfg.MaxSessions < 1 {
		return nil, fmt.Errorf("max sessions must be at least 1, got %d", cfg.MaxSessions)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("session timeout must be positive, got %v", cfg.Timeout)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:    cfg,
		factory:   factory,
		logger:    logger,
		publisher: events.Discard,
		clock:     time.Now,
		sessions:  make(map[uint32]*Session),
		ctx:       ctx,
		cancel:    cancel,
		cleanup:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.startCleanupRoutine()

	return m, nil
}

// Open creates the session for streamID. Opening a stream that already has
// a session updates its metadata and returns it.
func (m *Manager) Open(streamID uint32, info Info) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}

	if existing, ok := m.sessions[streamID]; ok {
		m.logger.Warn("Session already exists, updating metadata",
			slog.Uint64("stream_id", uint64(streamID)),
			slog.String("session_id", existing.ID),
			slog.String("device_id", info.DeviceID))
		existing.updateInfo(info)
		return existing, nil
	}

	if len(m.sessions) >= m.config.MaxSessions {
		return nil, fmt.Errorf("open stream %d: %w", streamID, ErrTooManySessions)
	}

	s, err := newSession(m, streamID, info)
	if err != nil {
		return nil, fmt.Errorf("open stream %d: %w", streamID, err)
	}
	m.sessions[streamID] = s
	count := len(m.sessions)

	s.start()

	m.metrics.RecordSessionOpened()
	m.metrics.SetActiveSessions(count)
	m.publish(s, events.TypeSessionOpened, map[string]any{
		"device_id":   s.info.DeviceID,
		"label":       s.info.Label,
		"sample_rate": s.sampleRate,
	})

	m.logger.Info("Opened listening session",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.String("session_id", s.ID),
		slog.String("device_id", info.DeviceID),
		slog.String("label", info.Label),
		slog.Int("sample_rate", s.sampleRate))

	return s, nil
}

// Get retrieves the session for streamID
func (m *Manager) Get(streamID uint32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[streamID]
	return s, ok
}

// GetByID retrieves a session by its UUID
func (m *Manager) GetByID(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Close drains and removes the session for streamID. It reports whether a
// session existed.
func (m *Manager) Close(streamID uint32) bool {
	m.mu.Lock()
	s, ok := m.sessions[streamID]
	if ok {
		delete(m.sessions, streamID)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}

	s.close()

	m.metrics.RecordSessionClosed(s.age().Seconds())
	m.metrics.SetActiveSessions(count)
	m.publish(s, events.TypeSessionClosed, map[string]any{
		"duration_ms": s.age().Milliseconds(),
	})

	stats := s.Stats()
	m.logger.Info("Closed listening session",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.String("session_id", s.ID),
		slog.Duration("duration", s.age()),
		slog.Uint64("frames_processed", stats.FramesProcessed),
		slog.Uint64("frames_dropped", stats.FramesDropped),
		slog.Uint64("detections", stats.Detections),
		slog.Uint64("utterances", stats.Utterances))

	return true
}

// Sessions returns a snapshot of all sessions ordered by start time
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions
}

// ActiveCount returns the number of open sessions
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// WakeWordConfig returns the configuration new sessions start with
func (m *Manager) WakeWordConfig() wakeword.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.WakeWord
}

// UpdateWakeWord applies cfg to every open session and to sessions opened
// later. It returns the configuration as the detectors store it.
func (m *Manager) UpdateWakeWord(cfg wakeword.Config) wakeword.Config {
	applied, _ := m.UpdateWakeWordFunc(func(wakeword.Config) (wakeword.Config, error) {
		return cfg, nil
	})
	return applied
}

// UpdateWakeWordFunc derives a new configuration from the current one with
// fn and applies it like UpdateWakeWord. Updates are serialized, so fn
// always sees the result of the previous update and sessions receive
// configurations in the same order. An error from fn leaves the
// configuration unchanged and is returned as is.
func (m *Manager) UpdateWakeWordFunc(fn func(wakeword.Config) (wakeword.Config, error)) (wakeword.Config, error) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	m.mu.Lock()
	cfg, err := fn(m.config.WakeWord.Sanitized())
	if err != nil {
		m.mu.Unlock()
		return wakeword.Config{}, err
	}

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}

	applied := cfg.Sanitized()
	m.config.WakeWord = applied
	m.mu.Unlock()

	for _, s := range sessions {
		s.detector.SetConfig(applied)
	}

	m.logger.Info("Updated wake word configuration",
		slog.String("wake_word", applied.WakeWord),
		slog.Float64("sensitivity", applied.Sensitivity),
		slog.Duration("cooldown", applied.Cooldown),
		slog.Bool("enabled", applied.Enabled),
		slog.Int("sessions", len(sessions)))

	return applied, nil
}

// Store returns the utterance store, or nil when none is configured
func (m *Manager) Store() *Store {
	return m.store
}

// Stop closes every session and stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.Lock()
	m.stopped = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	// In-flight recognition calls return immediately once the context ends
	m.cancel()
	for _, s := range sessions {
		s.close()
		m.metrics.RecordSessionClosed(s.age().Seconds())
	}
	m.metrics.SetActiveSessions(0)

	<-m.cleanup
	m.handlers.Wait()

	m.logger.Info("Session manager stopped", slog.Int("closed_sessions", len(sessions)))
}

func (m *Manager) publish(s *Session, eventType string, data map[string]any) {
	m.publisher.Publish(events.Event{
		Type:      eventType,
		SessionID: s.ID,
		StreamID:  s.StreamID,
		Timestamp: m.clock(),
		Data:      data,
	})
}

// deliver stores a finished utterance and hands it to the handler
func (m *Manager) deliver(u *Utterance) {
	if m.store != nil {
		if err := m.store.Add(u); err != nil {
			m.logger.Error("Failed to store utterance",
				slog.String("utterance_id", u.ID),
				slog.String("session_id", u.SessionID),
				slog.String("error", err.Error()))
		}
	}

	if m.handler == nil {
		return
	}

	m.handlers.Add(1)
	go func() {
		defer m.handlers.Done()
		m.handler(context.WithoutCancel(m.ctx), u)
	}()
}

// startCleanupRoutine removes sessions that stopped sending audio
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.config.Timeout),
		slog.Duration("check_interval", cleanupInterval))

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return
		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions closes sessions idle for longer than the timeout
func (m *Manager) cleanupExpiredSessions() {
	now := m.clock()
	expired := make([]uint32, 0)

	m.mu.RLock()
	for streamID, s := range m.sessions {
		if now.Sub(s.LastActivity()) > m.config.Timeout {
			expired = append(expired, streamID)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Cleaning up expired sessions", slog.Int("expired_count", len(expired)))
	for _, streamID := range expired {
		m.Close(streamID)
	}
}
