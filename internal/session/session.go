package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-activation-service/internal/audio"
	"github.com/skypro1111/voice-activation-service/internal/events"
	"github.com/skypro1111/voice-activation-service/internal/vad"
	"github.com/skypro1111/voice-activation-service/internal/wakeword"
)

// Info is the device metadata announced when a stream opens
type Info struct {
	DeviceID   string `json:"device_id"`
	Label      string `json:"label"`
	SampleRate int    `json:"sample_rate"`
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// detection is the wake word hit an utterance in progress belongs to
type detection struct {
	transcript string
	confidence float64
	strategy   string
	at         time.Time
}

// Session is one capture stream. Enqueue writes every frame to the ring
// buffer at once; a single goroutine then feeds queued frames to the
// detector and collector in arrival order, so recognition latency never
// leaves gaps in the buffered audio.
type Session struct {
	ID        string
	StreamID  uint32
	StartTime time.Time

	manager    *Manager
	logger     *slog.Logger
	sampleRate int

	buffer    *audio.RingBuffer
	detector  *wakeword.Detector
	vad       *vad.Processor
	collector *audio.UtteranceCollector

	queue  chan []float32
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	inited chan struct{}

	// pending is only touched by the processing goroutine
	pending *detection

	mu              sync.RWMutex
	info            Info
	closed          bool
	lastActivity    time.Time
	lastSequence    uint32
	framesReceived  uint64
	framesProcessed uint64
	framesDropped   uint64
	detections      uint64
	utterances      uint64
	abandoned       uint64
}

// Stats represents session information for monitoring and APIs
type Stats struct {
	ID              string               `json:"id"`
	StreamID        uint32               `json:"stream_id"`
	Info            Info                 `json:"info"`
	StartTime       time.Time            `json:"start_time"`
	LastActivity    time.Time            `json:"last_activity"`
	Duration        string               `json:"duration"`
	LastSequence    uint32               `json:"last_sequence"`
	FramesReceived  uint64               `json:"frames_received"`
	FramesProcessed uint64               `json:"frames_processed"`
	FramesDropped   uint64               `json:"frames_dropped"`
	QueueDepth      int                  `json:"queue_depth"`
	Detections      uint64               `json:"detections"`
	Utterances      uint64               `json:"utterances"`
	Abandoned       uint64               `json:"abandoned"`
	Buffer          audio.BufferStats    `json:"buffer"`
	Detector        wakeword.Stats       `json:"detector"`
	VAD             vad.ProcessorStats   `json:"vad"`
	Collector       audio.CollectorStats `json:"collector"`
}

func newSession(m *Manager, streamID uint32, info Info) (*Session, error) {
	rate := info.SampleRate
	if rate <= 0 {
		rate = m.config.SampleRate
	}
	info.SampleRate = rate

	processor, err := vad.NewProcessor(m.config.VADThreshold, m.config.VADReference)
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD processor: %w", err)
	}

	id := uuid.NewString()
	logger := m.logger.With(
		slog.String("session_id", id),
		slog.Uint64("stream_id", uint64(streamID)))

	detector := wakeword.NewDetector(m.config.WakeWord, m.factory,
		wakeword.WithLogger(logger),
		wakeword.WithClock(m.clock),
		wakeword.WithMetrics(m.metrics),
		wakeword.WithSampleRate(rate),
		wakeword.WithInitTimeout(m.config.InitTimeout),
		wakeword.WithProcessTimeout(m.config.ProcessTimeout),
	)

	ctx, cancel := context.WithCancel(m.ctx)
	now := m.clock()

	return &Session{
		ID:         id,
		StreamID:   streamID,
		StartTime:  now,
		manager:    m,
		logger:     logger,
		sampleRate: rate,
		buffer: audio.NewRingBuffer(audio.BufferConfig{
			MaxDuration: m.config.BufferDuration,
			SampleRate:  rate,
		}, audio.WithClock(m.clock)),
		detector:     detector,
		vad:          processor,
		collector:    audio.NewUtteranceCollector(m.config.Collector, audio.WithCollectorClock(m.clock)),
		queue:        make(chan []float32, m.config.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		inited:       make(chan struct{}),
		info:         info,
		lastActivity: now,
	}, nil
}

// start launches engine initialization and the frame loop
func (s *Session) start() {
	go func() {
		defer close(s.inited)
		// Failure leaves the detector in fallback mode; frames keep flowing
		_ = s.detector.Initialize(s.ctx, s.manager.config.ModelPath)
	}()
	go s.run()
}

// Enqueue stores one frame in the ring buffer and queues it for detection
// and endpointing. It never blocks: when the queue is full the frame skips
// detection and false is returned, but it is still buffered.
func (s *Session) Enqueue(sequence uint32, samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.lastActivity = s.manager.clock()
	s.lastSequence = sequence
	s.framesReceived++

	if len(samples) > 0 {
		s.buffer.AddChunk(samples)
	}

	select {
	case s.queue <- samples:
		return true
	default:
		s.framesDropped++
		s.manager.metrics.RecordFrameDropped()
		return false
	}
}

// Done is closed once the session has processed its last frame
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run() {
	defer close(s.done)

	for samples := range s.queue {
		s.processFrame(samples)
	}

	// Stream ended mid-utterance
	if s.collector.IsCollecting() {
		s.finishUtterance(s.collector.ForceFinalize())
	}
}

func (s *Session) processFrame(samples []float32) {
	if len(samples) == 0 {
		return
	}

	defer func() {
		s.mu.Lock()
		s.framesProcessed++
		s.mu.Unlock()
	}()

	if s.collector.IsCollecting() {
		result, err := s.vad.Process(samples)
		if err != nil {
			s.logger.Debug("VAD processing failed", slog.String("error", err.Error()))
			return
		}
		if decision := s.collector.Observe(result.HasVoice); decision.Finalized {
			s.finishUtterance(decision)
		}
		return
	}

	result := s.detector.ProcessAudio(s.ctx, samples)
	if result.Detected {
		s.beginUtterance(result)
	}
}

func (s *Session) beginUtterance(result wakeword.Result) {
	s.buffer.StartSpeech()
	s.collector.Begin()
	s.vad.Reset()
	s.pending = &detection{
		transcript: result.Transcript,
		confidence: result.Confidence,
		strategy:   result.Strategy,
		at:         result.Timestamp,
	}

	s.mu.Lock()
	s.detections++
	s.mu.Unlock()

	s.manager.publish(s, events.TypeWakeWordDetected, map[string]any{
		"confidence": result.Confidence,
		"strategy":   result.Strategy,
		"variation":  result.Variation,
	})
}

// finishUtterance exports the speech window and resets the buffer
func (s *Session) finishUtterance(decision audio.Decision) {
	s.buffer.EndSpeech()
	hit := s.pending
	s.pending = nil
	if hit == nil {
		hit = &detection{at: s.manager.clock()}
	}

	if decision.Abandoned {
		s.buffer.Clear()
		s.mu.Lock()
		s.abandoned++
		s.mu.Unlock()

		s.manager.metrics.RecordUtteranceAbandoned()
		s.manager.publish(s, events.TypeUtteranceAbandoned, map[string]any{
			"reason":      decision.Reason,
			"duration_ms": decision.Duration.Milliseconds(),
		})
		s.logger.Debug("Utterance abandoned",
			slog.String("reason", decision.Reason),
			slog.Duration("speech", decision.SpeechDuration))
		return
	}

	buffered := s.buffer.Duration()
	wav := s.buffer.ExportAsWav()
	s.buffer.Clear()

	u := &Utterance{
		ID:             uuid.NewString(),
		SessionID:      s.ID,
		StreamID:       s.StreamID,
		DeviceID:       s.Info().DeviceID,
		WakeTranscript: hit.transcript,
		Confidence:     hit.confidence,
		Strategy:       hit.strategy,
		Reason:         decision.Reason,
		DetectedAt:     hit.at,
		FinalizedAt:    s.manager.clock(),
		Duration:       decision.Duration,
		SampleRate:     s.sampleRate,
		Size:           len(wav),
		WAV:            wav,
	}

	s.mu.Lock()
	s.utterances++
	s.mu.Unlock()

	s.manager.metrics.RecordUtteranceExported(decision.Duration.Seconds(), len(wav), buffered.Seconds())
	s.manager.deliver(u)
	s.manager.publish(s, events.TypeUtteranceReady, map[string]any{
		"utterance_id": u.ID,
		"reason":       u.Reason,
		"duration_ms":  u.Duration.Milliseconds(),
		"size_bytes":   u.Size,
	})

	s.logger.Info("Utterance ready",
		slog.String("utterance_id", u.ID),
		slog.String("reason", u.Reason),
		slog.Duration("duration", u.Duration),
		slog.Int("size_bytes", u.Size))
}

// close stops accepting frames, drains the queue, finalizes any pending
// utterance and releases the recognition worker
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	s.detector.Destroy()
	s.cancel()
	<-s.inited
}

func (s *Session) updateInfo(info Info) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The pipeline was built for the original rate
	info.SampleRate = s.sampleRate
	s.info = info
	s.lastActivity = s.manager.clock()
}

// Info returns the device metadata
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// LastActivity returns when the last frame arrived
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// SampleRate returns the stream's sample rate
func (s *Session) SampleRate() int {
	return s.sampleRate
}

// Detector returns the session's wake word detector
func (s *Session) Detector() *wakeword.Detector {
	return s.detector
}

func (s *Session) age() time.Duration {
	return s.manager.clock().Sub(s.StartTime)
}

// Stats returns a snapshot of the session and its pipeline
func (s *Session) Stats() Stats {
	s.mu.RLock()
	stats := Stats{
		ID:              s.ID,
		StreamID:        s.StreamID,
		Info:            s.info,
		StartTime:       s.StartTime,
		LastActivity:    s.lastActivity,
		Duration:        s.age().String(),
		LastSequence:    s.lastSequence,
		FramesReceived:  s.framesReceived,
		FramesProcessed: s.framesProcessed,
		FramesDropped:   s.framesDropped,
		QueueDepth:      len(s.queue),
		Detections:      s.detections,
		Utterances:      s.utterances,
		Abandoned:       s.abandoned,
	}
	s.mu.RUnlock()

	stats.Buffer = s.buffer.GetStats()
	stats.Detector = s.detector.Stats()
	stats.VAD = s.vad.GetStats()
	stats.Collector = s.collector.GetStats()
	return stats
}
