package wakeword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/voice-activation-service/internal/audio"
	"github.com/skypro1111/voice-activation-service/internal/metrics"
	"github.com/skypro1111/voice-activation-service/internal/recognition"
)

// State is the lifecycle state of a detector
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFallback
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFallback:
		return "fallback"
	default:
		return "uninitialized"
	}
}

// Detector classifies streamed audio against a wake phrase. It owns one
// recognition worker; frames are sent to it one at a time in call order.
type Detector struct {
	factory        recognition.Factory
	sampleRate     int
	initTimeout    time.Duration
	processTimeout time.Duration
	clock          func() time.Time
	logger         *slog.Logger
	metrics        *metrics.Metrics

	mu            sync.RWMutex
	config        Config
	state         State
	lastDetection time.Time
	worker        *worker

	// callMu keeps exactly one recognition round-trip in flight
	callMu sync.Mutex

	processed     atomic.Uint64
	detections    atomic.Uint64
	timeouts      atomic.Uint64
	failures      atomic.Uint64
	cooldownSkips atomic.Uint64
	fallbackSkips atomic.Uint64
}

// Stats represents detector statistics
type Stats struct {
	State         string     `json:"state"`
	Enabled       bool       `json:"enabled"`
	Processed     uint64     `json:"processed"`
	Detections    uint64     `json:"detections"`
	Timeouts      uint64     `json:"timeouts"`
	Errors        uint64     `json:"errors"`
	CooldownSkips uint64     `json:"cooldown_skips"`
	FallbackSkips uint64     `json:"fallback_skips"`
	LastDetection *time.Time `json:"last_detection,omitempty"`
	Threshold     float64    `json:"threshold"`
}

// Option configures a Detector
type Option func(*Detector)

// WithLogger sets the logger; nil keeps slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock replaces the clock used for cooldown accounting
func WithClock(clock func() time.Time) Option {
	return func(d *Detector) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithMetrics records classification outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) {
		d.metrics = m
	}
}

// WithSampleRate sets the rate announced to the engine during init
func WithSampleRate(rate int) Option {
	return func(d *Detector) {
		if rate > 0 {
			d.sampleRate = rate
		}
	}
}

// WithInitTimeout bounds how long Initialize waits for the engine
func WithInitTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.initTimeout = timeout
		}
	}
}

// WithProcessTimeout bounds each recognition round-trip
func WithProcessTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.processTimeout = timeout
		}
	}
}

// NewDetector creates an uninitialized detector. A nil factory selects the
// stub engine, which never recognizes anything.
func NewDetector(cfg Config, factory recognition.Factory, opts ...Option) *Detector {
	if factory == nil {
		factory = recognition.StubFactory()
	}

	d := &Detector{
		factory:        factory,
		sampleRate:     DefaultSampleRate,
		initTimeout:    DefaultInitTimeout,
		processTimeout: DefaultProcessTimeout,
		clock:          time.Now,
		logger:         slog.Default(),
		config:         cfg.Sanitized(),
		state:          StateUninitialized,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "wakeword"))
	return d
}

// Initialize starts the recognition worker and waits for the engine to
// become ready. On failure or timeout the detector enters fallback mode and
// stays usable; the returned error is informational only.
func (d *Detector) Initialize(ctx context.Context, modelPath string) error {
	d.mu.Lock()
	switch d.state {
	case StateReady:
		d.mu.Unlock()
		return nil
	case StateInitializing:
		d.mu.Unlock()
		return fmt.Errorf("wake word detector is already initializing")
	}

	old := d.worker
	w := newWorker(d.factory, d.logger)
	d.worker = w
	d.setStateLocked(StateInitializing)
	d.mu.Unlock()

	if old != nil {
		old.stop()
	}

	initCtx, cancel := context.WithTimeout(ctx, d.initTimeout)
	defer cancel()

	started := time.Now()
	resp, err := w.call(initCtx, request{kind: msgInit, modelPath: modelPath, sampleRate: d.sampleRate})
	if err == nil && resp.kind != msgReady {
		err = resp.err
		if err == nil {
			err = fmt.Errorf("unexpected engine reply %q", resp.kind)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = ErrInitTimeout
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Destroyed or re-initialized while waiting
	if d.worker != w {
		w.stop()
		if err == nil {
			err = ErrDestroyed
		}
		return fmt.Errorf("wake word init: %w", err)
	}

	if err != nil {
		w.stop()
		d.worker = nil
		d.setStateLocked(StateFallback)
		d.logger.Warn("Wake word engine unavailable, detection disabled",
			slog.String("model_path", modelPath),
			slog.String("error", err.Error()))
		return fmt.Errorf("wake word init: %w", err)
	}

	d.setStateLocked(StateReady)
	d.logger.Info("Wake word detector ready",
		slog.String("model_path", modelPath),
		slog.Duration("init_time", time.Since(started)))
	return nil
}

func (d *Detector) setStateLocked(state State) {
	if d.state == state {
		return
	}
	d.state = state
	d.metrics.RecordDetectorState(state.String())
}

// ProcessAudio classifies one frame. It never fails: when disabled, cooling
// down, in fallback mode, or when the engine errors or exceeds the process
// timeout, it returns a non-detected Result.
func (d *Detector) ProcessAudio(ctx context.Context, samples []float32) Result {
	d.callMu.Lock()
	defer d.callMu.Unlock()

	d.mu.RLock()
	cfg := d.config
	state := d.state
	w := d.worker
	last := d.lastDetection
	d.mu.RUnlock()

	now := d.clock()
	idle := Result{Timestamp: now}

	if !cfg.Enabled {
		d.metrics.RecordClassification(metrics.OutcomeDisabled, 0)
		return idle
	}
	if inCooldown(last, cfg.Cooldown, now) {
		d.cooldownSkips.Add(1)
		d.metrics.RecordClassification(metrics.OutcomeCooldown, 0)
		return idle
	}
	if state != StateReady || w == nil {
		d.fallbackSkips.Add(1)
		d.metrics.RecordClassification(metrics.OutcomeFallback, 0)
		return idle
	}

	callCtx, cancel := context.WithTimeout(ctx, d.processTimeout)
	defer cancel()

	started := time.Now()
	resp, err := w.call(callCtx, request{kind: msgProcess, pcm: audio.FloatsToPCM16(samples)})
	elapsed := time.Since(started).Seconds()
	d.processed.Add(1)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			d.timeouts.Add(1)
			d.metrics.RecordClassification(metrics.OutcomeTimeout, elapsed)
			d.logger.Debug("Recognition call timed out", slog.Duration("timeout", d.processTimeout))
		} else {
			d.failures.Add(1)
			d.metrics.RecordClassification(metrics.OutcomeError, elapsed)
		}
		return idle
	}
	if resp.kind == msgError {
		d.failures.Add(1)
		d.metrics.RecordClassification(metrics.OutcomeError, elapsed)
		d.logger.Debug("Recognition engine error", slog.String("error", resp.err.Error()))
		return idle
	}

	now = d.clock()
	result := MatchWakeWord(resp.text, cfg, now)
	if !result.Detected {
		d.metrics.RecordClassification(metrics.OutcomeRejected, elapsed)
		return result
	}

	d.mu.Lock()
	d.lastDetection = now
	d.mu.Unlock()

	d.detections.Add(1)
	d.metrics.RecordClassification(metrics.OutcomeDetected, elapsed)
	d.metrics.RecordDetection(result.Confidence)

	// Phrase boundaries must not carry over into the next utterance
	w.post(request{kind: msgReset})

	d.logger.Info("Wake word detected",
		slog.Float64("confidence", result.Confidence),
		slog.String("strategy", result.Strategy))
	d.logger.Debug("Wake word transcript", slog.String("transcript", result.Transcript))

	return result
}

// Match classifies text directly with the current configuration. It does
// not touch cooldown state.
func (d *Detector) Match(transcript string) Result {
	return MatchWakeWord(transcript, d.Config(), d.clock())
}

// Reset tells the engine to drop its acoustic context without restarting
// the worker.
func (d *Detector) Reset() {
	d.mu.RLock()
	w := d.worker
	d.mu.RUnlock()

	if w != nil {
		w.post(request{kind: msgReset})
	}
}

// Destroy terminates the worker and returns the detector to the
// uninitialized state. In-flight calls resolve to non-detected results.
// Safe to call repeatedly and from any state.
func (d *Detector) Destroy() {
	d.mu.Lock()
	w := d.worker
	d.worker = nil
	d.setStateLocked(StateUninitialized)
	d.mu.Unlock()

	if w != nil {
		w.stop()
		d.logger.Info("Wake word detector destroyed")
	}
}

// SetConfig replaces the configuration. Out of range values are clamped.
func (d *Detector) SetConfig(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = cfg.Sanitized()
}

// Config returns a copy of the current configuration
func (d *Detector) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config.Sanitized()
}

// State returns the lifecycle state
func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// IsReady reports whether the engine completed its handshake
func (d *Detector) IsReady() bool {
	return d.State() == StateReady
}

// TimeSinceLastDetection returns the time since the last accepted detection.
// The boolean is false if nothing has been detected yet.
func (d *Detector) TimeSinceLastDetection() (time.Duration, bool) {
	d.mu.RLock()
	last := d.lastDetection
	d.mu.RUnlock()

	if last.IsZero() {
		return 0, false
	}
	return d.clock().Sub(last), true
}

// IsInCooldown reports whether a detection happened within the cooldown
func (d *Detector) IsInCooldown() bool {
	d.mu.RLock()
	last, cooldown := d.lastDetection, d.config.Cooldown
	d.mu.RUnlock()
	return inCooldown(last, cooldown, d.clock())
}

func inCooldown(last time.Time, cooldown time.Duration, now time.Time) bool {
	return !last.IsZero() && now.Sub(last) < cooldown
}

// Stats returns current detector statistics
func (d *Detector) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := Stats{
		State:         d.state.String(),
		Enabled:       d.config.Enabled,
		Processed:     d.processed.Load(),
		Detections:    d.detections.Load(),
		Timeouts:      d.timeouts.Load(),
		Errors:        d.failures.Load(),
		CooldownSkips: d.cooldownSkips.Load(),
		FallbackSkips: d.fallbackSkips.Load(),
		Threshold:     d.config.Threshold(),
	}
	if !d.lastDetection.IsZero() {
		last := d.lastDetection
		stats.LastDetection = &last
	}
	return stats
}
