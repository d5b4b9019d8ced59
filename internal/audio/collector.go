package audio

import (
	"sync"
	"time"
)

// CollectorState represents the current state of utterance collection
type CollectorState int

const (
	StateIdle CollectorState = iota
	StateCollecting
	StateWaitingSilence
)

// String returns the state name used in stats and logs
func (s CollectorState) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateWaitingSilence:
		return "waiting_silence"
	default:
		return "idle"
	}
}

// Finalization reasons
const (
	ReasonSilence     = "silence"
	ReasonMaxDuration = "max_duration"
	ReasonForced      = "forced"
)

// CollectorConfig contains endpointing thresholds for an utterance
type CollectorConfig struct {
	MinSilence   time.Duration // trailing silence that ends an utterance
	MinSpeech    time.Duration // speech required for the utterance to be kept
	MaxUtterance time.Duration // hard limit on utterance length
}

// Decision is the outcome of observing one frame
type Decision struct {
	Finalized      bool          `json:"finalized"`
	Abandoned      bool          `json:"abandoned"` // finalized without enough speech
	Reason         string        `json:"reason,omitempty"`
	Duration       time.Duration `json:"duration"`
	SpeechDuration time.Duration `json:"speech_duration"`
}

// UtteranceCollector decides when the speech that follows a wake word has
// ended. It tracks time only; the audio itself stays in the RingBuffer.
type UtteranceCollector struct {
	config CollectorConfig
	state  CollectorState

	startTime    time.Time
	speechStart  time.Time
	lastSpeech   time.Time
	silenceStart time.Time

	finalized     uint64
	abandoned     uint64
	totalDuration time.Duration

	clock Clock
	mu    sync.RWMutex
}

// CollectorStats represents collector statistics
type CollectorStats struct {
	State          string  `json:"state"`
	Finalized      uint64  `json:"finalized"`
	Abandoned      uint64  `json:"abandoned"`
	TotalDuration  string  `json:"total_duration"`
	AvgDurationSec float64 `json:"avg_duration_sec"`
}

// CollectorOption configures an UtteranceCollector
type CollectorOption func(*UtteranceCollector)

// WithCollectorClock replaces the wall clock used for endpointing
func WithCollectorClock(clock Clock) CollectorOption {
	return func(c *UtteranceCollector) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewUtteranceCollector creates a new collector in the idle state
func NewUtteranceCollector(config CollectorConfig, opts ...CollectorOption) *UtteranceCollector {
	c := &UtteranceCollector{
		config: config,
		state:  StateIdle,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin starts collecting. The wake word itself counts as the first speech.
// Calling Begin while already collecting is a no-op.
func (c *UtteranceCollector) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return
	}

	now := c.clock()
	c.state = StateCollecting
	c.startTime = now
	c.speechStart = now
	c.lastSpeech = now
	c.silenceStart = time.Time{}
}

// Observe feeds the voice activity of one frame and reports whether the
// utterance is complete.
func (c *UtteranceCollector) Observe(hasVoice bool) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return Decision{}
	}

	now := c.clock()

	switch c.state {
	case StateCollecting:
		if hasVoice {
			c.lastSpeech = now
			c.silenceStart = time.Time{}
			break
		}

		if c.silenceStart.IsZero() {
			c.silenceStart = now
		}
		if now.Sub(c.silenceStart) >= c.config.MinSilence {
			if c.lastSpeech.Sub(c.speechStart) >= c.config.MinSpeech {
				return c.finalize(now, ReasonSilence)
			}
			// Only the wake word so far; wait for the command to start
			c.state = StateWaitingSilence
		}

	case StateWaitingSilence:
		if hasVoice {
			c.state = StateCollecting
			c.lastSpeech = now
			c.silenceStart = time.Time{}
		}
	}

	if c.config.MaxUtterance > 0 && now.Sub(c.startTime) >= c.config.MaxUtterance {
		return c.finalize(now, ReasonMaxDuration)
	}

	return Decision{}
}

// ForceFinalize ends a pending utterance (used on session close). It returns
// a zero Decision when idle.
func (c *UtteranceCollector) ForceFinalize() Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return Decision{}
	}
	return c.finalize(c.clock(), ReasonForced)
}

// finalize builds the decision and returns the collector to idle
func (c *UtteranceCollector) finalize(now time.Time, reason string) Decision {
	speech := c.lastSpeech.Sub(c.speechStart)
	d := Decision{
		Finalized:      true,
		Abandoned:      speech < c.config.MinSpeech,
		Reason:         reason,
		Duration:       now.Sub(c.startTime),
		SpeechDuration: speech,
	}

	if d.Abandoned {
		c.abandoned++
	} else {
		c.finalized++
		c.totalDuration += d.Duration
	}

	c.state = StateIdle
	c.startTime = time.Time{}
	c.speechStart = time.Time{}
	c.lastSpeech = time.Time{}
	c.silenceStart = time.Time{}

	return d
}

// State returns the current collector state
func (c *UtteranceCollector) State() CollectorState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsCollecting reports whether an utterance is in progress
func (c *UtteranceCollector) IsCollecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state != StateIdle
}

// CurrentDuration returns how long the pending utterance has been collected
func (c *UtteranceCollector) CurrentDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.startTime.IsZero() {
		return 0
	}
	return c.clock().Sub(c.startTime)
}

// GetStats returns current collector statistics
func (c *UtteranceCollector) GetStats() CollectorStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	avg := float64(0)
	if c.finalized > 0 {
		avg = c.totalDuration.Seconds() / float64(c.finalized)
	}

	return CollectorStats{
		State:          c.state.String(),
		Finalized:      c.finalized,
		Abandoned:      c.abandoned,
		TotalDuration:  c.totalDuration.String(),
		AvgDurationSec: avg,
	}
}
