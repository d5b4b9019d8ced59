package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// DefaultReferenceLevel is the RMS level treated as certain speech
const DefaultReferenceLevel = 0.05

// Processor provides energy-based voice activity detection over float32 frames
type Processor struct {
	threshold      float32
	referenceLevel float64
	smoothing      float32 // weight of the newest frame

	lastResult float32

	totalFrames   uint64
	voiceFrames   uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result represents the result of voice activity detection for one frame
type Result struct {
	Probability float32   `json:"probability"` // smoothed voice probability (0.0 - 1.0)
	HasVoice    bool      `json:"has_voice"`
	Confidence  float32   `json:"confidence"` // distance from the threshold scaled to 0-1
	Energy      float32   `json:"energy"`     // raw RMS of the frame
	FrameIndex  uint64    `json:"frame_index"`
	Timestamp   time.Time `json:"timestamp"`
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalFrames     uint64    `json:"total_frames"`
	VoiceFrames     uint64    `json:"voice_frames"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewProcessor creates a new VAD processor. A referenceLevel of zero selects
// DefaultReferenceLevel.
func NewProcessor(threshold float32, referenceLevel float64) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	if referenceLevel < 0 {
		return nil, fmt.Errorf("reference level must not be negative, got %f", referenceLevel)
	}
	if referenceLevel == 0 {
		referenceLevel = DefaultReferenceLevel
	}

	return &Processor{
		threshold:      threshold,
		referenceLevel: referenceLevel,
		smoothing:      0.5,
	}, nil
}

// Process computes the voice probability of one frame
func (p *Processor) Process(samples []float32) (*Result, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	energy := rms(samples)
	probability := float32(math.Min(energy/p.referenceLevel, 1))

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.totalFrames > 0 {
		probability = p.smoothing*probability + (1-p.smoothing)*p.lastResult
	}
	p.lastResult = probability

	hasVoice := probability >= p.threshold

	p.totalFrames++
	if hasVoice {
		p.voiceFrames++
	}
	p.lastProcessed = time.Now()

	// Higher when probability is far from threshold
	confidence := float32(math.Abs(float64(probability - p.threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}

	return &Result{
		Probability: probability,
		HasVoice:    hasVoice,
		Confidence:  confidence * 2,
		Energy:      float32(energy),
		FrameIndex:  p.totalFrames - 1,
		Timestamp:   p.lastProcessed,
	}, nil
}

// rms returns the root mean square of samples
func rms(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalFrames > 0 {
		voicePercentage = float64(p.voiceFrames) / float64(p.totalFrames) * 100
	}

	return ProcessorStats{
		TotalFrames:     p.totalFrames,
		VoiceFrames:     p.voiceFrames,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
	}
}

// UpdateThreshold updates the voice detection threshold
func (p *Processor) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.threshold = threshold
	return nil
}

// Reset clears the smoothing state and statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalFrames = 0
	p.voiceFrames = 0
	p.lastResult = 0
	p.lastProcessed = time.Time{}
}

// GetThreshold returns the current voice detection threshold
func (p *Processor) GetThreshold() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}
