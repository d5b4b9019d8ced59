package audio

import (
	"sync"
	"time"
)

const (
	// DefaultMaxDuration is the retention window used when none is configured
	DefaultMaxDuration = 10 * time.Second
	// MaxRetention is the hard ceiling on retained audio regardless of configuration
	MaxRetention = 30 * time.Second
	// DefaultSampleRate is the capture rate assumed when none is configured
	DefaultSampleRate = 16000
	// SpeechPreRoll is how far before the speech marker an export reaches back
	SpeechPreRoll = 500 * time.Millisecond
)

// Clock returns the current capture time
type Clock func() time.Time

// BufferConfig holds ring buffer settings. Zero values select defaults.
type BufferConfig struct {
	MaxDuration time.Duration
	SampleRate  int
}

// Chunk is one arrival of audio. Samples are owned by the buffer and never
// mutated after the chunk is stored.
type Chunk struct {
	Samples   []float32
	Timestamp time.Time
}

// RingBuffer keeps the most recent audio chunks up to a maximum age and
// tracks a speech window that can be exported as WAV.
type RingBuffer struct {
	chunks      []Chunk // oldest first
	maxDuration time.Duration
	sampleRate  int
	sampleCount int

	speechStart       time.Time
	isRecordingSpeech bool

	clock Clock
	mu    sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Chunks            int     `json:"chunks"`
	Samples           int     `json:"samples"`
	DurationMs        int64   `json:"duration_ms"`
	AudioSeconds      float64 `json:"audio_seconds"`
	MemoryBytes       int     `json:"memory_bytes"`
	MaxDurationMs     int64   `json:"max_duration_ms"`
	SampleRate        int     `json:"sample_rate"`
	IsRecordingSpeech bool    `json:"is_recording_speech"`
}

// BufferOption configures a RingBuffer
type BufferOption func(*RingBuffer)

// WithClock replaces the wall clock used to stamp incoming chunks
func WithClock(clock Clock) BufferOption {
	return func(b *RingBuffer) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// NewRingBuffer creates a ring buffer. A max duration above MaxRetention is
// clamped to it; zero or negative values select DefaultMaxDuration.
func NewRingBuffer(cfg BufferConfig, opts ...BufferOption) *RingBuffer {
	maxDuration := cfg.MaxDuration
	switch {
	case maxDuration <= 0:
		maxDuration = DefaultMaxDuration
	case maxDuration > MaxRetention:
		maxDuration = MaxRetention
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	b := &RingBuffer{
		maxDuration: maxDuration,
		sampleRate:  sampleRate,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddChunk copies samples into a new chunk stamped with the current time and
// evicts chunks older than the retention window.
func (b *RingBuffer) AddChunk(samples []float32) {
	stored := make([]float32, len(samples))
	copy(stored, samples)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	// A clock stepping backwards must not break timestamp ordering
	if n := len(b.chunks); n > 0 && now.Before(b.chunks[n-1].Timestamp) {
		now = b.chunks[n-1].Timestamp
	}

	b.chunks = append(b.chunks, Chunk{Samples: stored, Timestamp: now})
	b.sampleCount += len(stored)
	b.evict(now)
}

// evict drops chunks from the front whose age exceeds maxDuration
func (b *RingBuffer) evict(now time.Time) {
	cutoff := now.Add(-b.maxDuration)

	drop := 0
	for drop < len(b.chunks) && b.chunks[drop].Timestamp.Before(cutoff) {
		b.sampleCount -= len(b.chunks[drop].Samples)
		drop++
	}
	if drop == 0 {
		return
	}

	// Release sample slices before reslicing so the backing array does not pin them
	clear(b.chunks[:drop])
	b.chunks = b.chunks[drop:]
}

// StartSpeech marks the start of a speech window. Calling it again while
// already recording keeps the original marker.
func (b *RingBuffer) StartSpeech() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isRecordingSpeech {
		return
	}
	b.speechStart = b.clock()
	b.isRecordingSpeech = true
}

// EndSpeech stops recording. The speech marker is kept for export.
func (b *RingBuffer) EndSpeech() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isRecordingSpeech = false
}

// IsRecordingSpeech reports whether a speech window is open
func (b *RingBuffer) IsRecordingSpeech() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isRecordingSpeech
}

// SpeechStart returns the speech marker and whether one is set
func (b *RingBuffer) SpeechStart() (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.speechStart, !b.speechStart.IsZero()
}

// ExportSamples concatenates every retained chunk, oldest first
func (b *RingBuffer) ExportSamples() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.concat(0)
}

// ExportSpeechSamples returns the chunks at or after the speech marker minus
// SpeechPreRoll. Without a marker, or when no chunk qualifies, it returns
// every retained chunk.
func (b *RingBuffer) ExportSpeechSamples() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.speechSamples()
}

func (b *RingBuffer) speechSamples() []float32 {
	if b.speechStart.IsZero() {
		return b.concat(0)
	}

	floor := b.speechStart.Add(-SpeechPreRoll)
	for i, chunk := range b.chunks {
		if !chunk.Timestamp.Before(floor) {
			return b.concat(i)
		}
	}
	return b.concat(0)
}

// concat copies chunks[from:] into one contiguous slice
func (b *RingBuffer) concat(from int) []float32 {
	total := 0
	for _, chunk := range b.chunks[from:] {
		total += len(chunk.Samples)
	}

	out := make([]float32, 0, total)
	for _, chunk := range b.chunks[from:] {
		out = append(out, chunk.Samples...)
	}
	return out
}

// ExportAsWav encodes the speech samples as a mono 16-bit PCM WAV file.
// An empty buffer yields a header-only file.
func (b *RingBuffer) ExportAsWav() []byte {
	b.mu.RLock()
	samples := b.speechSamples()
	sampleRate := b.sampleRate
	b.mu.RUnlock()

	return encodeWAV(FloatsToPCM16(samples), sampleRate)
}

// Clear drops all chunks and resets the speech markers
func (b *RingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = nil
	b.sampleCount = 0
	b.speechStart = time.Time{}
	b.isRecordingSpeech = false
}

// Duration returns the time span between the oldest and newest retained chunk
func (b *RingBuffer) Duration() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.span()
}

func (b *RingBuffer) span() time.Duration {
	if len(b.chunks) < 2 {
		return 0
	}
	return b.chunks[len(b.chunks)-1].Timestamp.Sub(b.chunks[0].Timestamp)
}

// SampleCount returns the number of retained samples
func (b *RingBuffer) SampleCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sampleCount
}

// MemoryUsage returns the retained sample memory in bytes (4 bytes per sample)
func (b *RingBuffer) MemoryUsage() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sampleCount * 4
}

// ChunkCount returns the number of retained chunks
func (b *RingBuffer) ChunkCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chunks)
}

// Chunks returns a copy of the retained chunks, oldest first
func (b *RingBuffer) Chunks() []Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Chunk, len(b.chunks))
	for i, chunk := range b.chunks {
		samples := make([]float32, len(chunk.Samples))
		copy(samples, chunk.Samples)
		out[i] = Chunk{Samples: samples, Timestamp: chunk.Timestamp}
	}
	return out
}

// MaxDuration returns the effective retention window after clamping
func (b *RingBuffer) MaxDuration() time.Duration {
	return b.maxDuration
}

// SampleRate returns the sample rate used for WAV export
func (b *RingBuffer) SampleRate() int {
	return b.sampleRate
}

// GetStats returns current buffer statistics
func (b *RingBuffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		Chunks:            len(b.chunks),
		Samples:           b.sampleCount,
		DurationMs:        b.span().Milliseconds(),
		AudioSeconds:      float64(b.sampleCount) / float64(b.sampleRate),
		MemoryBytes:       b.sampleCount * 4,
		MaxDurationMs:     b.maxDuration.Milliseconds(),
		SampleRate:        b.sampleRate,
		IsRecordingSpeech: b.isRecordingSpeech,
	}
}
