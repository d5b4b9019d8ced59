package audio

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func constChunk(n int, v float32) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return samples
}

func TestNewRingBufferDefaults(t *testing.T) {
	tests := []struct {
		name        string
		config      BufferConfig
		maxDuration time.Duration
		sampleRate  int
	}{
		{"zero config", BufferConfig{}, DefaultMaxDuration, DefaultSampleRate},
		{"explicit", BufferConfig{MaxDuration: 5 * time.Second, SampleRate: 8000}, 5 * time.Second, 8000},
		{"clamped", BufferConfig{MaxDuration: time.Minute}, MaxRetention, DefaultSampleRate},
		{"negative", BufferConfig{MaxDuration: -time.Second, SampleRate: -1}, DefaultMaxDuration, DefaultSampleRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewRingBuffer(tt.config)
			if b.MaxDuration() != tt.maxDuration {
				t.Errorf("Expected max duration %v, got %v", tt.maxDuration, b.MaxDuration())
			}
			if b.SampleRate() != tt.sampleRate {
				t.Errorf("Expected sample rate %d, got %d", tt.sampleRate, b.SampleRate())
			}
		})
	}
}

func TestRingBufferEvictsOldChunks(t *testing.T) {
	clock := newFakeClock()
	b := NewRingBuffer(BufferConfig{MaxDuration: time.Second, SampleRate: 16000}, WithClock(clock.Now))

	// 20 chunks 100ms apart; only the last second should be retained
	for i := 0; i < 20; i++ {
		b.AddChunk(constChunk(1600, float32(i)))
		clock.Advance(100 * time.Millisecond)
	}

	chunks := b.Chunks()
	if len(chunks) != 11 {
		t.Fatalf("Expected 11 retained chunks, got %d", len(chunks))
	}
	if chunks[0].Samples[0] != 9 {
		t.Errorf("Expected oldest chunk 9, got %f", chunks[0].Samples[0])
	}
	if b.Duration() != time.Second {
		t.Errorf("Expected duration 1s, got %v", b.Duration())
	}
	if b.SampleCount() != 11*1600 {
		t.Errorf("Expected %d samples, got %d", 11*1600, b.SampleCount())
	}
	if b.MemoryUsage() != 11*1600*4 {
		t.Errorf("Expected %d bytes, got %d", 11*1600*4, b.MemoryUsage())
	}
}

func TestRingBufferHardCap(t *testing.T) {
	clock := newFakeClock()
	b := NewRingBuffer(BufferConfig{MaxDuration: 5 * time.Minute}, WithClock(clock.Now))

	for i := 0; i < 600; i++ {
		b.AddChunk(constChunk(160, 0.1))
		clock.Advance(100 * time.Millisecond)
	}

	if b.Duration() > MaxRetention {
		t.Errorf("Expected duration at most %v, got %v", MaxRetention, b.Duration())
	}
}

func TestRingBufferOrdering(t *testing.T) {
	clock := newFakeClock()
	b := NewRingBuffer(BufferConfig{}, WithClock(clock.Now))

	b.AddChunk([]float32{1})
	clock.Advance(10 * time.Millisecond)
	b.AddChunk([]float32{2})
	// Clock stepping backwards
	clock.Advance(-time.Second)
	b.AddChunk([]float32{3})

	chunks := b.Chunks()
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Timestamp.Before(chunks[i-1].Timestamp) {
			t.Errorf("Chunk %d timestamp precedes chunk %d", i, i-1)
		}
	}

	samples := b.ExportSamples()
	for i, want := range []float32{1, 2, 3} {
		if samples[i] != want {
			t.Errorf("Sample %d: expected %f, got %f", i, want, samples[i])
		}
	}
}

func TestRingBufferCopiesInput(t *testing.T) {
	b := NewRingBuffer(BufferConfig{})
	input := []float32{0.5, 0.5}
	b.AddChunk(input)
	input[0] = 0.9

	if got := b.ExportSamples()[0]; got != 0.5 {
		t.Errorf("Expected stored sample 0.5, got %f", got)
	}
}

func TestExportSpeechSamplesPreRoll(t *testing.T) {
	clock := newFakeClock()
	b := NewRingBuffer(BufferConfig{}, WithClock(clock.Now))

	// Chunks at 0, 200, ..., 1800ms
	for i := 0; i < 10; i++ {
		b.AddChunk([]float32{float32(i)})
		clock.Advance(200 * time.Millisecond)
	}

	// Speech marker at 2000ms, so pre-roll reaches back to 1500ms
	b.StartSpeech()
	if !b.IsRecordingSpeech() {
		t.Fatal("Expected recording speech")
	}

	samples := b.ExportSpeechSamples()
	expected := []float32{8, 9}
	if len(samples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(samples))
	}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Errorf("Sample %d: expected %f, got %f", i, expected[i], samples[i])
		}
	}
}

func TestExportSpeechSamplesFallback(t *testing.T) {
	clock := newFakeClock()
	b := NewRingBuffer(BufferConfig{}, WithClock(clock.Now))

	b.AddChunk([]float32{1})
	b.AddChunk([]float32{2})

	// No marker set
	if got := len(b.ExportSpeechSamples()); got != 2 {
		t.Errorf("Expected all 2 samples without a marker, got %d", got)
	}

	// Marker well after every chunk
	clock.Advance(5 * time.Second)
	b.StartSpeech()
	if got := len(b.ExportSpeechSamples()); got != 2 {
		t.Errorf("Expected all 2 samples when no chunk qualifies, got %d", got)
	}
}

func TestStartSpeechKeepsFirstMarker(t *testing.T) {
	clock := newFakeClock()
	b := NewRingBuffer(BufferConfig{}, WithClock(clock.Now))

	b.StartSpeech()
	first, _ := b.SpeechStart()
	clock.Advance(time.Second)
	b.StartSpeech()
	second, ok := b.SpeechStart()
	if !ok || !first.Equal(second) {
		t.Errorf("Expected marker %v to be kept, got %v", first, second)
	}

	b.EndSpeech()
	if b.IsRecordingSpeech() {
		t.Error("Expected recording to stop")
	}
	if _, ok := b.SpeechStart(); !ok {
		t.Error("Expected marker to survive EndSpeech")
	}
}

func TestExportAsWav(t *testing.T) {
	b := NewRingBuffer(BufferConfig{SampleRate: 16000})

	empty := b.ExportAsWav()
	if len(empty) != WAVHeaderSize {
		t.Errorf("Expected header-only WAV, got %d bytes", len(empty))
	}

	b.AddChunk([]float32{1.5, 1.0, -1.0, 0})
	wavData := b.ExportAsWav()
	if len(wavData) != WAVHeaderSize+4*2 {
		t.Fatalf("Expected %d bytes, got %d", WAVHeaderSize+8, len(wavData))
	}

	samples, rate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if samples[0] != samples[1] {
		t.Errorf("Expected clamped 1.5 to equal 1.0, got %d and %d", samples[0], samples[1])
	}
	if samples[2] != -32768 {
		t.Errorf("Expected -32768, got %d", samples[2])
	}
}

func TestRingBufferClear(t *testing.T) {
	b := NewRingBuffer(BufferConfig{})
	b.AddChunk(constChunk(100, 0.2))
	b.StartSpeech()

	b.Clear()

	if b.ChunkCount() != 0 || b.SampleCount() != 0 {
		t.Errorf("Expected empty buffer, got %d chunks, %d samples", b.ChunkCount(), b.SampleCount())
	}
	if b.IsRecordingSpeech() {
		t.Error("Expected speech recording cleared")
	}
	if _, ok := b.SpeechStart(); ok {
		t.Error("Expected speech marker cleared")
	}
	if b.Duration() != 0 {
		t.Errorf("Expected zero duration, got %v", b.Duration())
	}
}

func TestRingBufferStats(t *testing.T) {
	clock := newFakeClock()
	b := NewRingBuffer(BufferConfig{SampleRate: 16000}, WithClock(clock.Now))

	b.AddChunk(constChunk(1600, 0))
	clock.Advance(100 * time.Millisecond)
	b.AddChunk(constChunk(1600, 0))

	stats := b.GetStats()
	if stats.Chunks != 2 {
		t.Errorf("Expected 2 chunks, got %d", stats.Chunks)
	}
	if stats.DurationMs != 100 {
		t.Errorf("Expected 100ms span, got %d", stats.DurationMs)
	}
	if stats.AudioSeconds != 0.2 {
		t.Errorf("Expected 0.2s of audio, got %f", stats.AudioSeconds)
	}
	if stats.MemoryBytes != 3200*4 {
		t.Errorf("Expected %d bytes, got %d", 3200*4, stats.MemoryBytes)
	}
}

func TestRingBufferConcurrentAccess(t *testing.T) {
	b := NewRingBuffer(BufferConfig{MaxDuration: 100 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.AddChunk(constChunk(16, 0.1))
				_ = b.ExportSpeechSamples()
				_ = b.GetStats()
			}
		}()
	}
	wg.Wait()

	if b.SampleCount() != len(b.ExportSamples()) {
		t.Errorf("Sample count %d disagrees with export length %d", b.SampleCount(), len(b.ExportSamples()))
	}
}
