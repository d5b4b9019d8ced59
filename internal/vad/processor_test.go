package vad

import (
	"math"
	"testing"
)

func sineFrame(n int, amplitude float64) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return frame
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name           string
		threshold      float32
		referenceLevel float64
		expectErr      bool
	}{
		{"valid parameters", 0.5, 0.05, false},
		{"default reference", 0.5, 0, false},
		{"threshold too low", -0.1, 0.05, true},
		{"threshold too high", 1.1, 0.05, true},
		{"negative reference", 0.5, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProcessor(tt.threshold, tt.referenceLevel)
			if tt.expectErr {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if p.GetThreshold() != tt.threshold {
				t.Errorf("Expected threshold %f, got %f", tt.threshold, p.GetThreshold())
			}
		})
	}
}

func TestProcessRejectsEmptyFrame(t *testing.T) {
	p, _ := NewProcessor(0.5, 0)
	if _, err := p.Process(nil); err == nil {
		t.Error("Expected error for empty frame")
	}
}

func TestProcessSilenceAndVoice(t *testing.T) {
	p, err := NewProcessor(0.5, 0.05)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	silence := make([]float32, 320)
	result, err := p.Process(silence)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.HasVoice {
		t.Error("Expected no voice for silence")
	}
	if result.Probability != 0 {
		t.Errorf("Expected zero probability, got %f", result.Probability)
	}

	// Loud frames drive the smoothed probability above threshold
	loud := sineFrame(320, 0.5)
	for i := 0; i < 5; i++ {
		result, err = p.Process(loud)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
	}
	if !result.HasVoice {
		t.Errorf("Expected voice after loud frames, probability %f", result.Probability)
	}

	stats := p.GetStats()
	if stats.TotalFrames != 6 {
		t.Errorf("Expected 6 frames, got %d", stats.TotalFrames)
	}
	if stats.VoiceFrames == 0 {
		t.Error("Expected some voice frames")
	}
}

func TestProcessSmoothing(t *testing.T) {
	p, _ := NewProcessor(0.5, 0.05)

	loud := sineFrame(320, 0.5)
	first, _ := p.Process(loud)
	second, _ := p.Process(make([]float32, 320))

	// A single silent frame halves the probability rather than zeroing it
	if second.Probability != first.Probability/2 {
		t.Errorf("Expected smoothed probability %f, got %f", first.Probability/2, second.Probability)
	}
}

func TestUpdateThreshold(t *testing.T) {
	p, _ := NewProcessor(0.5, 0)

	if err := p.UpdateThreshold(0.7); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if p.GetThreshold() != 0.7 {
		t.Errorf("Expected threshold 0.7, got %f", p.GetThreshold())
	}
	if err := p.UpdateThreshold(1.5); err == nil {
		t.Error("Expected error for invalid threshold")
	}
}

func TestReset(t *testing.T) {
	p, _ := NewProcessor(0.5, 0)
	p.Process(sineFrame(160, 0.3))
	p.Reset()

	stats := p.GetStats()
	if stats.TotalFrames != 0 || stats.VoiceFrames != 0 {
		t.Errorf("Expected cleared stats, got %+v", stats)
	}
}
