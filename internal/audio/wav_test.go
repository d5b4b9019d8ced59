package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	// 440Hz sine wave for 0.1 seconds at 8kHz
	sampleRate := 8000
	numSamples := 800
	samples := make([]int16, numSamples)
	for i := range samples {
		tt := float64(i) / float64(sampleRate)
		samples[i] = int16(16383.0 * math.Sin(2*math.Pi*440*tt))
	}

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := WAVHeaderSize + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}
	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestEncodeWAVHeaderFields(t *testing.T) {
	wavData, err := EncodeWAV([]int16{1, 2, 3}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	le := binary.LittleEndian
	checks := []struct {
		name     string
		got      uint32
		expected uint32
	}{
		{"chunk size", le.Uint32(wavData[4:8]), 36 + 6},
		{"fmt size", le.Uint32(wavData[16:20]), 16},
		{"audio format", uint32(le.Uint16(wavData[20:22])), 1},
		{"channels", uint32(le.Uint16(wavData[22:24])), 1},
		{"sample rate", le.Uint32(wavData[24:28]), 16000},
		{"byte rate", le.Uint32(wavData[28:32]), 32000},
		{"block align", uint32(le.Uint16(wavData[32:34])), 2},
		{"bits per sample", uint32(le.Uint16(wavData[34:36])), 16},
		{"data size", le.Uint32(wavData[40:44]), 6},
	}
	for _, c := range checks {
		if c.got != c.expected {
			t.Errorf("%s: expected %d, got %d", c.name, c.expected, c.got)
		}
	}
}

func TestDecodeWAV(t *testing.T) {
	originalSamples := []int16{100, -200, 300, -400, 500}
	sampleRate := 8000

	wavData, err := EncodeWAV(originalSamples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decodedSamples, decodedSampleRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if decodedSampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedSampleRate)
	}
	if len(decodedSamples) != len(originalSamples) {
		t.Fatalf("Expected %d samples, got %d", len(originalSamples), len(decodedSamples))
	}
	for i, original := range originalSamples {
		if decodedSamples[i] != original {
			t.Errorf("Sample %d: expected %d, got %d", i, original, decodedSamples[i])
		}
	}
}

func TestDecodeWAVTruncated(t *testing.T) {
	wavData, _ := EncodeWAV([]int16{1, 2, 3, 4}, 8000)
	if _, _, err := DecodeWAV(wavData[:len(wavData)-2]); err == nil {
		t.Error("Expected error for truncated data chunk")
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	wavData, err := EncodeWAV(nil, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if len(wavData) != WAVHeaderSize {
		t.Errorf("Expected header-only WAV of %d bytes, got %d", WAVHeaderSize, len(wavData))
	}

	samples, _, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("Expected no samples, got %d", len(samples))
	}
}

func TestEncodeWAVInvalidSampleRate(t *testing.T) {
	samples := []int16{100, 200, 300}
	if _, err := EncodeWAV(samples, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if _, err := EncodeWAV(samples, -1000); err == nil {
		t.Error("Expected error for negative sample rate")
	}
}

func TestValidateWAV(t *testing.T) {
	if err := ValidateWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], "FAKE")
	if err := ValidateWAV(invalidWAV); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}
}

func TestEncodeFloatWAVClamps(t *testing.T) {
	wavData, err := EncodeFloatWAV([]float32{1.5, 1.0, -1.0, -2.0, 0}, 16000)
	if err != nil {
		t.Fatalf("EncodeFloatWAV failed: %v", err)
	}

	samples, _, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	expected := []int16{32767, 32767, -32768, -32768, 0}
	for i, want := range expected {
		if samples[i] != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, samples[i])
		}
	}
}
