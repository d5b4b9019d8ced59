package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FloatToPCM16 clamps s to [-1, 1] and scales it to a signed 16-bit sample.
// Negative values scale by 0x8000 and positive values by 0x7FFF so both
// extremes map onto the full int16 range. NaN maps to 0.
func FloatToPCM16(s float32) int16 {
	if s != s {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// FloatsToPCM16 converts a float slice with FloatToPCM16
func FloatsToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = FloatToPCM16(s)
	}
	return out
}

// PCM16ToFloats converts signed 16-bit samples to floats in [-1, 1)
func PCM16ToFloats(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 0x8000
	}
	return out
}

// DecodeFloat32LE parses little-endian IEEE-754 float32 samples
func DecodeFloat32LE(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 payload length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// DecodePCM16LE parses little-endian signed 16-bit samples into floats
func DecodePCM16LE(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM16 payload length %d is odd", len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 0x8000
	}
	return out, nil
}

// EncodeFloat32LE serializes samples as little-endian float32
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// EncodePCM16LE clamps samples to PCM-16 and serializes them little-endian
func EncodePCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToPCM16(s)))
	}
	return out
}
