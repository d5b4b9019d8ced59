package recognition

import (
	"context"
	"errors"
)

var (
	// ErrEngineClosed is returned by engines used after Close
	ErrEngineClosed = errors.New("recognition engine closed")
	// ErrNoTranscript is returned when an engine produced no usable reply
	ErrNoTranscript = errors.New("recognition engine produced no transcript")
)

// Transcript is the text recognized so far. Final marks the end of a phrase;
// partial transcripts may still change on the next call.
type Transcript struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Engine turns 16-bit PCM frames into transcripts. Implementations are
// stateful across calls and are driven by a single goroutine.
type Engine interface {
	// AcceptWaveform feeds one frame and returns the current transcript
	AcceptWaveform(pcm []int16) (Transcript, error)
	// Reset clears accumulated acoustic context
	Reset() error
	// Close releases the engine. It is safe to call more than once.
	Close() error
}

// Factory creates an engine for a model and sample rate
type Factory func(ctx context.Context, modelPath string, sampleRate int) (Engine, error)
