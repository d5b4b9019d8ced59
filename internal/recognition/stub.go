package recognition

import (
	"context"
	"sync/atomic"
)

// StubEngine accepts audio and never recognizes anything. It is selected
// when no recognizer is configured so the pipeline keeps running.
type StubEngine struct {
	closed atomic.Bool
}

// NewStubEngine creates a stub engine
func NewStubEngine() *StubEngine {
	return &StubEngine{}
}

// StubFactory returns a Factory producing stub engines
func StubFactory() Factory {
	return func(context.Context, string, int) (Engine, error) {
		return NewStubEngine(), nil
	}
}

// AcceptWaveform returns an empty partial transcript
func (s *StubEngine) AcceptWaveform([]int16) (Transcript, error) {
	if s.closed.Load() {
		return Transcript{}, ErrEngineClosed
	}
	return Transcript{}, nil
}

// Reset does nothing
func (s *StubEngine) Reset() error {
	if s.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

// Close marks the engine closed
func (s *StubEngine) Close() error {
	s.closed.Store(true)
	return nil
}
