package recognition

import (
	"context"
	"sync"
	"time"
)

// MockEngine returns scripted transcripts in order, repeating the last one.
// It is safe for concurrent inspection while a worker drives it.
type MockEngine struct {
	mu sync.Mutex

	script []Transcript
	next   int

	delay     time.Duration
	err       error
	initDelay time.Duration
	initErr   error

	calls     int
	resets    int
	closed    bool
	lastFrame []int16
}

// NewMockEngine creates a mock that replies with the given transcripts
func NewMockEngine(script ...Transcript) *MockEngine {
	return &MockEngine{script: script}
}

// SetScript replaces the remaining transcripts
func (m *MockEngine) SetScript(script ...Transcript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = script
	m.next = 0
}

// SetDelay makes every AcceptWaveform call block for d
func (m *MockEngine) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetError makes AcceptWaveform fail with err; nil restores normal replies
func (m *MockEngine) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetInitBehavior controls how the Factory handshake behaves
func (m *MockEngine) SetInitBehavior(delay time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initDelay = delay
	m.initErr = err
}

// Factory returns a Factory that hands out this mock after the configured
// init delay, or the configured init error.
func (m *MockEngine) Factory() Factory {
	return func(ctx context.Context, _ string, _ int) (Engine, error) {
		m.mu.Lock()
		delay, err := m.initDelay, m.initErr
		m.mu.Unlock()

		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// AcceptWaveform returns the next scripted transcript
func (m *MockEngine) AcceptWaveform(pcm []int16) (Transcript, error) {
	m.mu.Lock()
	delay := m.delay
	m.calls++
	m.lastFrame = append(m.lastFrame[:0], pcm...)
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Transcript{}, ErrEngineClosed
	}
	if m.err != nil {
		return Transcript{}, m.err
	}
	if len(m.script) == 0 {
		return Transcript{}, nil
	}

	tr := m.script[m.next]
	if m.next < len(m.script)-1 {
		m.next++
	}
	return tr, nil
}

// Reset counts the reset
func (m *MockEngine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrEngineClosed
	}
	m.resets++
	return nil
}

// Close marks the mock closed
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns the number of AcceptWaveform calls
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Resets returns the number of Reset calls
func (m *MockEngine) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Closed reports whether Close was called
func (m *MockEngine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// LastFrame returns a copy of the most recent frame
func (m *MockEngine) LastFrame() []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int16(nil), m.lastFrame...)
}
