package server

import (
	"testing"
	"time"

	"github.com/skypro1111/voice-activation-service/internal/audio"
	"github.com/skypro1111/voice-activation-service/internal/metrics"
	"github.com/skypro1111/voice-activation-service/internal/recognition"
	"github.com/skypro1111/voice-activation-service/internal/session"
	"github.com/skypro1111/voice-activation-service/internal/wakeword"
)

func testSessionConfig() session.Config {
	return session.Config{
		SampleRate:     16000,
		BufferDuration: 5 * time.Second,
		WakeWord:       wakeword.DefaultConfig(),
		InitTimeout:    time.Second,
		ProcessTimeout: 200 * time.Millisecond,
		Collector: audio.CollectorConfig{
			MinSilence:   300 * time.Millisecond,
			MinSpeech:    200 * time.Millisecond,
			MaxUtterance: 5 * time.Second,
		},
		VADThreshold: 0.3,
		VADReference: 0.05,
		QueueSize:    32,
		Timeout:      time.Minute,
		MaxSessions:  8,
	}
}

func newTestManager(t *testing.T, m *metrics.Metrics, opts ...session.Option) *session.Manager {
	t.Helper()
	opts = append(opts, session.WithMetrics(m))
	mgr, err := session.NewManager(nil, testSessionConfig(), recognition.StubFactory(), opts...)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
