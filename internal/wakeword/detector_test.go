package wakeword

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/voice-activation-service/internal/metrics"
	"github.com/skypro1111/voice-activation-service/internal/recognition"
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

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func frame() []float32 {
	return make([]float32, 320)
}

func newReadyDetector(t *testing.T, engine *recognition.MockEngine, opts ...Option) *Detector {
	t.Helper()
	opts = append([]Option{WithMetrics(metrics.NewMetrics(prometheus.NewRegistry()))}, opts...)
	d := NewDetector(DefaultConfig(), engine.Factory(), opts...)
	if err := d.Initialize(context.Background(), "/models/test"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(d.Destroy)
	return d
}

func TestDetectorInitialize(t *testing.T) {
	engine := recognition.NewMockEngine()
	d := NewDetector(DefaultConfig(), engine.Factory())

	if d.State() != StateUninitialized {
		t.Errorf("Expected uninitialized, got %s", d.State())
	}
	if err := d.Initialize(context.Background(), ""); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer d.Destroy()

	if !d.IsReady() {
		t.Errorf("Expected ready, got %s", d.State())
	}
	if err := d.Initialize(context.Background(), ""); err != nil {
		t.Errorf("Second Initialize should be a no-op, got %v", err)
	}
}

func TestDetectorCooldown(t *testing.T) {
	clock := newFakeClock()
	engine := recognition.NewMockEngine(recognition.Transcript{Text: "hi bayit turn on the lights", Final: true})
	d := newReadyDetector(t, engine, WithClock(clock.Now))

	cfg := d.Config()
	cfg.Cooldown = 2 * time.Second
	d.SetConfig(cfg)

	// t=0
	first := d.ProcessAudio(context.Background(), frame())
	if !first.Detected || first.Confidence != 1.0 {
		t.Fatalf("Expected detection with confidence 1.0, got %+v", first)
	}
	waitFor(t, func() bool { return engine.Resets() == 1 })

	// t=1000
	clock.Advance(time.Second)
	if d.ProcessAudio(context.Background(), frame()).Detected {
		t.Error("Expected no detection during cooldown")
	}
	if !d.IsInCooldown() {
		t.Error("Expected detector in cooldown")
	}
	if engine.Calls() != 1 {
		t.Errorf("Expected engine untouched during cooldown, got %d calls", engine.Calls())
	}

	// t=2100
	clock.Advance(1100 * time.Millisecond)
	if !d.ProcessAudio(context.Background(), frame()).Detected {
		t.Error("Expected detection after cooldown")
	}

	stats := d.Stats()
	if stats.Detections != 2 {
		t.Errorf("Expected 2 detections, got %d", stats.Detections)
	}
	if stats.CooldownSkips != 1 {
		t.Errorf("Expected 1 cooldown skip, got %d", stats.CooldownSkips)
	}
}

func TestDetectorRejectsNonMatch(t *testing.T) {
	engine := recognition.NewMockEngine(recognition.Transcript{Text: "hey buy it please", Final: true})
	d := newReadyDetector(t, engine)

	result := d.ProcessAudio(context.Background(), frame())
	if result.Detected {
		t.Errorf("Expected no detection, got %+v", result)
	}
	if result.Transcript != "hey buy it please" {
		t.Errorf("Expected transcript to be reported, got %q", result.Transcript)
	}
	if d.IsInCooldown() {
		t.Error("Rejected transcript must not start a cooldown")
	}
}

func TestDetectorPartialTranscript(t *testing.T) {
	engine := recognition.NewMockEngine(recognition.Transcript{Text: "hi bayit"})
	d := newReadyDetector(t, engine)

	if !d.ProcessAudio(context.Background(), frame()).Detected {
		t.Error("Expected partial transcripts to be matched")
	}
}

func TestDetectorFallbackOnInitTimeout(t *testing.T) {
	engine := recognition.NewMockEngine(recognition.Transcript{Text: "hi bayit", Final: true})
	engine.SetInitBehavior(time.Second, nil)

	d := NewDetector(DefaultConfig(), engine.Factory(), WithInitTimeout(50*time.Millisecond))
	defer d.Destroy()

	err := d.Initialize(context.Background(), "/models/slow")
	if !errors.Is(err, ErrInitTimeout) {
		t.Fatalf("Expected ErrInitTimeout, got %v", err)
	}
	if d.State() != StateFallback {
		t.Fatalf("Expected fallback, got %s", d.State())
	}

	for i := 0; i < 3; i++ {
		result := d.ProcessAudio(context.Background(), frame())
		if result.Detected || result.Confidence != 0 {
			t.Errorf("Expected non-detection in fallback, got %+v", result)
		}
	}
	if engine.Calls() != 0 {
		t.Errorf("Expected engine never called, got %d", engine.Calls())
	}
	if d.Stats().FallbackSkips != 3 {
		t.Errorf("Expected 3 fallback skips, got %d", d.Stats().FallbackSkips)
	}
}

func TestDetectorFallbackOnInitError(t *testing.T) {
	engine := recognition.NewMockEngine()
	boom := errors.New("model missing")
	engine.SetInitBehavior(0, boom)

	d := NewDetector(DefaultConfig(), engine.Factory())
	defer d.Destroy()

	if err := d.Initialize(context.Background(), ""); !errors.Is(err, boom) {
		t.Errorf("Expected model error, got %v", err)
	}
	if d.State() != StateFallback {
		t.Errorf("Expected fallback, got %s", d.State())
	}

	// Recovery: a later successful init leaves fallback
	engine.SetInitBehavior(0, nil)
	if err := d.Initialize(context.Background(), ""); err != nil {
		t.Fatalf("Re-initialize failed: %v", err)
	}
	if !d.IsReady() {
		t.Errorf("Expected ready after re-init, got %s", d.State())
	}
}

func TestDetectorUninitialized(t *testing.T) {
	d := NewDetector(DefaultConfig(), nil)
	result := d.ProcessAudio(context.Background(), frame())
	if result.Detected || result.Confidence != 0 {
		t.Errorf("Expected non-detection before init, got %+v", result)
	}
}

func TestDetectorProcessTimeout(t *testing.T) {
	engine := recognition.NewMockEngine(recognition.Transcript{Text: "hi bayit", Final: true})
	engine.SetDelay(200 * time.Millisecond)
	d := newReadyDetector(t, engine, WithProcessTimeout(20*time.Millisecond))

	started := time.Now()
	result := d.ProcessAudio(context.Background(), frame())
	if result.Detected {
		t.Error("Expected non-detection on timeout")
	}
	if elapsed := time.Since(started); elapsed > 150*time.Millisecond {
		t.Errorf("Expected call to return near the timeout, took %v", elapsed)
	}
	if d.Stats().Timeouts != 1 {
		t.Errorf("Expected 1 timeout, got %d", d.Stats().Timeouts)
	}
	if !d.IsReady() {
		t.Error("Detector should stay ready after a timeout")
	}

	// Let the stalled call drain, then recover
	waitFor(t, func() bool { return engine.Calls() == 1 })
	engine.SetDelay(0)
	time.Sleep(250 * time.Millisecond)
	if !d.ProcessAudio(context.Background(), frame()).Detected {
		t.Error("Expected detection once the engine responds in time")
	}
}

func TestDetectorEngineError(t *testing.T) {
	engine := recognition.NewMockEngine()
	engine.SetError(errors.New("decoder failure"))
	d := newReadyDetector(t, engine)

	if d.ProcessAudio(context.Background(), frame()).Detected {
		t.Error("Expected non-detection on engine error")
	}
	if d.Stats().Errors != 1 {
		t.Errorf("Expected 1 error, got %d", d.Stats().Errors)
	}
	if !d.IsReady() {
		t.Error("Detector should stay ready after an engine error")
	}
}

func TestDetectorDisabled(t *testing.T) {
	engine := recognition.NewMockEngine(recognition.Transcript{Text: "hi bayit", Final: true})
	d := newReadyDetector(t, engine)

	cfg := d.Config()
	cfg.Enabled = false
	d.SetConfig(cfg)

	if d.ProcessAudio(context.Background(), frame()).Detected {
		t.Error("Expected no detection while disabled")
	}
	if engine.Calls() != 0 {
		t.Errorf("Expected engine untouched while disabled, got %d calls", engine.Calls())
	}
}

func TestDetectorConvertsSamples(t *testing.T) {
	engine := recognition.NewMockEngine()
	d := newReadyDetector(t, engine)

	d.ProcessAudio(context.Background(), []float32{1.5, 1.0, -1.0, -1.5, 0})

	got := engine.LastFrame()
	expected := []int16{32767, 32767, -32768, -32768, 0}
	if len(got) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], got[i])
		}
	}
}

func TestDetectorDestroy(t *testing.T) {
	engine := recognition.NewMockEngine(recognition.Transcript{Text: "hi bayit", Final: true})
	engine.SetDelay(2 * time.Second)
	d := newReadyDetector(t, engine, WithProcessTimeout(5*time.Second))

	done := make(chan Result, 1)
	go func() {
		done <- d.ProcessAudio(context.Background(), frame())
	}()

	waitFor(t, func() bool { return engine.Calls() == 1 })
	d.Destroy()

	select {
	case result := <-done:
		if result.Detected {
			t.Error("Expected in-flight call to resolve as non-detected")
		}
	case <-time.After(time.Second):
		t.Fatal("In-flight call did not resolve after Destroy")
	}

	if d.State() != StateUninitialized {
		t.Errorf("Expected uninitialized after Destroy, got %s", d.State())
	}
	if !engine.Closed() {
		t.Error("Expected engine closed")
	}

	// Idempotent
	d.Destroy()
	d.Destroy()

	if d.ProcessAudio(context.Background(), frame()).Detected {
		t.Error("Expected non-detection after Destroy")
	}
}

func TestDetectorReset(t *testing.T) {
	engine := recognition.NewMockEngine()
	d := newReadyDetector(t, engine)

	d.Reset()
	waitFor(t, func() bool { return engine.Resets() == 1 })
	if !d.IsReady() {
		t.Error("Reset must not tear down the worker")
	}
}

func TestTimeSinceLastDetection(t *testing.T) {
	clock := newFakeClock()
	engine := recognition.NewMockEngine(recognition.Transcript{Text: "hi bayit", Final: true})
	d := newReadyDetector(t, engine, WithClock(clock.Now))

	if _, ok := d.TimeSinceLastDetection(); ok {
		t.Error("Expected no detection yet")
	}
	if d.IsInCooldown() {
		t.Error("Expected no cooldown before first detection")
	}

	d.ProcessAudio(context.Background(), frame())
	clock.Advance(750 * time.Millisecond)

	since, ok := d.TimeSinceLastDetection()
	if !ok || since != 750*time.Millisecond {
		t.Errorf("Expected 750ms since detection, got %v (%v)", since, ok)
	}
}

func TestStatsLastDetection(t *testing.T) {
	clock := newFakeClock()
	engine := recognition.NewMockEngine(recognition.Transcript{Text: "hi bayit", Final: true})
	d := newReadyDetector(t, engine, WithClock(clock.Now))

	before := d.Stats()
	if before.LastDetection != nil {
		t.Errorf("Expected no last detection, got %v", before.LastDetection)
	}
	data, err := json.Marshal(before)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "last_detection") {
		t.Errorf("Expected last_detection omitted, got %s", data)
	}

	d.ProcessAudio(context.Background(), frame())

	after := d.Stats()
	if after.LastDetection == nil || !after.LastDetection.Equal(clock.Now()) {
		t.Errorf("Expected last detection %v, got %v", clock.Now(), after.LastDetection)
	}
}

func TestDetectorSetConfigSanitizes(t *testing.T) {
	d := NewDetector(DefaultConfig(), nil)

	cfg := DefaultConfig()
	cfg.Sensitivity = 3
	cfg.Cooldown = -time.Second
	d.SetConfig(cfg)

	got := d.Config()
	if got.Sensitivity != 1 {
		t.Errorf("Expected sensitivity clamped to 1, got %f", got.Sensitivity)
	}
	if got.Cooldown != 0 {
		t.Errorf("Expected cooldown clamped to 0, got %v", got.Cooldown)
	}

	got.Variations[0] = "mutated"
	if d.Config().Variations[0] == "mutated" {
		t.Error("Config must return a copy")
	}

	if d.Match("hi bayit").Confidence != 1 {
		t.Error("Expected Match to use current config")
	}

	cfg.Cooldown = 100 * 24 * time.Hour
	d.SetConfig(cfg)
	if got := d.Config().Cooldown; got != MaxCooldown {
		t.Errorf("Expected cooldown clamped to %v, got %v", MaxCooldown, got)
	}
}
