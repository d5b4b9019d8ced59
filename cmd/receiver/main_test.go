package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skypro1111/voice-activation-service/internal/audio"
	"github.com/skypro1111/voice-activation-service/internal/forward"
	"github.com/skypro1111/voice-activation-service/internal/session"
)

func TestReceiverAcceptsForwardedUtterance(t *testing.T) {
	dir := t.TempDir()
	rc := &receiver{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		outputDir: dir,
		reply:     "lights on",
	}
	srv := httptest.NewServer(http.HandlerFunc(rc.handleUtterance))
	defer srv.Close()

	wav, err := audio.EncodeFloatWAV(make([]float32, 1600), 16000)
	if err != nil {
		t.Fatalf("EncodeFloatWAV failed: %v", err)
	}

	client, err := forward.NewClient(forward.Config{Endpoint: srv.URL, Backoff: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	resp, err := client.Forward(context.Background(), &session.Utterance{
		ID:         "utt-9",
		SessionID:  "sess-9",
		StreamID:   9,
		SampleRate: 16000,
		WAV:        wav,
	})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !resp.Accepted || resp.Text != "lights on" {
		t.Errorf("Unexpected response: %+v", resp)
	}

	if _, err := os.Stat(filepath.Join(dir, "utt-9.wav")); err != nil {
		t.Errorf("Expected saved WAV: %v", err)
	}
}

func TestReceiverRejectsInvalidAudio(t *testing.T) {
	rc := &receiver{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	srv := httptest.NewServer(http.HandlerFunc(rc.handleUtterance))
	defer srv.Close()

	client, err := forward.NewClient(forward.Config{Endpoint: srv.URL, Backoff: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Forward(context.Background(), &session.Utterance{ID: "bad", WAV: []byte("not a wav")})
	if err == nil {
		t.Fatal("Expected error for invalid audio")
	}
}
