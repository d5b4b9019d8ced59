// Command receiver is a development endpoint for forwarded utterances. It
// logs each upload, optionally saves the audio, and replies the way an
// assistant backend would.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/skypro1111/voice-activation-service/internal/audio"
	"github.com/skypro1111/voice-activation-service/internal/forward"
)

const maxUploadSize = 10 << 20

type receiver struct {
	logger    *slog.Logger
	outputDir string
	reply     string
	delay     time.Duration
}

func (rc *receiver) handleUtterance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		rc.logger.Warn("Rejected upload with invalid audio",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()))
		http.Error(w, "Invalid WAV: "+err.Error(), http.StatusBadRequest)
		return
	}

	id := r.FormValue("utterance_id")
	rc.logger.Info("Utterance received",
		slog.String("utterance_id", id),
		slog.String("session_id", r.FormValue("session_id")),
		slog.String("stream_id", r.FormValue("stream_id")),
		slog.String("device_id", r.FormValue("device_id")),
		slog.String("wake_transcript", r.FormValue("wake_transcript")),
		slog.String("confidence", r.FormValue("confidence")),
		slog.String("reason", r.FormValue("reason")),
		slog.Float64("duration", info.Duration),
		slog.Uint64("sample_rate", uint64(info.SampleRate)),
		slog.Int("size", len(data)))

	if rc.outputDir != "" && id != "" {
		path := filepath.Join(rc.outputDir, filepath.Base(id)+".wav")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			rc.logger.Error("Failed to save utterance", slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	// Simulated processing time
	if rc.delay > 0 {
		time.Sleep(rc.delay)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(forward.Response{
		Accepted: true,
		Text:     rc.reply,
		Intent:   "test",
	})
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	path := flag.String("path", "/utterances", "Upload path")
	outputDir := flag.String("output", "", "Directory for received WAV files")
	reply := flag.String("reply", "turn on the lights", "Text returned for every utterance")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *outputDir != "" {
		if err := os.MkdirAll(*outputDir, 0o755); err != nil {
			logger.Error("Failed to create output directory", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	rc := &receiver{logger: logger, outputDir: *outputDir, reply: *reply, delay: *delay}

	mux := http.NewServeMux()
	mux.HandleFunc(*path, rc.handleUtterance)

	logger.Info("Receiver listening",
		slog.String("address", *addr),
		slog.String("endpoint", *path))

	srv := &http.Server{Addr: *addr, Handler: mux, ReadTimeout: 30 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Receiver failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
