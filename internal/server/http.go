package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voice-activation-service/internal/config"
	"github.com/skypro1111/voice-activation-service/internal/events"
	"github.com/skypro1111/voice-activation-service/internal/forward"
	"github.com/skypro1111/voice-activation-service/internal/metrics"
	"github.com/skypro1111/voice-activation-service/internal/session"
	"github.com/skypro1111/voice-activation-service/internal/wakeword"
)

const (
	serviceName    = "voice-activation-service"
	serviceVersion = "1.0.0"

	maxRequestBody = 64 << 10
)

// HTTPDeps are the components exposed by the HTTP API. Only Sessions is
// required.
type HTTPDeps struct {
	Sessions  *session.Manager
	UDP       *UDPServer
	Hub       *events.Hub
	Forwarder *forward.Client
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer // nil serves the default registry
}

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	config  *config.Config

	sessions  *session.Manager
	udpServer *UDPServer
	hub       *events.Hub
	forwarder *forward.Client
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config, deps HTTPDeps) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sessions:  deps.Sessions,
		udpServer: deps.UDP,
		hub:       deps.Hub,
		forwarder: deps.Forwarder,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	mux.HandleFunc("/utterances", h.withMetrics("/utterances", h.handleUtterances))
	mux.HandleFunc("/utterances/", h.withMetrics("/utterances/{id}", h.handleUtteranceDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/config/wakeword", h.withMetrics("/config/wakeword", h.handleWakeWordConfig))

	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// The upgrade needs the raw ResponseWriter, so no metrics wrapper
	if h.hub != nil {
		mux.Handle("/events", h.hub)
	}

	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server", slog.String("address", h.server.Addr))

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

func (h *HTTPServer) udpStats() ServerStatistics {
	if h.udpServer == nil {
		return ServerStatistics{ActiveSessions: uint64(h.sessions.ActiveCount())}
	}
	return h.udpServer.GetStatistics()
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	udpStats := h.udpStats()

	components := map[string]any{
		"udp_server": map[string]any{
			"status":            "running",
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
			"queue_size":        udpStats.QueueSize,
		},
		"session_manager": map[string]any{
			"status":          "running",
			"active_sessions": h.sessions.ActiveCount(),
		},
	}
	if h.hub != nil {
		components["events"] = map[string]any{
			"status":  "running",
			"clients": h.hub.ClientCount(),
		}
	}
	if h.forwarder != nil {
		stats := h.forwarder.GetStats()
		components["forward"] = map[string]any{
			"status":          "running",
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.sessions.Sessions()
	infos := make([]session.Stats, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Stats())
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

// handleSessionDetail implements /sessions/{id}. The id is either the
// session UUID or the numeric stream ID.
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	sess, exists := h.sessions.GetByID(id)
	if !exists {
		streamID, err := strconv.ParseUint(id, 10, 32)
		if err == nil {
			sess, exists = h.sessions.Get(uint32(streamID))
		}
	}
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, sess.Stats())
}

// handleUtterances implements the /utterances endpoint
func (h *HTTPServer) handleUtterances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	utterances := []*session.Utterance{}
	if store := h.sessions.Store(); store != nil {
		utterances = store.List()
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"total_utterances": len(utterances),
		"timestamp":        time.Now().UTC(),
		"utterances":       utterances,
	})
}

// handleUtteranceDetail implements /utterances/{id} for metadata and
// /utterances/{id}.wav for the audio itself
func (h *HTTPServer) handleUtteranceDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/utterances/")
	wantAudio := strings.HasSuffix(id, ".wav")
	id = strings.TrimSuffix(id, ".wav")
	if id == "" {
		http.Error(w, "Utterance ID required", http.StatusBadRequest)
		return
	}

	store := h.sessions.Store()
	if store == nil {
		http.Error(w, "Utterance not found", http.StatusNotFound)
		return
	}
	u, exists := store.Get(id)
	if !exists {
		http.Error(w, "Utterance not found", http.StatusNotFound)
		return
	}

	if !wantAudio {
		h.writeJSON(w, http.StatusOK, u)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(u.WAV)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", u.ID+".wav"))
	if _, err := w.Write(u.WAV); err != nil {
		h.logger.Debug("Failed to write utterance audio", slog.String("error", err.Error()))
	}
}

// wakeWordView is the JSON form of the live wake word configuration
type wakeWordView struct {
	WakeWord    string   `json:"wake_word"`
	Sensitivity float64  `json:"sensitivity"`
	CooldownMs  int64    `json:"cooldown_ms"`
	Enabled     bool     `json:"enabled"`
	Variations  []string `json:"variations"`
	Threshold   float64  `json:"threshold"`
}

func newWakeWordView(cfg wakeword.Config) wakeWordView {
	return wakeWordView{
		WakeWord:    cfg.WakeWord,
		Sensitivity: cfg.Sensitivity,
		CooldownMs:  cfg.Cooldown.Milliseconds(),
		Enabled:     cfg.Enabled,
		Variations:  cfg.Variations,
		Threshold:   cfg.Threshold(),
	}
}

// wakeWordUpdate is a partial update; omitted fields keep their value
type wakeWordUpdate struct {
	WakeWord    *string  `json:"wake_word"`
	Sensitivity *float64 `json:"sensitivity"`
	CooldownMs  *int64   `json:"cooldown_ms"`
	Enabled     *bool    `json:"enabled"`
	Variations  []string `json:"variations"`
}

func (u wakeWordUpdate) apply(cfg wakeword.Config) (wakeword.Config, error) {
	if u.WakeWord != nil {
		if wakeword.Normalize(*u.WakeWord) == "" {
			return cfg, fmt.Errorf("wake_word cannot be empty")
		}
		cfg.WakeWord = *u.WakeWord
	}
	if u.Sensitivity != nil {
		if *u.Sensitivity < 0 || *u.Sensitivity > 1 {
			return cfg, fmt.Errorf("sensitivity must be between 0 and 1, got %v", *u.Sensitivity)
		}
		cfg.Sensitivity = *u.Sensitivity
	}
	if u.CooldownMs != nil {
		if limit := wakeword.MaxCooldown.Milliseconds(); *u.CooldownMs < 0 || *u.CooldownMs > limit {
			return cfg, fmt.Errorf("cooldown_ms must be between 0 and %d, got %d", limit, *u.CooldownMs)
		}
		cfg.Cooldown = time.Duration(*u.CooldownMs) * time.Millisecond
	}
	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	if u.Variations != nil {
		cfg.Variations = u.Variations
	}
	return cfg, nil
}

// handleWakeWordConfig implements GET and PUT /config/wakeword
func (h *HTTPServer) handleWakeWordConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, newWakeWordView(h.sessions.WakeWordConfig()))

	case http.MethodPut:
		var update wakeWordUpdate
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&update); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		// Patch and swap under one lock
		applied, err := h.sessions.UpdateWakeWordFunc(update.apply)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.writeJSON(w, http.StatusOK, newWakeWordView(applied))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config == nil {
		http.Error(w, "Configuration unavailable", http.StatusNotFound)
		return
	}

	c := h.config
	h.writeJSON(w, http.StatusOK, map[string]any{
		"server": map[string]any{
			"udp_port":     c.Server.UDPPort,
			"bind_address": c.Server.BindAddress,
			"buffer_size":  c.Server.BufferSize,
			"max_sessions": c.Server.MaxSessions,
		},
		"audio": map[string]any{
			"sample_rate":     c.Audio.SampleRate,
			"max_duration_ms": c.Audio.MaxDurationMs,
		},
		"wakeword": newWakeWordView(h.sessions.WakeWordConfig()),
		"engine": map[string]any{
			"type":               c.Engine.Type,
			"model_path":         c.WakeWord.ModelPath,
			"init_timeout_ms":    c.WakeWord.InitTimeoutMs,
			"process_timeout_ms": c.WakeWord.ProcessTimeoutMs,
		},
		"utterance": map[string]any{
			"min_silence_ms":      c.Utterance.MinSilenceMs,
			"min_speech_ms":       c.Utterance.MinSpeechMs,
			"max_utterance_ms":    c.Utterance.MaxUtteranceMs,
			"vad_threshold":       c.Utterance.VADThreshold,
			"vad_reference_level": c.Utterance.VADReference,
			"store_limit":         c.Utterance.StoreLimit,
		},
		"session": map[string]any{
			"timeout_seconds": c.Session.TimeoutSeconds,
			"queue_size":      c.Session.QueueSize,
		},
		// api_key is never exposed
		"forward": map[string]any{
			"enabled":        c.Forward.Enabled,
			"endpoint":       c.Forward.Endpoint,
			"timeout":        c.Forward.Timeout,
			"max_retries":    c.Forward.MaxRetries,
			"max_concurrent": c.Forward.MaxConcurrent,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"udp":       h.udpStats(),
		"sessions": map[string]any{
			"active_count": h.sessions.ActiveCount(),
		},
	}
	if store := h.sessions.Store(); store != nil {
		stats["utterances"] = store.GetStats()
	}
	if h.hub != nil {
		stats["events"] = h.hub.GetStats()
	}
	if h.forwarder != nil {
		stats["forward"] = h.forwarder.GetStats()
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"service": "Voice Activation Service",
		"version": serviceVersion,
		"endpoints": map[string]any{
			"GET /":                     "API documentation",
			"GET /health":               "Service health check",
			"GET /sessions":             "List listening sessions",
			"GET /sessions/{id}":        "Session detail by session ID or stream ID",
			"GET /utterances":           "List recent utterances",
			"GET /utterances/{id}":      "Utterance metadata",
			"GET /utterances/{id}.wav":  "Utterance audio",
			"GET /config":               "Service configuration",
			"GET /config/wakeword":      "Live wake word configuration",
			"PUT /config/wakeword":      "Update wake word configuration",
			"GET /stats":                "Service statistics",
			"GET /events":               "Websocket event stream",
			"GET /metrics":              "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
