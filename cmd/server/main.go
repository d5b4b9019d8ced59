package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/voice-activation-service/internal/audio"
	"github.com/skypro1111/voice-activation-service/internal/config"
	"github.com/skypro1111/voice-activation-service/internal/events"
	"github.com/skypro1111/voice-activation-service/internal/forward"
	"github.com/skypro1111/voice-activation-service/internal/metrics"
	"github.com/skypro1111/voice-activation-service/internal/recognition"
	"github.com/skypro1111/voice-activation-service/internal/server"
	"github.com/skypro1111/voice-activation-service/internal/session"
	"github.com/skypro1111/voice-activation-service/internal/wakeword"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-activation-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Never log the forward API key
	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_sessions", cfg.Server.MaxSessions),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("wake_word", cfg.WakeWord.WakeWord),
		slog.Float64("sensitivity", cfg.WakeWord.Sensitivity),
		slog.String("engine", cfg.Engine.Type),
		slog.String("model_path", cfg.WakeWord.ModelPath),
		slog.Bool("forward_enabled", cfg.Forward.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	hub := events.NewHub(logger)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	store, err := session.NewStore(cfg.Utterance.StoreLimit, cfg.Utterance.OutputDir, logger)
	if err != nil {
		logger.Error("Failed to create utterance store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	opts := []session.Option{
		session.WithMetrics(appMetrics),
		session.WithPublisher(hub),
		session.WithStore(store),
	}

	var forwarder *forward.Client
	if cfg.Forward.Enabled {
		forwarder, err = forward.NewClient(forward.Config{
			Endpoint:      cfg.Forward.Endpoint,
			APIKey:        cfg.Forward.APIKey,
			Timeout:       cfg.Forward.GetTimeout(),
			MaxRetries:    cfg.Forward.MaxRetries,
			MaxConcurrent: cfg.Forward.MaxConcurrent,
		}, logger)
		if err != nil {
			logger.Error("Failed to create forwarding client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		opts = append(opts, session.WithUtteranceHandler(forwarder.Handler(hub)))
		logger.Info("Utterance forwarding enabled", slog.String("endpoint", cfg.Forward.Endpoint))
	}

	sessionMgr, err := session.NewManager(logger, buildSessionConfig(cfg), engineFactory(cfg.Engine, logger), opts...)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Session.GetTimeout()),
		slog.Int("queue_size", cfg.Session.QueueSize),
	)

	udpServer := server.NewUDPServer(&cfg.Server, logger, sessionMgr, appMetrics)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, server.HTTPDeps{
			Sessions:  sessionMgr,
			UDP:       udpServer,
			Hub:       hub,
			Forwarder: forwarder,
			Metrics:   appMetrics,
			Gatherer:  registry,
		})
	}

	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.UDPPort)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop accepting requests, then packets, then drain sessions
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	// Waits for in-flight forwarding handlers
	sessionMgr.Stop()

	if forwarder != nil {
		if err := forwarder.Close(); err != nil {
			logger.Error("Error closing forwarding client", slog.String("error", err.Error()))
		}
	}

	cancel()
	<-hubDone

	stats := udpServer.GetStatistics()
	storeStats := store.GetStats()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("utterances", storeStats.Total),
	)

	logger.Info("Service stopped")
}

// buildSessionConfig maps file configuration onto session parameters
func buildSessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		SampleRate:     cfg.Audio.SampleRate,
		BufferDuration: cfg.Audio.GetMaxDuration(),
		WakeWord: wakeword.Config{
			WakeWord:    cfg.WakeWord.WakeWord,
			Sensitivity: cfg.WakeWord.Sensitivity,
			Cooldown:    cfg.WakeWord.GetCooldown(),
			Enabled:     cfg.WakeWord.Enabled,
			Variations:  cfg.WakeWord.Variations,
		},
		ModelPath:      cfg.WakeWord.ModelPath,
		InitTimeout:    cfg.WakeWord.GetInitTimeout(),
		ProcessTimeout: cfg.WakeWord.GetProcessTimeout(),
		Collector: audio.CollectorConfig{
			MinSilence:   cfg.Utterance.GetMinSilence(),
			MinSpeech:    cfg.Utterance.GetMinSpeech(),
			MaxUtterance: cfg.Utterance.GetMaxUtterance(),
		},
		VADThreshold: cfg.Utterance.VADThreshold,
		VADReference: cfg.Utterance.VADReference,
		QueueSize:    cfg.Session.QueueSize,
		Timeout:      cfg.Session.GetTimeout(),
		MaxSessions:  cfg.Server.MaxSessions,
	}
}

// engineFactory selects the recognition engine
func engineFactory(cfg config.EngineConfig, logger *slog.Logger) recognition.Factory {
	switch cfg.Type {
	case "command":
		logger.Info("Using external recognizer",
			slog.String("command", cfg.Command),
			slog.Any("args", cfg.Args))
		return recognition.CommandFactory(recognition.CommandConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
		}, logger)
	default:
		logger.Warn("Using stub recognition engine; wake words will not be detected")
		return recognition.StubFactory()
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
