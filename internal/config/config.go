package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MaxCooldownMs bounds the wake word cooldown to one hour
	MaxCooldownMs  = 3600000
	maxRetentionMs = 30000
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
	Audio     AudioConfig     `yaml:"audio"`
	WakeWord  WakeWordConfig  `yaml:"wakeword"`
	Engine    EngineConfig    `yaml:"engine"`
	Utterance UtteranceConfig `yaml:"utterance"`
	Session   SessionConfig   `yaml:"session"`
	Forward   ForwardConfig   `yaml:"forward"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains UDP server configuration
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	MaxSessions int    `yaml:"max_sessions"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains capture and ring buffer parameters
type AudioConfig struct {
	SampleRate    int `yaml:"sample_rate"`
	MaxDurationMs int `yaml:"max_duration_ms"` // values above 30000 are clamped
}

// WakeWordConfig contains wake word detection parameters
type WakeWordConfig struct {
	WakeWord         string   `yaml:"wake_word"`
	Sensitivity      float64  `yaml:"sensitivity"`
	CooldownMs       int      `yaml:"cooldown_ms"`
	Enabled          bool     `yaml:"enabled"`
	Variations       []string `yaml:"variations"`
	ModelPath        string   `yaml:"model_path"`
	InitTimeoutMs    int      `yaml:"init_timeout_ms"`
	ProcessTimeoutMs int      `yaml:"process_timeout_ms"`
}

// EngineConfig selects the recognition engine
type EngineConfig struct {
	Type    string   `yaml:"type"` // stub or command
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// UtteranceConfig contains endpointing and storage parameters for the
// speech that follows a detection
type UtteranceConfig struct {
	MinSilenceMs   int     `yaml:"min_silence_ms"`
	MinSpeechMs    int     `yaml:"min_speech_ms"`
	MaxUtteranceMs int     `yaml:"max_utterance_ms"`
	VADThreshold   float32 `yaml:"vad_threshold"`
	VADReference   float64 `yaml:"vad_reference_level"`
	OutputDir      string  `yaml:"output_dir"`
	StoreLimit     int     `yaml:"store_limit"`
}

// SessionConfig contains listening session parameters
type SessionConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	QueueSize      int `yaml:"queue_size"`
}

// ForwardConfig contains the downstream endpoint that receives finished
// utterances. Forwarding is off when Enabled is false.
type ForwardConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a complete, valid configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPPort:     4444,
			BindAddress: "0.0.0.0",
			BufferSize:  65536,
			MaxSessions: 64,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			MaxDurationMs: 10000,
		},
		WakeWord: WakeWordConfig{
			WakeWord:         "hi bayit",
			Sensitivity:      0.7,
			CooldownMs:       2000,
			Enabled:          true,
			Variations:       []string{"hi bayit", "hi bait", "hai bayit", "hibayit", "היי בית", "הי בית"},
			InitTimeoutMs:    5000,
			ProcessTimeoutMs: 500,
		},
		Engine: EngineConfig{
			Type: "stub",
		},
		Utterance: UtteranceConfig{
			MinSilenceMs:   700,
			MinSpeechMs:    300,
			MaxUtteranceMs: 8000,
			VADThreshold:   0.5,
			VADReference:   0.05,
			StoreLimit:     50,
		},
		Session: SessionConfig{
			TimeoutSeconds: 60,
			QueueSize:      64,
		},
		Forward: ForwardConfig{
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Fields missing from the
// file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.WakeWord.Validate(); err != nil {
		return fmt.Errorf("wakeword config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.Utterance.Validate(); err != nil {
		return fmt.Errorf("utterance config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Forward.Validate(); err != nil {
		return fmt.Errorf("forward config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if !h.Enabled {
		return nil
	}

	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty when HTTP is enabled")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.MaxDurationMs < 0 {
		return fmt.Errorf("max_duration_ms cannot be negative, got %d", a.MaxDurationMs)
	}

	return nil
}

// Validate validates wake word configuration
func (w *WakeWordConfig) Validate() error {
	if w.WakeWord == "" {
		return fmt.Errorf("wake_word cannot be empty")
	}

	if w.Sensitivity < 0 || w.Sensitivity > 1 {
		return fmt.Errorf("sensitivity must be between 0 and 1, got %f", w.Sensitivity)
	}

	if w.CooldownMs < 0 || w.CooldownMs > MaxCooldownMs {
		return fmt.Errorf("cooldown_ms must be between 0 and %d, got %d", MaxCooldownMs, w.CooldownMs)
	}

	if w.InitTimeoutMs < 1 {
		return fmt.Errorf("init_timeout_ms must be positive, got %d", w.InitTimeoutMs)
	}

	if w.ProcessTimeoutMs < 1 {
		return fmt.Errorf("process_timeout_ms must be positive, got %d", w.ProcessTimeoutMs)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	switch e.Type {
	case "stub":
		return nil
	case "command":
		if e.Command == "" {
			return fmt.Errorf("command cannot be empty when type is 'command'")
		}
		return nil
	default:
		return fmt.Errorf("type must be 'stub' or 'command', got '%s'", e.Type)
	}
}

// Validate validates utterance configuration
func (u *UtteranceConfig) Validate() error {
	if u.MinSilenceMs < 1 {
		return fmt.Errorf("min_silence_ms must be positive, got %d", u.MinSilenceMs)
	}

	if u.MinSpeechMs < 0 {
		return fmt.Errorf("min_speech_ms cannot be negative, got %d", u.MinSpeechMs)
	}

	if u.MaxUtteranceMs <= u.MinSilenceMs {
		return fmt.Errorf("max_utterance_ms (%d) must be greater than min_silence_ms (%d)",
			u.MaxUtteranceMs, u.MinSilenceMs)
	}

	if u.VADThreshold < 0 || u.VADThreshold > 1 {
		return fmt.Errorf("vad_threshold must be between 0 and 1, got %f", u.VADThreshold)
	}

	if u.VADReference < 0 {
		return fmt.Errorf("vad_reference_level cannot be negative, got %f", u.VADReference)
	}

	if u.StoreLimit < 1 {
		return fmt.Errorf("store_limit must be at least 1, got %d", u.StoreLimit)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be at least 1 second, got %d", s.TimeoutSeconds)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates forwarding configuration
func (f *ForwardConfig) Validate() error {
	if !f.Enabled {
		return nil
	}

	if f.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty when forwarding is enabled")
	}

	if f.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", f.Timeout)
	}

	if f.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", f.MaxRetries)
	}

	if f.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", f.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration. Output may be stdout, stderr or
// a file path.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetMaxDuration returns the ring buffer retention as a time.Duration,
// clamped to the buffer's 30s ceiling
func (a *AudioConfig) GetMaxDuration() time.Duration {
	return time.Duration(min(a.MaxDurationMs, maxRetentionMs)) * time.Millisecond
}

// GetCooldown returns the detection cooldown as a time.Duration
func (w *WakeWordConfig) GetCooldown() time.Duration {
	return time.Duration(min(w.CooldownMs, MaxCooldownMs)) * time.Millisecond
}

// GetInitTimeout returns the engine init timeout as a time.Duration
func (w *WakeWordConfig) GetInitTimeout() time.Duration {
	return time.Duration(w.InitTimeoutMs) * time.Millisecond
}

// GetProcessTimeout returns the per-frame recognition timeout as a time.Duration
func (w *WakeWordConfig) GetProcessTimeout() time.Duration {
	return time.Duration(w.ProcessTimeoutMs) * time.Millisecond
}

// GetMinSilence returns the trailing silence that ends an utterance
func (u *UtteranceConfig) GetMinSilence() time.Duration {
	return time.Duration(u.MinSilenceMs) * time.Millisecond
}

// GetMinSpeech returns the speech required to keep an utterance
func (u *UtteranceConfig) GetMinSpeech() time.Duration {
	return time.Duration(u.MinSpeechMs) * time.Millisecond
}

// GetMaxUtterance returns the utterance length limit
func (u *UtteranceConfig) GetMaxUtterance() time.Duration {
	return time.Duration(u.MaxUtteranceMs) * time.Millisecond
}

// GetTimeout returns the per-request forwarding timeout as a time.Duration
func (f *ForwardConfig) GetTimeout() time.Duration {
	return time.Duration(f.Timeout) * time.Second
}

// GetTimeout returns the idle session timeout as a time.Duration
func (s *SessionConfig) GetTimeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}
