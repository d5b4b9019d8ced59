package wakeword

import (
	"time"
)

// Defaults for a new detector
const (
	DefaultWakeWord       = "hi bayit"
	DefaultSensitivity    = 0.7
	DefaultCooldown       = 2 * time.Second
	DefaultInitTimeout    = 5 * time.Second
	DefaultProcessTimeout = 500 * time.Millisecond
	DefaultSampleRate     = 16000
	// MaxCooldown is the longest accepted detection cooldown
	MaxCooldown           = time.Hour
)

// DefaultVariations are accepted spellings of "hi bayit", including the
// Hebrew script forms. "hey ..." spellings are deliberately absent: they
// sit too close to common speech.
var DefaultVariations = []string{
	"hi bayit",
	"hi bait",
	"hai bayit",
	"hibayit",
	"היי בית",
	"הי בית",
}

// Config controls classification. It can be swapped at runtime with
// Detector.SetConfig and takes effect on the next ProcessAudio call.
type Config struct {
	WakeWord    string        `json:"wake_word"`
	Sensitivity float64       `json:"sensitivity"` // 0..1, higher triggers more easily
	Cooldown    time.Duration `json:"cooldown"`
	Enabled     bool          `json:"enabled"`
	// Variations are matched in addition to the wake word itself
	Variations []string `json:"variations"`
}

// DefaultConfig returns the product defaults
func DefaultConfig() Config {
	return Config{
		WakeWord:    DefaultWakeWord,
		Sensitivity: DefaultSensitivity,
		Cooldown:    DefaultCooldown,
		Enabled:     true,
		Variations:  append([]string(nil), DefaultVariations...),
	}
}

// Threshold returns the acceptance threshold for the sensitivity, ranging
// from 0.8 at sensitivity 0 to 0.5 at sensitivity 1.
func (c Config) Threshold() float64 {
	return 0.5 + (1-clampUnit(c.Sensitivity))*0.3
}

// Sanitized returns a copy with sensitivity clamped to [0, 1] and the
// cooldown clamped to [0, MaxCooldown]. Variations are copied so callers cannot mutate
// the detector's state.
func (c Config) Sanitized() Config {
	c.Sensitivity = clampUnit(c.Sensitivity)
	switch {
	case c.Cooldown < 0:
		c.Cooldown = 0
	case c.Cooldown > MaxCooldown:
		c.Cooldown = MaxCooldown
	}
	c.Variations = append([]string(nil), c.Variations...)
	return c
}

// phrases returns the normalized, de-duplicated wake word and variations
func (c Config) phrases() []string {
	seen := make(map[string]bool, len(c.Variations)+1)
	out := make([]string, 0, len(c.Variations)+1)
	for _, p := range append([]string{c.WakeWord}, c.Variations...) {
		n := Normalize(p)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func clampUnit(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
