package wakeword

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hi Bayit!", "hi bayit"},
		{"  hi,   bayit  ", "hi bayit"},
		{"HI\tBAYIT\nplease", "hi bayit please"},
		{"היי, בית!", "היי בית"},
		{"123 ...", ""},
		{"", ""},
		{"héllo", "hllo"},
	}

	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.expected {
			t.Errorf("Normalize(%q): expected %q, got %q", tt.input, tt.expected, got)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"hi bayit", "hi bayt", 1},
		{"בית", "ביט", 1},
	}

	for _, tt := range tests {
		if got := Levenshtein(tt.a, tt.b); got != tt.expected {
			t.Errorf("Levenshtein(%q, %q): expected %d, got %d", tt.a, tt.b, tt.expected, got)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("hi bayit", "hi bayit"); got != 1 {
		t.Errorf("Expected 1.0 for identical strings, got %f", got)
	}
	if got := Similarity("hi bayt", "hi bayit"); got != 0.875 {
		t.Errorf("Expected 0.875, got %f", got)
	}
	if got := Similarity("abc", "xyz"); got != 0 {
		t.Errorf("Expected 0 for disjoint strings, got %f", got)
	}
	// Hebrew letters are two bytes each; distance and length count runes
	if got := Similarity("בית", "ביט"); got != 2.0/3 {
		t.Errorf("Expected %f for one substituted Hebrew letter, got %f", 2.0/3, got)
	}
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		sensitivity float64
		expected    float64
	}{
		{0, 0.8},
		{1, 0.5},
		{0.5, 0.65},
		{-3, 0.8},
		{7, 0.5},
	}

	for _, tt := range tests {
		cfg := Config{Sensitivity: tt.sensitivity}
		got := cfg.Threshold()
		if got < tt.expected-1e-9 || got > tt.expected+1e-9 {
			t.Errorf("Sensitivity %f: expected threshold %f, got %f", tt.sensitivity, tt.expected, got)
		}
	}
}

func TestMatchWakeWordScenarios(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name       string
		transcript string
		detected   bool
		confidence float64
		strategy   string
	}{
		{"embedded phrase", "hi bayit turn on the lights", true, 1.0, StrategySubstring},
		{"punctuated", "Hi, Bayit!", true, 1.0, StrategySubstring},
		{"hebrew", "היי בית תדליק אור", true, 1.0, StrategySubstring},
		{"misspelled prefix", "hi bayt turn on the lights", true, 0.875, StrategyPrefix},
		{"close but different", "hey buy it please", false, -1, ""},
		{"empty", "", false, 0, StrategyNone},
		{"only punctuation", "?!", false, 0, StrategyNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MatchWakeWord(tt.transcript, cfg, now)
			if result.Detected != tt.detected {
				t.Errorf("Expected detected=%v, got %v (confidence %f)", tt.detected, result.Detected, result.Confidence)
			}
			if tt.confidence >= 0 && result.Confidence != tt.confidence {
				t.Errorf("Expected confidence %f, got %f", tt.confidence, result.Confidence)
			}
			if tt.strategy != "" && result.Strategy != tt.strategy {
				t.Errorf("Expected strategy %q, got %q", tt.strategy, result.Strategy)
			}
			if !result.Timestamp.Equal(now) {
				t.Errorf("Expected timestamp %v, got %v", now, result.Timestamp)
			}
		})
	}
}

func TestMatchWakeWordBelowThreshold(t *testing.T) {
	result := MatchWakeWord("hey buy it please", DefaultConfig(), time.Now())
	if result.Confidence >= DefaultConfig().Threshold() {
		t.Errorf("Expected confidence below %f, got %f", DefaultConfig().Threshold(), result.Confidence)
	}
	if result.Transcript != "hey buy it please" {
		t.Errorf("Expected normalized transcript, got %q", result.Transcript)
	}
}

func TestMatchWakeWordAlwaysIncludesWakeWord(t *testing.T) {
	cfg := Config{WakeWord: "Hey Jarvis", Sensitivity: 0.7}
	if !MatchWakeWord("hey jarvis lights", cfg, time.Now()).Detected {
		t.Error("Expected wake word to match without variations")
	}
	if MatchWakeWord("hi bayit", cfg, time.Now()).Detected {
		t.Error("Expected default variations to be absent from a custom config")
	}
}

func TestSensitivityMonotonicity(t *testing.T) {
	transcripts := []string{
		"hey bayit",
		"hi bay",
		"hey buy it please",
		"hi bayt turn on the lights",
		"good morning",
	}

	for _, transcript := range transcripts {
		cfg := DefaultConfig()
		wasDetected := false
		for step := 0; step <= 20; step++ {
			cfg.Sensitivity = float64(step) / 20
			detected := MatchWakeWord(transcript, cfg, time.Now()).Detected
			if wasDetected && !detected {
				t.Errorf("%q: detection lost when sensitivity rose to %f", transcript, cfg.Sensitivity)
			}
			wasDetected = detected
		}
	}

	// "hey bayit" scores about 0.78, so it flips between the extremes
	cfg := DefaultConfig()
	cfg.Sensitivity = 0
	if MatchWakeWord("hey bayit", cfg, time.Now()).Detected {
		t.Error("Expected no detection at sensitivity 0")
	}
	cfg.Sensitivity = 1
	if !MatchWakeWord("hey bayit", cfg, time.Now()).Detected {
		t.Error("Expected detection at sensitivity 1")
	}
}
