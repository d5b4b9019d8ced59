package wakeword

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

// Match strategies
const (
	StrategyNone      = ""
	StrategySubstring = "substring"
	StrategyWhole     = "whole"
	StrategyPrefix    = "prefix"
)

// prefixTokens is how many leading words are compared by the prefix strategy
const prefixTokens = 2

// Result is the outcome of classifying one transcript
type Result struct {
	Detected   bool      `json:"detected"`
	Confidence float64   `json:"confidence"`
	Transcript string    `json:"transcript"` // normalized text that was matched
	Timestamp  time.Time `json:"timestamp"`
	Variation  string    `json:"variation,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
}

// Normalize lower-cases s, keeps only Latin letters, Hebrew letters and
// whitespace, and collapses runs of whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 0x0590 && r <= 0x05FF:
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Levenshtein returns the rune-level edit distance between a and b
func Levenshtein(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// Similarity returns (maxLen - distance) / maxLen over runes, in [0, 1]
func Similarity(a, b string) float64 {
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1
	}
	return float64(maxLen-Levenshtein(a, b)) / float64(maxLen)
}

// leadingTokens returns the first n space-separated words of s
func leadingTokens(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

// bestScore compares normalized text against each phrase and returns the
// highest score with the phrase and strategy that produced it.
func bestScore(text string, phrases []string) (float64, string, string) {
	best, variation, strategy := 0.0, "", StrategyNone
	prefix := leadingTokens(text, prefixTokens)

	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return 1, phrase, StrategySubstring
		}
		if s := Similarity(text, phrase); s > best {
			best, variation, strategy = s, phrase, StrategyWhole
		}
		if s := Similarity(prefix, phrase); s > best {
			best, variation, strategy = s, phrase, StrategyPrefix
		}
	}

	return best, variation, strategy
}

// MatchWakeWord classifies a transcript against cfg. Empty text after
// normalization is never detected.
func MatchWakeWord(transcript string, cfg Config, now time.Time) Result {
	text := Normalize(transcript)
	result := Result{Transcript: text, Timestamp: now}
	if text == "" {
		return result
	}

	score, variation, strategy := bestScore(text, cfg.phrases())
	result.Confidence = score
	result.Variation = variation
	result.Strategy = strategy
	result.Detected = score >= cfg.Threshold()
	return result
}
