package events

import "time"

// Event types
const (
	TypeSessionOpened      = "session_opened"
	TypeSessionClosed      = "session_closed"
	TypeWakeWordDetected   = "wake_word_detected"
	TypeUtteranceReady     = "utterance_ready"
	TypeUtteranceAbandoned = "utterance_abandoned"
	TypeUtteranceForwarded = "utterance_forwarded"
)

// Event is a single notification delivered to subscribers as JSON
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	StreamID  uint32         `json:"stream_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher accepts events for delivery. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops every event
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
