// Package events broadcasts session activity (wake word detections,
// finished utterances, session lifecycle) to WebSocket subscribers.
package events
