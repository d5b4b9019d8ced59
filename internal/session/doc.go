// Package session manages listening sessions. Each session owns the audio
// ring buffer, wake word detector, voice activity processor and utterance
// collector for one capture stream, and feeds them frames in arrival order.
package session
