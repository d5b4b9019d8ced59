// Package audio holds the rolling capture buffer, PCM conversions, WAV
// encoding, and the endpointing state machine that decides when the
// utterance following a wake word has ended.
package audio
