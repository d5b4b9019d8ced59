// Package vad provides energy-based voice activity detection over float32
// frames, used to find the end of the utterance that follows a wake word.
package vad
