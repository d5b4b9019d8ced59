// Package wakeword decides whether a configured trigger phrase was just
// spoken. Audio frames are forwarded in order to a recognition engine owned
// by a dedicated worker goroutine; the returned transcripts are fuzzy matched
// against the wake phrase and its accepted variations, and accepted
// detections are debounced by a cooldown window.
//
// Nothing in the detector fails loudly. Engine start-up failures leave the
// detector in a fallback mode that never detects, and a slow or failing
// recognition call resolves to a non-detected result.
package wakeword
