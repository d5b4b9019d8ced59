// Package recognition defines the speech recognition capability consumed by
// the wake word detector, along with a stub, a scriptable mock, and an engine
// that drives an external recognizer process over a JSON line protocol.
package recognition
