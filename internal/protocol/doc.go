// Package protocol implements the TLV packets devices use to stream
// microphone audio over UDP: an open packet announcing the stream, audio
// packets carrying float32 or PCM16 samples, and a close packet.
package protocol
