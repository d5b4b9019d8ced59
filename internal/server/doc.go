// Package server implements the UDP listener that feeds device audio into
// listening sessions and the HTTP API for monitoring, utterance retrieval,
// live wake word tuning and the websocket event stream.
//
// Packets are sharded across workers by stream ID so every stream is
// handled by a single worker in arrival order.
package server
