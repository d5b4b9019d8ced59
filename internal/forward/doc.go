// Package forward delivers finished utterances to a downstream HTTP
// endpoint as multipart WAV uploads, with retries and a concurrency limit.
package forward
