// Package provider defines the interface for speech-recognition backends.
//
// A Transcriber consumes the session's audio chunk sequence and produces a
// lazy, ordered sequence of results. Two backend shapes implement it: a
// streaming connection that pushes partial and final results while audio is
// still flowing, and a batch call that buffers everything and answers once.
// The orchestrator is agnostic to which shape is active.
package provider

import (
	"context"
	"time"

	"medical-transcription-service/internal/models"
)

// BridgeCapacity bounds the FIFO hand-off between a backend's callback
// context and the consuming side of a streaming adapter.
const BridgeCapacity = 64

// CloseWait bounds how long an adapter waits for its backend to
// acknowledge a graceful close before abandoning the connection.
const CloseWait = 5 * time.Second

// Result is one transcription result record. A Result with Err set is
// terminal: the adapter emits it once and completes its sequence. Neither
// adapter variant retries internally.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Timestamp  time.Time
	Words      []models.Word
	Err        error
}

// Transcriber turns an audio chunk sequence into an ordered result
// sequence. The returned channel is closed when the sequence is complete;
// implementations consume the audio channel until it is closed.
type Transcriber interface {
	// Name returns the provider tag carried on every result.
	Name() string

	// Transcribe starts the backend session. Results are delivered in
	// emission order and never after the channel closes.
	Transcribe(ctx context.Context, sessionID string, audio <-chan []byte) <-chan Result
}
