package models

import "time"

// TranscriptEvent is the payload published for each finalized segment,
// consumed downstream by disease detection and note generation.
type TranscriptEvent struct {
	SessionID  string            `json:"session_id"`
	Transcript TranscriptSegment `json:"transcript"`
	Timestamp  time.Time         `json:"timestamp"`
}

// SessionEvent is the payload published on session lifecycle changes.
type SessionEvent struct {
	SessionID    string    `json:"session_id"`
	Status       Status    `json:"status"`
	Provider     string    `json:"provider"`
	Timestamp    time.Time `json:"timestamp"`
	TotalResults int       `json:"total_results,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// CompletionMessage is the normal completion notice sent to the client
// before the stream closes.
type CompletionMessage struct {
	SessionID    string `json:"session_id"`
	Status       Status `json:"status"`
	TotalResults int    `json:"total_results"`
}
