// Package models defines the data structures for transcription sessions
// and their transcript segments.
package models

import "time"

// Status is the lifecycle status of a transcription session.
type Status string

const (
	// StatusCreated - session record exists, no stream accepted yet.
	StatusCreated Status = "created"
	// StatusStreaming - a streaming connection is active.
	StatusStreaming Status = "streaming"
	// StatusCompleted - the stream ended normally (including idle timeout).
	StatusCompleted Status = "completed"
	// StatusError - the stream ended with a provider or transport failure.
	StatusError Status = "error"
	// StatusFinalized - the session was explicitly ended. Terminal.
	StatusFinalized Status = "finalized"
)

// validTransitions is the only legal movement between statuses.
var validTransitions = map[Status][]Status{
	StatusCreated:   {StatusStreaming},
	StatusStreaming: {StatusCompleted, StatusError},
	StatusCompleted: {StatusFinalized},
	StatusError:     {StatusFinalized},
	StatusFinalized: {},
}

// CanTransition reports whether moving from one status to another is legal.
func (s Status) CanTransition(to Status) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for the terminal status.
func (s Status) IsTerminal() bool {
	return s == StatusFinalized
}

// Word is a word-level entry on a transcript segment.
type Word struct {
	Word       string  `json:"word"`
	Confidence float64 `json:"confidence"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Speaker    *int    `json:"speaker,omitempty"`
}

// TranscriptSegment is one transcription result. Segments with IsFinal set
// are appended to the persisted transcript; non-final segments are relayed
// to the client only.
type TranscriptSegment struct {
	Text       string    `json:"text"`
	IsFinal    bool      `json:"is_final"`
	SessionID  string    `json:"session_id"`
	Provider   string    `json:"provider"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
	Words      []Word    `json:"words,omitempty"`
}

// Session is the durable record of one transcription interaction.
type Session struct {
	ID           string              `json:"session_id"`
	PatientID    string              `json:"patient_id"`
	DoctorID     string              `json:"doctor_id"`
	Provider     string              `json:"provider"`
	Status       Status              `json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	EndedAt      *time.Time          `json:"ended_at,omitempty"`
	FinalizedAt  *time.Time          `json:"finalized_at,omitempty"`
	Transcript   []TranscriptSegment `json:"transcript,omitempty"`
	TotalResults int                 `json:"total_results"`
	LastError    string              `json:"error,omitempty"`
}

// ErrorMessage is the single outbound message sent before the stream
// closes after a fatal provider or transport failure.
type ErrorMessage struct {
	Error string `json:"error"`
}
