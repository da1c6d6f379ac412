// Package registry provides the durable session record store.
package registry

import (
	"context"
	"errors"
	"time"

	"medical-transcription-service/internal/models"
)

// ErrSessionNotFound is returned when a session id is unknown to the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionBusy is returned by MarkStreaming when the session was already
// claimed by a streaming connection or has moved past the created status.
var ErrSessionBusy = errors.New("session is not accepting a stream")

// Registry is the narrow interface the orchestrator uses to persist
// session state. Implementations must be safe for concurrent use across
// sessions.
type Registry interface {
	// Create stores a new session record.
	Create(ctx context.Context, s *models.Session) error

	// Get returns the session record, without its segments.
	Get(ctx context.Context, id string) (*models.Session, error)

	// MarkStreaming claims the session for one streaming connection.
	// The claim succeeds only while the status is still created; any
	// other status fails with ErrSessionBusy, so concurrent connections
	// for the same session cannot both stream.
	MarkStreaming(ctx context.Context, id string, startedAt time.Time) error

	// AppendSegment appends one finalized segment at the given position.
	AppendSegment(ctx context.Context, id string, index int, seg models.TranscriptSegment) error

	// MarkCompleted records a normal end of stream.
	MarkCompleted(ctx context.Context, id string, endedAt time.Time, totalResults int) error

	// MarkError records a failed stream with its error message.
	MarkError(ctx context.Context, id string, endedAt time.Time, message string) error

	// Finalize records the explicit end-session request.
	Finalize(ctx context.Context, id string, finalizedAt time.Time) error

	// Segments returns the persisted finalized segments in append order.
	Segments(ctx context.Context, id string) ([]models.TranscriptSegment, error)

	// Close releases any held resources.
	Close()
}
