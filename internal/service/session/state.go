// Package session drives a transcription session through its lifecycle
// and relays provider results to the client.
package session

import (
	"errors"
	"fmt"
	"sync"

	"medical-transcription-service/internal/models"
)

// ErrInvalidTransition is returned for any status change outside the
// transition table. Callers log and ignore it rather than corrupting
// session state.
var ErrInvalidTransition = errors.New("invalid session status transition")

// Lifecycle manages the state machine for a single session. Thread-safe.
//
// Status transitions:
//
//	created → streaming → completed → finalized
//	               │                      ▲
//	               └──────→ error ────────┘
//
// `created` is the only initial status, `finalized` is terminal, and
// `finalized` is reachable only through an explicit end-session request.
type Lifecycle struct {
	mu        sync.RWMutex
	sessionID string
	status    models.Status
}

// NewLifecycle creates a lifecycle in the `created` status.
func NewLifecycle(sessionID string) *Lifecycle {
	return &Lifecycle{
		sessionID: sessionID,
		status:    models.StatusCreated,
	}
}

// SessionID returns the session id.
func (l *Lifecycle) SessionID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionID
}

// Status returns the current status.
func (l *Lifecycle) Status() models.Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Begin records the streaming connection being accepted.
func (l *Lifecycle) Begin() error {
	return l.transition(models.StatusStreaming)
}

// Complete records the stream ending normally.
func (l *Lifecycle) Complete() error {
	return l.transition(models.StatusCompleted)
}

// Fail records a terminal provider or transport failure.
func (l *Lifecycle) Fail() error {
	return l.transition(models.StatusError)
}

// Finalize records the explicit end-session request.
func (l *Lifecycle) Finalize() error {
	return l.transition(models.StatusFinalized)
}

func (l *Lifecycle) transition(to models.Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.status, to)
	}
	l.status = to
	return nil
}
