package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"medical-transcription-service/internal/models"
)

type memorySegment struct {
	index   int
	segment models.TranscriptSegment
}

type memoryRecord struct {
	session  models.Session
	segments []memorySegment
}

// Memory is an in-process Registry. It is the default store when no
// DATABASE_URL is configured and backs the test suite.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*memoryRecord
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*memoryRecord)}
}

func (m *Memory) Create(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.sessions[s.ID] = &memoryRecord{session: copied}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := rec.session
	return &copied, nil
}

func (m *Memory) MarkStreaming(_ context.Context, id string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if rec.session.Status != models.StatusCreated {
		return ErrSessionBusy
	}
	rec.session.Status = models.StatusStreaming
	rec.session.StartedAt = &startedAt
	return nil
}

func (m *Memory) AppendSegment(_ context.Context, id string, index int, seg models.TranscriptSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	rec.segments = append(rec.segments, memorySegment{index: index, segment: seg})
	return nil
}

func (m *Memory) MarkCompleted(_ context.Context, id string, endedAt time.Time, totalResults int) error {
	return m.update(id, func(s *models.Session) {
		s.Status = models.StatusCompleted
		s.EndedAt = &endedAt
		s.TotalResults = totalResults
	})
}

func (m *Memory) MarkError(_ context.Context, id string, endedAt time.Time, message string) error {
	return m.update(id, func(s *models.Session) {
		s.Status = models.StatusError
		s.EndedAt = &endedAt
		s.LastError = message
	})
}

func (m *Memory) Finalize(_ context.Context, id string, finalizedAt time.Time) error {
	return m.update(id, func(s *models.Session) {
		s.Status = models.StatusFinalized
		s.FinalizedAt = &finalizedAt
	})
}

func (m *Memory) Segments(_ context.Context, id string) ([]models.TranscriptSegment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	ordered := make([]memorySegment, len(rec.segments))
	copy(ordered, rec.segments)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })
	out := make([]models.TranscriptSegment, 0, len(ordered))
	for _, s := range ordered {
		out = append(out, s.segment)
	}
	return out, nil
}

func (m *Memory) Close() {}

func (m *Memory) update(id string, fn func(*models.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	fn(&rec.session)
	return nil
}
