package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"medical-transcription-service/internal/models"
)

func newSession(id string) *models.Session {
	return &models.Session{
		ID:        id,
		PatientID: "patient-1",
		DoctorID:  "doctor-1",
		Provider:  "mock",
		Status:    models.StatusCreated,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemory_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Create(ctx, newSession("sess-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := m.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PatientID != "patient-1" || got.Status != models.StatusCreated {
		t.Errorf("Get returned %+v", got)
	}

	// Mutating the returned copy must not affect the stored session.
	got.Status = models.StatusError
	again, _ := m.Get(ctx, "sess-1")
	if again.Status != models.StatusCreated {
		t.Error("Get must return a copy")
	}
}

func TestMemory_GetUnknown(t *testing.T) {
	_, err := NewMemory().Get(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get error = %v, want ErrSessionNotFound", err)
	}
}

func TestMemory_LifecycleUpdates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Create(ctx, newSession("sess-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	started := time.Now().UTC()
	if err := m.MarkStreaming(ctx, "sess-1", started); err != nil {
		t.Fatalf("MarkStreaming: %v", err)
	}
	got, _ := m.Get(ctx, "sess-1")
	if got.Status != models.StatusStreaming || got.StartedAt == nil {
		t.Errorf("After MarkStreaming: %+v", got)
	}

	ended := started.Add(30 * time.Second)
	if err := m.MarkCompleted(ctx, "sess-1", ended, 7); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, _ = m.Get(ctx, "sess-1")
	if got.Status != models.StatusCompleted || got.TotalResults != 7 || got.EndedAt == nil {
		t.Errorf("After MarkCompleted: %+v", got)
	}

	finalized := ended.Add(time.Second)
	if err := m.Finalize(ctx, "sess-1", finalized); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	got, _ = m.Get(ctx, "sess-1")
	if got.Status != models.StatusFinalized || got.FinalizedAt == nil {
		t.Errorf("After Finalize: %+v", got)
	}
}

func TestMemory_MarkStreamingClaimsOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Create(ctx, newSession("sess-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.MarkStreaming(ctx, "sess-1", time.Now().UTC()); err != nil {
		t.Fatalf("First MarkStreaming: %v", err)
	}
	// A second connection racing for the same session must lose.
	if err := m.MarkStreaming(ctx, "sess-1", time.Now().UTC()); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("Second MarkStreaming error = %v, want ErrSessionBusy", err)
	}

	got, _ := m.Get(ctx, "sess-1")
	if got.Status != models.StatusStreaming {
		t.Errorf("Status = %s, want streaming", got.Status)
	}
}

func TestMemory_MarkStreamingRejectsDoneSessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Create(ctx, newSession("sess-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.MarkStreaming(ctx, "sess-1", time.Now().UTC()); err != nil {
		t.Fatalf("MarkStreaming: %v", err)
	}
	if err := m.MarkCompleted(ctx, "sess-1", time.Now().UTC(), 3); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	if err := m.MarkStreaming(ctx, "sess-1", time.Now().UTC()); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("MarkStreaming on completed session = %v, want ErrSessionBusy", err)
	}
}

func TestMemory_MarkError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Create(ctx, newSession("sess-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.MarkError(ctx, "sess-1", time.Now().UTC(), "provider unreachable"); err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	got, _ := m.Get(ctx, "sess-1")
	if got.Status != models.StatusError {
		t.Errorf("Status = %s, want error", got.Status)
	}
	if got.LastError != "provider unreachable" {
		t.Errorf("LastError = %q", got.LastError)
	}
}

func TestMemory_UpdateUnknownSession(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.MarkStreaming(ctx, "missing", time.Now()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("MarkStreaming error = %v, want ErrSessionNotFound", err)
	}
	if err := m.AppendSegment(ctx, "missing", 0, models.TranscriptSegment{}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("AppendSegment error = %v, want ErrSessionNotFound", err)
	}
}

func TestMemory_SegmentsOrderedByIndex(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Create(ctx, newSession("sess-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	texts := []string{"first", "second", "third"}
	// Insert out of order.
	for _, i := range []int{2, 0, 1} {
		err := m.AppendSegment(ctx, "sess-1", i, models.TranscriptSegment{Text: texts[i], IsFinal: true})
		if err != nil {
			t.Fatalf("AppendSegment(%d): %v", i, err)
		}
	}

	segments, err := m.Segments(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("Got %d segments, want 3", len(segments))
	}
	for i, want := range texts {
		if segments[i].Text != want {
			t.Errorf("Segment %d = %q, want %q", i, segments[i].Text, want)
		}
	}
}
