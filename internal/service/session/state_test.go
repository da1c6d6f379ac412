package session

import (
	"errors"
	"testing"

	"medical-transcription-service/internal/models"
)

func TestStatusTransitionTable(t *testing.T) {
	all := []models.Status{
		models.StatusCreated,
		models.StatusStreaming,
		models.StatusCompleted,
		models.StatusError,
		models.StatusFinalized,
	}

	allowed := map[models.Status]map[models.Status]bool{
		models.StatusCreated:   {models.StatusStreaming: true},
		models.StatusStreaming: {models.StatusCompleted: true, models.StatusError: true},
		models.StatusCompleted: {models.StatusFinalized: true},
		models.StatusError:     {models.StatusFinalized: true},
		models.StatusFinalized: {},
	}

	for _, from := range all {
		for _, to := range all {
			got := from.CanTransition(to)
			want := allowed[from][to]
			if got != want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestLifecycle_NormalPath(t *testing.T) {
	lc := NewLifecycle("sess-1")

	if lc.Status() != models.StatusCreated {
		t.Fatalf("Initial status = %s, want created", lc.Status())
	}
	if err := lc.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := lc.Complete(); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := lc.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if lc.Status() != models.StatusFinalized {
		t.Fatalf("Final status = %s, want finalized", lc.Status())
	}
}

func TestLifecycle_ErrorPath(t *testing.T) {
	lc := NewLifecycle("sess-1")

	if err := lc.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := lc.Fail(); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if err := lc.Finalize(); err != nil {
		t.Fatalf("Finalize after error failed: %v", err)
	}
}

func TestLifecycle_FinalizedIsUnreachableFromStreaming(t *testing.T) {
	lc := NewLifecycle("sess-1")

	if err := lc.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	err := lc.Finalize()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Finalize from streaming = %v, want ErrInvalidTransition", err)
	}
	if lc.Status() != models.StatusStreaming {
		t.Errorf("Status changed on rejected transition: %s", lc.Status())
	}
}

func TestLifecycle_RejectsSkippedTransitions(t *testing.T) {
	cases := []struct {
		name string
		run  func(lc *Lifecycle) error
	}{
		{"complete before begin", func(lc *Lifecycle) error { return lc.Complete() }},
		{"fail before begin", func(lc *Lifecycle) error { return lc.Fail() }},
		{"finalize before begin", func(lc *Lifecycle) error { return lc.Finalize() }},
		{"begin twice", func(lc *Lifecycle) error {
			if err := lc.Begin(); err != nil {
				return err
			}
			return lc.Begin()
		}},
		{"complete twice", func(lc *Lifecycle) error {
			_ = lc.Begin()
			if err := lc.Complete(); err != nil {
				return err
			}
			return lc.Complete()
		}},
		{"anything after finalized", func(lc *Lifecycle) error {
			_ = lc.Begin()
			_ = lc.Complete()
			_ = lc.Finalize()
			return lc.Begin()
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lc := NewLifecycle("sess-1")
			if err := tc.run(lc); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("got %v, want ErrInvalidTransition", err)
			}
		})
	}
}
