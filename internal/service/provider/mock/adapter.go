// Package mock provides a credential-free transcription adapter for tests
// and local development. It simulates the streaming shape: progressive
// partial results while audio flows, one final result per utterance.
package mock

import (
	"context"
	"sync"
	"time"

	"medical-transcription-service/internal/service/provider"
)

// Utterance is a scripted utterance with progressive transcripts.
type Utterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []Utterance{
	{
		Partials:   []string{"patient reports", "patient reports chest"},
		Final:      "patient reports chest pain since yesterday",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"no known", "no known drug"},
		Final:      "no known drug allergies",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"blood pressure"},
		Final:      "blood pressure one forty over ninety",
		Confidence: 0.91,
	},
}

// counter cycles through the default utterances across sessions.
var (
	counter   int
	counterMu sync.Mutex
)

// Adapter emits scripted results: one partial per audio chunk until the
// script is exhausted, then the final once the stream ends.
type Adapter struct {
	utterances []Utterance
	delay      time.Duration
}

// Option configures the adapter.
type Option func(*Adapter)

// WithUtterances replaces the scripted utterances.
func WithUtterances(utterances []Utterance) Option {
	return func(a *Adapter) { a.utterances = utterances }
}

// WithDelay sets the simulated per-result processing delay.
func WithDelay(d time.Duration) Option {
	return func(a *Adapter) { a.delay = d }
}

// New creates a mock adapter cycling through the default utterances.
func New(opts ...Option) *Adapter {
	counterMu.Lock()
	idx := counter % len(DefaultUtterances)
	counter++
	counterMu.Unlock()

	a := &Adapter{
		utterances: []Utterance{DefaultUtterances[idx]},
		delay:      50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider tag.
func (a *Adapter) Name() string { return "mock" }

// Transcribe consumes the audio sequence and emits the scripted results.
func (a *Adapter) Transcribe(ctx context.Context, _ string, audio <-chan []byte) <-chan provider.Result {
	out := make(chan provider.Result)

	go func() {
		defer close(out)

		emit := func(res provider.Result) bool {
			if a.delay > 0 {
				select {
				case <-time.After(a.delay):
				case <-ctx.Done():
					return false
				}
			}
			select {
			case out <- res:
				return true
			case <-ctx.Done():
				return false
			}
		}

		utteranceIdx, partialIdx := 0, 0
		chunks := 0
		for range audio {
			chunks++
			if utteranceIdx >= len(a.utterances) {
				continue
			}
			utt := a.utterances[utteranceIdx]
			if partialIdx < len(utt.Partials) {
				partial := utt.Partials[partialIdx]
				partialIdx++
				if !emit(provider.Result{
					Text:       partial,
					Confidence: utt.Confidence,
					Timestamp:  time.Now().UTC(),
				}) {
					return
				}
			}
		}

		// Stream ended: flush finals for the utterances that got audio.
		if chunks == 0 {
			return
		}
		for _, utt := range a.utterances {
			if !emit(provider.Result{
				Text:       utt.Final,
				IsFinal:    true,
				Confidence: utt.Confidence,
				Timestamp:  time.Now().UTC(),
			}) {
				return
			}
		}
	}()

	return out
}
