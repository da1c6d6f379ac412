// Package google provides a streaming transcription adapter backed by
// Google Cloud Speech-to-Text.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"

	"medical-transcription-service/internal/service/provider"
)

// Adapter implements the streaming shape over the StreamingRecognize gRPC
// stream. Partial and final results arrive on the stream's receive side
// and cross into the consuming loop through the bridge channel.
type Adapter struct {
	client *speech.Client
}

// New creates a Google STT adapter. Requires GOOGLE_APPLICATION_CREDENTIALS
// to be set.
func New(ctx context.Context) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: c}, nil
}

// Name returns the provider tag.
func (a *Adapter) Name() string { return "google" }

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

type bridgeEvent struct {
	result *provider.Result
	err    error
	closed bool
}

// Transcribe opens a recognition stream and runs the forward/drain loop.
func (a *Adapter) Transcribe(ctx context.Context, sessionID string, audio <-chan []byte) <-chan provider.Result {
	out := make(chan provider.Result)

	go func() {
		defer close(out)

		stream, err := a.client.StreamingRecognize(ctx)
		if err != nil {
			emit(ctx, out, provider.Result{Err: fmt.Errorf("google stt connect: %w", err), Timestamp: time.Now().UTC()})
			return
		}

		// Streaming config is the first message on the stream.
		err = stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
				StreamingConfig: &speechpb.StreamingRecognitionConfig{
					Config: &speechpb.RecognitionConfig{
						Encoding:        speechpb.RecognitionConfig_LINEAR16,
						SampleRateHertz: 16000,
						LanguageCode:    "en-US",
					},
					InterimResults: true,
				},
			},
		})
		if err != nil {
			emit(ctx, out, provider.Result{Err: fmt.Errorf("google stt config: %w", err), Timestamp: time.Now().UTC()})
			return
		}

		// stop releases the receive goroutine once this side gives up,
		// even when the bridge is full.
		stop := make(chan struct{})
		defer close(stop)

		bridge := make(chan bridgeEvent, provider.BridgeCapacity)
		go recvLoop(stream, bridge, stop)

		for audio != nil {
			select {
			case chunk, ok := <-audio:
				if !ok {
					audio = nil
					continue
				}
				err := stream.Send(&speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
						AudioContent: chunk,
					},
				})
				if err != nil {
					emit(ctx, out, provider.Result{Err: fmt.Errorf("google stt send audio: %w", err), Timestamp: time.Now().UTC()})
					return
				}
			case ev := <-bridge:
				if done := relay(ctx, ev, out, sessionID); done {
					return
				}
			case <-ctx.Done():
				emit(ctx, out, provider.Result{Err: ctx.Err(), Timestamp: time.Now().UTC()})
				return
			}
		}

		if err := stream.CloseSend(); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to close recognition stream")
			return
		}

		deadline := time.NewTimer(provider.CloseWait)
		defer deadline.Stop()
		for {
			select {
			case ev := <-bridge:
				if done := relay(ctx, ev, out, sessionID); done {
					return
				}
			case <-deadline.C:
				log.Warn().Str("sessionId", sessionID).Msg("Recognition stream close timed out, abandoning")
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// recvLoop receives recognition responses and feeds the bridge. It is the
// stream's callback side, never touches consumer state, and exits on stop
// once the consuming side is gone.
func recvLoop(stream speechpb.Speech_StreamingRecognizeClient, bridge chan<- bridgeEvent, stop <-chan struct{}) {
	send := func(ev bridgeEvent) bool {
		select {
		case bridge <- ev:
			return true
		case <-stop:
			return false
		}
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				send(bridgeEvent{closed: true})
			} else {
				send(bridgeEvent{err: fmt.Errorf("google stt connection: %w", err)})
			}
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			ok := send(bridgeEvent{result: &provider.Result{
				Text:       alt.Transcript,
				IsFinal:    r.IsFinal,
				Confidence: float64(alt.Confidence),
				Timestamp:  time.Now().UTC(),
			}})
			if !ok {
				return
			}
		}
	}
}

func relay(ctx context.Context, ev bridgeEvent, out chan<- provider.Result, sessionID string) bool {
	switch {
	case ev.err != nil:
		emit(ctx, out, provider.Result{Err: ev.err, Timestamp: time.Now().UTC()})
		return true
	case ev.closed:
		log.Debug().Str("sessionId", sessionID).Msg("Recognition stream closed")
		return true
	default:
		return !emit(ctx, out, *ev.result)
	}
}

// emit hands one result to the consumer, giving up when the context is
// canceled so an abandoned sequence never wedges the adapter goroutine.
func emit(ctx context.Context, out chan<- provider.Result, res provider.Result) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}
