// Package assemblyai provides the streaming transcription adapter backed
// by the AssemblyAI realtime WebSocket API.
package assemblyai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"medical-transcription-service/internal/models"
	"medical-transcription-service/internal/service/provider"
)

const defaultEndpoint = "wss://streaming.assemblyai.com/v3/ws"

// Adapter streams audio over a persistent WebSocket connection. The
// backend pushes results on its own schedule; a reader goroutine carries
// them into the consuming side through a bounded bridge channel.
type Adapter struct {
	apiKey     string
	endpoint   string
	sampleRate int
}

// Option configures the adapter.
type Option func(*Adapter)

// WithEndpoint overrides the backend URL. Used by tests to point the
// adapter at an in-process server.
func WithEndpoint(endpoint string) Option {
	return func(a *Adapter) { a.endpoint = endpoint }
}

// New creates a streaming adapter for the given API key.
func New(apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		sampleRate: 16000,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider tag.
func (a *Adapter) Name() string { return "assemblyai" }

// turnMessage is the shape of a transcript message from the backend.
type turnMessage struct {
	Type       string  `json:"type"`
	Transcript string  `json:"transcript"`
	EndOfTurn  bool    `json:"end_of_turn"`
	Confidence float64 `json:"end_of_turn_confidence"`
	Error      string  `json:"error,omitempty"`
	Words      []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
	} `json:"words,omitempty"`
}

// bridgeEvent is the tagged message type flowing from the connection's
// reader goroutine to the consuming side. All callback-context state
// crosses the boundary through these values and nothing else.
type bridgeEvent struct {
	result *provider.Result
	err    error // connection-level failure
	closed bool  // backend acknowledged termination
}

// Transcribe opens the connection and runs the forward/drain loop.
func (a *Adapter) Transcribe(ctx context.Context, sessionID string, audio <-chan []byte) <-chan provider.Result {
	out := make(chan provider.Result)

	go func() {
		defer close(out)

		conn, err := a.dial(ctx)
		if err != nil {
			emit(ctx, out, provider.Result{Err: fmt.Errorf("assemblyai connect: %w", err), Timestamp: time.Now().UTC()})
			return
		}
		defer conn.Close()

		// stop releases the reader goroutine once this side gives up,
		// even when the bridge is full.
		stop := make(chan struct{})
		defer close(stop)

		bridge := make(chan bridgeEvent, provider.BridgeCapacity)
		go a.readLoop(conn, sessionID, bridge, stop)

		// Forward chunks while draining the bridge so results surface as
		// soon as the backend produces them.
		for audio != nil {
			select {
			case chunk, ok := <-audio:
				if !ok {
					audio = nil
					continue
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
					emit(ctx, out, provider.Result{Err: fmt.Errorf("assemblyai send audio: %w", err), Timestamp: time.Now().UTC()})
					return
				}
			case ev := <-bridge:
				if done := a.relay(ctx, ev, out, sessionID); done {
					return
				}
			case <-ctx.Done():
				emit(ctx, out, provider.Result{Err: ctx.Err(), Timestamp: time.Now().UTC()})
				return
			}
		}

		// Graceful close: tell the backend no more audio is coming, then
		// drain queued results until it acknowledges or the wait bound
		// expires.
		if err := conn.WriteJSON(map[string]string{"type": "Terminate"}); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to send terminate message")
			return
		}

		deadline := time.NewTimer(provider.CloseWait)
		defer deadline.Stop()
		for {
			select {
			case ev := <-bridge:
				if done := a.relay(ctx, ev, out, sessionID); done {
					return
				}
			case <-deadline.C:
				log.Warn().Str("sessionId", sessionID).Msg("Backend close acknowledgment timed out, abandoning connection")
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(a.sampleRate))
	q.Set("encoding", "pcm_s16le")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(),
		http.Header{"Authorization": {a.apiKey}})
	return conn, err
}

// readLoop is the connection's callback context. It only ever writes to
// the bridge channel and exits on stop once the consuming side is gone.
func (a *Adapter) readLoop(conn *websocket.Conn, sessionID string, bridge chan<- bridgeEvent, stop <-chan struct{}) {
	send := func(ev bridgeEvent) bool {
		select {
		case bridge <- ev:
			return true
		case <-stop:
			return false
		}
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			send(bridgeEvent{err: fmt.Errorf("assemblyai connection: %w", err)})
			return
		}

		var msg turnMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("Unparseable backend message, skipping")
			continue
		}

		switch msg.Type {
		case "Begin":
			log.Debug().Str("sessionId", sessionID).Msg("AssemblyAI session opened")
		case "Turn":
			if msg.Transcript == "" {
				continue
			}
			if !send(bridgeEvent{result: a.toResult(msg)}) {
				return
			}
		case "Termination":
			send(bridgeEvent{closed: true})
			return
		case "Error":
			send(bridgeEvent{err: fmt.Errorf("assemblyai backend: %s", msg.Error)})
			return
		default:
			log.Debug().Str("sessionId", sessionID).Str("type", msg.Type).Msg("Ignoring backend message")
		}
	}
}

// relay moves one bridge event to the output sequence. Returns true when
// the sequence is complete.
func (a *Adapter) relay(ctx context.Context, ev bridgeEvent, out chan<- provider.Result, sessionID string) bool {
	switch {
	case ev.err != nil:
		emit(ctx, out, provider.Result{Err: ev.err, Timestamp: time.Now().UTC()})
		return true
	case ev.closed:
		log.Debug().Str("sessionId", sessionID).Msg("AssemblyAI session terminated")
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

func (a *Adapter) toResult(msg turnMessage) *provider.Result {
	res := &provider.Result{
		Text:       msg.Transcript,
		IsFinal:    msg.EndOfTurn,
		Confidence: msg.Confidence,
		Timestamp:  time.Now().UTC(),
	}
	if res.Confidence == 0 {
		res.Confidence = 0.95
	}
	for _, w := range msg.Words {
		res.Words = append(res.Words, models.Word{
			Word:       w.Text,
			Confidence: w.Confidence,
			Start:      w.Start,
			End:        w.End,
		})
	}
	return res
}
