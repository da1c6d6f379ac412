// Package deepgram provides the batch transcription adapter backed by the
// Deepgram prerecorded HTTP API.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"medical-transcription-service/internal/models"
	"medical-transcription-service/internal/service/provider"
)

const defaultEndpoint = "https://api.deepgram.com/v1/listen"

// Adapter buffers the whole audio stream and issues a single request once
// the stream ends. No partial results are possible with this shape: the
// output sequence is produced entirely after the call returns.
type Adapter struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// Option configures the adapter.
type Option func(*Adapter)

// WithEndpoint overrides the backend URL. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(a *Adapter) { a.endpoint = endpoint }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// New creates a batch adapter for the given API key.
func New(apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider tag.
func (a *Adapter) Name() string { return "deepgram" }

// response mirrors the parts of the Deepgram response the relay needs.
type response struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word       string  `json:"word"`
					Confidence float64 `json:"confidence"`
					Start      float64 `json:"start"`
					End        float64 `json:"end"`
					Speaker    *int    `json:"speaker"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe accumulates every chunk until the audio channel closes, then
// performs the single backend call.
func (a *Adapter) Transcribe(ctx context.Context, sessionID string, audio <-chan []byte) <-chan provider.Result {
	out := make(chan provider.Result)

	go func() {
		defer close(out)

		var buf bytes.Buffer
		chunks := 0
		for chunk := range audio {
			buf.Write(chunk)
			chunks++
		}
		log.Info().
			Str("sessionId", sessionID).
			Int("chunks", chunks).
			Int("bytes", buf.Len()).
			Msg("Audio stream buffered, requesting transcription")

		// Nothing to transcribe is a normal, empty completion.
		if buf.Len() == 0 {
			log.Warn().Str("sessionId", sessionID).Msg("No audio data to transcribe")
			return
		}

		results, err := a.request(ctx, buf.Bytes())
		if err != nil {
			select {
			case out <- provider.Result{Err: err, Timestamp: time.Now().UTC()}:
			case <-ctx.Done():
			}
			return
		}
		for _, res := range results {
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (a *Adapter) request(ctx context.Context, audio []byte) ([]provider.Result, error) {
	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model", "nova-2")
	q.Set("language", "en-US")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", "16000")
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("diarize", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(audio))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+a.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deepgram api error: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("deepgram decode response: %w", err)
	}

	// One final result per detected audio channel.
	var results []provider.Result
	for _, channel := range parsed.Results.Channels {
		if len(channel.Alternatives) == 0 {
			continue
		}
		alt := channel.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}
		res := provider.Result{
			Text:       alt.Transcript,
			IsFinal:    true,
			Confidence: alt.Confidence,
			Timestamp:  time.Now().UTC(),
		}
		if res.Confidence == 0 {
			res.Confidence = 0.95
		}
		for _, w := range alt.Words {
			res.Words = append(res.Words, models.Word{
				Word:       w.Word,
				Confidence: w.Confidence,
				Start:      w.Start,
				End:        w.End,
				Speaker:    w.Speaker,
			})
		}
		results = append(results, res)
	}
	return results, nil
}
