package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"medical-transcription-service/internal/config"
	"medical-transcription-service/internal/events"
	"medical-transcription-service/internal/models"
	"medical-transcription-service/internal/observability/metrics"
	"medical-transcription-service/internal/registry"
	"medical-transcription-service/internal/service/ingest"
	"medical-transcription-service/internal/service/provider"
	"medical-transcription-service/internal/service/provider/mock"
)

// countingRegistry tracks Create calls so tests can assert that rejected
// requests never persist anything.
type countingRegistry struct {
	registry.Registry
	creates atomic.Int64
}

func (c *countingRegistry) Create(ctx context.Context, s *models.Session) error {
	c.creates.Add(1)
	return c.Registry.Create(ctx, s)
}

func testConfig() *config.Config {
	return &config.Config{
		MockEnabled:     true,
		DefaultProvider: config.ProviderMock,
		IdleTimeout:     2 * time.Second,
	}
}

func mockTranscribers() map[string]TranscriberFactory {
	return map[string]TranscriberFactory{
		config.ProviderMock: func() (provider.Transcriber, error) {
			return mock.New(
				mock.WithDelay(0),
				mock.WithUtterances([]mock.Utterance{{
					Partials:   []string{"patient reports"},
					Final:      "patient reports chest pain",
					Confidence: 0.94,
				}}),
			), nil
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *countingRegistry) {
	t.Helper()
	reg := &countingRegistry{Registry: registry.NewMemory()}
	pub := events.New(&events.Config{Enabled: false})
	srv := httptest.NewServer(NewRouter(NewServer(testConfig(), reg, pub, metrics.DefaultMetrics, mockTranscribers())))
	t.Cleanup(srv.Close)
	return srv, reg
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	return resp, decoded
}

func TestCreateSession(t *testing.T) {
	srv, reg := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/v1/sessions",
		`{"patient_id": "patient-1", "doctor_id": "doctor-1"}`)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}
	if body["session_id"] == "" {
		t.Error("Missing session_id")
	}
	if body["status"] != "created" {
		t.Errorf("status = %v, want created", body["status"])
	}
	if body["provider"] != "mock" {
		t.Errorf("provider = %v, want the default mock", body["provider"])
	}
	if got := reg.creates.Load(); got != 1 {
		t.Errorf("Create calls = %d, want 1", got)
	}
}

func TestCreateSession_Rejections(t *testing.T) {
	srv, reg := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		wantDetail string
	}{
		{
			name:       "malformed body",
			body:       `{not json`,
			wantDetail: "invalid request body",
		},
		{
			name:       "missing ids",
			body:       `{"patient_id": "patient-1"}`,
			wantDetail: "patient_id and doctor_id are required",
		},
		{
			name:       "unknown provider",
			body:       `{"patient_id": "p", "doctor_id": "d", "provider": "whisper"}`,
			wantDetail: "invalid provider 'whisper'",
		},
		{
			name:       "unconfigured provider",
			body:       `{"patient_id": "p", "doctor_id": "d", "provider": "deepgram"}`,
			wantDetail: "provider 'deepgram' is not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, srv.URL+"/v1/sessions", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("Status = %d, want 400", resp.StatusCode)
			}
			if body["detail"] != tt.wantDetail {
				t.Errorf("detail = %v, want %q", body["detail"], tt.wantDetail)
			}
		})
	}

	// Rejections happen before persistence.
	if got := reg.creates.Load(); got != 0 {
		t.Errorf("Create calls = %d, want 0", got)
	}
}

func TestEndSession_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/v1/sessions/missing/end", `{}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404", resp.StatusCode)
	}
}

func TestEndSession_ConflictBeforeStreamEnds(t *testing.T) {
	srv, reg := newTestServer(t)
	ctx := context.Background()

	for _, status := range []models.Status{models.StatusCreated, models.StatusStreaming} {
		sess := &models.Session{ID: "sess-" + string(status), Provider: "mock", Status: status}
		if err := reg.Create(ctx, sess); err != nil {
			t.Fatalf("Create: %v", err)
		}
		resp, body := postJSON(t, srv.URL+"/v1/sessions/"+sess.ID+"/end", `{}`)
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("Status for %s session = %d, want 409", status, resp.StatusCode)
		}
		if detail, _ := body["detail"].(string); !strings.Contains(detail, string(status)) {
			t.Errorf("detail = %v, should name the current status", body["detail"])
		}
	}
}

func TestEndSession_AssemblesTranscript(t *testing.T) {
	srv, reg := newTestServer(t)
	ctx := context.Background()

	sess := &models.Session{ID: "sess-1", Provider: "mock", Status: models.StatusCompleted}
	if err := reg.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	err := reg.AppendSegment(ctx, sess.ID, 0, models.TranscriptSegment{
		Text: "hello world", IsFinal: true, Provider: "mock", Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}

	resp, body := postJSON(t, srv.URL+"/v1/sessions/sess-1/end", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %v", resp.StatusCode, body)
	}
	if body["status"] != "finalized" {
		t.Errorf("status = %v, want finalized", body["status"])
	}
	if body["full_transcript"] != "[2025-06-01T10:00:00Z] [mock] hello world" {
		t.Errorf("full_transcript = %q", body["full_transcript"])
	}
	if body["word_count"] != float64(2) {
		t.Errorf("word_count = %v, want 2", body["word_count"])
	}

	stored, err := reg.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != models.StatusFinalized {
		t.Errorf("Stored status = %s, want finalized", stored.Status)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	providers, ok := body["providers"].(map[string]any)
	if !ok || providers["mock"] != true {
		t.Errorf("providers = %v", body["providers"])
	}
}

func TestStream_EndToEnd(t *testing.T) {
	srv, reg := newTestServer(t)

	_, created := postJSON(t, srv.URL+"/v1/sessions",
		`{"patient_id": "patient-1", "doctor_id": "doctor-1"}`)
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatal("Session creation failed")
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/transcribe/stream?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte("audio-chunk")); err != nil {
			t.Fatalf("Write chunk: %v", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, ingest.Sentinel); err != nil {
		t.Fatalf("Write sentinel: %v", err)
	}

	var finalText string
	completed := false
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !completed {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		switch {
		case msg["status"] == "completed":
			completed = true
		case msg["is_final"] == true:
			finalText, _ = msg["text"].(string)
		}
	}
	if finalText != "patient reports chest pain" {
		t.Errorf("Final text = %q", finalText)
	}

	// The stream settled the session, so finalization succeeds now.
	resp, body := postJSON(t, srv.URL+"/v1/sessions/"+sessionID+"/end", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("End session status = %d: %v", resp.StatusCode, body)
	}
	transcript, _ := body["full_transcript"].(string)
	if !strings.Contains(transcript, "patient reports chest pain") {
		t.Errorf("full_transcript = %q", transcript)
	}

	stored, _ := reg.Get(context.Background(), sessionID)
	if stored.Status != models.StatusFinalized {
		t.Errorf("Stored status = %s, want finalized", stored.Status)
	}
}

func TestStream_RejectsAlreadyStreamingSession(t *testing.T) {
	srv, reg := newTestServer(t)
	ctx := context.Background()

	sess := &models.Session{ID: "sess-1", Provider: "mock", Status: models.StatusCreated}
	if err := reg.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := reg.MarkStreaming(ctx, sess.ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkStreaming: %v", err)
	}

	resp, err := http.Get(srv.URL + "/v1/transcribe/stream?session_id=" + sess.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Status = %d, want 409", resp.StatusCode)
	}

	stored, _ := reg.Get(ctx, sess.ID)
	if stored.Status != models.StatusStreaming {
		t.Errorf("Stored status = %s, rejection must not touch the session", stored.Status)
	}
}

// contestedRegistry makes a rival connection win the streaming claim just
// before ours lands, reproducing two simultaneous dials deterministically.
type contestedRegistry struct {
	registry.Registry
}

func (c *contestedRegistry) MarkStreaming(ctx context.Context, id string, startedAt time.Time) error {
	if err := c.Registry.MarkStreaming(ctx, id, startedAt); err != nil {
		return err
	}
	return c.Registry.MarkStreaming(ctx, id, startedAt)
}

func TestStream_SimultaneousDialLosesClaim(t *testing.T) {
	reg := &contestedRegistry{Registry: registry.NewMemory()}
	pub := events.New(&events.Config{Enabled: false})
	srv := httptest.NewServer(NewRouter(NewServer(testConfig(), reg, pub, metrics.DefaultMetrics, mockTranscribers())))
	t.Cleanup(srv.Close)

	sess := &models.Session{ID: "sess-1", Provider: "mock", Status: models.StatusCreated}
	if err := reg.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/transcribe/stream?session_id=" + sess.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg["error"] == nil {
		t.Fatalf("First message = %v, want an error notice", msg)
	}
	// Nothing else follows: the losing connection is closed.
	if err := conn.ReadJSON(&msg); err == nil {
		t.Fatalf("Got message after close notice: %v", msg)
	}
}

func TestStream_RejectsUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/transcribe/stream?session_id=missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", resp.StatusCode)
	}
}

func TestStream_RejectsMissingSessionID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/transcribe/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", resp.StatusCode)
	}
}
