package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"medical-transcription-service/internal/models"
	"medical-transcription-service/internal/observability/metrics"
	"medical-transcription-service/internal/registry"
	"medical-transcription-service/internal/service/ingest"
	"medical-transcription-service/internal/service/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	// The browser client is served from a different origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSource adapts the WebSocket connection to the ingest source contract.
// Both binary audio frames and the text sentinel frame pass through as-is.
type wsSource struct {
	conn    *websocket.Conn
	metrics *metrics.Metrics
}

func (s *wsSource) ReadChunk() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if !ingest.IsSentinel(data) {
		s.metrics.RecordAudioReceived(len(data))
	}
	return data, nil
}

// wsSender serializes outbound result messages onto the connection.
type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) Send(v any) error {
	return s.conn.WriteJSON(v)
}

// handleStream is the streaming connection endpoint. It runs one full
// session pipeline: ingest → provider adapter → relay.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id query parameter is required")
		return
	}

	sess, err := s.registry.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, registry.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session "+sessionID+" not found")
			return
		}
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to load session")
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	logger := log.With().Str("sessionId", sessionID).Str("provider", sess.Provider).Logger()

	// Cheap pre-upgrade rejection; the registry claim below is the
	// authoritative guard against concurrent connections.
	if sess.Status != models.StatusCreated {
		logger.Warn().Str("status", string(sess.Status)).Msg("Rejecting stream for session not in created status")
		writeError(w, http.StatusConflict, "session is "+string(sess.Status)+", cannot stream")
		return
	}

	factory, ok := s.transcribers[sess.Provider]
	if !ok {
		writeError(w, http.StatusBadRequest, "provider '"+sess.Provider+"' is not configured")
		return
	}
	transcriber, err := factory()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build provider adapter")
		writeError(w, http.StatusInternalServerError, "failed to initialize provider")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Claim the session. Exactly one connection can move it out of
	// created; a simultaneous dial loses here and is turned away.
	startedAt := time.Now().UTC()
	if err := s.registry.MarkStreaming(r.Context(), sessionID, startedAt); err != nil {
		if errors.Is(err, registry.ErrSessionBusy) {
			logger.Warn().Msg("Session already claimed by another connection")
			_ = conn.WriteJSON(models.ErrorMessage{Error: "session is not accepting a stream"})
		} else {
			logger.Error().Err(err).Msg("Failed to claim session for streaming")
			s.metrics.RecordRegistryWriteError("mark_streaming")
			_ = conn.WriteJSON(models.ErrorMessage{Error: "failed to start stream"})
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""), time.Now().Add(time.Second))
		return
	}

	lc := session.NewLifecycle(sessionID)
	if err := lc.Begin(); err != nil {
		logger.Error().Err(err).Msg("Failed to start session lifecycle")
		return
	}

	logger.Info().Msg("Streaming connection accepted")
	s.metrics.RecordStreamStart()
	start := time.Now()

	sess.Status = models.StatusStreaming
	sess.StartedAt = &startedAt

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	audio := ingest.Open(ctx, &wsSource{conn: conn, metrics: s.metrics}, s.cfg.IdleTimeout)
	final := s.orchestrator.Run(ctx, sess, lc, transcriber, audio, &wsSender{conn: conn})

	s.metrics.RecordStreamEnd(final == models.StatusCompleted, time.Since(start).Seconds())

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	logger.Info().Str("status", string(final)).Msg("Streaming connection closed")
}
