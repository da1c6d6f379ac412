package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"medical-transcription-service/internal/config"
	"medical-transcription-service/internal/events"
	"medical-transcription-service/internal/models"
	"medical-transcription-service/internal/observability/metrics"
	"medical-transcription-service/internal/registry"
	"medical-transcription-service/internal/service/provider"
	"medical-transcription-service/internal/service/session"
	"medical-transcription-service/internal/service/transcript"
)

// TranscriberFactory builds a provider adapter for one session.
type TranscriberFactory func() (provider.Transcriber, error)

// Server holds the handler dependencies.
type Server struct {
	cfg          *config.Config
	registry     registry.Registry
	publisher    *events.Publisher
	orchestrator *session.Orchestrator
	assembler    *transcript.Assembler
	metrics      *metrics.Metrics
	transcribers map[string]TranscriberFactory
}

// NewServer wires the API handlers over the shared collaborators.
func NewServer(
	cfg *config.Config,
	reg registry.Registry,
	pub *events.Publisher,
	m *metrics.Metrics,
	transcribers map[string]TranscriberFactory,
) *Server {
	return &Server{
		cfg:          cfg,
		registry:     reg,
		publisher:    pub,
		orchestrator: session.NewOrchestrator(reg, pub, m),
		assembler:    transcript.NewAssembler(reg),
		metrics:      m,
		transcribers: transcribers,
	}
}

type createSessionRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	Provider  string `json:"provider,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Provider  string `json:"provider"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PatientID == "" || req.DoctorID == "" {
		writeError(w, http.StatusBadRequest, "patient_id and doctor_id are required")
		return
	}

	providerTag := req.Provider
	if providerTag == "" {
		providerTag = s.cfg.DefaultProvider
	}
	// Provider availability is validated before anything is persisted.
	if !config.KnownProvider(providerTag) {
		writeError(w, http.StatusBadRequest, "invalid provider '"+providerTag+"'")
		return
	}
	if !s.cfg.ProviderConfigured(providerTag) {
		writeError(w, http.StatusBadRequest, "provider '"+providerTag+"' is not configured")
		return
	}

	sess := &models.Session{
		ID:        uuid.NewString(),
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Provider:  providerTag,
		Status:    models.StatusCreated,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.registry.Create(r.Context(), sess); err != nil {
		log.Error().Err(err).Msg("Failed to create session record")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	s.metrics.SessionsCreated.Inc()
	log.Info().
		Str("sessionId", sess.ID).
		Str("provider", providerTag).
		Msg("Created transcription session")

	writeJSON(w, http.StatusOK, createSessionResponse{
		SessionID: sess.ID,
		Status:    string(models.StatusCreated),
		Provider:  providerTag,
	})
}

type endSessionResponse struct {
	SessionID      string `json:"session_id"`
	Status         string `json:"status"`
	FullTranscript string `json:"full_transcript"`
	WordCount      int    `json:"word_count"`
	Provider       string `json:"provider"`
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

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

	// Finalized is reachable only from completed or error.
	if !sess.Status.CanTransition(models.StatusFinalized) {
		log.Warn().
			Str("sessionId", sessionID).
			Str("status", string(sess.Status)).
			Msg("Rejecting end-session request for session that is not done streaming")
		writeError(w, http.StatusConflict, "session is "+string(sess.Status)+", cannot finalize")
		return
	}

	doc, err := s.assembler.Assemble(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to assemble transcript")
		writeError(w, http.StatusInternalServerError, "failed to assemble transcript")
		return
	}

	finalizedAt := time.Now().UTC()
	if err := s.registry.Finalize(r.Context(), sessionID, finalizedAt); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to finalize session")
		writeError(w, http.StatusInternalServerError, "failed to finalize session")
		return
	}

	s.metrics.SessionsFinalized.Inc()
	if err := s.publisher.PublishSession(r.Context(), sessionID, models.SessionEvent{
		SessionID:    sessionID,
		Status:       models.StatusFinalized,
		Provider:     sess.Provider,
		Timestamp:    finalizedAt,
		TotalResults: sess.TotalResults,
	}); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to publish finalize event")
	}

	writeJSON(w, http.StatusOK, endSessionResponse{
		SessionID:      sessionID,
		Status:         string(models.StatusFinalized),
		FullTranscript: doc.Text,
		WordCount:      doc.WordCount,
		Provider:       doc.Provider,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"service":          "transcription",
		"providers":        s.cfg.AvailableProviders(),
		"default_provider": s.cfg.DefaultProvider,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default_provider": s.cfg.DefaultProvider,
		"available_providers": map[string]any{
			config.ProviderAssemblyAI: map[string]any{
				"available": s.cfg.ProviderConfigured(config.ProviderAssemblyAI),
				"features":  []string{"Real-time streaming", "Partial results", "High accuracy"},
			},
			config.ProviderDeepgram: map[string]any{
				"available": s.cfg.ProviderConfigured(config.ProviderDeepgram),
				"model":     "nova-2",
				"features":  []string{"Speaker diarization", "Smart formatting", "Word-level timings"},
			},
			config.ProviderGoogle: map[string]any{
				"available": s.cfg.ProviderConfigured(config.ProviderGoogle),
				"features":  []string{"Real-time streaming", "Interim results"},
			},
		},
		"audio_format": map[string]string{
			"encoding":    "PCM 16-bit",
			"sample_rate": "16kHz",
			"channels":    "Mono",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
