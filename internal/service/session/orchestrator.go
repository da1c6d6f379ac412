package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"medical-transcription-service/internal/events"
	"medical-transcription-service/internal/models"
	"medical-transcription-service/internal/observability/metrics"
	"medical-transcription-service/internal/registry"
	"medical-transcription-service/internal/service/ingest"
	"medical-transcription-service/internal/service/provider"
)

// sideEffectQueueCap bounds the per-session persistence/publish queue.
// When the queue is full the segment's side effects are skipped, which is
// treated like any other persistence failure: logged, never fatal.
const sideEffectQueueCap = 256

// sideEffectTimeout bounds each registry write and event publish.
const sideEffectTimeout = 10 * time.Second

// Sender writes one outbound message to the client transport.
type Sender interface {
	Send(v any) error
}

// Orchestrator runs the ingest → provider → relay pipeline for streaming
// sessions. The registry and publisher are process-wide collaborators;
// everything session-scoped lives in the Run call frame.
type Orchestrator struct {
	registry  registry.Registry
	publisher *events.Publisher
	metrics   *metrics.Metrics
}

// NewOrchestrator creates an orchestrator over the shared collaborators.
func NewOrchestrator(reg registry.Registry, pub *events.Publisher, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		registry:  reg,
		publisher: pub,
		metrics:   m,
	}
}

type indexedSegment struct {
	index   int
	segment models.TranscriptSegment
}

// Run relays provider results for one session until the result sequence
// completes, then settles the session status. It returns the final status
// of the stream.
func (o *Orchestrator) Run(
	ctx context.Context,
	sess *models.Session,
	lc *Lifecycle,
	transcriber provider.Transcriber,
	audio *ingest.Channel,
	send Sender,
) models.Status {
	logger := log.With().
		Str("sessionId", sess.ID).
		Str("provider", transcriber.Name()).
		Logger()

	results := transcriber.Transcribe(ctx, sess.ID, audio.C)

	// Side effects run on one worker so persisted order always equals
	// emission order, while the relay loop never waits on them.
	sideCh := make(chan indexedSegment, sideEffectQueueCap)
	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		for item := range sideCh {
			o.persistAndPublish(sess.ID, item, logger)
		}
	}()

	var (
		resultCount int
		finalCount  int
		terminalErr error
	)

	for res := range results {
		if res.Err != nil {
			o.metrics.RecordProviderError(transcriber.Name())
			logger.Error().Err(res.Err).Msg("Transcription failed")
			terminalErr = res.Err
			if err := send.Send(models.ErrorMessage{Error: res.Err.Error()}); err != nil {
				logger.Warn().Err(err).Msg("Failed to deliver error message to client")
			}
			break
		}

		seg := models.TranscriptSegment{
			Text:       res.Text,
			IsFinal:    res.IsFinal,
			SessionID:  sess.ID,
			Provider:   transcriber.Name(),
			Timestamp:  res.Timestamp,
			Confidence: res.Confidence,
			Words:      res.Words,
		}

		if err := send.Send(seg); err != nil {
			logger.Warn().Err(err).Msg("Client transport failed mid-relay")
			terminalErr = err
			break
		}

		resultCount++
		o.metrics.RecordResult(seg.IsFinal)

		if seg.IsFinal {
			sess.Transcript = append(sess.Transcript, seg)
			item := indexedSegment{index: finalCount, segment: seg}
			finalCount++
			select {
			case sideCh <- item:
			default:
				logger.Error().Int("index", item.index).Msg("Side-effect queue full, segment not persisted")
				o.metrics.RecordRegistryWriteError("append_segment")
			}
		}
	}

	close(sideCh)
	workerWG.Wait()

	sess.TotalResults = resultCount
	endedAt := time.Now().UTC()

	if terminalErr == nil {
		if err := audio.Err(); err != nil {
			terminalErr = err
		}
	}
	if audio.TimedOut() {
		o.metrics.IdleTimeouts.Inc()
	}

	if terminalErr != nil {
		o.settleError(sess, lc, endedAt, terminalErr, logger)
		return models.StatusError
	}

	o.settleCompleted(sess, lc, endedAt, resultCount, logger)
	if err := send.Send(models.CompletionMessage{
		SessionID:    sess.ID,
		Status:       models.StatusCompleted,
		TotalResults: resultCount,
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to deliver completion notice")
	}
	logger.Info().Int("results", resultCount).Int("finals", finalCount).Msg("Transcription completed")
	return models.StatusCompleted
}

// persistAndPublish handles one finalized segment's side effects. Both are
// best effort: failures are logged and counted, never propagated.
func (o *Orchestrator) persistAndPublish(sessionID string, item indexedSegment, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if err := o.registry.AppendSegment(ctx, sessionID, item.index, item.segment); err != nil {
		logger.Error().Err(err).Int("index", item.index).Msg("Failed to persist segment")
		o.metrics.RecordRegistryWriteError("append_segment")
	}

	ev := models.TranscriptEvent{
		SessionID:  sessionID,
		Transcript: item.segment,
		Timestamp:  time.Now().UTC(),
	}
	if err := o.publisher.PublishTranscript(ctx, sessionID, ev); err != nil {
		logger.Error().Err(err).Int("index", item.index).Msg("Failed to publish segment")
	}
}

// settle writes run on their own context: the request context is often
// already canceled when the stream ends.
func (o *Orchestrator) settleCompleted(sess *models.Session, lc *Lifecycle, endedAt time.Time, totalResults int, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if err := lc.Complete(); err != nil {
		logger.Warn().Err(err).Msg("Ignoring illegal status transition")
		return
	}
	sess.Status = models.StatusCompleted
	sess.EndedAt = &endedAt

	if err := o.registry.MarkCompleted(ctx, sess.ID, endedAt, totalResults); err != nil {
		logger.Error().Err(err).Msg("Failed to record completed session")
		o.metrics.RecordRegistryWriteError("mark_completed")
	}
	o.publishSessionEvent(sess, logger)
}

func (o *Orchestrator) settleError(sess *models.Session, lc *Lifecycle, endedAt time.Time, cause error, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if err := lc.Fail(); err != nil {
		logger.Warn().Err(err).Msg("Ignoring illegal status transition")
		return
	}
	sess.Status = models.StatusError
	sess.EndedAt = &endedAt
	sess.LastError = cause.Error()

	if err := o.registry.MarkError(ctx, sess.ID, endedAt, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("Failed to record failed session")
		o.metrics.RecordRegistryWriteError("mark_error")
	}
	o.publishSessionEvent(sess, logger)
}

func (o *Orchestrator) publishSessionEvent(sess *models.Session, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	ev := models.SessionEvent{
		SessionID:    sess.ID,
		Status:       sess.Status,
		Provider:     sess.Provider,
		Timestamp:    time.Now().UTC(),
		TotalResults: sess.TotalResults,
		Error:        sess.LastError,
	}
	if err := o.publisher.PublishSession(ctx, sess.ID, ev); err != nil {
		logger.Error().Err(err).Msg("Failed to publish session event")
	}
}
