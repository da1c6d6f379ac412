// Package events provides best-effort event publishing for downstream
// consumers (disease detection, note generation).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"medical-transcription-service/internal/observability/metrics"
)

// Publisher publishes transcript and session lifecycle events to Kafka.
// When Kafka is unconfigured it degrades to log-only mode so the
// orchestrator never has to branch on availability.
type Publisher struct {
	writerTranscript *kafka.Writer
	writerSession    *kafka.Writer
	principal        string
	topicTranscript  string
	topicSession     string
	enabled          bool
	metrics          *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicTranscript string
	TopicSession    string
	Principal       string
	Enabled         bool
}

// New creates a new Kafka event publisher with separate topics for
// transcript segments and session lifecycle changes.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:       cfg.Principal,
			topicTranscript: cfg.TopicTranscript,
			topicSession:    cfg.TopicSession,
			enabled:         false,
			metrics:         m,
		}
	}

	// Longer dial timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscript", cfg.TopicTranscript).
		Str("topicSession", cfg.TopicSession).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTranscript: newWriter(cfg.TopicTranscript),
		writerSession:    newWriter(cfg.TopicSession),
		principal:        cfg.Principal,
		topicTranscript:  cfg.TopicTranscript,
		topicSession:     cfg.TopicSession,
		enabled:          true,
		metrics:          m,
	}
}

// PublishTranscript publishes a finalized transcript segment keyed by
// session id.
func (p *Publisher) PublishTranscript(ctx context.Context, sessionID string, event any) error {
	return p.publish(ctx, p.writerTranscript, p.topicTranscript, sessionID, event)
}

// PublishSession publishes a session lifecycle event keyed by session id.
func (p *Publisher) PublishSession(ctx context.Context, sessionID string, event any) error {
	return p.publish(ctx, p.writerSession, p.topicSession, sessionID, event)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTranscript != nil {
		if e := p.writerTranscript.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing transcript writer")
			err = e
		}
	}
	if p.writerSession != nil {
		if e := p.writerSession.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing session writer")
			err = e
		}
	}
	return err
}
