// Package events publishes transcript results to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"speech-relay-service/internal/observability/metrics"
)

// Publisher writes completed and failed transcripts to separate Kafka topics.
// With Kafka disabled it only logs the events.
type Publisher struct {
	writerFinal  *kafka.Writer
	writerFailed *kafka.Writer
	principal    string
	topicFinal   string
	topicFailed  string
	enabled      bool
	metrics      *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicFinal   string
	TopicFailed  string
	Principal    string
	Enabled      bool
	WriteTimeout time.Duration
}

// New creates a publisher. A nil config or one without brokers yields a
// log-only publisher.
func New(cfg *Config) *Publisher {
	p := &Publisher{metrics: metrics.DefaultMetrics}
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}

	p.principal = cfg.Principal
	p.topicFinal = cfg.TopicFinal
	p.topicFailed = cfg.TopicFailed

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	p.writerFinal = newWriter(cfg.Brokers, cfg.TopicFinal, writeTimeout, transport)
	p.writerFailed = newWriter(cfg.Brokers, cfg.TopicFailed, writeTimeout, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicFinal", cfg.TopicFinal).
		Str("topicFailed", cfg.TopicFailed).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

// Hash balancing keeps every event of a session on one partition, so
// consumers see a session's transcripts in order.
func newWriter(brokers []string, topic string, timeout time.Duration, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Enabled reports whether events are written to Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishFinal publishes a completed transcript to the final topic.
func (p *Publisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, "final", key, event)
}

// PublishFailed publishes a failed transcription to the failed topic.
func (p *Publisher) PublishFailed(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerFailed, p.topicFailed, "failed", key, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
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

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	err = writer.WriteMessages(ctx, msg)
	p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
	if err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		return err
	}
	return nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var err error
	for name, w := range map[string]*kafka.Writer{"final": p.writerFinal, "failed": p.writerFailed} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("writer", name).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
