package events

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/schema"
	"speech-relay-service/internal/service/dispatch"
	"speech-relay-service/internal/service/stt"
)

// EventPublisher is the part of Publisher the sink depends on.
type EventPublisher interface {
	PublishFinal(ctx context.Context, key string, event any) error
	PublishFailed(ctx context.Context, key string, event any) error
}

// SinkConfig describes the audio behind job results so events can carry
// offsets and durations.
type SinkConfig struct {
	Provider       string
	SampleRateHz   int
	FrameDuration  time.Duration
	PublishTimeout time.Duration
}

// TranscriptSink turns dispatcher results into transcript events.
type TranscriptSink struct {
	publisher EventPublisher
	validator *schema.Validator
	cfg       SinkConfig
	now       func() time.Time
}

// NewSink creates a sink publishing through p.
func NewSink(p EventPublisher, v *schema.Validator, cfg SinkConfig) *TranscriptSink {
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = 8000
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if v == nil {
		v = schema.New()
	}
	return &TranscriptSink{publisher: p, validator: v, cfg: cfg, now: time.Now}
}

// Deliver implements dispatch.Sink. Publish failures are logged; a result
// is never retried.
func (s *TranscriptSink) Deliver(ctx context.Context, r dispatch.Result) {
	job := r.Job
	logger := log.With().
		Str("component", "sink").
		Str("sessionId", job.SessionID).
		Str("utteranceId", job.ID).
		Uint64("seq", job.Seq).
		Logger()

	// Publishing is detached from the dispatcher context so results of
	// jobs finishing during shutdown still go out.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()

	var (
		event   any
		publish func(context.Context, string, any) error
	)
	if r.Err != nil {
		event = s.failed(r)
		publish = s.publisher.PublishFailed
	} else {
		event = s.final(r)
		publish = s.publisher.PublishFinal
	}

	if err := s.validator.Validate(event); err != nil {
		logger.Error().Err(err).Msg("Dropping invalid transcript event")
		return
	}
	if err := publish(pubCtx, job.SessionID, event); err != nil {
		logger.Error().Err(err).Msg("Failed to publish transcript event")
		return
	}

	if r.Err != nil {
		logger.Warn().Err(r.Err).Msg("Published transcription failure")
		return
	}
	logger.Info().
		Str("text", r.Transcript.Text).
		Float64("confidence", r.Transcript.Confidence).
		Msg("Published transcript")
}

func (s *TranscriptSink) final(r dispatch.Result) models.TranscriptFinal {
	job := r.Job
	return models.TranscriptFinal{
		EventType:     models.EventTypeTranscriptFinal,
		SessionID:     job.SessionID,
		UtteranceID:   job.ID,
		Seq:           job.Seq,
		Timestamp:     s.now().UnixMilli(),
		Text:          r.Transcript.Text,
		Confidence:    clamp(r.Transcript.Confidence),
		Language:      r.Transcript.Language,
		AudioOffsetMs: s.offsetMs(job),
		DurationMs:    s.durationMs(job),
		Reason:        string(job.Reason),
		Provider:      s.cfg.Provider,
		LatencyMs:     job.Duration().Milliseconds(),
	}
}

func (s *TranscriptSink) failed(r dispatch.Result) models.TranscriptFailed {
	job := r.Job
	return models.TranscriptFailed{
		EventType:     models.EventTypeTranscriptFailed,
		SessionID:     job.SessionID,
		UtteranceID:   job.ID,
		Seq:           job.Seq,
		Timestamp:     s.now().UnixMilli(),
		AudioOffsetMs: s.offsetMs(job),
		DurationMs:    s.durationMs(job),
		Reason:        string(job.Reason),
		Provider:      s.cfg.Provider,
		Error:         r.Err.Error(),
		ErrorType:     stt.ErrorType(r.Err),
	}
}

// offsetMs is the position of the utterance's first frame within the call.
// Frame sequence numbers start at 1.
func (s *TranscriptSink) offsetMs(job *dispatch.Job) int64 {
	if job.StartFrame == 0 {
		return 0
	}
	return int64(job.StartFrame-1) * s.cfg.FrameDuration.Milliseconds()
}

func (s *TranscriptSink) durationMs(job *dispatch.Job) int64 {
	return int64(job.Bytes) * 1000 / int64(2*s.cfg.SampleRateHz)
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
