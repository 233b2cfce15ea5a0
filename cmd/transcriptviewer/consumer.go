package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// transcriptEvent covers both transcript.final and transcript.failed.
type transcriptEvent struct {
	EventType     string  `json:"eventType"`
	SessionID     string  `json:"sessionId"`
	UtteranceID   string  `json:"utteranceId"`
	Seq           uint64  `json:"seq"`
	Timestamp     int64   `json:"timestamp"`
	Text          string  `json:"text,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	AudioOffsetMs int64   `json:"audioOffsetMs"`
	DurationMs    int64   `json:"durationMs"`
	Reason        string  `json:"reason,omitempty"`
	Provider      string  `json:"provider,omitempty"`
	Error         string  `json:"error,omitempty"`
	ErrorType     string  `json:"errorType,omitempty"`
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// newReader reads through a consumer group when group is set, otherwise
// directly from partition 0 starting at lookback ago.
func newReader(ctx context.Context, brokers []string, topic, group string, lookback time.Duration) messageReader {
	cfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if group != "" {
		cfg.GroupID = group
		return kafka.NewReader(cfg)
	}

	// Partition reader without a group works better through port-forward.
	cfg.Partition = 0
	r := kafka.NewReader(cfg)
	if err := r.SetOffsetAt(ctx, time.Now().Add(-lookback)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from the start")
	}
	return r
}

// consume forwards decoded events to out until ctx is done.
func consume(ctx context.Context, r messageReader, topic string, out chan<- transcriptEvent) error {
	defer r.Close()
	log.Info().Str("topic", topic).Msg("Consuming transcripts")

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read failed")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		var event transcriptEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Skipping undecodable message")
			continue
		}

		log.Debug().
			Str("eventType", event.EventType).
			Str("sessionId", event.SessionID).
			Str("text", truncate(event.Text, 40)).
			Msg("Received transcript")

		select {
		case out <- event:
		case <-ctx.Done():
			return nil
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
