// Package schema checks outbound transcript events before they are published.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"speech-relay-service/internal/models"
)

var (
	// ErrInvalidEvent is returned when a required field is missing or out of range.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrUnknownEvent is returned for types the validator does not know.
	ErrUnknownEvent = errors.New("unknown event type")
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate reports every violation found in event, joined into one error.
func (v *Validator) Validate(event any) error {
	var problems []string

	switch e := event.(type) {
	case models.TranscriptFinal:
		problems = v.final(&e)
	case *models.TranscriptFinal:
		problems = v.final(e)
	case models.TranscriptFailed:
		problems = v.failed(&e)
	case *models.TranscriptFailed:
		problems = v.failed(e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(problems, "; "))
	}
	return nil
}

func (v *Validator) final(e *models.TranscriptFinal) []string {
	p := common(e.EventType, models.EventTypeTranscriptFinal, e.SessionID, e.UtteranceID, e.Seq, e.Timestamp)
	if e.Confidence < 0 || e.Confidence > 1 {
		p = append(p, fmt.Sprintf("confidence %v out of range [0,1]", e.Confidence))
	}
	if e.AudioOffsetMs < 0 || e.DurationMs < 0 {
		p = append(p, "negative audio offset or duration")
	}
	return p
}

func (v *Validator) failed(e *models.TranscriptFailed) []string {
	p := common(e.EventType, models.EventTypeTranscriptFailed, e.SessionID, e.UtteranceID, e.Seq, e.Timestamp)
	if e.Error == "" {
		p = append(p, "error is required")
	}
	return p
}

func common(eventType, want, sessionID, utteranceID string, seq uint64, ts int64) []string {
	var p []string
	if eventType != want {
		p = append(p, fmt.Sprintf("eventType %q, want %q", eventType, want))
	}
	if sessionID == "" {
		p = append(p, "sessionId is required")
	}
	if utteranceID == "" {
		p = append(p, "utteranceId is required")
	}
	if seq == 0 {
		p = append(p, "seq must be positive")
	}
	if ts <= 0 {
		p = append(p, "timestamp must be positive")
	}
	return p
}
