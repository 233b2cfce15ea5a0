// Package models defines the data structures for transcript events and the
// media stream wire format.
package models

const (
	EventTypeTranscriptFinal  = "transcript.final"
	EventTypeTranscriptFailed = "transcript.failed"
)

// TranscriptFinal is published when an utterance was transcribed.
type TranscriptFinal struct {
	EventType     string  `json:"eventType"`
	SessionID     string  `json:"sessionId"`
	UtteranceID   string  `json:"utteranceId"`
	Seq           uint64  `json:"seq"`
	Timestamp     int64   `json:"timestamp"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	Language      string  `json:"language,omitempty"`
	AudioOffsetMs int64   `json:"audioOffsetMs"`
	DurationMs    int64   `json:"durationMs"`
	Reason        string  `json:"reason"`
	Provider      string  `json:"provider"`
	LatencyMs     int64   `json:"latencyMs"`
}

// TranscriptFailed is published when the backend could not transcribe an
// utterance.
type TranscriptFailed struct {
	EventType     string `json:"eventType"`
	SessionID     string `json:"sessionId"`
	UtteranceID   string `json:"utteranceId"`
	Seq           uint64 `json:"seq"`
	Timestamp     int64  `json:"timestamp"`
	AudioOffsetMs int64  `json:"audioOffsetMs"`
	DurationMs    int64  `json:"durationMs"`
	Reason        string `json:"reason"`
	Provider      string `json:"provider"`
	Error         string `json:"error"`
	ErrorType     string `json:"errorType"`
}
