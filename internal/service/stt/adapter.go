// Package stt defines the interface for Speech-to-Text backends.
package stt

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrTranscription wraps every backend failure.
var ErrTranscription = errors.New("transcription failed")

// Audio is one utterance of mono PCM16 little-endian audio.
type Audio struct {
	PCM          []byte
	SampleRateHz int
}

// Transcript is the text recognised for one utterance.
type Transcript struct {
	Text       string
	Confidence float64
	Language   string
}

// Transcriber defines the interface for STT providers (Google, OpenAI, mock).
// Implementations are shared by all sessions and must be safe for concurrent use.
type Transcriber interface {
	// Transcribe converts one utterance to text. It may block for as long
	// as the backend takes; callers bound it with ctx.
	Transcribe(ctx context.Context, audio Audio) (Transcript, error)

	// Name identifies the provider in logs and metrics.
	Name() string

	// Close releases backend resources.
	Close() error
}

// ErrorType maps a transcription error to a low-cardinality metric label.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown && st.Code() != codes.OK {
		return strings.ToLower(st.Code().String())
	}
	return "error"
}

