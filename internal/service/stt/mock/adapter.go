// Package mock provides a mock STT backend for running without cloud credentials.
// It returns canned transcripts after a configurable delay and can be told
// to fail on demand.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"speech-relay-service/internal/service/stt"
)

// SimulatedUtterance is a canned transcript.
type SimulatedUtterance struct {
	Final      string
	Confidence float64
}

// DefaultUtterances provides sample transcripts for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{Final: "I want to cancel my subscription", Confidence: 0.94},
	{Final: "Yes please go ahead", Confidence: 0.97},
	{Final: "Can you help me with my account", Confidence: 0.91},
	{Final: "I've been waiting for over an hour", Confidence: 0.89},
	{Final: "Thank you very much", Confidence: 0.98},
}

// ErrSimulated is returned for calls selected by FailEvery.
var ErrSimulated = errors.New("simulated backend failure")

// Config controls the simulated behaviour.
type Config struct {
	Delay     time.Duration // latency of every call
	FailEvery int           // fail every Nth call; zero never fails
}

// Adapter implements stt.Transcriber with canned responses.
type Adapter struct {
	cfg Config

	mu     sync.Mutex
	calls  int
	closed bool
}

// New creates a new mock STT adapter.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// Name implements stt.Transcriber.
func (a *Adapter) Name() string { return "mock" }

// Transcribe waits for the configured delay and returns the next canned
// transcript, cycling through DefaultUtterances.
func (a *Adapter) Transcribe(ctx context.Context, audio stt.Audio) (stt.Transcript, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return stt.Transcript{}, fmt.Errorf("%w: adapter closed", stt.ErrTranscription)
	}
	a.calls++
	n := a.calls
	a.mu.Unlock()

	if a.cfg.Delay > 0 {
		timer := time.NewTimer(a.cfg.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return stt.Transcript{}, fmt.Errorf("%w: %w", stt.ErrTranscription, ctx.Err())
		}
	}

	if a.cfg.FailEvery > 0 && n%a.cfg.FailEvery == 0 {
		return stt.Transcript{}, fmt.Errorf("%w: %w", stt.ErrTranscription, ErrSimulated)
	}
	if len(audio.PCM) == 0 {
		return stt.Transcript{}, nil
	}

	utt := DefaultUtterances[(n-1)%len(DefaultUtterances)]
	return stt.Transcript{Text: utt.Final, Confidence: utt.Confidence, Language: "en-US"}, nil
}

// Calls returns the number of Transcribe calls made.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Close marks the adapter closed. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
