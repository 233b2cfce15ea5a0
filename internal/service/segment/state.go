// Package segment groups classified audio frames into utterances.
package segment

import (
	"errors"
	"fmt"
	"time"
)

// State represents the segmenter state.
type State int

const (
	// StateIdle - No buffered audio, silence counter at zero.
	StateIdle State = iota
	// StateAccumulating - Speech buffered, waiting for trailing silence.
	StateAccumulating
	// StateTerminated - Session stopped. Terminal.
	StateTerminated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAccumulating:
		return "ACCUMULATING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Reason explains why an utterance was flushed.
type Reason string

const (
	ReasonSilence  Reason = "silence"
	ReasonStop     Reason = "stop"
	ReasonMaxBytes Reason = "max_bytes"
)

// ErrTerminated is returned when frames arrive after Stop.
var ErrTerminated = errors.New("segmenter is terminated")

// DefaultSilence is the trailing silence that ends an utterance.
const DefaultSilence = 200 * time.Millisecond

// Utterance is one contiguous run of speech audio.
type Utterance struct {
	PCM      []byte
	StartSeq uint64 // sequence of the first speech frame
	EndSeq   uint64 // sequence of the last speech frame
	Frames   int
	Reason   Reason
}

// Config holds segmenter parameters.
type Config struct {
	// SilenceFrames is the number of consecutive non-speech frames that
	// completes an utterance.
	SilenceFrames int
	// MaxUtteranceBytes forces a flush once the buffer reaches this size.
	// Zero disables the limit.
	MaxUtteranceBytes int
}

// ThresholdFrames converts a silence duration into a frame count,
// rounding up. The result is at least 1.
func ThresholdFrames(silence, frame time.Duration) int {
	if frame <= 0 {
		return 1
	}
	n := int((silence + frame - 1) / frame)
	if n < 1 {
		n = 1
	}
	return n
}

// DefaultConfig returns the configuration for 20ms frames.
func DefaultConfig() Config {
	return Config{
		SilenceFrames:     ThresholdFrames(DefaultSilence, 20*time.Millisecond),
		MaxUtteranceBytes: 5 * 1024 * 1024, // ~327s at 8kHz 16-bit mono
	}
}

// Segmenter is the utterance boundary state machine for one session.
// It is driven by a single goroutine and is not safe for concurrent use.
//
// Transitions:
//
//	speech      any          → ACCUMULATING (append, counter = 0)
//	non-speech  IDLE         → IDLE
//	non-speech  ACCUMULATING → ACCUMULATING (counter++) or flush → IDLE
//	Stop        any          → TERMINATED (flush if ACCUMULATING)
type Segmenter struct {
	cfg      Config
	state    State
	buf      []byte
	silence  int
	frames   int
	startSeq uint64
	endSeq   uint64
}

// NewSegmenter creates a segmenter in IDLE state.
func NewSegmenter(cfg Config) *Segmenter {
	if cfg.SilenceFrames < 1 {
		cfg.SilenceFrames = 1
	}
	return &Segmenter{cfg: cfg, state: StateIdle}
}

// State returns the current state.
func (s *Segmenter) State() State {
	return s.state
}

// SilenceCount returns the trailing silence counter.
func (s *Segmenter) SilenceCount() int {
	return s.silence
}

// Buffered returns the number of buffered PCM bytes.
func (s *Segmenter) Buffered() int {
	return len(s.buf)
}

// Push feeds one classified frame. It returns a completed utterance when
// this frame ends one, nil otherwise.
func (s *Segmenter) Push(pcm []byte, speech bool, seq uint64) (*Utterance, error) {
	switch s.state {
	case StateTerminated:
		return nil, ErrTerminated
	case StateIdle:
		if !speech || len(pcm) == 0 {
			return nil, nil
		}
		s.startSeq = seq
		s.state = StateAccumulating
	case StateAccumulating:
		if !speech {
			s.silence++
			if s.silence >= s.cfg.SilenceFrames {
				return s.flush(ReasonSilence), nil
			}
			return nil, nil
		}
	}

	s.buf = append(s.buf, pcm...)
	s.silence = 0
	s.frames++
	s.endSeq = seq

	if s.cfg.MaxUtteranceBytes > 0 && len(s.buf) >= s.cfg.MaxUtteranceBytes {
		return s.flush(ReasonMaxBytes), nil
	}
	return nil, nil
}

// Stop terminates the segmenter, returning the buffered speech as a final
// utterance if there is any. Stop is idempotent.
func (s *Segmenter) Stop() *Utterance {
	if s.state == StateTerminated {
		return nil
	}
	var u *Utterance
	if s.state == StateAccumulating {
		u = s.flush(ReasonStop)
	}
	s.state = StateTerminated
	return u
}

// flush hands the buffer to the returned utterance and resets to IDLE.
// The segmenter never reuses the returned slice.
func (s *Segmenter) flush(reason Reason) *Utterance {
	u := &Utterance{
		PCM:      s.buf,
		StartSeq: s.startSeq,
		EndSeq:   s.endSeq,
		Frames:   s.frames,
		Reason:   reason,
	}
	s.buf = nil
	s.silence = 0
	s.frames = 0
	s.state = StateIdle
	return u
}
