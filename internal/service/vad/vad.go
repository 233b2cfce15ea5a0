// Package vad classifies fixed-duration PCM frames as speech or non-speech.
package vad

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by classifiers.
var (
	ErrUnsupportedFrame = errors.New("unsupported frame")
	ErrClassification   = errors.New("classification failed")
)

// Mode is the classifier aggressiveness. Higher modes reject more noise at
// the cost of missing quiet speech.
type Mode int

const (
	ModeQuality Mode = iota
	ModeLowBitrate
	ModeAggressive
	ModeVeryAggressive
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeQuality:
		return "QUALITY"
	case ModeLowBitrate:
		return "LOW_BITRATE"
	case ModeAggressive:
		return "AGGRESSIVE"
	case ModeVeryAggressive:
		return "VERY_AGGRESSIVE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(m))
	}
}

// Valid reports whether m is one of the four supported levels.
func (m Mode) Valid() bool {
	return m >= ModeQuality && m <= ModeVeryAggressive
}

// Classifier decides whether one PCM16 little-endian frame contains speech.
// Implementations keep no state between calls and are shared by all sessions.
type Classifier interface {
	Classify(frame []byte, sampleRate int, mode Mode) (bool, error)
}

// SupportedSampleRates lists the accepted sample rates in Hz.
var SupportedSampleRates = []int{8000, 16000, 32000, 48000}

// SupportedFrameDurations lists the accepted frame durations.
var SupportedFrameDurations = []time.Duration{
	10 * time.Millisecond,
	20 * time.Millisecond,
	30 * time.Millisecond,
}

// FrameBytes returns the PCM16 byte length of a frame of duration d at sampleRate.
func FrameBytes(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate)*d.Milliseconds()/1000) * 2
}

// ValidateFrame checks that a PCM16 frame is exactly d long at sampleRate.
// A frame of another supported duration is still rejected: the silence
// threshold counts frames, so mixing durations would change its length.
func ValidateFrame(frame []byte, sampleRate int, d time.Duration) error {
	if err := ValidateSampleRate(sampleRate); err != nil {
		return err
	}
	if err := ValidateDuration(d); err != nil {
		return err
	}
	if want := FrameBytes(sampleRate, d); len(frame) != want {
		return fmt.Errorf("%w: %d bytes, want %d for %v at %d Hz",
			ErrUnsupportedFrame, len(frame), want, d, sampleRate)
	}
	return nil
}

// ValidateSampleRate checks a sample rate against SupportedSampleRates.
func ValidateSampleRate(rate int) error {
	for _, r := range SupportedSampleRates {
		if r == rate {
			return nil
		}
	}
	return fmt.Errorf("%w: sample rate %d Hz", ErrUnsupportedFrame, rate)
}

// ValidateDuration checks a frame duration against SupportedFrameDurations.
func ValidateDuration(d time.Duration) error {
	for _, s := range SupportedFrameDurations {
		if d == s {
			return nil
		}
	}
	return fmt.Errorf("%w: frame duration %v", ErrUnsupportedFrame, d)
}

// frameDuration returns the supported duration a frame's length matches.
func frameDuration(frame []byte, sampleRate int) (time.Duration, error) {
	if err := ValidateSampleRate(sampleRate); err != nil {
		return 0, err
	}
	for _, d := range SupportedFrameDurations {
		if len(frame) == FrameBytes(sampleRate, d) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %d bytes is not a 10/20/30 ms frame at %d Hz",
		ErrUnsupportedFrame, len(frame), sampleRate)
}
