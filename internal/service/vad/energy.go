package vad

import (
	"fmt"
	"math"

	"speech-relay-service/internal/service/codec"
)

// DefaultThresholds are RMS levels (int16 scale) per Mode.
var DefaultThresholds = [4]float64{300, 500, 800, 1200}

// EnergyClassifier is a pure-Go RMS energy classifier.
type EnergyClassifier struct {
	thresholds [4]float64
}

// NewEnergyClassifier returns a classifier using DefaultThresholds.
func NewEnergyClassifier() *EnergyClassifier {
	return &EnergyClassifier{thresholds: DefaultThresholds}
}

// NewEnergyClassifierWithThresholds returns a classifier with custom
// per-mode RMS thresholds.
func NewEnergyClassifierWithThresholds(thresholds [4]float64) (*EnergyClassifier, error) {
	for i, th := range thresholds {
		if th <= 0 || th > math.MaxInt16 {
			return nil, fmt.Errorf("threshold for mode %s out of range: %f", Mode(i), th)
		}
	}
	return &EnergyClassifier{thresholds: thresholds}, nil
}

// Classify implements Classifier.
func (c *EnergyClassifier) Classify(frame []byte, sampleRate int, mode Mode) (bool, error) {
	if !mode.Valid() {
		return false, fmt.Errorf("%w: invalid mode %d", ErrClassification, int(mode))
	}
	if _, err := frameDuration(frame, sampleRate); err != nil {
		return false, err
	}
	return RMS(frame) >= c.thresholds[mode], nil
}

// RMS returns the root-mean-square level of PCM16 little-endian audio. A
// trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	samples, _ := codec.Samples(pcm[:len(pcm)&^1])
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
