// Package vad implements the energy-threshold voice activity detector that
// drives utterance capture: a pure RMS energy function and the
// Idle → Recording → Finalizing state machine fed one reading per block.
//
// Nothing here touches audio hardware or the network, so recorded fixture
// sequences can be replayed through [Machine.Observe] directly.
package vad

import "math"

// RMS returns the root-mean-square amplitude of samples, sqrt(mean(s²)).
// An empty block has zero energy. Accumulation happens in float64 so a
// full-scale block yields ≈1 without overflow.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
