package audio

import "time"

// Block is a fixed-length run of normalised mono samples delivered by a
// [Capture]. Samples are in the range [-1, 1].
type Block struct {
	// Samples holds exactly the capture's block size worth of samples. The
	// slice is owned by the receiver; producers never reuse it.
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Seq is the zero-based arrival index of this block within its capture.
	Seq uint64

	// Timestamp marks the start of this block relative to capture start,
	// derived from the number of samples delivered before it.
	Timestamp time.Duration
}

// Duration returns the playback length of the block.
func (b Block) Duration() time.Duration {
	return SamplesDuration(len(b.Samples), b.SampleRate)
}

// SamplesDuration converts a sample count at sampleRate into a duration.
// Returns 0 for a non-positive rate.
func SamplesDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
