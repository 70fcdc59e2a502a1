// Package waveform turns captured audio blocks into display frames for live
// visual feedback: a level meter on the terminal and a WebSocket feed for
// browser visualizers. Sinks observe the capture stream only; nothing they
// do can influence voice activity detection or recording.
package waveform

import (
	"math"
	"sync"
	"time"

	"github.com/MrWong99/voicechat/pkg/audio"
)

// Points is the number of time-domain points in a [Frame].
const Points = 128

// Frame is one display snapshot of a captured block.
type Frame struct {
	// Seq is the block's arrival index within its capture.
	Seq uint64 `json:"seq"`

	// AtMillis is the block's offset from capture start.
	AtMillis int64 `json:"at_ms"`

	// RMS is the block's energy reading.
	RMS float64 `json:"rms"`

	// Recording reports whether the block belongs to an utterance.
	Recording bool `json:"recording"`

	// TimeDomain holds unsigned byte samples centred on 128, the format
	// browser analyser nodes produce: value = 128·(1+s), clamped to [0,255].
	TimeDomain [Points]byte `json:"time_domain"`
}

// At returns the block offset as a duration.
func (f Frame) At() time.Duration { return time.Duration(f.AtMillis) * time.Millisecond }

// Snapshot builds a Frame from blk by picking Points evenly spaced samples.
func Snapshot(blk audio.Block, rms float64, recording bool) Frame {
	f := Frame{
		Seq:       blk.Seq,
		AtMillis:  blk.Timestamp.Milliseconds(),
		RMS:       rms,
		Recording: recording,
	}
	n := len(blk.Samples)
	for i := range f.TimeDomain {
		if n == 0 {
			f.TimeDomain[i] = 128
			continue
		}
		f.TimeDomain[i] = toByte(blk.Samples[i*n/Points])
	}
	return f
}

func toByte(s float32) byte {
	v := math.Round(128 * (1 + float64(s)))
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 255:
		return 255
	}
	return byte(v)
}

// Sink consumes frames. Observe is called from the capture loop and must not
// block.
type Sink interface {
	Observe(Frame)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(Frame)

// Observe implements Sink.
func (fn SinkFunc) Observe(f Frame) { fn(f) }

// Multi fans frames out to several sinks. The zero value discards frames.
type Multi struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewMulti returns a Multi delivering to sinks, skipping nil entries.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add registers another sink.
func (m *Multi) Add(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// Len returns the number of registered sinks.
func (m *Multi) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}

// Observe implements Sink.
func (m *Multi) Observe(f Frame) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sinks {
		s.Observe(f)
	}
}
