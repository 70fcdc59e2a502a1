package waveform

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

// Meter renders frames as a single-line level meter, redrawn in place with a
// carriage return. Redraws are throttled to one per interval.
type Meter struct {
	mu       sync.Mutex
	w        io.Writer
	width    int
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// MeterOption configures a Meter.
type MeterOption func(*Meter)

// WithWidth sets the bar width in characters. Default: 40.
func WithWidth(n int) MeterOption {
	return func(m *Meter) {
		if n > 0 {
			m.width = n
		}
	}
}

// WithInterval sets the minimum time between redraws. Default: 100ms.
func WithInterval(d time.Duration) MeterOption {
	return func(m *Meter) { m.interval = d }
}

// NewMeter creates a Meter writing to w.
func NewMeter(w io.Writer, opts ...MeterOption) *Meter {
	m := &Meter{w: w, width: 40, interval: 100 * time.Millisecond, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Observe implements Sink.
func (m *Meter) Observe(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !m.last.IsZero() && now.Sub(m.last) < m.interval {
		return
	}
	m.last = now
	_, _ = io.WriteString(m.w, m.render(f))
}

// render maps RMS onto the bar on a square-root scale so quiet speech
// (RMS around 0.02) is still visible.
func (m *Meter) render(f Frame) string {
	level := math.Sqrt(math.Min(math.Max(f.RMS, 0), 1))
	filled := int(math.Round(level * float64(m.width)))
	mark := ' '
	if f.Recording {
		mark = '●'
	}
	return fmt.Sprintf("\r%c [%s%s] %.3f", mark, strings.Repeat("#", filled), strings.Repeat(" ", m.width-filled), f.RMS)
}
