package audio

// Blocker cuts an arbitrary-length sample feed into fixed-size [Block] values
// and stamps each one with its arrival index and sample-clock timestamp.
//
// A Blocker is owned by a single producer goroutine; it is not safe for
// concurrent use.
type Blocker struct {
	size       int
	sampleRate int
	pending    []float32
	seq        uint64
	delivered  int
}

// NewBlocker returns a Blocker emitting blocks of cfg.BlockSize samples at
// cfg.SampleRate. Zero config fields fall back to the package defaults.
func NewBlocker(cfg CaptureConfig) *Blocker {
	cfg = cfg.WithDefaults()
	return &Blocker{
		size:       cfg.BlockSize,
		sampleRate: cfg.SampleRate,
		pending:    make([]float32, 0, cfg.BlockSize),
	}
}

// Push appends samples and returns every block completed by them, in order.
// Leftover samples are kept until the next Push.
func (b *Blocker) Push(samples []float32) []Block {
	var out []Block
	for len(samples) > 0 {
		room := b.size - len(b.pending)
		n := min(room, len(samples))
		b.pending = append(b.pending, samples[:n]...)
		samples = samples[n:]
		if len(b.pending) == b.size {
			out = append(out, b.emit())
		}
	}
	return out
}

func (b *Blocker) emit() Block {
	blk := Block{
		Samples:    b.pending,
		SampleRate: b.sampleRate,
		Seq:        b.seq,
		Timestamp:  SamplesDuration(b.delivered, b.sampleRate),
	}
	b.seq++
	b.delivered += len(b.pending)
	b.pending = make([]float32, 0, b.size)
	return blk
}
