// Package recorder buffers the encoded audio of one utterance while the voice
// activity machine is recording and turns it into an immutable [Utterance]
// when the recording ends.
package recorder

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicechat/pkg/audio"
)

// ErrNotRecording is returned by [Recorder.Append] outside a recording episode.
var ErrNotRecording = errors.New("recorder: not recording")

// Recorder collects PCM16 chunks for the current recording episode.
//
// The buffer is cleared on [Recorder.Begin] and on every exit path
// ([Recorder.Finalize] and [Recorder.Discard]), so chunks never leak from
// one episode into the next. A Recorder is owned by the session loop and is
// not safe for concurrent use.
type Recorder struct {
	sampleRate int
	chunks     [][]byte
	size       int
	recording  bool
	startedAt  time.Time

	now func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the wall clock used to stamp utterances.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New creates a Recorder for mono audio at sampleRate.
func New(sampleRate int, opts ...Option) *Recorder {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	r := &Recorder{sampleRate: sampleRate, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Begin starts a new episode, dropping anything left from a previous one.
func (r *Recorder) Begin() {
	r.reset()
	r.recording = true
	r.startedAt = r.now()
}

// Recording reports whether an episode is open.
func (r *Recorder) Recording() bool { return r.recording }

// Len returns the number of buffered chunks.
func (r *Recorder) Len() int { return len(r.chunks) }

// Append adds one encoded chunk to the open episode. The chunk is copied.
func (r *Recorder) Append(chunk []byte) error {
	if !r.recording {
		return ErrNotRecording
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	r.chunks = append(r.chunks, c)
	r.size += len(c)
	return nil
}

// AppendBlock encodes blk as 16-bit PCM and appends it.
func (r *Recorder) AppendBlock(blk audio.Block) error {
	if !r.recording {
		return ErrNotRecording
	}
	r.chunks = append(r.chunks, audio.Float32ToPCM16(blk.Samples))
	r.size += 2 * len(blk.Samples)
	return nil
}

// Finalize materializes every buffered chunk, in arrival order, into one
// Utterance and clears the buffer. Finalizing an empty or unopened buffer
// yields a valid zero-length utterance.
func (r *Recorder) Finalize() Utterance {
	pcm := make([]byte, 0, r.size)
	for _, c := range r.chunks {
		pcm = append(pcm, c...)
	}
	startedAt := r.startedAt
	if startedAt.IsZero() {
		startedAt = r.now()
	}
	u := Utterance{
		id:         uuid.NewString(),
		pcm:        pcm,
		chunks:     len(r.chunks),
		sampleRate: r.sampleRate,
		startedAt:  startedAt,
	}
	r.reset()
	return u
}

// Discard drops the open episode without producing an utterance.
func (r *Recorder) Discard() {
	r.reset()
}

func (r *Recorder) reset() {
	r.chunks = nil
	r.size = 0
	r.recording = false
	r.startedAt = time.Time{}
}

// Utterance is the immutable audio of one finalized recording episode, mono
// 16-bit little-endian PCM.
type Utterance struct {
	id         string
	pcm        []byte
	chunks     int
	sampleRate int
	startedAt  time.Time
}

// ID uniquely identifies the utterance across sessions.
func (u Utterance) ID() string { return u.id }

// SampleRate in Hz.
func (u Utterance) SampleRate() int { return u.sampleRate }

// Channels is always 1.
func (u Utterance) Channels() int { return 1 }

// ChunkCount returns how many chunks were appended before finalizing.
func (u Utterance) ChunkCount() int { return u.chunks }

// StartedAt is the wall time the episode began.
func (u Utterance) StartedAt() time.Time { return u.startedAt }

// Empty reports whether the utterance carries no audio.
func (u Utterance) Empty() bool { return len(u.pcm) == 0 }

// Duration returns the playback length.
func (u Utterance) Duration() time.Duration {
	return audio.SamplesDuration(len(u.pcm)/2, u.sampleRate)
}

// PCM returns a copy of the raw samples.
func (u Utterance) PCM() []byte {
	out := make([]byte, len(u.pcm))
	copy(out, u.pcm)
	return out
}

// WAV returns the utterance as a WAV file for upload.
func (u Utterance) WAV() []byte {
	return audio.EncodeWAV(u.pcm, u.sampleRate, 1)
}
