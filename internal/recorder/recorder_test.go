package recorder_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voicechat/internal/recorder"
	"github.com/MrWong99/voicechat/pkg/audio"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRecorder() *recorder.Recorder {
	return recorder.New(16000, recorder.WithClock(func() time.Time { return fixedNow }))
}

func TestAppend_OutsideEpisode(t *testing.T) {
	r := newRecorder()
	if err := r.Append([]byte{1, 2}); !errors.Is(err, recorder.ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
	if err := r.AppendBlock(audio.Block{Samples: []float32{0.1}}); !errors.Is(err, recorder.ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording from AppendBlock, got %v", err)
	}
}

func TestFinalize_PreservesOrder(t *testing.T) {
	r := newRecorder()
	r.Begin()

	chunks := [][]byte{{1, 2}, {3, 4}, {5, 6, 7, 8}}
	for _, c := range chunks {
		if err := r.Append(c); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	u := r.Finalize()
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(u.PCM(), want) {
		t.Errorf("PCM = %v, want %v", u.PCM(), want)
	}
	if u.ChunkCount() != 3 {
		t.Errorf("ChunkCount = %d, want 3", u.ChunkCount())
	}
	if u.Duration() != 250*time.Microsecond {
		t.Errorf("Duration = %v, want 250µs", u.Duration())
	}
	if !u.StartedAt().Equal(fixedNow) {
		t.Errorf("StartedAt = %v", u.StartedAt())
	}
	if u.ID() == "" {
		t.Error("expected a non-empty ID")
	}
	if r.Recording() || r.Len() != 0 {
		t.Errorf("recorder not cleared: recording=%v len=%d", r.Recording(), r.Len())
	}
}

func TestFinalize_EmptyIsValid(t *testing.T) {
	r := newRecorder()
	r.Begin()
	u := r.Finalize()

	if !u.Empty() || u.Duration() != 0 || u.ChunkCount() != 0 {
		t.Errorf("expected empty utterance, got %d chunks %v", u.ChunkCount(), u.Duration())
	}
	pcm, rate, ch, ok := audio.WAVPayload(u.WAV())
	if !ok || len(pcm) != 0 || rate != 16000 || ch != 1 {
		t.Errorf("WAV of empty utterance: ok=%v len=%d rate=%d ch=%d", ok, len(pcm), rate, ch)
	}

	// Finalize without Begin behaves the same.
	if u := newRecorder().Finalize(); !u.Empty() {
		t.Error("Finalize without Begin produced audio")
	}
}

func TestUtterance_Immutable(t *testing.T) {
	r := newRecorder()
	r.Begin()
	src := []byte{9, 9}
	_ = r.Append(src)
	src[0] = 0

	u := r.Finalize()
	got := u.PCM()
	if got[0] != 9 {
		t.Fatal("Append did not copy the chunk")
	}
	got[1] = 0
	if u.PCM()[1] != 9 {
		t.Fatal("PCM returned internal storage")
	}
}

func TestBegin_ClearsPreviousEpisode(t *testing.T) {
	r := newRecorder()
	r.Begin()
	_ = r.Append([]byte{1, 1})
	r.Begin()
	_ = r.Append([]byte{2, 2})

	if got := r.Finalize().PCM(); !bytes.Equal(got, []byte{2, 2}) {
		t.Errorf("PCM = %v, want only the second episode", got)
	}
}

func TestDiscard(t *testing.T) {
	r := newRecorder()
	r.Begin()
	_ = r.Append([]byte{1, 2})
	r.Discard()

	if r.Recording() || r.Len() != 0 {
		t.Fatal("Discard left state behind")
	}
	if err := r.Append([]byte{3, 4}); !errors.Is(err, recorder.ErrNotRecording) {
		t.Fatalf("Append after Discard: %v", err)
	}
}

func TestAppendBlock_EncodesPCM16(t *testing.T) {
	r := newRecorder()
	r.Begin()
	if err := r.AppendBlock(audio.Block{Samples: []float32{0, 1, -1}}); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}
	u := r.Finalize()

	samples := audio.PCM16ToFloat32(u.PCM(), 1)
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	if samples[0] != 0 || samples[1] < 0.99 || samples[2] > -0.99 {
		t.Errorf("round trip = %v", samples)
	}
}
