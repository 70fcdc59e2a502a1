// Package audio defines the capture abstractions and sample types shared by
// every microphone backend in voicechat.
//
// The two primary abstractions are:
//
//   - [Source] acquires a capture device and returns a [Capture].
//   - [Capture] is one open microphone stream, delivering fixed-size [Block]
//     values in arrival order until it is closed or the device goes away.
//
// Backends live in sub-packages (audio/portaudio, audio/wsstream,
// audio/pcmstream). The interfaces are narrow enough that the voice
// activity pipeline can be driven by recorded fixtures in tests.
package audio

import (
	"context"
	"errors"
)

// DefaultBlockSize is the number of samples per [Block] when a capture is
// opened without an explicit size.
const DefaultBlockSize = 4096

// DefaultSampleRate is the capture sample rate in Hz used when none is
// configured.
const DefaultSampleRate = 16000

var (
	// ErrPermissionDenied is returned by [Source.Open] when the operating
	// system or the remote peer refuses access to the microphone. It is
	// recoverable only by user action (granting access and opening again).
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable is returned by [Source.Open] when no usable
	// capture device exists or it cannot be acquired.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")
)

// CaptureConfig describes the stream a caller wants from [Source.Open].
type CaptureConfig struct {
	// SampleRate in Hz. Zero selects [DefaultSampleRate].
	SampleRate int

	// BlockSize is the number of mono samples per delivered block. Zero
	// selects [DefaultBlockSize].
	BlockSize int
}

// WithDefaults returns cfg with zero fields replaced by package defaults.
func (cfg CaptureConfig) WithDefaults() CaptureConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	return cfg
}

// Capture represents one open microphone stream.
//
// The channel returned by Blocks is the stream's only subscription: it is
// infinite while the device delivers audio, is closed exactly once when the
// capture ends, and cannot be restarted. Implementations must be safe for
// concurrent use.
type Capture interface {
	// Blocks returns the read-only channel of captured blocks. Every call
	// returns the same channel.
	Blocks() <-chan Block

	// Err reports why the block channel was closed. It returns nil while the
	// capture is running and after a caller-initiated Close.
	Err() error

	// Close stops capturing and releases the device. It is safe to call
	// Close more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Source is the entry point for a capture backend.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Open acquires exclusive access to the capture device and starts
	// delivering blocks. ctx governs the acquisition only; once open, the
	// Capture stays alive until [Capture.Close] is called.
	//
	// Failures wrap [ErrPermissionDenied] or [ErrDeviceUnavailable]. Any
	// partially acquired resource is released before Open returns an error.
	Open(ctx context.Context, cfg CaptureConfig) (Capture, error)
}
