// Package portaudio provides an [audio.Source] backed by the system's default
// input device through PortAudio (github.com/gordonklaus/portaudio).
//
// The PortAudio C library and headers must be available at build time
// (libportaudio2 / portaudio19-dev on Debian, portaudio on Homebrew).
//
// PortAudio is initialised on Open and terminated when the capture closes,
// so at most one capture per process should be open at a time; the voice
// chat session manager already guarantees that.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voicechat/pkg/audio"
)

// Compile-time assertion that Source implements audio.Source.
var _ audio.Source = (*Source)(nil)

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithDevice selects an input device by its PortAudio name instead of the
// host default.
func WithDevice(name string) Option {
	return func(s *Source) {
		s.device = name
	}
}

// Source implements audio.Source over a PortAudio blocking input stream.
type Source struct {
	device string
}

// New creates a Source. No device is touched until Open.
func New(opts ...Option) *Source {
	s := &Source{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements audio.Source. It initialises PortAudio, opens a mono
// float32 input stream with one block per buffer, and starts it. Every
// failure path terminates PortAudio before returning.
func (s *Source) Open(ctx context.Context, cfg audio.CaptureConfig) (_ audio.Capture, err error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("portaudio: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	cfg = cfg.WithDefaults()

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", classify(err))
	}
	defer func() {
		if err != nil {
			_ = pa.Terminate()
		}
	}()

	dev, err := s.inputDevice()
	if err != nil {
		return nil, fmt.Errorf("portaudio: input device: %w", classify(err))
	}

	buf := make([]float32, cfg.BlockSize)
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.BlockSize,
	}
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, classify(err))
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start stream: %w", classify(err))
	}

	c := &capture{
		stream:  stream,
		buf:     buf,
		cfg:     cfg,
		blocker: audio.NewBlocker(cfg),
		blocks:  make(chan audio.Block, 4),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go c.readLoop()

	slog.Info("portaudio: capture opened", "device", dev.Name, "sample_rate", cfg.SampleRate, "block_size", cfg.BlockSize)
	return c, nil
}

// inputDevice resolves the configured device, or the host default.
func (s *Source) inputDevice() (*pa.DeviceInfo, error) {
	if s.device == "" {
		return pa.DefaultInputDevice()
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == s.device && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device named %q", s.device)
}

// classify maps PortAudio errors onto the audio error taxonomy. Host API
// errors are what the OS reports when it refuses microphone access (macOS
// privacy controls, ALSA EACCES), so they surface as permission errors.
func classify(err error) error {
	var hostErr pa.UnanticipatedHostError
	if errors.As(err, &hostErr) {
		return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
}

// ---- capture ----------------------------------------------------------------

// capture owns the PortAudio stream. The read goroutine is the only code that
// touches the stream after Open; it stops, closes, and terminates PortAudio on
// exit so no call races a blocking Read.
type capture struct {
	stream  *pa.Stream
	buf     []float32
	cfg     audio.CaptureConfig
	blocker *audio.Blocker

	blocks chan audio.Block
	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (c *capture) Blocks() <-chan audio.Block { return c.blocks }

func (c *capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close signals the read loop and waits for it to release the device. The
// wait is bounded by one block of audio.
func (c *capture) Close() error {
	c.once.Do(func() {
		close(c.done)
		<-c.exited
	})
	return nil
}

func (c *capture) readLoop() {
	defer close(c.exited)
	defer close(c.blocks)
	defer func() {
		if err := c.stream.Stop(); err != nil {
			slog.Warn("portaudio: stop stream", "err", err)
		}
		if err := c.stream.Close(); err != nil {
			slog.Warn("portaudio: close stream", "err", err)
		}
		if err := pa.Terminate(); err != nil {
			slog.Warn("portaudio: terminate", "err", err)
		}
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				slog.Debug("portaudio: input overflowed, continuing")
			} else {
				c.mu.Lock()
				c.err = fmt.Errorf("portaudio: read: %w", err)
				c.mu.Unlock()
				return
			}
		}

		samples := make([]float32, len(c.buf))
		copy(samples, c.buf)
		for _, blk := range c.blocker.Push(samples) {
			select {
			case c.blocks <- blk:
			case <-c.done:
				return
			}
		}
	}
}
