// Package pcmstream provides an [audio.Source] that reads raw 16-bit signed
// little-endian PCM from a file, standard input, or the stdout of a capture
// command such as `arecord -q -f S16_LE -r 16000 -c 1 -t raw`.
//
// It is the headless capture backend: no native audio library is needed, and
// recorded fixtures can be replayed through the full pipeline.
//
// Usage:
//
//	src, err := pcmstream.New(pcmstream.WithCommand("arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "raw"))
//	capture, err := src.Open(ctx, audio.CaptureConfig{SampleRate: 16000, BlockSize: 4096})
//	for blk := range capture.Blocks() { ... }
package pcmstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/MrWong99/voicechat/pkg/audio"
)

// Compile-time assertion that Source implements audio.Source.
var _ audio.Source = (*Source)(nil)

// Stdin is the path value that selects standard input.
const Stdin = "-"

// readChunk is the number of bytes requested per read from the PCM stream.
const readChunk = 8192

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithFile reads PCM from the file at path. [Stdin] selects standard input.
func WithFile(path string) Option {
	return func(s *Source) {
		s.path = path
	}
}

// WithCommand starts name with args on every Open and reads PCM from its
// stdout. The process is killed when the capture is closed.
func WithCommand(name string, args ...string) Option {
	return func(s *Source) {
		s.command = append([]string{name}, args...)
	}
}

// WithChannels sets the interleaved channel count of the input stream.
// Multi-channel input is down-mixed to mono. Defaults to 1.
func WithChannels(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.channels = n
		}
	}
}

// WithInputRate declares the sample rate of the input stream. When it differs
// from the capture rate the samples are resampled linearly. Zero means the
// input already matches the capture rate.
func WithInputRate(hz int) Option {
	return func(s *Source) {
		s.inputRate = hz
	}
}

// Source implements audio.Source over a raw PCM byte stream.
type Source struct {
	path      string
	command   []string
	channels  int
	inputRate int
	stdin     io.ReadCloser
}

// New creates a Source. Exactly one of [WithFile] or [WithCommand] must be
// given.
func New(opts ...Option) (*Source, error) {
	s := &Source{channels: 1, stdin: os.Stdin}
	for _, o := range opts {
		o(s)
	}
	if (s.path == "") == (len(s.command) == 0) {
		return nil, errors.New("pcmstream: exactly one of a file path or a command is required")
	}
	return s, nil
}

// Open implements audio.Source.
func (s *Source) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pcmstream: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	cfg = cfg.WithDefaults()

	r, proc, err := s.openReader()
	if err != nil {
		return nil, err
	}

	inputRate := s.inputRate
	if inputRate <= 0 {
		inputRate = cfg.SampleRate
	}

	c := &capture{
		r:         r,
		proc:      proc,
		channels:  s.channels,
		inputRate: inputRate,
		cfg:       cfg,
		blocker:   audio.NewBlocker(cfg),
		blocks:    make(chan audio.Block, 4),
		done:      make(chan struct{}),
	}
	go c.readLoop()

	slog.Debug("pcmstream: capture opened",
		"path", s.path,
		"command", s.command,
		"sample_rate", cfg.SampleRate,
		"block_size", cfg.BlockSize,
	)
	return c, nil
}

// openReader acquires the byte stream, classifying failures as permission or
// availability errors.
func (s *Source) openReader() (io.ReadCloser, *exec.Cmd, error) {
	if len(s.command) > 0 {
		cmd := exec.Command(s.command[0], s.command[1:]...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, fmt.Errorf("pcmstream: stdout pipe: %w: %w", audio.ErrDeviceUnavailable, err)
		}
		if err := cmd.Start(); err != nil {
			return nil, nil, fmt.Errorf("pcmstream: start %q: %w", s.command[0], classify(err))
		}
		return stdout, cmd, nil
	}

	if s.path == Stdin {
		return s.stdin, nil, nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("pcmstream: open %q: %w", s.path, classify(err))
	}
	return f, nil, nil
}

// classify maps an acquisition error onto the audio error taxonomy.
func classify(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
}

// ---- capture ----------------------------------------------------------------

// capture is one open PCM stream. The read goroutine owns the blocker and is
// the only writer of the blocks channel.
type capture struct {
	r         io.ReadCloser
	proc      *exec.Cmd
	channels  int
	inputRate int
	cfg       audio.CaptureConfig
	blocker   *audio.Blocker

	blocks chan audio.Block
	done   chan struct{}
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

// Close stops the stream. It does not wait for a read blocked on a terminal;
// the read goroutine exits as soon as the closed reader returns.
func (c *capture) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		if c.proc != nil && c.proc.Process != nil {
			_ = c.proc.Process.Kill()
		}
		err = c.r.Close()
		if c.proc != nil {
			go func() { _ = c.proc.Wait() }()
		}
	})
	return err
}

func (c *capture) readLoop() {
	defer close(c.blocks)

	frameBytes := 2 * c.channels
	buf := make([]byte, readChunk)
	var carry []byte

	for {
		n, err := c.r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			usable := len(data) - len(data)%frameBytes
			samples := audio.PCM16ToFloat32(data[:usable], c.channels)
			carry = append([]byte(nil), data[usable:]...)
			samples = audio.ResampleLinear(samples, c.inputRate, c.cfg.SampleRate)
			for _, blk := range c.blocker.Push(samples) {
				select {
				case c.blocks <- blk:
				case <-c.done:
					return
				}
			}
		}
		if err != nil {
			select {
			case <-c.done:
				// Caller-initiated close; the read error is expected.
			default:
				c.mu.Lock()
				c.err = fmt.Errorf("pcmstream: read: %w", err)
				c.mu.Unlock()
			}
			return
		}
	}
}
