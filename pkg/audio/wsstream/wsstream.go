// Package wsstream provides an [audio.Source] that receives microphone audio
// relayed over a WebSocket, typically from a browser page that captures the
// microphone with getUserMedia and forwards its AudioBuffer data.
//
// Every binary message carries little-endian float32 mono samples at the
// relay's sample rate. Text messages are ignored. The relay refusing the
// upgrade with 401 or 403 is reported as [audio.ErrPermissionDenied]; any
// other dial failure as [audio.ErrDeviceUnavailable].
package wsstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicechat/pkg/audio"
)

// Compile-time assertion that Source implements audio.Source.
var _ audio.Source = (*Source)(nil)

const (
	defaultDialTimeout = 10 * time.Second

	// maxMessageBytes bounds a single relay message (one second of 48 kHz
	// float32 mono is 192 000 bytes).
	maxMessageBytes = 1 << 20
)

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithToken sends token as a bearer Authorization header on the upgrade
// request.
func WithToken(token string) Option {
	return func(s *Source) {
		s.token = token
	}
}

// WithInputRate declares the relay's sample rate. Samples are resampled to
// the capture rate when they differ. Zero means the relay already matches.
func WithInputRate(hz int) Option {
	return func(s *Source) {
		s.inputRate = hz
	}
}

// WithDialTimeout bounds the WebSocket handshake. Defaults to 10 s.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// Source implements audio.Source by dialling a relay endpoint.
type Source struct {
	url         string
	token       string
	inputRate   int
	dialTimeout time.Duration
}

// New creates a Source for the relay at rawURL (ws:// or wss://).
func New(rawURL string, opts ...Option) (*Source, error) {
	if rawURL == "" {
		return nil, errors.New("wsstream: url must not be empty")
	}
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("wsstream: parse url: %w", err)
	}
	s := &Source{url: rawURL, dialTimeout: defaultDialTimeout}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Open implements audio.Source. The capture's block size and sample rate are
// announced to the relay as query parameters.
func (s *Source) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	cfg = cfg.WithDefaults()

	dialURL, err := s.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("wsstream: build url: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	headers := http.Header{}
	if s.token != "" {
		headers.Set("Authorization", "Bearer "+s.token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, dialURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("wsstream: dial: %w: relay returned HTTP %d", audio.ErrPermissionDenied, resp.StatusCode)
		}
		return nil, fmt.Errorf("wsstream: dial: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	conn.SetReadLimit(maxMessageBytes)

	inputRate := s.inputRate
	if inputRate <= 0 {
		inputRate = cfg.SampleRate
	}

	// The read loop outlives Open, so it gets its own context.
	loopCtx, loopCancel := context.WithCancel(context.Background())
	c := &capture{
		conn:      conn,
		inputRate: inputRate,
		cfg:       cfg,
		blocker:   audio.NewBlocker(cfg),
		blocks:    make(chan audio.Block, 4),
		done:      make(chan struct{}),
		cancel:    loopCancel,
	}
	c.wg.Add(1)
	go c.readLoop(loopCtx)

	slog.Debug("wsstream: capture opened", "url", s.url, "sample_rate", cfg.SampleRate)
	return c, nil
}

// buildURL appends the capture format to the relay URL.
func (s *Source) buildURL(cfg audio.CaptureConfig) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("block_size", strconv.Itoa(cfg.BlockSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- capture ----------------------------------------------------------------

type capture struct {
	conn      *websocket.Conn
	inputRate int
	cfg       audio.CaptureConfig
	blocker   *audio.Blocker

	blocks chan audio.Block
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (c *capture) Blocks() <-chan audio.Block { return c.blocks }

func (c *capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the relay session and waits for the read loop to exit.
func (c *capture) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		c.conn.Close(websocket.StatusNormalClosure, "capture closed")
		c.wg.Wait()
	})
	return nil
}

func (c *capture) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.blocks)

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.mu.Lock()
				c.err = fmt.Errorf("wsstream: read: %w", err)
				c.mu.Unlock()
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}

		samples := audio.ResampleLinear(audio.Float32LEToSamples(data), c.inputRate, c.cfg.SampleRate)
		for _, blk := range c.blocker.Push(samples) {
			select {
			case c.blocks <- blk:
			case <-c.done:
				return
			}
		}
	}
}
