package waveform

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voicechat/internal/observe"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// viewer is one connected WebSocket client.
type viewer struct {
	frames chan Frame
	done   chan struct{}
}

// Hub broadcasts frames to WebSocket viewers as JSON messages. Slow viewers
// lose frames instead of holding up the capture loop.
//
// Hub is safe for concurrent use.
type Hub struct {
	metrics *observe.Metrics
	origins []string

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	closed  bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithOriginPatterns allows cross-origin browser viewers matching patterns
// (see websocket.AcceptOptions.OriginPatterns).
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// WithMetrics sets the metrics used for the connected viewers gauge.
func WithMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{viewers: make(map[*viewer]struct{})}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Observe implements Sink. The frame is queued for every viewer whose buffer
// has room.
func (h *Hub) Observe(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		select {
		case v.frames <- f:
		default:
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams frames until the
// viewer disconnects or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v, ok := h.register()
	if !ok {
		http.Error(w, "waveform feed closed", http.StatusServiceUnavailable)
		return
	}
	defer h.unregister(v)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Debug("waveform: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Viewers never send anything; CloseRead handles pings and reports the
	// disconnect through ctx.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case f := <-v.frames:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, f)
			cancel()
			if err != nil {
				slog.Debug("waveform: write failed", "err", err)
				return
			}
		}
	}
}

// Close disconnects every viewer and refuses new ones. It is safe to call
// more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for v := range h.viewers {
		close(v.done)
	}
}

func (h *Hub) register() (*viewer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	v := &viewer{frames: make(chan Frame, clientBuffer), done: make(chan struct{})}
	h.viewers[v] = struct{}{}
	h.metrics.WaveformClients.Add(context.Background(), 1)
	return v, true
}

func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.viewers[v]; !ok {
		return
	}
	delete(h.viewers, v)
	h.metrics.WaveformClients.Add(context.Background(), -1)
}
