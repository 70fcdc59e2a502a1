// Package voiceapi is the client for the voice chat backend: transcription
// of finished utterances, chat replies metered by a per-user quota, and
// optional speech synthesis of those replies.
//
// The backend is a black box reached over plain HTTP:
//
//	POST /transcribe   multipart "file" (voice.wav), optional "user-id" header
//	POST /chat         {"user_id", "message"} → {"response", "responses_remaining"}
//	POST /synthesize   {"text", "voice_id"} → audio/mpeg
//
// No call is ever retried by this package. A failure is reported to the
// caller as a typed error and the caller decides what to do next.
package voiceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MrWong99/voicechat/internal/observe"
	"github.com/MrWong99/voicechat/pkg/provider/stt"
	"github.com/MrWong99/voicechat/pkg/provider/tts"
)

const (
	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failed response is kept in an error.
	maxErrorBody = 512

	// ProviderName is the name the backend transcriber reports in errors
	// and metrics.
	ProviderName = "backend"
)

// Compile-time assertions that Client can serve as transcriber and synthesizer.
var (
	_ stt.Provider = (*Client)(nil)
	_ tts.Provider = (*Client)(nil)
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout sets the per-request timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.httpClient.Timeout = d
	}
}

// WithMetrics records request counters on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

// Client talks to the voice chat backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *observe.Metrics
}

// New creates a Client for the backend at baseURL (e.g.,
// "http://localhost:8000"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("voiceapi: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// BaseURL returns the backend address without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// ---- /transcribe ----

// Transcribe implements stt.Provider. The utterance is uploaded as a WAV file
// named voice.wav; req.UserID, when set, travels in the user-id header.
// A non-200 answer yields an *[stt.StatusError].
func (c *Client) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="voice.wav"`)
	h.Set("Content-Type", "audio/wav")
	fw, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("voiceapi: create form file: %w", err)
	}
	if _, err := fw.Write(req.WAV()); err != nil {
		return "", fmt.Errorf("voiceapi: write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("voiceapi: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &body)
	if err != nil {
		return "", fmt.Errorf("voiceapi: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if req.UserID != "" {
		httpReq.Header.Set("user-id", req.UserID)
	}

	var result struct {
		Transcript string `json:"transcript"`
	}
	if err := c.do(httpReq, "stt", &result); err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Transcript), nil
}

// ---- /chat ----

// ChatReply is a successful /chat answer.
type ChatReply struct {
	// Response is the reply text.
	Response string

	// Remaining is the user's remaining response count after this reply.
	// Only meaningful when RemainingKnown is true.
	Remaining int

	// RemainingKnown is false when the backend did not report a count.
	RemainingKnown bool
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Response           string `json:"response"`
	ResponsesRemaining *int   `json:"responses_remaining"`
}

// Chat sends message on behalf of userID. Non-200 answers yield a *[ChatError];
// 402 Payment Required additionally matches [ErrQuotaExhausted].
func (c *Client) Chat(ctx context.Context, userID, message string) (ChatReply, error) {
	payload, err := json.Marshal(chatRequest{UserID: userID, Message: message})
	if err != nil {
		return ChatReply{}, fmt.Errorf("voiceapi: marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return ChatReply{}, fmt.Errorf("voiceapi: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var result chatResponse
	if err := c.do(httpReq, "chat", &result); err != nil {
		var se *stt.StatusError
		if errors.As(err, &se) {
			return ChatReply{}, newChatStatusError(se.StatusCode, se.Body)
		}
		if ctx.Err() != nil {
			return ChatReply{}, err
		}
		return ChatReply{}, &ChatError{Err: err}
	}

	reply := ChatReply{Response: result.Response}
	if result.ResponsesRemaining != nil {
		reply.Remaining = *result.ResponsesRemaining
		reply.RemainingKnown = true
	}
	return reply, nil
}

// ---- /synthesize ----

// DefaultVoiceID is the backend's default voice ("Adam").
const DefaultVoiceID = "pNInz6obpgDQGcFmaJgB"

// Synthesize implements tts.Provider. Empty text yields an empty clip
// without a request.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) (tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Audio{ContentType: "audio/mpeg"}, nil
	}
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	payload, err := json.Marshal(map[string]string{"text": text, "voice_id": voiceID})
	if err != nil {
		return tts.Audio{}, fmt.Errorf("voiceapi: marshal synthesize request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return tts.Audio{}, fmt.Errorf("voiceapi: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	observe.InjectHeaders(ctx, httpReq.Header)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, ProviderName, "tts", "error")
		return tts.Audio{}, fmt.Errorf("voiceapi: synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordProviderRequest(ctx, ProviderName, "tts", "error")
		return tts.Audio{}, statusError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, ProviderName, "tts", "error")
		return tts.Audio{}, fmt.Errorf("voiceapi: read audio: %w", err)
	}
	c.metrics.RecordProviderRequest(ctx, ProviderName, "tts", "ok")

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return tts.Audio{Data: data, ContentType: ct}, nil
}

// ---- reachability ----

// Ping reports whether the backend answers HTTP at all. Any response below
// 500 counts as reachable; the backend has no dedicated health route.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("voiceapi: create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("voiceapi: ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= http.StatusInternalServerError {
		return statusError(resp)
	}
	return nil
}

// do sends req, counts the outcome under kind, and decodes a 200 JSON answer
// into out. Non-200 answers yield an *stt.StatusError.
func (c *Client) do(req *http.Request, kind string, out any) error {
	ctx := req.Context()
	observe.InjectHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, ProviderName, kind, "error")
		return fmt.Errorf("voiceapi: %s request: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordProviderRequest(ctx, ProviderName, kind, "error")
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.RecordProviderRequest(ctx, ProviderName, kind, "error")
		return fmt.Errorf("voiceapi: parse %s response: %w", kind, err)
	}
	c.metrics.RecordProviderRequest(ctx, ProviderName, kind, "ok")
	return nil
}

func statusError(resp *http.Response) *stt.StatusError {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &stt.StatusError{
		Provider:   ProviderName,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(excerpt)),
	}
}
