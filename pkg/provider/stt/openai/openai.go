// Package openai provides an STT provider backed by the OpenAI audio
// transcription API. Any OpenAI-compatible endpoint works; Groq's hosted
// Whisper is the usual alternative and has its own constructor.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voicechat/pkg/provider/stt"
)

const (
	// DefaultModel is the default OpenAI transcription model.
	DefaultModel = oai.AudioModelWhisper1

	// GroqBaseURL is Groq's OpenAI-compatible API root.
	GroqBaseURL = "https://api.groq.com/openai/v1/"

	// GroqDefaultModel is the Whisper model served by Groq.
	GroqDefaultModel = "whisper-large-v3"
)

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	name   string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	name         string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. The URL should end
// with a slash.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithName sets the provider name reported in errors. Defaults to "openai".
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// New constructs a new OpenAI STT Provider.
// If model is empty, DefaultModel (whisper-1) is used.
//
// The SDK's built-in retries are disabled: a failed transcription surfaces to
// the caller after a single attempt.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{name: "openai"}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, name: cfg.name}, nil
}

// NewGroq constructs a Provider pointed at Groq. If model is empty,
// GroqDefaultModel is used. Later options override the Groq defaults.
func NewGroq(apiKey string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = GroqDefaultModel
	}
	base := []Option{WithBaseURL(GroqBaseURL), WithName("groq")}
	return New(apiKey, model, append(base, opts...)...)
}

// ModelID returns the configured model.
func (p *Provider) ModelID() string {
	return p.model
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(req.WAV()), "voice.wav", "audio/wav"),
		Model: p.model,
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return "", &stt.StatusError{Provider: p.name, StatusCode: apiErr.StatusCode}
		}
		return "", fmt.Errorf("%s stt: transcribe: %w", p.name, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
