// Package elevenlabs speaks chat replies with ElevenLabs voices.
//
// Synthesis uses the stream-input WebSocket API: the reply is sent in one
// piece and the streamed audio chunks are joined into a single clip. Voices
// are listed through the REST API.
package elevenlabs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/voicechat/pkg/audio"
	"github.com/MrWong99/voicechat/pkg/provider/tts"
)

const (
	defaultEndpoint  = "wss://api.elevenlabs.io/v1/text-to-speech"
	defaultVoicesURL = "https://api.elevenlabs.io/v1/voices"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "mp3_22050_32"

	// DefaultVoiceID is the "Adam" voice.
	DefaultVoiceID = "pNInz6obpgDQGcFmaJgB"
)

var _ tts.Provider = (*Provider)(nil)

// VoiceSettings tunes delivery. Higher stability sounds flatter; higher
// similarity sticks closer to the original speaker.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Provider synthesizes speech with ElevenLabs.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	settings     VoiceSettings
	endpoint     string
	voicesURL    string
	httpClient   *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model ID, e.g. "eleven_flash_v2_5".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the audio format, e.g. "mp3_44100_128" or
// "pcm_16000". PCM output is returned as WAV.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithVoiceSettings overrides the default stability 0.5 and similarity 0.75.
func WithVoiceSettings(s VoiceSettings) Option {
	return func(p *Provider) { p.settings = s }
}

// WithEndpoint overrides the WebSocket base URL. "/<voice>/stream-input" is
// appended.
func WithEndpoint(u string) Option {
	return func(p *Provider) { p.endpoint = strings.TrimRight(u, "/") }
}

// WithVoicesURL overrides the REST endpoint used by ListVoices.
func WithVoicesURL(u string) Option {
	return func(p *Provider) { p.voicesURL = u }
}

// WithHTTPClient sets the client used by ListVoices.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New returns a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		settings:     VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		endpoint:     defaultEndpoint,
		voicesURL:    defaultVoicesURL,
		httpClient:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider. An empty voiceID selects
// [DefaultVoiceID]; blank text returns an empty clip without dialling.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (tts.Audio, error) {
	rate, isPCM := pcmRate(p.outputFormat)
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Audio{ContentType: p.contentType()}, nil
	}
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}

	data, err := p.stream(ctx, p.streamURL(voiceID), text)
	if err != nil {
		return tts.Audio{}, err
	}
	if len(data) == 0 {
		return tts.Audio{}, errors.New("elevenlabs: no audio received")
	}
	if isPCM {
		return tts.Audio{Data: audio.EncodeWAV(data, rate, 1), ContentType: "audio/wav"}, nil
	}
	return tts.Audio{Data: data, ContentType: p.contentType()}, nil
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{"model_id": {p.model}, "output_format": {p.outputFormat}}
	return fmt.Sprintf("%s/%s/stream-input?%s", p.endpoint, url.PathEscape(voiceID), q.Encode())
}

func (p *Provider) contentType() string {
	switch {
	case strings.HasPrefix(p.outputFormat, "pcm_"):
		return "audio/wav"
	case strings.HasPrefix(p.outputFormat, "ulaw"):
		return "audio/basic"
	default:
		return "audio/mpeg"
	}
}

// pcmRate parses the sample rate out of a "pcm_<rate>" format.
func pcmRate(format string) (int, bool) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	return n, err == nil && n > 0
}
