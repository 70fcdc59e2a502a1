// In-process transcription through the whisper.cpp cgo bindings. Building
// this file needs libwhisper.a and whisper.h reachable through LIBRARY_PATH
// and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voicechat/pkg/audio"
	"github.com/MrWong99/voicechat/pkg/provider/stt"
)

// nativeSampleRate is the only rate whisper.cpp accepts.
const nativeSampleRate = 16000

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider transcribes utterances with a whisper.cpp model loaded into
// this process. Each utterance gets a fresh context over the shared model
// weights; inference is serialised.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint
	prompt   string

	mu sync.Mutex
}

// NativeOption configures a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code. Defaults to "en".
// Request.Language overrides it per utterance.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads caps the CPU threads used per utterance. Zero keeps the
// library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// WithNativePrompt primes the decoder with vocabulary the user is likely to
// say, such as product names.
func WithNativePrompt(prompt string) NativeOption {
	return func(p *NativeProvider) { p.prompt = prompt }
}

// NewNative loads the model at modelPath. Call Close to free it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	p := &NativeProvider{language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}

	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p.model = model
	return p, nil
}

// Close frees the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Transcribe implements stt.Provider. PCM at other rates is resampled to
// 16 kHz before inference.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	samples := audio.ResampleLinear(audio.PCM16ToFloat32(req.PCM, 1), req.SampleRate, nativeSampleRate)
	if len(samples) == 0 {
		return "", nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.newContext(req.Language)
	if err != nil {
		return "", err
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}
	return collectSegments(wctx)
}

func (p *NativeProvider) newContext(lang string) (whisperlib.Context, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if lang == "" {
		lang = p.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: unsupported language, keeping model default", "language", lang, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if p.prompt != "" {
		wctx.SetInitialPrompt(p.prompt)
	}
	return wctx, nil
}

// collectSegments joins the non-blank segment texts of a processed context.
func collectSegments(wctx whisperlib.Context) (string, error) {
	var b strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}
