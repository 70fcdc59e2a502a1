package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"

	"github.com/MrWong99/voicechat/pkg/provider/tts"
)

type voiceList struct {
	Voices []struct {
		ID       string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices returns the voices the API key can use. The ElevenLabs
// category (premade, cloned, ...) is folded into Labels.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.voicesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: server returned HTTP %d", resp.StatusCode)
	}

	var list voiceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}
	voices := make([]tts.Voice, 0, len(list.Voices))
	for _, v := range list.Voices {
		labels := make(map[string]string, len(v.Labels)+1)
		maps.Copy(labels, v.Labels)
		if v.Category != "" {
			labels["category"] = v.Category
		}
		voices = append(voices, tts.Voice{ID: v.ID, Name: v.Name, Labels: labels})
	}
	return voices, nil
}
