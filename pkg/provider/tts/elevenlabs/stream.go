package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// maxFrame bounds a single server message. Audio chunks are base64 text.
const maxFrame = 4 << 20

// inputMessage is one client frame on the stream-input socket. The first
// frame carries the key and settings with a single space as text; an empty
// text closes the input.
type inputMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *VoiceSettings `json:"voice_settings,omitempty"`
	APIKey        string         `json:"xi_api_key,omitempty"`
}

// outputMessage is one server frame.
type outputMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// stream sends text over one stream-input connection and returns the
// concatenated audio.
func (p *Provider) stream(ctx context.Context, u, text string) ([]byte, error) {
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrame)

	settings := p.settings
	frames := []inputMessage{
		{Text: " ", VoiceSettings: &settings, APIKey: p.apiKey},
		{Text: text + " "},
		{Text: ""},
	}
	for _, f := range frames {
		if err := wsjson.Write(ctx, conn, f); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var out []byte
	for {
		_, raw, err := conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var msg outputMessage
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		if msg.Error != "" {
			return nil, fmt.Errorf("elevenlabs: %s: %s", msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			out = append(out, chunk...)
		}
		if msg.IsFinal {
			conn.Close(websocket.StatusNormalClosure, "done")
			break
		}
	}
	return out, nil
}
