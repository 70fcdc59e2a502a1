package app

import (
	"errors"
	"time"

	"github.com/MrWong99/voicechat/internal/voiceapi"
	"github.com/MrWong99/voicechat/pkg/audio"
)

// Status is the user-facing phase of a capture session.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusRecording    Status = "recording"
	StatusTranscribing Status = "transcribing"
	StatusChatting     Status = "chatting"
)

// EventType distinguishes the notifications a [VoiceChat] emits.
type EventType int

const (
	// EventStatus reports a new [Status].
	EventStatus EventType = iota

	// EventTranscript carries the text heard for an utterance.
	EventTranscript

	// EventReply carries the chat reply and the remaining quota.
	EventReply

	// EventAudio reports that the reply was synthesized to AudioPath.
	EventAudio

	// EventError carries a failed exchange or a capture failure. Message is
	// the human-readable text to show in place of the transcript or reply.
	EventError

	// EventSessionEnded is the last event of a session. Err is non-nil when
	// the capture ended on its own (device lost).
	EventSessionEnded
)

func (t EventType) String() string {
	switch t {
	case EventStatus:
		return "status"
	case EventTranscript:
		return "transcript"
	case EventReply:
		return "reply"
	case EventAudio:
		return "audio"
	case EventError:
		return "error"
	case EventSessionEnded:
		return "session_ended"
	default:
		return "unknown"
	}
}

// Event is one notification from a capture session. Only the fields
// relevant to Type are set.
type Event struct {
	Type        EventType
	At          time.Time
	SessionID   string
	UtteranceID string

	Status Status
	Text   string

	// Remaining is the quota pushed with a reply; RemainingKnown is false
	// when the backend did not report one.
	Remaining      int
	RemainingKnown bool

	AudioPath string

	Err     error
	Message string
}

// UserMessage returns the text shown to the user for err. Capture and quota
// failures get fixed messages; exchange failures carry their own.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Microphone access denied. Please enable it."
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "No microphone available."
	case errors.Is(err, ErrSessionActive):
		return "Already listening."
	}
	var ce *voiceapi.ChatError
	if errors.As(err, &ce) {
		return ce.Message()
	}
	if errors.Is(err, voiceapi.ErrQuotaExhausted) {
		return "No responses left. Please upgrade your plan."
	}
	return voiceapi.UserMessage(err)
}
