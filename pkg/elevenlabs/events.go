package elevenlabs

import (
	"encoding/json"
	"fmt"
)

// Server event types received over a conversation websocket.
const (
	EventTypeInitiationMetadata = "conversation_initiation_metadata"
	EventTypeAudio              = "audio"
	EventTypeInterruption       = "interruption"
	EventTypePing               = "ping"
	EventTypeAgentResponse      = "agent_response"
	EventTypeUserTranscript     = "user_transcript"
)

// ServerEvent is a decoded conversation event. Exactly one of the variant
// fields matching Type is populated; Raw always holds the original message.
type ServerEvent struct {
	// Type is the event type, empty for frames with no recognized type.
	Type string `json:"type"`

	// AudioBase64 is the agent audio chunk for audio events. The protocol
	// has used both audio.chunk and audio_event.audio_base_64 encodings;
	// both are accepted and normalized here.
	AudioBase64 string `json:"-"`

	// EventID is the keepalive identifier for ping events.
	EventID int `json:"-"`

	// AgentResponse is the agent's text for agent_response events.
	AgentResponse string `json:"-"`

	// UserTranscript is the recognized caller speech for user_transcript
	// events.
	UserTranscript string `json:"-"`

	// Raw is the original JSON message.
	Raw []byte `json:"-"`
}

// serverFrame is the wire shape shared by all server events.
type serverFrame struct {
	Type  string `json:"type"`
	Audio *struct {
		Chunk string `json:"chunk"`
	} `json:"audio,omitempty"`
	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event,omitempty"`
	PingEvent *struct {
		EventID int `json:"event_id"`
	} `json:"ping_event,omitempty"`
	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`
	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`
}

// ParseServerEvent decodes one inbound conversation message.
func ParseServerEvent(message []byte) (*ServerEvent, error) {
	var frame serverFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return nil, fmt.Errorf("elevenlabs: parse event: %w", err)
	}

	event := &ServerEvent{Type: frame.Type, Raw: message}

	switch frame.Type {
	case EventTypeAudio:
		if frame.Audio != nil {
			event.AudioBase64 = frame.Audio.Chunk
		} else if frame.AudioEvent != nil {
			event.AudioBase64 = frame.AudioEvent.AudioBase64
		}
	case EventTypePing:
		if frame.PingEvent != nil {
			event.EventID = frame.PingEvent.EventID
		}
	case EventTypeAgentResponse:
		if frame.AgentResponseEvent != nil {
			event.AgentResponse = frame.AgentResponseEvent.AgentResponse
		}
	case EventTypeUserTranscript:
		if frame.UserTranscriptionEvent != nil {
			event.UserTranscript = frame.UserTranscriptionEvent.UserTranscript
		}
	}

	return event, nil
}

// ConversationOverrides are the per-call settings merged into the
// initiation handshake. Empty fields fall back to the client defaults.
type ConversationOverrides struct {
	Prompt       string
	FirstMessage string
}

// initiationMessage is the one-time handshake sent after connecting.
type initiationMessage struct {
	Type                       string          `json:"type"`
	ConversationConfigOverride *configOverride `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	Agent agentOverride `json:"agent"`
}

type agentOverride struct {
	Prompt       *promptOverride `json:"prompt,omitempty"`
	FirstMessage string          `json:"first_message,omitempty"`
}

type promptOverride struct {
	Prompt string `json:"prompt"`
}

// userAudioMessage carries one chunk of caller audio to the agent.
type userAudioMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

// pongMessage answers a keepalive ping.
type pongMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}
