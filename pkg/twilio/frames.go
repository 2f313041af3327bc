// Package twilio implements the Twilio Media Streams realtime protocol:
// decoding inbound stream frames into typed events, encoding outbound
// media/clear frames, generating TwiML, and placing outbound calls via the
// REST API.
package twilio

import (
	"encoding/json"
	"fmt"
)

// Inbound frame event names used by Media Streams.
const (
	frameConnected = "connected"
	frameStart     = "start"
	frameMedia     = "media"
	frameStop      = "stop"
)

// Event is a decoded inbound Media Streams frame.
// The concrete types are StartEvent, MediaEvent, StopEvent and UnknownEvent.
type Event interface {
	isEvent()
}

// StartEvent carries the stream and call identifiers assigned by Twilio,
// plus any custom parameters attached to the <Stream> TwiML noun.
type StartEvent struct {
	StreamSID  string
	CallSID    string
	Parameters map[string]string
}

// MediaEvent carries one chunk of caller audio as base64 payload.
// The payload is opaque to this package and forwarded unmodified.
type MediaEvent struct {
	Payload string
}

// StopEvent signals that the call leg has ended the stream.
type StopEvent struct{}

// UnknownEvent wraps any frame this package does not translate,
// including frames that failed to decode.
type UnknownEvent struct {
	Raw []byte
}

func (StartEvent) isEvent()   {}
func (MediaEvent) isEvent()   {}
func (StopEvent) isEvent()    {}
func (UnknownEvent) isEvent() {}

// inboundFrame is the wire shape shared by all inbound frames.
type inboundFrame struct {
	Event string `json:"event"`
	Start *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	StreamSID string `json:"streamSid,omitempty"`
}

// DecodeFrame decodes one inbound Media Streams frame.
// A frame that is not valid JSON returns an UnknownEvent and an error;
// a well-formed frame with an unhandled event name returns an UnknownEvent
// with a nil error. Decoding never panics on malformed input.
func DecodeFrame(message []byte) (Event, error) {
	var frame inboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return UnknownEvent{Raw: message}, fmt.Errorf("twilio: decode frame: %w", err)
	}

	switch frame.Event {
	case frameStart:
		ev := StartEvent{Parameters: map[string]string{}}
		if frame.Start != nil {
			ev.StreamSID = frame.Start.StreamSID
			ev.CallSID = frame.Start.CallSID
			if frame.Start.CustomParameters != nil {
				ev.Parameters = frame.Start.CustomParameters
			}
		}
		return ev, nil
	case frameMedia:
		ev := MediaEvent{}
		if frame.Media != nil {
			ev.Payload = frame.Media.Payload
		}
		return ev, nil
	case frameStop:
		return StopEvent{}, nil
	case frameConnected:
		// Handshake preamble; carries no session state.
		return UnknownEvent{Raw: message}, nil
	default:
		return UnknownEvent{Raw: message}, nil
	}
}

// mediaFrame is the outbound media frame shape.
type mediaFrame struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// clearFrame instructs the call leg to discard buffered playback.
type clearFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// EncodeMedia encodes an outbound media frame for the given stream.
func EncodeMedia(streamSID, payload string) ([]byte, error) {
	return json.Marshal(mediaFrame{
		Event:     frameMedia,
		StreamSID: streamSID,
		Media:     mediaPayload{Payload: payload},
	})
}

// EncodeClear encodes an outbound clear frame for the given stream.
func EncodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(clearFrame{
		Event:     "clear",
		StreamSID: streamSID,
	})
}
