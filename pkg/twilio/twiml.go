package twilio

import (
	"encoding/xml"
	"fmt"
)

// TwiML response documents returned to Twilio webhooks.
//
// StreamTwiML directs a connected call leg to open a Media Streams
// websocket, attaching per-call parameters that arrive back in the start
// frame's customParameters.

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Say     string        `xml:"Say,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// StreamTwiML renders a <Connect><Stream> document pointing the call leg at
// the given websocket URL. Parameter order follows the names slice so output
// is deterministic.
func StreamTwiML(streamURL string, names []string, params map[string]string) ([]byte, error) {
	stream := twimlStream{URL: streamURL}
	for _, name := range names {
		if v, ok := params[name]; ok && v != "" {
			stream.Parameters = append(stream.Parameters, twimlParameter{Name: name, Value: v})
		}
	}
	return renderTwiML(twimlResponse{Connect: &twimlConnect{Stream: stream}})
}

// SayHangupTwiML renders a spoken message followed by call termination.
// Used for the graceful error path when the agent never responds.
func SayHangupTwiML(message string) ([]byte, error) {
	return renderTwiML(twimlResponse{Say: message, Hangup: &struct{}{}})
}

func renderTwiML(doc twimlResponse) ([]byte, error) {
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("twilio: render twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
