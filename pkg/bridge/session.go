// Package bridge relays one live telephone call between a Twilio media
// stream and an ElevenLabs conversation. A Session owns exactly one
// connection on each side, translates events between the two protocols and
// tears both sides down together.
package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/relaykit/voicebridge/pkg/elevenlabs"
	"github.com/relaykit/voicebridge/pkg/twilio"
)

// Custom parameter names carried from call placement through the start
// frame into the agent handshake.
const (
	ParamPrompt       = "prompt"
	ParamFirstMessage = "firstMessage"
)

// TelephonyConn is the call-provider side of a session.
type TelephonyConn interface {
	Events() <-chan twilio.EventOrError
	SendMedia(streamSID, payload string) error
	SendClear(streamSID string) error
	Close() error
}

// AgentConn is the AI-backend side of a session.
type AgentConn interface {
	Events() <-chan elevenlabs.EventOrError
	SendAudio(audioBase64 string) error
	Pong(eventID int) error
	Close() error
}

// AgentDialer brings up one agent connection for a session.
type AgentDialer interface {
	Dial(ctx context.Context, overrides elevenlabs.ConversationOverrides) (AgentConn, error)
}

// AgentDialerFunc adapts a function to the AgentDialer interface.
type AgentDialerFunc func(ctx context.Context, overrides elevenlabs.ConversationOverrides) (AgentConn, error)

// Dial implements AgentDialer.
func (f AgentDialerFunc) Dial(ctx context.Context, overrides elevenlabs.ConversationOverrides) (AgentConn, error) {
	return f(ctx, overrides)
}

// Session relays one call. All mutable state is owned by the session and
// guarded by its mutex; nothing is shared across sessions.
type Session struct {
	id        string
	telephony TelephonyConn
	dialer    AgentDialer
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	streamSID string
	callSID   string
	params    map[string]string
	agent     AgentConn
	agentOnce sync.Once
	telOnce   sync.Once
}

// NewSession creates a relay session owning the given telephony connection.
// The agent side is dialed lazily, once the start frame arrives.
func NewSession(telephony TelephonyConn, dialer AgentDialer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Session{
		id:        id,
		telephony: telephony,
		dialer:    dialer,
		logger:    logger.With("session", id),
		state:     StateIdle,
	}
}

// ID returns the session correlation identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StreamSID returns the stream identifier, empty until the start frame has
// been processed.
func (s *Session) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

// CallSID returns the call identifier, empty until the start frame has been
// processed.
func (s *Session) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

// Parameters returns a copy of the initiation parameters captured from the
// start frame.
func (s *Session) Parameters() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

type dialResult struct {
	conn AgentConn
	err  error
}

// Run drives the session until both sides are closed. It returns after the
// session reaches the closed state; the returned error reports an abnormal
// end (agent bring-up failure, context cancellation), nil for a normal stop.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()

	// Cancelling dialCtx makes an in-flight or late-arriving agent
	// connection close itself instead of dangling past the session.
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()

	telEvents := s.telephony.Events()
	var agentEvents <-chan elevenlabs.EventOrError
	var dialCh chan dialResult

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case item, ok := <-telEvents:
			if !ok {
				return nil
			}
			if item.Err != nil {
				s.logger.Info("telephony connection ended", "error", item.Err)
				return nil
			}
			stop, ch := s.handleTelephonyEvent(dialCtx, item.Event)
			if ch != nil {
				dialCh = ch
			}
			if stop {
				return nil
			}

		case res := <-dialCh:
			dialCh = nil
			if res.err != nil {
				s.logger.Error("agent bring-up failed", "error", res.err)
				s.setState(StateClosing)
				return res.err
			}
			s.mu.Lock()
			s.agent = res.conn
			s.state = StateActive
			s.mu.Unlock()
			agentEvents = res.conn.Events()
			s.logger.Info("agent connected")

		case item, ok := <-agentEvents:
			if !ok {
				s.logger.Info("agent connection ended")
				return nil
			}
			if item.Err != nil {
				s.logger.Info("agent connection ended", "error", item.Err)
				return nil
			}
			s.handleAgentEvent(item.Event)
		}
	}
}

// handleTelephonyEvent translates one inbound telephony event. It returns
// stop=true when the session should wind down, and a non-nil channel when
// agent bring-up has been started.
func (s *Session) handleTelephonyEvent(ctx context.Context, event twilio.Event) (stop bool, dialCh chan dialResult) {
	switch ev := event.(type) {
	case twilio.StartEvent:
		s.mu.Lock()
		s.streamSID = ev.StreamSID
		s.callSID = ev.CallSID
		s.params = ev.Parameters
		s.state = StateConnecting
		s.mu.Unlock()
		s.logger.Info("stream started", "stream_sid", ev.StreamSID, "call_sid", ev.CallSID)

		overrides := elevenlabs.ConversationOverrides{
			Prompt:       ev.Parameters[ParamPrompt],
			FirstMessage: ev.Parameters[ParamFirstMessage],
		}
		ch := make(chan dialResult)
		go func() {
			conn, err := s.dialer.Dial(ctx, overrides)
			select {
			case ch <- dialResult{conn: conn, err: err}:
			case <-ctx.Done():
				if conn != nil {
					conn.Close()
				}
			}
		}()
		return false, ch

	case twilio.MediaEvent:
		s.mu.Lock()
		agent := s.agent
		s.mu.Unlock()
		if agent == nil {
			// Agent still connecting; caller audio is dropped, not queued.
			s.logger.Debug("dropping media, agent not connected")
			return false, nil
		}
		if err := agent.SendAudio(ev.Payload); err != nil {
			s.logger.Warn("forward audio failed", "error", err)
		}
		return false, nil

	case twilio.StopEvent:
		s.logger.Info("stream stopped")
		s.closeAgent()
		s.setState(StateClosing)
		return true, nil

	case twilio.UnknownEvent:
		s.logger.Debug("ignoring telephony frame", "len", len(ev.Raw))
		return false, nil

	default:
		return false, nil
	}
}

// handleAgentEvent translates one inbound agent event.
func (s *Session) handleAgentEvent(event *elevenlabs.ServerEvent) {
	switch event.Type {
	case elevenlabs.EventTypePing:
		// Keepalive is answered before anything else is forwarded.
		if err := s.agentPong(event.EventID); err != nil {
			s.logger.Warn("pong failed", "error", err)
		}

	case elevenlabs.EventTypeAudio:
		streamSID := s.StreamSID()
		if streamSID == "" {
			s.logger.Warn("dropping agent audio, stream not established")
			return
		}
		if err := s.telephony.SendMedia(streamSID, event.AudioBase64); err != nil {
			s.logger.Warn("forward media failed", "error", err)
		}

	case elevenlabs.EventTypeInterruption:
		streamSID := s.StreamSID()
		if streamSID == "" {
			s.logger.Warn("dropping interruption, stream not established")
			return
		}
		if err := s.telephony.SendClear(streamSID); err != nil {
			s.logger.Warn("send clear failed", "error", err)
		}

	case elevenlabs.EventTypeInitiationMetadata:
		s.logger.Info("conversation initiated")

	case elevenlabs.EventTypeAgentResponse:
		s.logger.Info("agent response", "text", event.AgentResponse)

	case elevenlabs.EventTypeUserTranscript:
		s.logger.Info("user transcript", "text", event.UserTranscript)

	default:
		s.logger.Debug("ignoring agent event", "type", event.Type)
	}
}

func (s *Session) agentPong(eventID int) error {
	s.mu.Lock()
	agent := s.agent
	s.mu.Unlock()
	if agent == nil {
		return nil
	}
	return agent.Pong(eventID)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// closeAgent closes the agent side at most once.
func (s *Session) closeAgent() {
	s.mu.Lock()
	agent := s.agent
	s.mu.Unlock()
	if agent == nil {
		return
	}
	s.agentOnce.Do(func() {
		if err := agent.Close(); err != nil {
			s.logger.Debug("agent close", "error", err)
		}
	})
}

// shutdown closes whichever sides are still open and marks the session
// closed. Runs exactly once per session, on exit from Run.
func (s *Session) shutdown() {
	s.closeAgent()
	s.telOnce.Do(func() {
		if err := s.telephony.Close(); err != nil {
			s.logger.Debug("telephony close", "error", err)
		}
	})
	s.setState(StateClosed)
	s.logger.Info("session closed")
}
