package elevenlabs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conversation is one live conversation with an agent over a websocket.
// A background reader delivers decoded server events on the event channel;
// sends are serialized by a mutex. Close is idempotent.
type Conversation struct {
	conn      *websocket.Conn
	client    *Client
	id        string
	logger    *slog.Logger
	eventsCh  chan EventOrError
	closeCh   chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

// EventOrError is one item delivered by Events. A non-nil Err is terminal.
type EventOrError struct {
	Event *ServerEvent
	Err   error
}

// Connect fetches a signed URL, opens the conversation websocket and sends
// the one-time initiation handshake. Overrides left empty fall back to the
// client defaults. On any failure nothing is left running and the error is
// returned to the caller.
func (c *Client) Connect(ctx context.Context, overrides ConversationOverrides, logger *slog.Logger) (*Conversation, error) {
	if logger == nil {
		logger = slog.Default()
	}

	signedURL, err := c.SignedURL(ctx)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.config.dialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &Error{Code: "connection_failed", Message: err.Error(), HTTPStatus: resp.StatusCode}
		}
		return nil, fmt.Errorf("elevenlabs: connect: %w", err)
	}

	conv := &Conversation{
		conn:     conn,
		client:   c,
		id:       uuid.New().String(),
		logger:   logger,
		eventsCh: make(chan EventOrError, 100),
		closeCh:  make(chan struct{}),
	}

	if err := conv.sendInitiation(overrides); err != nil {
		conn.Close()
		return nil, fmt.Errorf("elevenlabs: initiation handshake: %w", err)
	}

	go conv.readLoop()

	return conv, nil
}

// ID returns the local correlation identifier for this conversation.
func (c *Conversation) ID() string {
	return c.id
}

// Events returns the channel of decoded server events. The channel is closed
// after a terminal read error has been delivered or the conversation is
// closed locally.
func (c *Conversation) Events() <-chan EventOrError {
	return c.eventsCh
}

// SendAudio sends one chunk of caller audio. The payload must already be
// base64 encoded; it is forwarded unmodified.
func (c *Conversation) SendAudio(audioBase64 string) error {
	return c.sendJSON(userAudioMessage{UserAudioChunk: audioBase64})
}

// Pong answers a keepalive ping with the same event identifier.
func (c *Conversation) Pong(eventID int) error {
	return c.sendJSON(pongMessage{Type: "pong", EventID: eventID})
}

// Close closes the conversation. Safe to call more than once; only the
// first call has any effect.
func (c *Conversation) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// sendInitiation sends the conversation_initiation_client_data message,
// merging per-call overrides with the client defaults. Sent exactly once,
// before the read loop starts.
func (c *Conversation) sendInitiation(overrides ConversationOverrides) error {
	prompt := overrides.Prompt
	if prompt == "" {
		prompt = c.client.config.defaultPrompt
	}
	firstMessage := overrides.FirstMessage
	if firstMessage == "" {
		firstMessage = c.client.config.defaultFirstMessage
	}

	msg := initiationMessage{
		Type: "conversation_initiation_client_data",
		ConversationConfigOverride: &configOverride{
			Agent: agentOverride{
				FirstMessage: firstMessage,
			},
		},
	}
	if prompt != "" {
		msg.ConversationConfigOverride.Agent.Prompt = &promptOverride{Prompt: prompt}
	}

	return c.sendJSON(msg)
}

func (c *Conversation) sendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closeCh:
		return fmt.Errorf("elevenlabs: conversation closed")
	default:
	}

	return c.conn.WriteJSON(v)
}

// readLoop reads server events until a terminal error or local close.
// Individual malformed messages are logged and skipped.
func (c *Conversation) readLoop() {
	defer close(c.eventsCh)

	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
			case c.eventsCh <- EventOrError{Err: fmt.Errorf("elevenlabs: read: %w", err)}:
			}
			return
		}

		if c.logger.Enabled(context.Background(), slog.LevelDebug) {
			msg := string(message)
			if len(msg) > 500 {
				msg = msg[:500] + "..."
			}
			c.logger.Debug("received event", "conversation", c.id, "len", len(message), "content", msg)
		}

		event, err := ParseServerEvent(message)
		if err != nil {
			c.logger.Warn("malformed event", "conversation", c.id, "error", err)
			continue
		}

		select {
		case <-c.closeCh:
			return
		case c.eventsCh <- EventOrError{Event: event}:
		}
	}
}
