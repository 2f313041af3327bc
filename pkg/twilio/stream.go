package twilio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Stream wraps one accepted Media Streams websocket connection.
// A background reader decodes inbound frames into the event channel;
// outbound sends are serialized by a mutex. Close is idempotent.
type Stream struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	eventsCh  chan EventOrError
	closeCh   chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

// EventOrError is one item delivered by Events. A non-nil Err is terminal
// for the stream; decode failures of individual frames are not delivered
// here, they surface as UnknownEvent.
type EventOrError struct {
	Event Event
	Err   error
}

// NewStream wraps an already-upgraded websocket connection and starts the
// background reader. The caller owns draining Events until it is closed.
func NewStream(conn *websocket.Conn, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{
		conn:     conn,
		logger:   logger,
		eventsCh: make(chan EventOrError, 100),
		closeCh:  make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Events returns the channel of decoded inbound events. The channel is
// closed after a terminal read error has been delivered or the stream is
// closed locally.
func (s *Stream) Events() <-chan EventOrError {
	return s.eventsCh
}

// SendMedia sends an outbound media frame carrying the given base64 payload.
func (s *Stream) SendMedia(streamSID, payload string) error {
	data, err := EncodeMedia(streamSID, payload)
	if err != nil {
		return err
	}
	return s.send(data)
}

// SendClear sends an outbound clear frame, discarding buffered playback on
// the call leg.
func (s *Stream) SendClear(streamSID string) error {
	data, err := EncodeClear(streamSID)
	if err != nil {
		return err
	}
	return s.send(data)
}

// Close closes the underlying connection. Safe to call more than once;
// only the first call has any effect.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closeCh:
		return fmt.Errorf("twilio: stream closed")
	default:
	}

	if s.logger.Enabled(context.Background(), slog.LevelDebug) {
		s.logger.Debug("sending frame", "content", truncate(string(data), 500))
	}

	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames from the connection until a terminal error or
// local close. Individual malformed frames are logged and skipped.
func (s *Stream) readLoop() {
	defer close(s.eventsCh)

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeCh:
			case s.eventsCh <- EventOrError{Err: fmt.Errorf("twilio: read: %w", err)}:
			}
			return
		}

		if s.logger.Enabled(context.Background(), slog.LevelDebug) {
			s.logger.Debug("received frame", "len", len(message), "content", truncate(string(message), 500))
		}

		event, err := DecodeFrame(message)
		if err != nil {
			s.logger.Warn("malformed frame", "error", err)
		}

		select {
		case <-s.closeCh:
			return
		case s.eventsCh <- EventOrError{Event: event}:
		}
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
