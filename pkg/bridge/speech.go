package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/relaykit/voicebridge/pkg/elevenlabs"
)

// DefaultFirstAudioTimeout bounds the request/response speech path's wait
// for the agent's first audio chunk.
const DefaultFirstAudioTimeout = 10 * time.Second

// ErrFirstAudioTimeout is returned when the agent produces no audio within
// the allowed window.
var ErrFirstAudioTimeout = errors.New("bridge: timed out waiting for first agent audio")

// FirstAudio waits for the agent's first audio chunk and returns its base64
// payload. Keepalive pings are answered while waiting; other events are
// skipped. On timeout or context cancellation the agent connection is
// closed and the error is returned.
func FirstAudio(ctx context.Context, agent AgentConn, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultFirstAudioTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			agent.Close()
			return "", ctx.Err()

		case <-timer.C:
			agent.Close()
			return "", ErrFirstAudioTimeout

		case item, ok := <-agent.Events():
			if !ok {
				return "", errors.New("bridge: agent connection ended before first audio")
			}
			if item.Err != nil {
				return "", item.Err
			}
			switch item.Event.Type {
			case elevenlabs.EventTypeAudio:
				return item.Event.AudioBase64, nil
			case elevenlabs.EventTypePing:
				if err := agent.Pong(item.Event.EventID); err != nil {
					return "", err
				}
			}
		}
	}
}
