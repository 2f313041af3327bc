// Package elevenlabs implements the ElevenLabs Conversational AI websocket
// protocol: signed-URL retrieval, conversation bring-up with a one-time
// initiation handshake, typed server events, and audio/keepalive sends.
package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// DefaultBaseURL is the default ElevenLabs API endpoint.
const DefaultBaseURL = "https://api.elevenlabs.io"

// Client is the ElevenLabs Conversational AI client. One Client serves many
// conversations; each conversation consumes one signed URL.
type Client struct {
	config *clientConfig
}

// clientConfig holds the client configuration.
type clientConfig struct {
	apiKey              string
	agentID             string
	baseURL             string
	defaultPrompt       string
	defaultFirstMessage string
	httpClient          *http.Client
	dialer              *websocket.Dialer
}

// Option configures the Client.
type Option func(*clientConfig)

// NewClient creates a new Conversational AI client for the given agent.
func NewClient(apiKey, agentID string, opts ...Option) *Client {
	if apiKey == "" {
		panic("elevenlabs: API key is required")
	}
	if agentID == "" {
		panic("elevenlabs: agent ID is required")
	}

	cfg := &clientConfig{
		apiKey:     apiKey,
		agentID:    agentID,
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{config: cfg}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *clientConfig) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client for the signed-URL fetch.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *clientConfig) { c.dialer = d }
}

// WithDefaultPrompt sets the prompt used when a conversation supplies none.
func WithDefaultPrompt(prompt string) Option {
	return func(c *clientConfig) { c.defaultPrompt = prompt }
}

// WithDefaultFirstMessage sets the opening utterance used when a
// conversation supplies none.
func WithDefaultFirstMessage(msg string) Option {
	return func(c *clientConfig) { c.defaultFirstMessage = msg }
}

// SignedURL fetches a one-time-use websocket URL for the configured agent.
// Each conversation must fetch its own URL.
func (c *Client) SignedURL(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/convai/conversation/get_signed_url?agent_id=%s",
		c.config.baseURL, url.QueryEscape(c.config.agentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: build signed URL request: %w", err)
	}
	req.Header.Set("xi-api-key", c.config.apiKey)

	resp, err := c.config.httpClient.Do(req)
	if err != nil {
		return "", &Error{Code: "signed_url_failed", Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Code: "signed_url_failed", Message: err.Error(), HTTPStatus: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Code: "signed_url_failed", Message: string(body), HTTPStatus: resp.StatusCode}
	}

	var payload struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &Error{Code: "signed_url_failed", Message: err.Error(), HTTPStatus: resp.StatusCode}
	}
	if payload.SignedURL == "" {
		return "", &Error{Code: "signed_url_failed", Message: "empty signed_url in response", HTTPStatus: resp.StatusCode}
	}
	return payload.SignedURL, nil
}
