package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultAPIBaseURL is the Twilio REST API base URL.
const DefaultAPIBaseURL = "https://api.twilio.com/2010-04-01"

// RESTClient places calls via the Twilio REST API.
type RESTClient struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// RESTOption configures the RESTClient.
type RESTOption func(*RESTClient)

// WithAPIBaseURL overrides the REST API base URL.
func WithAPIBaseURL(u string) RESTOption {
	return func(c *RESTClient) { c.baseURL = u }
}

// WithRESTHTTPClient sets a custom HTTP client.
func WithRESTHTTPClient(hc *http.Client) RESTOption {
	return func(c *RESTClient) { c.httpClient = hc }
}

// NewRESTClient creates a REST client for the given account credentials.
func NewRESTClient(accountSID, authToken string, opts ...RESTOption) *RESTClient {
	if accountSID == "" || authToken == "" {
		panic("twilio: account SID and auth token are required")
	}
	c := &RESTClient{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    DefaultAPIBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallRequest describes an outbound call to place.
type CallRequest struct {
	// To is the destination number in E.164 form.
	To string
	// From is the caller ID; must be a number owned by the account.
	From string
	// TwiMLURL is fetched by Twilio when the call connects.
	TwiMLURL string
}

// PlaceCall places one outbound call and returns the call SID assigned by
// Twilio. Placement is attempted exactly once; retry policy is the caller's
// concern.
func (c *RESTClient) PlaceCall(ctx context.Context, call CallRequest) (string, error) {
	form := url.Values{}
	form.Set("To", call.To)
	form.Set("From", call.From)
	form.Set("Url", call.TwiMLURL)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("twilio: build call request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio: place call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("twilio: read call response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio: place call: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var created struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("twilio: decode call response: %w", err)
	}
	return created.SID, nil
}
