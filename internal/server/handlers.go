package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/relaykit/voicebridge/pkg/bridge"
	"github.com/relaykit/voicebridge/pkg/elevenlabs"
	"github.com/relaykit/voicebridge/pkg/twilio"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMediaStream upgrades the inbound media-stream connection and runs
// one relay session for its lifetime. Sessions are independent; the only
// shared state is the server's immutable configuration.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	stream := twilio.NewStream(conn, s.logger)
	session := bridge.NewSession(stream, s.agentDialer(s.logger), s.logger)
	s.logger.Info("session started", "session", session.ID(), "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-s.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("session ended with error", "session", session.ID(), "error", err)
	}
}

// outboundCallRequest is the body of POST /outbound-call.
type outboundCallRequest struct {
	Number       string `json:"number"`
	Prompt       string `json:"prompt,omitempty"`
	FirstMessage string `json:"first_message,omitempty"`
}

// handleOutboundCall places an outbound call whose TwiML webhook carries the
// initiation parameters back into the media stream.
func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	if s.rest == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "call placement not configured"})
		return
	}

	var req outboundCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Number == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "number is required"})
		return
	}

	q := url.Values{}
	if req.Prompt != "" {
		q.Set(bridge.ParamPrompt, req.Prompt)
	}
	if req.FirstMessage != "" {
		q.Set(bridge.ParamFirstMessage, req.FirstMessage)
	}
	twimlURL := url.URL{
		Scheme:   "https",
		Host:     s.cfg.PublicHost,
		Path:     "/outbound-call-twiml",
		RawQuery: q.Encode(),
	}

	callSID, err := s.rest.PlaceCall(r.Context(), twilio.CallRequest{
		To:       req.Number,
		From:     s.cfg.Twilio.CallerID,
		TwiMLURL: twimlURL.String(),
	})
	if err != nil {
		s.logger.Error("call placement failed", "number", req.Number, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to place call"})
		return
	}

	s.logger.Info("call placed", "call_sid", callSID, "number", req.Number)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "callSid": callSID})
}

// handleOutboundCallTwiML answers the call-connect webhook with markup
// directing the call leg to open the media stream, forwarding the same
// parameters the call was placed with.
func (s *Server) handleOutboundCallTwiML(w http.ResponseWriter, r *http.Request) {
	streamURL := url.URL{
		Scheme: "wss",
		Host:   s.cfg.PublicHost,
		Path:   "/media-stream",
	}

	params := map[string]string{
		bridge.ParamPrompt:       r.URL.Query().Get(bridge.ParamPrompt),
		bridge.ParamFirstMessage: r.URL.Query().Get(bridge.ParamFirstMessage),
	}
	body, err := twilio.StreamTwiML(streamURL.String(),
		[]string{bridge.ParamPrompt, bridge.ParamFirstMessage}, params)
	if err != nil {
		s.logger.Error("twiml render failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.Write(body)
}

// speechRequest is the body of POST /speech-result.
type speechRequest struct {
	// Audio is one base64 chunk of caller speech.
	Audio string `json:"audio"`
	// Prompt optionally overrides the agent prompt for this exchange.
	Prompt string `json:"prompt,omitempty"`
}

// handleSpeechResult is the request/response speech path: it opens a
// short-lived agent conversation, forwards one chunk of caller audio and
// waits for the agent's first audio reply. On success the reply chunk is
// returned as JSON; if the agent produces nothing within the timeout the
// response is spoken-error markup that terminates the call.
func (s *Server) handleSpeechResult(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Audio == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio is required"})
		return
	}

	agent, err := s.agentDialer(s.logger).Dial(r.Context(), elevenlabs.ConversationOverrides{Prompt: req.Prompt})
	if err != nil {
		s.logger.Error("agent bring-up failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "agent unavailable"})
		return
	}
	defer agent.Close()

	if err := agent.SendAudio(req.Audio); err != nil {
		s.logger.Error("forward audio failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "agent unavailable"})
		return
	}

	reply, err := bridge.FirstAudio(r.Context(), agent, s.firstAudioTimeout)
	if err != nil {
		s.logger.Warn("no agent reply", "error", err)
		s.writeSpokenError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"audio": reply})
}

// writeSpokenError renders the graceful error path: a spoken apology
// followed by call termination.
func (s *Server) writeSpokenError(w http.ResponseWriter) {
	body, err := twilio.SayHangupTwiML("I'm sorry, I'm having trouble responding right now. Please try again later.")
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusGatewayTimeout)
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
