package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/relaykit/voicebridge/pkg/elevenlabs"
	"github.com/relaykit/voicebridge/pkg/twilio"
)

// recorder collects side effects from both fakes in arrival order.
type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, fmt.Sprintf(format, args...))
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, e := range r.all() {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type fakeTelephony struct {
	rec    *recorder
	events chan twilio.EventOrError

	mu     sync.Mutex
	closed int
}

func newFakeTelephony(rec *recorder) *fakeTelephony {
	return &fakeTelephony{rec: rec, events: make(chan twilio.EventOrError, 16)}
}

func (f *fakeTelephony) Events() <-chan twilio.EventOrError { return f.events }

func (f *fakeTelephony) SendMedia(streamSID, payload string) error {
	f.rec.add("media:%s:%s", streamSID, payload)
	return nil
}

func (f *fakeTelephony) SendClear(streamSID string) error {
	f.rec.add("clear:%s", streamSID)
	return nil
}

func (f *fakeTelephony) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTelephony) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeAgent struct {
	rec    *recorder
	events chan elevenlabs.EventOrError

	mu     sync.Mutex
	closed int
}

func newFakeAgent(rec *recorder) *fakeAgent {
	return &fakeAgent{rec: rec, events: make(chan elevenlabs.EventOrError, 16)}
}

func (f *fakeAgent) Events() <-chan elevenlabs.EventOrError { return f.events }

func (f *fakeAgent) SendAudio(audioBase64 string) error {
	f.rec.add("audio:%s", audioBase64)
	return nil
}

func (f *fakeAgent) Pong(eventID int) error {
	f.rec.add("pong:%d", eventID)
	return nil
}

func (f *fakeAgent) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeAgent) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// harness wires a session to fakes and runs it in the background.
type harness struct {
	rec       *recorder
	telephony *fakeTelephony
	agent     *fakeAgent
	session   *Session
	overrides chan elevenlabs.ConversationOverrides
	done      chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rec := &recorder{}
	h := &harness{
		rec:       rec,
		telephony: newFakeTelephony(rec),
		agent:     newFakeAgent(rec),
		overrides: make(chan elevenlabs.ConversationOverrides, 1),
		done:      make(chan error, 1),
	}
	dialer := AgentDialerFunc(func(ctx context.Context, overrides elevenlabs.ConversationOverrides) (AgentConn, error) {
		h.overrides <- overrides
		return h.agent, nil
	})
	h.session = NewSession(h.telephony, dialer, nil)
	go func() { h.done <- h.session.Run(context.Background()) }()
	return h
}

func (h *harness) start(t *testing.T, streamSID string) {
	t.Helper()
	h.telephony.events <- twilio.EventOrError{Event: twilio.StartEvent{
		StreamSID:  streamSID,
		CallSID:    "CA1",
		Parameters: map[string]string{ParamPrompt: "p", ParamFirstMessage: "hi"},
	}}
	h.waitState(t, StateActive)
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.session.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session state = %v; want %v", h.session.State(), want)
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func TestSession_StartCapturesIdentifiersAndParameters(t *testing.T) {
	h := newHarness(t)

	h.start(t, "MZ1")

	if got := h.session.StreamSID(); got != "MZ1" {
		t.Errorf("StreamSID = %q; want %q", got, "MZ1")
	}
	if got := h.session.CallSID(); got != "CA1" {
		t.Errorf("CallSID = %q; want %q", got, "CA1")
	}
	if got := h.session.Parameters(); got[ParamPrompt] != "p" || got[ParamFirstMessage] != "hi" {
		t.Errorf("Parameters = %v", got)
	}

	overrides := <-h.overrides
	if overrides.Prompt != "p" {
		t.Errorf("dial prompt = %q; want %q", overrides.Prompt, "p")
	}
	if overrides.FirstMessage != "hi" {
		t.Errorf("dial first message = %q; want %q", overrides.FirstMessage, "hi")
	}

	close(h.telephony.events)
	h.wait(t)
}

func TestSession_ForwardsCallerAudio(t *testing.T) {
	h := newHarness(t)
	h.start(t, "MZ1")

	h.telephony.events <- twilio.EventOrError{Event: twilio.MediaEvent{Payload: "QUJD"}}
	close(h.telephony.events)
	h.wait(t)

	if got := h.rec.count("audio:"); got != 1 {
		t.Fatalf("forwarded %d audio chunks; want 1: %v", got, h.rec.all())
	}
	if h.rec.all()[0] != "audio:QUJD" {
		t.Errorf("forwarded audio = %q; want %q", h.rec.all()[0], "audio:QUJD")
	}
}

func TestSession_DropsCallerAudioBeforeAgentOpen(t *testing.T) {
	rec := &recorder{}
	telephony := newFakeTelephony(rec)
	agent := newFakeAgent(rec)
	dialGate := make(chan struct{})
	dialer := AgentDialerFunc(func(ctx context.Context, overrides elevenlabs.ConversationOverrides) (AgentConn, error) {
		<-dialGate
		return agent, nil
	})
	session := NewSession(telephony, dialer, nil)
	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background()) }()

	telephony.events <- twilio.EventOrError{Event: twilio.StartEvent{StreamSID: "MZ1"}}
	telephony.events <- twilio.EventOrError{Event: twilio.MediaEvent{Payload: "QUJD"}}
	close(telephony.events)
	close(dialGate)

	<-done
	if got := rec.count("audio:"); got != 0 {
		t.Errorf("agent received %d chunks while connecting; want 0 (dropped, not buffered)", got)
	}
}

func TestSession_ForwardsAgentAudio(t *testing.T) {
	h := newHarness(t)
	h.start(t, "MZ1")

	h.agent.events <- elevenlabs.EventOrError{Event: &elevenlabs.ServerEvent{
		Type:        elevenlabs.EventTypeAudio,
		AudioBase64: "ZGVm",
	}}
	close(h.agent.events)
	h.wait(t)

	entries := h.rec.all()
	if len(entries) != 1 || entries[0] != "media:MZ1:ZGVm" {
		t.Fatalf("telephony frames = %v; want [media:MZ1:ZGVm]", entries)
	}
}

func TestSession_InterruptionProducesSingleClear(t *testing.T) {
	h := newHarness(t)
	h.start(t, "MZ1")

	h.agent.events <- elevenlabs.EventOrError{Event: &elevenlabs.ServerEvent{
		Type: elevenlabs.EventTypeInterruption,
	}}
	close(h.agent.events)
	h.wait(t)

	if got := h.rec.count("clear:"); got != 1 {
		t.Errorf("sent %d clear frames; want 1", got)
	}
	if got := h.rec.count("media:"); got != 0 {
		t.Errorf("sent %d media frames for interruption; want 0", got)
	}
}

func TestSession_PingAnsweredBeforeForwarding(t *testing.T) {
	h := newHarness(t)
	h.start(t, "MZ1")

	h.agent.events <- elevenlabs.EventOrError{Event: &elevenlabs.ServerEvent{
		Type:    elevenlabs.EventTypePing,
		EventID: 7,
	}}
	h.agent.events <- elevenlabs.EventOrError{Event: &elevenlabs.ServerEvent{
		Type:        elevenlabs.EventTypeAudio,
		AudioBase64: "ZGVm",
	}}
	close(h.agent.events)
	h.wait(t)

	entries := h.rec.all()
	if len(entries) != 2 || entries[0] != "pong:7" || entries[1] != "media:MZ1:ZGVm" {
		t.Fatalf("effects = %v; want pong:7 before media:MZ1:ZGVm", entries)
	}
}

func TestSession_DropsAgentEventsBeforeStreamEstablished(t *testing.T) {
	h := newHarness(t)
	// Start frame without a stream identifier: agent comes up but nothing
	// can be routed back to the call leg yet.
	h.telephony.events <- twilio.EventOrError{Event: twilio.StartEvent{Parameters: map[string]string{}}}
	h.waitState(t, StateActive)

	h.agent.events <- elevenlabs.EventOrError{Event: &elevenlabs.ServerEvent{
		Type:        elevenlabs.EventTypeAudio,
		AudioBase64: "ZGVm",
	}}
	h.agent.events <- elevenlabs.EventOrError{Event: &elevenlabs.ServerEvent{
		Type: elevenlabs.EventTypeInterruption,
	}}
	close(h.agent.events)

	if err := h.wait(t); err != nil {
		t.Fatalf("Run returned %v; want nil", err)
	}
	if got := h.rec.count("media:"); got != 0 {
		t.Errorf("sent %d media frames before stream established; want 0", got)
	}
	if got := h.rec.count("clear:"); got != 0 {
		t.Errorf("sent %d clear frames before stream established; want 0", got)
	}
}

func TestSession_StopClosesAgentOnce(t *testing.T) {
	h := newHarness(t)
	h.start(t, "MZ1")

	h.telephony.events <- twilio.EventOrError{Event: twilio.StopEvent{}}
	h.telephony.events <- twilio.EventOrError{Event: twilio.StopEvent{}}

	if err := h.wait(t); err != nil {
		t.Fatalf("Run returned %v; want nil", err)
	}
	if got := h.agent.closeCount(); got != 1 {
		t.Errorf("agent closed %d times; want 1", got)
	}
	if got := h.telephony.closeCount(); got != 1 {
		t.Errorf("telephony closed %d times; want 1", got)
	}
	if got := h.session.State(); got != StateClosed {
		t.Errorf("state = %v; want %v", got, StateClosed)
	}
}

func TestSession_AgentDialFailureClosesTelephony(t *testing.T) {
	rec := &recorder{}
	telephony := newFakeTelephony(rec)
	dialErr := errors.New("no endpoint")
	dialer := AgentDialerFunc(func(ctx context.Context, overrides elevenlabs.ConversationOverrides) (AgentConn, error) {
		return nil, dialErr
	})
	session := NewSession(telephony, dialer, nil)
	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background()) }()

	telephony.events <- twilio.EventOrError{Event: twilio.StartEvent{StreamSID: "MZ1"}}

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after dial failure")
	}
	if !errors.Is(err, dialErr) {
		t.Errorf("Run returned %v; want %v", err, dialErr)
	}
	if got := telephony.closeCount(); got != 1 {
		t.Errorf("telephony closed %d times; want 1", got)
	}
	if got := session.State(); got != StateClosed {
		t.Errorf("state = %v; want %v", got, StateClosed)
	}
}

func TestSession_AgentCloseShutsDownSession(t *testing.T) {
	h := newHarness(t)
	h.start(t, "MZ1")

	close(h.agent.events)

	if err := h.wait(t); err != nil {
		t.Fatalf("Run returned %v; want nil", err)
	}
	if got := h.telephony.closeCount(); got != 1 {
		t.Errorf("telephony closed %d times; want 1", got)
	}
}

func TestSession_UnknownTelephonyFrameIgnored(t *testing.T) {
	h := newHarness(t)
	h.start(t, "MZ1")

	h.telephony.events <- twilio.EventOrError{Event: twilio.UnknownEvent{Raw: []byte(`{"event":"mark"}`)}}
	close(h.telephony.events)
	h.wait(t)

	if len(h.rec.all()) != 0 {
		t.Errorf("unexpected side effects: %v", h.rec.all())
	}
}
