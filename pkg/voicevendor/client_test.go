package voicevendor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/device-gateway/internal/transport/voice/codec"
)

type fakeWire struct {
	mu       sync.Mutex
	written  []*codec.Frame
	incoming chan []byte
	closed   bool
	onWrite  func(frame *codec.Frame)
}

func newFakeWire() *fakeWire {
	return &fakeWire{incoming: make(chan []byte, 16)}
}

func (f *fakeWire) WriteMessage(_ int, data []byte) error {
	frame, err := codec.Decode(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.written = append(f.written, frame)
	hook := f.onWrite
	f.mu.Unlock()
	if hook != nil {
		hook(frame)
	}
	return nil
}

func (f *fakeWire) ReadMessage() (int, []byte, error) {
	data, ok := <-f.incoming
	if !ok {
		return 0, nil, io.EOF
	}
	return 2, data, nil
}

func (f *fakeWire) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.incoming)
	}
	return nil
}

func (f *fakeWire) writtenEvents() []codec.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]codec.Event, 0, len(f.written))
	for _, frame := range f.written {
		events = append(events, frame.Event)
	}
	return events
}

func newTestClient(fake *fakeWire, callbacks Callbacks) *Client {
	c := NewClient(Config{
		Endpoint:       "ws://vendor.test/ws",
		AppID:          "app",
		Resource:       "speech",
		ConnectTimeout: time.Second,
	}, callbacks, zap.NewNop())
	c.dialFunc = func(context.Context) (wire, error) { return fake, nil }
	return c
}

// answerHandshake makes the fake vendor acknowledge connection-open and
// session-start frames as a real endpoint would.
func answerHandshake(fake *fakeWire) {
	fake.onWrite = func(frame *codec.Frame) {
		switch frame.Event {
		case codec.EventConnectionOpen:
			fake.incoming <- codec.EncodeEvent(codec.EventConnectionStarted, "conn-1", "", []byte(`{}`), false)
		case codec.EventSessionStart:
			fake.incoming <- codec.EncodeEvent(codec.EventSessionStarted, "", frame.SessionID, []byte(`{}`), false)
		}
	}
}

func TestRecognitionUtteranceLifecycle(t *testing.T) {
	fake := newFakeWire()
	answerHandshake(fake)

	finals := make(chan string, 1)
	c := newTestClient(fake, Callbacks{
		OnFinal: func(_ string, text string, _ int) { finals <- text },
	})
	defer c.Close()

	ctx := context.Background()
	format := AudioFormat{Codec: "pcm", SampleRate: 16000, Bits: 16, Channels: 1}
	if err := c.BeginUtterance(ctx, "s1", format); err != nil {
		t.Fatalf("BeginUtterance returned error: %v", err)
	}
	if got := c.State(); got != StateSessionActive {
		t.Fatalf("state=%s, want %s", got, StateSessionActive)
	}

	if err := c.SendAudio(ctx, "s1", []byte{1, 2}); err != nil {
		t.Fatalf("SendAudio returned error: %v", err)
	}
	if err := c.SendAudio(ctx, "s1", []byte{3, 4}); err != nil {
		t.Fatalf("SendAudio returned error: %v", err)
	}
	if err := c.EndUtterance(ctx, "s1"); err != nil {
		t.Fatalf("EndUtterance returned error: %v", err)
	}
	// Suppressed after the ending flag is set.
	if err := c.SendAudio(ctx, "s1", []byte{5, 6}); err != nil {
		t.Fatalf("SendAudio after end returned error: %v", err)
	}
	// Second end is a no-op.
	if err := c.EndUtterance(ctx, "s1"); err != nil {
		t.Fatalf("second EndUtterance returned error: %v", err)
	}

	want := []codec.Event{
		codec.EventConnectionOpen,
		codec.EventSessionStart,
		codec.EventTaskRequest,
		codec.EventTaskRequest,
		codec.EventSessionFinish,
	}
	got := fake.writtenEvents()
	if len(got) != len(want) {
		t.Fatalf("written events=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("written events=%v, want %v", got, want)
		}
	}

	payload := []byte(`{"text":"turn on the light","is_final":true,"duration_ms":1200}`)
	fake.incoming <- codec.EncodeEvent(codec.EventRecognitionResult, "", "s1", payload, false)

	select {
	case text := <-finals:
		if text != "turn on the light" {
			t.Fatalf("final text=%q, want %q", text, "turn on the light")
		}
	case <-time.After(time.Second):
		t.Fatal("final transcript callback not invoked")
	}
}

func TestSynthesizeSendsSessionTaskFinish(t *testing.T) {
	fake := newFakeWire()
	answerHandshake(fake)

	audio := make(chan []byte, 1)
	c := newTestClient(fake, Callbacks{
		OnAudio: func(_ string, data []byte) { audio <- data },
	})
	defer c.Close()

	opts := SynthesisOptions{Voice: "nova", Format: "pcm", SampleRate: 24000}
	if err := c.Synthesize(context.Background(), "tts-1", "hello there", opts); err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}

	want := []codec.Event{
		codec.EventConnectionOpen,
		codec.EventSessionStart,
		codec.EventTaskRequest,
		codec.EventSessionFinish,
	}
	got := fake.writtenEvents()
	if len(got) != len(want) {
		t.Fatalf("written events=%v, want %v", got, want)
	}

	fake.incoming <- codec.EncodeAudio(codec.EventSynthesisAudio, "tts-1", []byte{9, 9, 9})
	select {
	case data := <-audio:
		if len(data) != 3 {
			t.Fatalf("audio len=%d, want 3", len(data))
		}
	case <-time.After(time.Second):
		t.Fatal("audio callback not invoked")
	}
}

func TestConnectRejectedByVendor(t *testing.T) {
	fake := newFakeWire()
	fake.onWrite = func(frame *codec.Frame) {
		if frame.Event == codec.EventConnectionOpen {
			fake.incoming <- codec.EncodeEvent(codec.EventConnectionFailed, "", "", []byte(`{"code":55,"message":"nope"}`), false)
		}
	}

	c := newTestClient(fake, Callbacks{})
	defer c.Close()

	err := c.BeginUtterance(context.Background(), "s1", AudioFormat{})
	if err == nil {
		t.Fatal("BeginUtterance error=nil, want non-nil")
	}
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state=%s, want %s", got, StateDisconnected)
	}
}

func TestVendorErrorFrameFailsInFlightSession(t *testing.T) {
	fake := newFakeWire()
	fake.onWrite = func(frame *codec.Frame) {
		switch frame.Event {
		case codec.EventConnectionOpen:
			fake.incoming <- codec.EncodeEvent(codec.EventConnectionStarted, "conn-1", "", []byte(`{}`), false)
		case codec.EventSessionStart:
			fake.incoming <- codec.EncodeError(40000003, "quota exceeded")
		}
	}

	errs := make(chan error, 1)
	c := newTestClient(fake, Callbacks{OnError: func(err error) { errs <- err }})
	defer c.Close()

	err := c.BeginUtterance(context.Background(), "s1", AudioFormat{})
	if err == nil {
		t.Fatal("BeginUtterance error=nil, want vendor error")
	}
	vendorErr, ok := err.(*VendorError)
	if !ok {
		t.Fatalf("error type=%T, want *VendorError", err)
	}
	if vendorErr.Code != 40000003 {
		t.Fatalf("code=%d, want 40000003", vendorErr.Code)
	}
}

func TestConnectionReusedAcrossSessions(t *testing.T) {
	fake := newFakeWire()
	answerHandshake(fake)

	c := newTestClient(fake, Callbacks{})
	defer c.Close()

	ctx := context.Background()
	if err := c.Synthesize(ctx, "a", "one", SynthesisOptions{}); err != nil {
		t.Fatalf("Synthesize(a) returned error: %v", err)
	}
	fake.incoming <- codec.EncodeEvent(codec.EventSessionFinished, "", "a", nil, false)

	deadline := time.Now().Add(time.Second)
	for c.State() != StateConnected {
		if time.Now().After(deadline) {
			t.Fatalf("state=%s, want %s", c.State(), StateConnected)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Synthesize(ctx, "b", "two", SynthesisOptions{}); err != nil {
		t.Fatalf("Synthesize(b) returned error: %v", err)
	}

	opens := 0
	for _, event := range fake.writtenEvents() {
		if event == codec.EventConnectionOpen {
			opens++
		}
	}
	if opens != 1 {
		t.Fatalf("connection-open frames=%d, want 1", opens)
	}
}

func TestSilentVendorDoesNotBlockNextUtterance(t *testing.T) {
	fake := newFakeWire()
	answerHandshake(fake)

	c := newTestClient(fake, Callbacks{})
	defer c.Close()

	ctx := context.Background()
	format := AudioFormat{Codec: "pcm", SampleRate: 16000, Bits: 16, Channels: 1}
	if err := c.BeginUtterance(ctx, "s1", format); err != nil {
		t.Fatalf("BeginUtterance(s1) returned error: %v", err)
	}
	if err := c.EndUtterance(ctx, "s1"); err != nil {
		t.Fatalf("EndUtterance(s1) returned error: %v", err)
	}

	// No session-finished ever arrives for s1. The next utterance must
	// still be accepted, and synthesis must not be blocked either.
	if err := c.BeginUtterance(ctx, "s2", format); err != nil {
		t.Fatalf("BeginUtterance(s2) returned error: %v", err)
	}
	if err := c.EndUtterance(ctx, "s2"); err != nil {
		t.Fatalf("EndUtterance(s2) returned error: %v", err)
	}
	if err := c.Synthesize(ctx, "tts-1", "hello", SynthesisOptions{}); err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if err := c.Synthesize(ctx, "tts-2", "again", SynthesisOptions{}); err != nil {
		t.Fatalf("second Synthesize returned error: %v", err)
	}
}

func TestSecondSessionRejectedWhileFirstActive(t *testing.T) {
	fake := newFakeWire()
	answerHandshake(fake)

	c := newTestClient(fake, Callbacks{})
	defer c.Close()

	ctx := context.Background()
	format := AudioFormat{Codec: "pcm", SampleRate: 16000, Bits: 16, Channels: 1}
	if err := c.BeginUtterance(ctx, "s1", format); err != nil {
		t.Fatalf("BeginUtterance(s1) returned error: %v", err)
	}
	if err := c.BeginUtterance(ctx, "s2", format); err != ErrCapabilityBusy {
		t.Fatalf("BeginUtterance(s2) err=%v, want %v", err, ErrCapabilityBusy)
	}
	if err := c.Synthesize(ctx, "tts-1", "hello", SynthesisOptions{}); err != ErrCapabilityBusy {
		t.Fatalf("Synthesize err=%v, want %v", err, ErrCapabilityBusy)
	}
}
