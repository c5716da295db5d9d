package bridge

import (
	"context"
	"encoding/base64"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/types"
)

// fakeBrowser implements ScriptRunner and MessageSource for tests. Evaluated
// scripts are recorded; messages are pushed in by the test.
type fakeBrowser struct {
	mu       sync.Mutex
	scripts  []string
	handlers []func(types.BridgeMessage)
	evalErr  error
}

func (f *fakeBrowser) EvaluateScript(ctx context.Context, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.evalErr != nil {
		return f.evalErr
	}
	f.scripts = append(f.scripts, script)
	return nil
}

func (f *fakeBrowser) OnBridgeMessage(fn func(types.BridgeMessage)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
	return func() {}
}

func (f *fakeBrowser) post(msg types.BridgeMessage) {
	f.mu.Lock()
	handlers := append([]func(types.BridgeMessage){}, f.handlers...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(msg)
	}
}

func (f *fakeBrowser) lastScript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scripts) == 0 {
		return ""
	}
	return f.scripts[len(f.scripts)-1]
}

func newTestChannel(t *testing.T) (*Channel, *fakeBrowser) {
	t.Helper()
	fb := &fakeBrowser{}
	log := logging.New("error", false, io.Discard)
	c := NewChannel(fb, fb, 1<<20, log)
	t.Cleanup(c.Close)
	return c, fb
}

func TestRequestFetchEvaluatesScript(t *testing.T) {
	c, fb := newTestChannel(t)

	s, err := c.RequestFetch(context.Background(), "https://cdn.example.com/video.mp4")
	if err != nil {
		t.Fatalf("RequestFetch() error: %v", err)
	}

	script := fb.lastScript()
	if !strings.Contains(script, s.ID()) {
		t.Error("fetch script does not carry the session id")
	}
	if !strings.Contains(script, "https://cdn.example.com/video.mp4") {
		t.Error("fetch script does not carry the target URL")
	}
	if !strings.Contains(script, MessagePrefix) {
		t.Error("fetch script does not use the bridge message prefix")
	}
}

func TestChannelRoutesChunks(t *testing.T) {
	c, fb := newTestChannel(t)

	s, err := c.RequestFetch(context.Background(), "https://cdn.example.com/video.mp4")
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("first chunk bytes")
	fb.post(types.BridgeMessage{
		Method:    types.MsgFetchChunk,
		SessionID: s.ID(),
		Data:      base64.StdEncoding.EncodeToString(payload),
	})
	fb.post(types.BridgeMessage{
		Method:    types.MsgFetchComplete,
		SessionID: s.ID(),
		Total:     int64(len(payload)),
	})

	chunk, err := s.Next(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if string(chunk.Data) != string(payload) {
		t.Errorf("chunk data = %q, want %q", chunk.Data, payload)
	}

	final, err := s.Next(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Next() terminal error: %v", err)
	}
	if !final.Terminal || final.Err != "" {
		t.Errorf("expected clean terminal chunk, got %+v", final)
	}
	if final.TotalBytes != int64(len(payload)) {
		t.Errorf("TotalBytes = %d, want %d", final.TotalBytes, len(payload))
	}
}

func TestChannelDecodeErrorBecomesTerminal(t *testing.T) {
	c, fb := newTestChannel(t)

	s, err := c.RequestFetch(context.Background(), "https://cdn.example.com/video.mp4")
	if err != nil {
		t.Fatal(err)
	}

	fb.post(types.BridgeMessage{
		Method:    types.MsgFetchChunk,
		SessionID: s.ID(),
		Data:      "%%% not base64 %%%",
	})

	chunk, err := s.Next(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if !chunk.Terminal || chunk.Err == "" {
		t.Errorf("decode failure did not produce a terminal error chunk: %+v", chunk)
	}
	if s.State() != types.FetchError {
		t.Errorf("session state = %v, want error", s.State())
	}
}

func TestChannelFetchError(t *testing.T) {
	c, fb := newTestChannel(t)

	s, err := c.RequestFetch(context.Background(), "https://cdn.example.com/video.mp4")
	if err != nil {
		t.Fatal(err)
	}

	fb.post(types.BridgeMessage{
		Method:    types.MsgFetchError,
		SessionID: s.ID(),
		Message:   "upstream status 403",
	})

	chunk, err := s.Next(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if !chunk.Terminal || chunk.Err != "upstream status 403" {
		t.Errorf("expected terminal error chunk, got %+v", chunk)
	}
}

func TestChannelDropsUnknownSession(t *testing.T) {
	_, fb := newTestChannel(t)

	// Must not panic or block.
	fb.post(types.BridgeMessage{
		Method:    types.MsgFetchChunk,
		SessionID: "no-such-session",
		Data:      base64.StdEncoding.EncodeToString([]byte("x")),
	})
}

func TestReleaseDropsLateChunks(t *testing.T) {
	c, fb := newTestChannel(t)

	s, err := c.RequestFetch(context.Background(), "https://cdn.example.com/video.mp4")
	if err != nil {
		t.Fatal(err)
	}

	c.Release(s)

	// Chunks from the abandoned browser-side fetch are dropped on arrival.
	fb.post(types.BridgeMessage{
		Method:    types.MsgFetchChunk,
		SessionID: s.ID(),
		Data:      base64.StdEncoding.EncodeToString([]byte("late")),
	})

	if _, err := s.Next(context.Background(), 50*time.Millisecond); err != ErrSessionClosed {
		t.Errorf("expected ErrSessionClosed after release, got %v", err)
	}
}
