package datasource

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/bridge"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/config"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/httpclient"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/types"
)

// fakeBrowser implements the script runner and message source. Scripts are
// recorded but never executed; tests post bridge messages by hand.
type fakeBrowser struct {
	mu       sync.Mutex
	scripts  []string
	handlers []func(types.BridgeMessage)
}

func (f *fakeBrowser) EvaluateScript(ctx context.Context, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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

// sessionID extracts the session id from the last evaluated fetch script.
func (f *fakeBrowser) sessionID(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scripts) == 0 {
		t.Fatal("no fetch script evaluated")
	}
	script := f.scripts[len(f.scripts)-1]
	const marker = `const sid = "`
	idx := strings.Index(script, marker)
	if idx < 0 {
		t.Fatalf("fetch script has no session id: %s", script)
	}
	rest := script[idx+len(marker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		t.Fatal("unterminated session id in fetch script")
	}
	return rest[:end]
}

// fakeCookies records which URL cookies were requested for.
type fakeCookies struct {
	mu     sync.Mutex
	asked  []string
	cookie string
}

func (f *fakeCookies) CookiesFor(ctx context.Context, rawURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, rawURL)
	return f.cookie, nil
}

func newRelayFixture(t *testing.T, wait time.Duration) (*RelayDataSource, *fakeBrowser, *fakeCookies) {
	t.Helper()
	log := logging.New("error", false, io.Discard)
	fb := &fakeBrowser{}
	channel := bridge.NewChannel(fb, fb, 1<<20, log)
	t.Cleanup(channel.Close)

	client := httpclient.New(config.Load(), log)
	cookies := &fakeCookies{cookie: "cf_clearance=abc123"}

	rds := NewRelayDataSource(channel, client, cookies, RelayOptions{
		UserAgent: "TestAgent/1.0",
		Referer:   "https://watch.example.com/page",
		ChunkWait: wait,
	}, log)
	t.Cleanup(func() { rds.Close() })

	return rds, fb, cookies
}

func TestOpenStreamsViaBrowser(t *testing.T) {
	rds, fb, _ := newRelayFixture(t, 2*time.Second)

	payload := []byte("browser delivered bytes")

	// Post the first chunk shortly after Open blocks on it.
	go func() {
		time.Sleep(50 * time.Millisecond)
		sid := ""
		for i := 0; i < 100 && sid == ""; i++ {
			fb.mu.Lock()
			if len(fb.scripts) > 0 {
				script := fb.scripts[0]
				if idx := strings.Index(script, `const sid = "`); idx >= 0 {
					rest := script[idx+len(`const sid = "`):]
					sid = rest[:strings.Index(rest, `"`)]
				}
			}
			fb.mu.Unlock()
			time.Sleep(10 * time.Millisecond)
		}
		fb.post(types.BridgeMessage{
			Method:    types.MsgFetchChunk,
			SessionID: sid,
			Data:      base64.StdEncoding.EncodeToString(payload),
		})
		fb.post(types.BridgeMessage{
			Method:    types.MsgFetchComplete,
			SessionID: sid,
			Total:     int64(len(payload)),
		})
	}()

	if _, err := rds.Open(context.Background(), "https://cdn.example.com/video/movie.mp4"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	got, err := io.ReadAll(readerOf(rds))
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("stream = %q, want %q", got, payload)
	}
}

func TestOpenFallsBackOnTimeout(t *testing.T) {
	// Scenario: the browser never produces a first chunk within the bound.
	var gotCookie, gotRange string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotRange = r.Header.Get("Range")
		w.Write([]byte("direct fetch body"))
	}))
	defer upstream.Close()

	rds, _, cookies := newRelayFixture(t, 100*time.Millisecond)

	targetURL := upstream.URL + "/video/movie.mp4"
	length, err := rds.Open(context.Background(), targetURL)
	if err != nil {
		t.Fatalf("Open() should recover via fallback, got error: %v", err)
	}
	if length != int64(len("direct fetch body")) {
		t.Errorf("declared length = %d, want %d", length, len("direct fetch body"))
	}

	got, err := io.ReadAll(readerOf(rds))
	if err != nil {
		t.Fatalf("reading fallback stream: %v", err)
	}
	if string(got) != "direct fetch body" {
		t.Errorf("stream = %q, want %q", got, "direct fetch body")
	}

	// Cookies must be read for the target URL itself, not the page URL.
	cookies.mu.Lock()
	asked := append([]string{}, cookies.asked...)
	cookies.mu.Unlock()
	if len(asked) == 0 || asked[0] != targetURL {
		t.Errorf("cookies requested for %v, want [%s]", asked, targetURL)
	}
	if gotCookie != "cf_clearance=abc123" {
		t.Errorf("upstream saw Cookie %q, want %q", gotCookie, "cf_clearance=abc123")
	}
	if gotRange != "" {
		t.Errorf("first-byte fallback sent Range %q, want none", gotRange)
	}
}

func TestOpenFallsBackOnFirstError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("recovered"))
	}))
	defer upstream.Close()

	rds, fb, _ := newRelayFixture(t, 2*time.Second)

	go func() {
		time.Sleep(50 * time.Millisecond)
		fb.mu.Lock()
		var sid string
		if len(fb.scripts) > 0 {
			script := fb.scripts[0]
			if idx := strings.Index(script, `const sid = "`); idx >= 0 {
				rest := script[idx+len(`const sid = "`):]
				sid = rest[:strings.Index(rest, `"`)]
			}
		}
		fb.mu.Unlock()
		fb.post(types.BridgeMessage{
			Method:    types.MsgFetchError,
			SessionID: sid,
			Message:   "upstream status 403",
		})
	}()

	if _, err := rds.Open(context.Background(), upstream.URL+"/video/movie.mp4"); err != nil {
		t.Fatalf("Open() should recover via fallback, got error: %v", err)
	}

	got, _ := io.ReadAll(readerOf(rds))
	if string(got) != "recovered" {
		t.Errorf("stream = %q, want %q", got, "recovered")
	}
}

func TestMidStreamStallResumesWithRange(t *testing.T) {
	full := []byte("0123456789")

	var gotRange string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		if gotRange == "bytes=4-" {
			w.Header().Set("Content-Range", "bytes 4-9/10")
			w.WriteHeader(http.StatusPartialContent)
			w.Write(full[4:])
			return
		}
		w.Write(full)
	}))
	defer upstream.Close()

	rds, fb, _ := newRelayFixture(t, 150*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		var sid string
		for i := 0; i < 100 && sid == ""; i++ {
			fb.mu.Lock()
			if len(fb.scripts) > 0 {
				script := fb.scripts[0]
				if idx := strings.Index(script, `const sid = "`); idx >= 0 {
					rest := script[idx+len(`const sid = "`):]
					sid = rest[:strings.Index(rest, `"`)]
				}
			}
			fb.mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}
		// Deliver the first four bytes, then stall forever.
		fb.post(types.BridgeMessage{
			Method:    types.MsgFetchChunk,
			SessionID: sid,
			Data:      base64.StdEncoding.EncodeToString(full[:4]),
		})
	}()

	if _, err := rds.Open(context.Background(), upstream.URL+"/video/movie.mp4"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	got, err := io.ReadAll(readerOf(rds))
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if string(got) != string(full) {
		t.Errorf("stream = %q, want %q", got, full)
	}
	if gotRange != "bytes=4-" {
		t.Errorf("fallback Range = %q, want %q", gotRange, "bytes=4-")
	}
}

func TestFallbackIgnoresLateBrowserChunks(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fallback data"))
	}))
	defer upstream.Close()

	rds, fb, _ := newRelayFixture(t, 100*time.Millisecond)

	if _, err := rds.Open(context.Background(), upstream.URL+"/video/movie.mp4"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	// The browser wakes up late; its chunks must never reach the reader.
	sid := fb.sessionID(t)
	fb.post(types.BridgeMessage{
		Method:    types.MsgFetchChunk,
		SessionID: sid,
		Data:      base64.StdEncoding.EncodeToString([]byte("LATE BROWSER DATA")),
	})

	got, err := io.ReadAll(readerOf(rds))
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if string(got) != "fallback data" {
		t.Errorf("stream = %q, want %q", got, "fallback data")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	rds, _, _ := newRelayFixture(t, 100*time.Millisecond)
	if err := rds.Close(); err != nil {
		t.Errorf("Close() on unopened source: %v", err)
	}
	if err := rds.Close(); err != nil {
		t.Errorf("second Close(): %v", err)
	}
}

// readerOf adapts the data source's Read to io.Reader for io.ReadAll.
func readerOf(rds *RelayDataSource) io.Reader {
	return readerFunc(func(p []byte) (int, error) { return rds.Read(p) })
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
