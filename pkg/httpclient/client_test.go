package httpclient

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/config"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
)

func newTestClient(cfg *config.Config) *Client {
	if cfg == nil {
		cfg = config.Load()
	}
	return New(cfg, logging.New("error", false, io.Discard))
}

func TestDoPlainRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	c := newTestClient(nil)

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Errorf("body = %q, want %q", body, "hello")
	}
}

func TestDecodeBody(t *testing.T) {
	payload := []byte("#EXTM3U\n#EXTINF:6.0,\nseg000.ts\n")

	var gzBuf bytes.Buffer
	gz := gzip.NewWriter(&gzBuf)
	gz.Write(payload)
	gz.Close()

	var brBuf bytes.Buffer
	br := brotli.NewWriter(&brBuf)
	br.Write(payload)
	br.Close()

	tests := []struct {
		name     string
		encoding string
		body     []byte
		want     []byte
		wantErr  bool
	}{
		{"identity", "", payload, payload, false},
		{"explicit identity", "identity", payload, payload, false},
		{"gzip", "gzip", gzBuf.Bytes(), payload, false},
		{"brotli", "br", brBuf.Bytes(), payload, false},
		{"unknown encoding", "zstd", payload, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBody(bytes.NewReader(tt.body), tt.encoding)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeBody() error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("DecodeBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientForUTLSDomains(t *testing.T) {
	cfg := config.Load()
	cfg.UTLSDomains = []string{"protected.example.com"}
	c := newTestClient(cfg)

	if got := c.clientFor("https://protected.example.com/video/master.m3u8"); got != c.utlsClient {
		t.Error("fingerprint-sensitive domain did not select the utls client")
	}
	if got := c.clientFor("https://plain.example.com/file.mp4"); got != c.defaultClient {
		t.Error("plain domain did not select the default client")
	}
}
