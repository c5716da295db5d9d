package httpclient

import (
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// DecodeBody reads a response body, decoding gzip or brotli content encoding.
// Manifest interception caches decoded text, so compressed upstream answers
// have to be unwrapped before caching.
func DecodeBody(body io.Reader, contentEncoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return io.ReadAll(body)
	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		return io.ReadAll(gz)
	case "br":
		return io.ReadAll(brotli.NewReader(body))
	default:
		return nil, fmt.Errorf("unsupported content encoding: %s", contentEncoding)
	}
}
