// Package urlutil provides URL manipulation utilities that preserve original encoding.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveURL resolves a potentially relative URL against a base URL.
// Uses string manipulation to preserve original URL encoding.
// Go's url.ResolveReference re-encodes special characters which breaks
// URLs for CDNs that use parentheses, brackets, or other special chars.
func ResolveURL(urlStr string, baseURL string) string {
	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") {
		return urlStr
	}

	// Get base directory (remove query string and last path segment)
	base := baseURL
	if idx := strings.Index(base, "?"); idx > 0 {
		base = base[:idx]
	}
	if lastSlash := strings.LastIndex(base, "/"); lastSlash > 0 {
		base = base[:lastSlash+1]
	}

	if strings.HasPrefix(urlStr, "/") {
		// Absolute path - combine with scheme+host from base
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return base + urlStr
		}
		return parsed.Scheme + "://" + parsed.Host + urlStr
	}

	// Handle parent directory references
	if strings.HasPrefix(urlStr, "../") {
		result := base
		remaining := urlStr
		for strings.HasPrefix(remaining, "../") {
			remaining = remaining[3:]
			// Remove trailing slash and last path component
			result = strings.TrimSuffix(result, "/")
			if lastSlash := strings.LastIndex(result, "/"); lastSlash > 0 {
				result = result[:lastSlash+1]
			}
		}
		return result + remaining
	}

	// Relative path - just append to base directory
	return base + urlStr
}

// ParseRelayTarget extracts the upstream absolute URL from a relay request
// URI of the form /<absolute-url>. The scheme separator survives one level of
// path cleaning ("https:/host" for "https://host"), so both spellings are
// accepted. A target that already reads as an absolute URL is passed through
// byte for byte: decoding it would corrupt percent-encoded query values such
// as CDN signatures. Only a fully percent-encoded target is decoded, and with
// path rules, so "+" stays a plus.
func ParseRelayTarget(requestURI string) (string, error) {
	raw := strings.TrimPrefix(requestURI, "/")
	if raw == "" {
		return "", fmt.Errorf("empty relay target")
	}

	raw = expandScheme(raw)
	if !isAbsolute(raw) {
		if decoded, err := url.PathUnescape(raw); err == nil {
			raw = expandScheme(decoded)
		}
	}

	if !isAbsolute(raw) {
		return "", fmt.Errorf("relay target is not an absolute http(s) URL: %s", raw)
	}

	if _, err := url.Parse(raw); err != nil {
		return "", fmt.Errorf("invalid relay target: %w", err)
	}
	return raw, nil
}

func isAbsolute(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

// expandScheme restores a scheme separator collapsed by path cleaning.
func expandScheme(raw string) string {
	for _, scheme := range []string{"https", "http"} {
		collapsed := scheme + ":/"
		if strings.HasPrefix(raw, collapsed) && !strings.HasPrefix(raw, scheme+"://") {
			return scheme + "://" + strings.TrimPrefix(raw, collapsed)
		}
	}
	return raw
}
