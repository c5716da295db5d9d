// Package rules holds the heuristic tables the detector and classifier match
// against. The tables are data, not code, so they can be tuned per site and
// unit-tested independently of the algorithms that consume them.
package rules

import "regexp"

// Set is one complete table of detection and classification rules.
type Set struct {
	// Challenge detection
	MarkerSelectors []string // DOM selectors that only appear on challenge pages
	TitlePhrases    []string // case-insensitive title substrings
	BodyPhrases     []string // body substrings; two or more mean ACTIVE

	// Video classification
	VideoExtensions    []string
	ManifestExtensions []string
	VideoMimeTypes     []string
	PathKeywords       []string
	CDNHostPatterns    []string
	EmbedShapes        []string
	SegmentPatterns    []*regexp.Regexp
}

// segmentPatterns match pieces of an already-identified stream: numbered
// chunk/segment/fragment files, bare .ts/.m4s files, and init segments.
var segmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:seg(?:ment)?|chunk|frag(?:ment)?|media)[-_]?\d+[^/]*$`),
	regexp.MustCompile(`(?i)/[^/]*\.(?:ts|m4s)(?:\?|$)`),
	regexp.MustCompile(`(?i)/init(?:[-_.][^/]*)?\.(?:mp4|m4s)(?:\?|$)`),
	regexp.MustCompile(`(?i)/\d+\.(?:ts|m4s|mp4)(?:\?|$)`),
}

// Default returns the built-in rule set.
func Default() *Set {
	return &Set{
		MarkerSelectors: []string{
			"#challenge-form",
			"#challenge-running",
			"#challenge-stage",
			"#cf-challenge-running",
			".cf-turnstile",
			"#cf-turnstile-response",
			"#ddg-challenge",
		},
		TitlePhrases: []string{
			"just a moment",
			"attention required",
			"checking your browser",
			"ddos-guard",
			"access denied",
		},
		BodyPhrases: []string{
			"checking your browser",
			"verify you are human",
			"enable javascript and cookies",
			"needs to review the security of your connection",
			"performance & security by",
			"ray id",
		},
		VideoExtensions: []string{
			".mp4", ".mkv", ".webm", ".avi", ".mov", ".m4v", ".flv",
		},
		ManifestExtensions: []string{
			".m3u8", ".mpd",
		},
		VideoMimeTypes: []string{
			"application/vnd.apple.mpegurl",
			"application/x-mpegurl",
			"audio/mpegurl",
			"audio/x-mpegurl",
			"application/dash+xml",
			"video/mp4",
			"video/webm",
			"video/x-matroska",
			"video/mp2t",
		},
		PathKeywords: []string{
			"/video/", "/videos/", "/media/", "/stream/", "/streams/",
			"/play/", "/playback/", "/hls/", "/vod/",
		},
		CDNHostPatterns: []string{
			"cdn", "akamai", "cloudfront", "fastly", "edgecast",
			"streamserver", "vidcache",
		},
		EmbedShapes: []string{
			"/v/", "/e/", "/embed", "/watch", "?v=",
		},
		SegmentPatterns: segmentPatterns,
	}
}
