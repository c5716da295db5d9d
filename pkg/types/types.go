// Package types defines core domain types used throughout the pipeline.
package types

// ChallengeState describes whether a loaded page is behind an anti-bot
// challenge. For a given navigation the state never regresses once Cleared.
type ChallengeState int

const (
	ChallengeUnknown ChallengeState = iota
	ChallengeActive
	ChallengeCleared
)

func (s ChallengeState) String() string {
	switch s {
	case ChallengeActive:
		return "active"
	case ChallengeCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// FetchState is the lifecycle state of a browser-mediated fetch session.
// Transitions are monotonic: Pending -> Streaming -> Complete|Error.
type FetchState int

const (
	FetchPending FetchState = iota
	FetchStreaming
	FetchComplete
	FetchError
)

func (s FetchState) String() string {
	switch s {
	case FetchPending:
		return "pending"
	case FetchStreaming:
		return "streaming"
	case FetchComplete:
		return "complete"
	case FetchError:
		return "error"
	default:
		return "unknown"
	}
}

// PageSnapshot is what the challenge detector sees: the title and body text
// of the loaded page plus whether any known challenge DOM marker is present.
type PageSnapshot struct {
	Title          string
	BodyText       string
	MarkersPresent bool
}

// ResourceObservation describes one resource load seen inside the browser.
// Created once per observed load, immutable, consumed by the classifier.
type ResourceObservation struct {
	URL            string
	RequestHeaders map[string]string
	MimeType       string // empty if the response has not been seen yet
	ContentLength  int64  // -1 if unknown
}

// VideoCandidate is a resource the classifier accepted as the playable video.
type VideoCandidate struct {
	URL     string
	Score   int
	Headers map[string]string
	Cookies string
}

// DataChunk is one ordered piece of a fetch session's payload. A terminal
// chunk is always the last one enqueued for a session; it carries either the
// total byte count (success) or an error message.
type DataChunk struct {
	Data       []byte
	Seq        int
	Terminal   bool
	TotalBytes int64
	Err        string
}

// BridgeMessage is one string-encoded message crossing the script sandbox
// boundary. Binary payloads travel base64-encoded in Data.
type BridgeMessage struct {
	Method    string `json:"method"` // fetchChunk | fetchComplete | fetchError
	SessionID string `json:"sessionId"`
	Data      string `json:"data,omitempty"`
	Total     int64  `json:"totalBytes,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Bridge message methods understood by the data channel.
const (
	MsgFetchChunk    = "fetchChunk"
	MsgFetchComplete = "fetchComplete"
	MsgFetchError    = "fetchError"
)

// PlaybackRequest is the opaque parameter bundle handed to the media player
// collaborator when a candidate is accepted. Cookies are scoped to the
// candidate URL's domain, not the page's.
type PlaybackRequest struct {
	URL       string
	Cookies   string
	Referer   string
	UserAgent string
	Headers   map[string]string
	Manifest  string // cached manifest body, if one was intercepted
}
