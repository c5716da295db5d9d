// Package bridge relays bytes fetched inside the browser's script sandbox to
// native consumers. The sandbox performs the HTTP fetch itself, so its cookie
// jar and TLS fingerprint stay in play; payloads cross the boundary as
// base64-encoded, session-tagged, ordered string messages.
package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/interfaces"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/types"
)

// Channel owns fetch session creation and chunk production. Message handling
// runs on the browser's callback goroutine; it only decodes and enqueues,
// handing everything else to the consuming side of each session.
type Channel struct {
	runner    interfaces.ScriptRunner
	source    interfaces.MessageSource
	chunkSize int
	log       *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	remove   func()
}

// NewChannel creates a data channel bound to the given browser capabilities.
func NewChannel(runner interfaces.ScriptRunner, source interfaces.MessageSource, chunkSize int, log *logging.Logger) *Channel {
	c := &Channel{
		runner:    runner,
		source:    source,
		chunkSize: chunkSize,
		sessions:  make(map[string]*Session),
		log:       log.WithComponent("bridge"),
	}
	c.remove = source.OnBridgeMessage(c.handle)
	return c
}

// RequestFetch starts a browser-side fetch of url and returns the session
// whose queue will receive the resulting chunks.
func (c *Channel) RequestFetch(ctx context.Context, url string) (*Session, error) {
	s := newSession(uuid.NewString(), url)

	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()

	c.log.Debug("requesting browser fetch", "session_id", s.id, "url", url)

	if err := c.runner.EvaluateScript(ctx, fetchScript(s.id, url, c.chunkSize)); err != nil {
		c.Release(s)
		return nil, fmt.Errorf("evaluating fetch script: %w", err)
	}
	return s, nil
}

// Release tears down a session and forgets it. Chunks still produced by the
// abandoned browser-side fetch are dropped on arrival.
func (c *Channel) Release(s *Session) {
	if s == nil {
		return
	}

	c.mu.Lock()
	delete(c.sessions, s.id)
	c.mu.Unlock()

	s.Close()
}

// Close removes the message handler and tears down all sessions.
func (c *Channel) Close() {
	if c.remove != nil {
		c.remove()
	}

	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// handle routes one sandbox message to its session. Runs on the browser's
// callback goroutine and must stay cheap.
func (c *Channel) handle(msg types.BridgeMessage) {
	c.mu.Lock()
	s := c.sessions[msg.SessionID]
	c.mu.Unlock()

	if s == nil {
		c.log.Debug("dropping message for unknown session", "session_id", msg.SessionID, "method", msg.Method)
		return
	}

	switch msg.Method {
	case types.MsgFetchChunk:
		data, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			// A malformed payload poisons the whole stream; report it as a
			// terminal error instead of silently dropping the chunk.
			c.log.Warn("chunk decode failed", "session_id", msg.SessionID, "error", err)
			s.enqueue(types.DataChunk{Terminal: true, Err: fmt.Sprintf("decoding chunk: %v", err)})
			return
		}
		s.enqueue(types.DataChunk{Data: data})

	case types.MsgFetchComplete:
		s.enqueue(types.DataChunk{Terminal: true, TotalBytes: msg.Total})
		c.log.Debug("browser fetch complete", "session_id", msg.SessionID, "total_bytes", msg.Total)

	case types.MsgFetchError:
		s.enqueue(types.DataChunk{Terminal: true, Err: msg.Message})
		c.log.Debug("browser fetch error", "session_id", msg.SessionID, "message", msg.Message)

	default:
		c.log.Debug("ignoring unknown bridge method", "method", msg.Method)
	}
}
