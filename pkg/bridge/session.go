package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/types"
)

var (
	// ErrWaitTimeout is returned when no chunk arrives within the bounded
	// wait. The caller recovers by switching to the direct fetch path.
	ErrWaitTimeout = errors.New("bridge: timed out waiting for chunk")

	// ErrSessionClosed is returned when the session was torn down while a
	// consumer was waiting.
	ErrSessionClosed = errors.New("bridge: session closed")
)

// Session is one browser-mediated fetch: a single producer (the bridge
// message handler) feeding a single consumer through an ordered queue.
// Chunks are strictly ordered by sequence index and exactly one terminal
// chunk ends the stream.
type Session struct {
	id  string
	url string

	mu       sync.Mutex
	queue    []types.DataChunk
	state    types.FetchState
	nextSeq  int
	terminal bool
	closed   bool

	notify chan struct{}
	done   chan struct{}
}

func newSession(id, url string) *Session {
	return &Session{
		id:     id,
		url:    url,
		state:  types.FetchPending,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the session identifier carried by bridge messages.
func (s *Session) ID() string { return s.id }

// URL returns the URL this session fetches.
func (s *Session) URL() string { return s.url }

// State returns the current lifecycle state.
func (s *Session) State() types.FetchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// enqueue appends a chunk, assigning its sequence index. Chunks after the
// terminal one, or after Close, are dropped: an abandoned browser-side fetch
// keeps producing but nothing consumes it.
func (s *Session) enqueue(chunk types.DataChunk) {
	s.mu.Lock()
	if s.closed || s.terminal {
		s.mu.Unlock()
		return
	}

	chunk.Seq = s.nextSeq
	s.nextSeq++

	if chunk.Terminal {
		s.terminal = true
		if chunk.Err != "" {
			s.state = types.FetchError
		} else {
			s.state = types.FetchComplete
		}
	} else if s.state == types.FetchPending {
		s.state = types.FetchStreaming
	}

	s.queue = append(s.queue, chunk)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next chunk in order, blocking up to wait. It returns
// ErrWaitTimeout when the producer stalls and ErrSessionClosed when the
// session is torn down mid-wait.
func (s *Session) Next(ctx context.Context, wait time.Duration) (types.DataChunk, error) {
	deadline := time.Now().Add(wait)

	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			chunk := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return chunk, nil
		}
		if s.closed {
			s.mu.Unlock()
			return types.DataChunk{}, ErrSessionClosed
		}
		s.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return types.DataChunk{}, ErrWaitTimeout
		}

		timer := time.NewTimer(remaining)
		select {
		case <-s.notify:
			timer.Stop()
		case <-s.done:
			timer.Stop()
			// Loop once more: Close may have raced with a final enqueue.
		case <-ctx.Done():
			timer.Stop()
			return types.DataChunk{}, ctx.Err()
		case <-timer.C:
			return types.DataChunk{}, ErrWaitTimeout
		}
	}
}

// Close tears the session down: queued chunks are dropped and any blocked
// Next call is released. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	close(s.done)
}
