package stream

import (
	"errors"
	"sync"
)

// State is the lifecycle position of a stream session.
type State int

const (
	StateIdle State = iota
	StateAwaitingInit
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingInit:
		return "awaiting-init"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyInFlight rejects a request while another fetch for the
	// same session is outstanding. Non-fatal; no state change.
	ErrAlreadyInFlight = errors.New("already in flight")

	// ErrSessionClosed means the session (or its connection) is closed and
	// honors no further requests.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotStreaming rejects a segment request issued before a successful
	// init on this session.
	ErrNotStreaming = errors.New("stream not initialized")
)

// Session tracks one (connection, video) stream. The server keeps only what
// it needs to enforce ordering: the state and the in-flight guard. The
// segment cursor is client-owned; its mirror here is advisory, for logging.
type Session struct {
	VideoID int64

	mu       sync.Mutex
	state    State
	inFlight bool
	cursor   int
}

// newSession returns an idle session for videoID.
func newSession(videoID int64) *Session {
	return &Session{VideoID: videoID}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursor returns the last requested segment index (advisory).
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// BeginInit moves the session into awaiting-init. Re-init from streaming is
// allowed (the client re-inits on seek and reconnect); a concurrent init is
// rejected with ErrAlreadyInFlight.
func (s *Session) BeginInit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateAwaitingInit:
		return ErrAlreadyInFlight
	}
	s.state = StateAwaitingInit
	return nil
}

// FinishInit completes an init attempt: streaming on success, back to idle
// on failure. A session closed mid-init stays closed.
func (s *Session) FinishInit(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if success {
		s.state = StateStreaming
	} else {
		s.state = StateIdle
	}
}

// AcquireFetch claims the single in-flight slot for a segment fetch.
// Exactly one concurrent caller succeeds; the rest get ErrAlreadyInFlight
// until ReleaseFetch. Requires a streaming session.
func (s *Session) AcquireFetch(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateIdle, StateAwaitingInit:
		return ErrNotStreaming
	}
	if s.inFlight {
		return ErrAlreadyInFlight
	}
	s.inFlight = true
	s.cursor = index
	return nil
}

// ReleaseFetch clears the in-flight slot. Called after the segment frame is
// fully written (or the fetch failed), so at most one transfer is ever in
// flight per session.
func (s *Session) ReleaseFetch() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// Close moves the session to closed. Idempotent. An in-flight fetch may
// still complete; its result is discarded by the connection guard.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}
