package stream

import (
	"log/slog"
	"sync"
)

// Manager owns the stream sessions of one connection, keyed by video id.
// Sessions across different connections are independent; the Manager itself
// is safe for use from the connection's reader and fetch goroutines.
type Manager struct {
	connID string
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
	closed   bool
}

// NewManager returns a session manager for the connection connID.
func NewManager(connID string, log *slog.Logger) *Manager {
	return &Manager{
		connID:   connID,
		log:      log,
		sessions: make(map[int64]*Session),
	}
}

// Session returns the session for videoID, creating an idle one if absent.
// created reports whether this call created it. After CloseAll, only
// ErrSessionClosed is returned.
func (m *Manager) Session(videoID int64) (sess *Session, created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrSessionClosed
	}
	if sess, ok := m.sessions[videoID]; ok {
		return sess, false, nil
	}
	sess = newSession(videoID)
	m.sessions[videoID] = sess
	m.log.Debug("stream session created",
		slog.String("conn_id", m.connID),
		slog.Int64("video_id", videoID))
	return sess, true, nil
}

// Get returns the existing session for videoID without creating one.
func (m *Manager) Get(videoID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[videoID]
	return sess, ok
}

// StopAll closes every session but keeps the manager open for new ones.
// It returns the number of sessions closed. Called on stream_stop; the
// client follows up with a fresh ws_init for the next video.
func (m *Manager) StopAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		sess.Close()
	}
	n := len(m.sessions)
	m.sessions = make(map[int64]*Session)
	return n
}

// CloseAll closes every session and refuses new ones. It returns the number
// of sessions closed. Called once, on disconnect.
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}
	m.closed = true
	for _, sess := range m.sessions {
		sess.Close()
	}
	n := len(m.sessions)
	m.sessions = make(map[int64]*Session)
	return n
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
