package session

import "io"

// ConnHandle is the minimal view of a live connection a Session needs in
// order to detect and evict a prior connection on session takeover (spec
// §4.6.1): something it can write a closing DISCONNECT to, and something it
// can close. broker.Conn satisfies this interface structurally.
type ConnHandle interface {
	io.Writer
	Close() error
}

// SetConnHandle records the live connection currently associated with this
// session. Connect calls this after registering a new session so a later
// CONNECT for the same client id can detect and evict the handle it replaces.
func (s *Session) SetConnHandle(h ConnHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connHandle = h
}

// ConnHandle returns the session's current live connection, or nil if none
// is attached (e.g. the session is disconnected, or was constructed without one).
func (s *Session) ConnHandle() ConnHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connHandle
}
