package session

// SetReceiveMaximum sets the session's advertised receive maximum and resets
// the in-flight quota to match it. Call only before any packet is put in
// flight (e.g. while processing CONNECT) — resetting mid-flight would let the
// quota exceed ReceiveMaximum.
func (s *Session) SetReceiveMaximum(max uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReceiveMaximum = max
	s.currentQuota = max
}

// AcquireQuota reserves one unit of in-flight quota for a QoS 1/2 PUBLISH.
// It reports false if the session has no quota left, per the invariant that
// quota decreases exactly once per packet put in flight.
func (s *Session) AcquireQuota() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentQuota == 0 {
		return false
	}
	s.currentQuota--
	return true
}

// ReleaseQuota returns one unit of in-flight quota, called exactly once per
// completed delivery or delivery abort (PUBACK/PUBCOMP received, or the unit
// was dropped undeliverable).
func (s *Session) ReleaseQuota() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentQuota < s.ReceiveMaximum {
		s.currentQuota++
	}
}

// CurrentQuota reports the number of additional PUBLISHes this session may
// currently put in flight.
func (s *Session) CurrentQuota() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentQuota
}
