package session

// SetMaxPacketSize records the maximum packet size (in bytes) the client
// advertised in its CONNECT properties (MQTT 5 PropMaximumPacketSize). Zero
// means no limit was advertised and outbound delivery should not enforce one.
func (s *Session) SetMaxPacketSize(max uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MaxPacketSize = max
}

// GetMaxPacketSize returns the client-advertised maximum packet size, or zero
// if none was set.
func (s *Session) GetMaxPacketSize() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxPacketSize
}
