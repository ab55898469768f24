package session

import "errors"

// ErrTopicAliasInvalid is returned when an inbound PUBLISH references a topic
// alias outside 1..65534 or an unmapped alias with an empty topic name.
var ErrTopicAliasInvalid = errors.New("session: topic alias invalid")

// maxTopicAlias is the protocol ceiling on topic alias values (spec §4.6.4).
const maxTopicAlias = 65534

// SetTopicAliasMaximum records the value the client advertised in its CONNECT
// properties, bounding how many aliases ResolveOutboundAlias may allocate.
func (s *Session) SetTopicAliasMaximum(max uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TopicAliasMaximum = max
}

// ResolveOutboundAlias decides how to compress topic on the way to the
// client. If topic already has an established alias, it returns that alias
// and established=true (caller sends PUBLISH with an empty topic name). If
// the broker-alias map has not yet reached TopicAliasMaximum, it allocates
// the next alias, caches it, and returns established=false (caller must send
// an establishing PUBLISH with the real topic name first). ok is false when
// no more aliases can be allocated for this client.
func (s *Session) ResolveOutboundAlias(topic string) (alias uint16, established bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, exists := s.brokerAlias[topic]; exists {
		return a, true, true
	}
	if s.TopicAliasMaximum == 0 || uint16(len(s.brokerAlias)) >= s.TopicAliasMaximum {
		return 0, false, false
	}
	next := uint16(len(s.brokerAlias)) + 1
	s.brokerAlias[topic] = next
	return next, false, true
}

// InboundAlias resolves a client-supplied TopicAlias property on an incoming
// PUBLISH. If topic is non-empty, it records (or replaces) the mapping and
// returns topic unchanged. If topic is empty, it looks up the previously
// mapped topic name; an unmapped alias with an empty topic is a protocol
// error.
func (s *Session) InboundAlias(alias uint16, topic string) (string, error) {
	if alias < 1 || alias > maxTopicAlias {
		return "", ErrTopicAliasInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if topic != "" {
		s.clientAlias[alias] = topic
		return topic, nil
	}

	mapped, ok := s.clientAlias[alias]
	if !ok {
		return "", ErrTopicAliasInvalid
	}
	return mapped, nil
}

// ClearAliases drops both alias maps, used when a session is reset by a
// clean start.
func (s *Session) ClearAliases() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokerAlias = make(map[string]uint16)
	s.clientAlias = make(map[uint16]string)
}
