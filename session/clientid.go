package session

import "github.com/google/uuid"

// GenerateClientID returns a broker-assigned client identifier for a CONNECT
// packet that arrived with a zero-length client identifier field. The result
// is prefixed so generated identifiers are visually distinguishable from ones
// a client supplied itself.
func GenerateClientID() string {
	return "auto-" + uuid.NewString()
}
