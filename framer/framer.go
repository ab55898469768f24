// Package framer turns a stream of incoming bytes into complete MQTT control packets.
// It accumulates partial reads across multiple Write calls and hands back whole,
// still-undecoded packet frames as soon as enough bytes have arrived, bounding the
// accumulated buffer so a peer cannot force unbounded memory growth with a huge
// Remaining Length before ever completing a packet.
package framer

import (
	"errors"
	"time"

	"github.com/axmq/ax/encoding"
)

var (
	// ErrIncomplete is returned by Next when the buffered bytes do not yet contain
	// a full packet. It is not a protocol error; the caller should Write more data.
	ErrIncomplete = errors.New("framer: incomplete packet")

	// ErrFrameTooLarge is returned when a single packet (fixed header + remaining
	// length) would exceed the configured MaxIncomingDataLength.
	ErrFrameTooLarge = errors.New("framer: frame exceeds maximum incoming data length")
)

// DefaultMaxIncomingDataLength bounds a single packet when the caller passes 0.
// It matches the protocol's own ceiling on Remaining Length plus header overhead.
const DefaultMaxIncomingDataLength = encoding.MaxVariableByteInteger + 5

// Framer accumulates bytes read off a connection and yields complete packet frames.
// It is not safe for concurrent use; each connection owns one Framer.
type Framer struct {
	version     encoding.ProtocolVersion
	maxLen      uint32
	buf         []byte
	lastActive  time.Time
	idleTimeout time.Duration
}

// New creates a Framer for the given protocol version. maxIncomingDataLength bounds a
// single frame (0 uses DefaultMaxIncomingDataLength). idleTimeout is how long the framer
// may sit with buffered-but-incomplete data before IsIdle reports true; 0 disables the check.
func New(version encoding.ProtocolVersion, maxIncomingDataLength uint32, idleTimeout time.Duration) *Framer {
	if maxIncomingDataLength == 0 {
		maxIncomingDataLength = DefaultMaxIncomingDataLength
	}
	return &Framer{
		version:     version,
		maxLen:      maxIncomingDataLength,
		idleTimeout: idleTimeout,
	}
}

// SetProtocolVersion updates the version used to interpret subsequent frames. The broker
// calls this once the CONNECT packet's protocol version byte is known, since until then
// every client speaks the version-agnostic fixed header shared by 3.1, 3.1.1 and 5.0.
func (f *Framer) SetProtocolVersion(version encoding.ProtocolVersion) {
	f.version = version
}

// Write appends newly read bytes to the framer's internal buffer, touching its activity
// clock with now. It never parses; call Next to drain complete frames.
func (f *Framer) Write(now time.Time, data []byte) error {
	if uint32(len(f.buf)+len(data)) > f.maxLen {
		return ErrFrameTooLarge
	}
	f.buf = append(f.buf, data...)
	f.lastActive = now
	return nil
}

// Next extracts one complete packet frame (the raw bytes of its fixed header, variable
// header and payload) from the buffer, along with the parsed fixed header. It returns
// ErrIncomplete, without consuming anything, if the buffer doesn't yet hold a whole frame.
// Any other error is a genuine malformed-packet error from the fixed header itself.
func (f *Framer) Next() (*encoding.FixedHeader, []byte, error) {
	if len(f.buf) == 0 {
		return nil, nil, ErrIncomplete
	}

	fh, headerLen, err := encoding.ParseFixedHeaderFromBytesWithVersion(f.buf, f.version)
	if err != nil {
		if errors.Is(err, encoding.ErrUnexpectedEOF) {
			return nil, nil, ErrIncomplete
		}
		return nil, nil, err
	}

	total := headerLen + int(fh.RemainingLength)
	if uint32(total) > f.maxLen {
		return nil, nil, ErrFrameTooLarge
	}
	if len(f.buf) < total {
		return nil, nil, ErrIncomplete
	}

	frame := make([]byte, total)
	copy(frame, f.buf[:total])
	f.buf = append(f.buf[:0], f.buf[total:]...)

	return fh, frame, nil
}

// Buffered reports how many bytes are currently held waiting for more data.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// IsIdle reports whether the framer has buffered, incomplete data that has sat
// untouched for longer than idleTimeout. It never reports idle on an empty buffer:
// a connection with nothing in flight isn't stuck, it's just quiet.
func (f *Framer) IsIdle(now time.Time) bool {
	if f.idleTimeout <= 0 || len(f.buf) == 0 {
		return false
	}
	return now.Sub(f.lastActive) > f.idleTimeout
}

// Reset discards any buffered bytes, as on reconnect or protocol error recovery.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
