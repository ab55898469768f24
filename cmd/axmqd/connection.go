package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/axmq/ax/broker"
	"github.com/axmq/ax/encoding"
	"github.com/axmq/ax/framer"
	"github.com/axmq/ax/network"
	"github.com/axmq/ax/pkg/logger"
)

// connAdapter makes a *network.Connection satisfy broker.Conn: it tracks the
// client ID the broker assigns on CONNECT and the protocol version the
// connection's own CONNECT packet negotiated.
type connAdapter struct {
	*network.Connection
	clientID string
	version  encoding.ProtocolVersion
}

func (c *connAdapter) ClientID() string { return c.clientID }
func (c *connAdapter) SetClientID(id string) { c.clientID = id }
func (c *connAdapter) ProtocolVersion() encoding.ProtocolVersion { return c.version }

var _ broker.Conn = (*connAdapter)(nil)

// defaultProtocolVersionGuess is only used to parse the version-agnostic fixed
// header of the very first packet on a connection, before that packet's own
// CONNECT body tells us which of the three wire formats it actually used.
const defaultProtocolVersionGuess = encoding.ProtocolVersion311

// peekProtocolVersion extracts the protocol version byte from a still-undecoded
// CONNECT frame: fixed header, then a 2-byte-length-prefixed protocol name, then
// the single version byte, a layout shared by MQTT 3.1, 3.1.1 and 5.0 alike.
func peekProtocolVersion(frame []byte) (encoding.ProtocolVersion, error) {
	_, headerLen, err := encoding.ParseFixedHeaderFromBytesWithVersion(frame, defaultProtocolVersionGuess)
	if err != nil {
		return 0, err
	}
	rest := frame[headerLen:]
	if len(rest) < 2 {
		return 0, io.ErrUnexpectedEOF
	}
	nameLen := int(rest[0])<<8 | int(rest[1])
	if len(rest) < 2+nameLen+1 {
		return 0, io.ErrUnexpectedEOF
	}
	return encoding.ProtocolVersion(rest[2+nameLen]), nil
}

// serveConnection owns one accepted connection end to end: it frames the byte
// stream, decodes each control packet once the protocol version is known, and
// hands it to the broker for dispatch. It returns once the connection closes.
func serveConnection(ctx context.Context, b *broker.Broker, log *logger.SlogLogger, conn *network.Connection) {
	adapter := &connAdapter{Connection: conn}
	f := framer.New(defaultProtocolVersionGuess, framer.DefaultMaxIncomingDataLength, 0)
	buf := make([]byte, 4096)

	defer func() {
		if adapter.clientID != "" {
			b.Disconnect(adapter.clientID)
		}
		conn.Close()
	}()

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if werr := f.Write(time.Now(), buf[:n]); werr != nil {
				log.Warn("connection framer overflow", "conn", conn.ID(), "error", werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("connection read error", "conn", conn.ID(), "error", err)
			}
			return
		}

		for {
			fh, frame, ferr := f.Next()
			if errors.Is(ferr, framer.ErrIncomplete) {
				break
			}
			if ferr != nil {
				log.Warn("malformed frame", "conn", conn.ID(), "error", ferr)
				return
			}

			if adapter.clientID == "" && fh.Type == encoding.CONNECT {
				version, verr := peekProtocolVersion(frame)
				if verr != nil || !version.IsValid() {
					log.Warn("unparseable CONNECT version", "conn", conn.ID())
					return
				}
				adapter.version = version
				f.SetProtocolVersion(version)
			}

			pkt, _, derr := encoding.DecodePacket(bytes.NewReader(frame), adapter.version)
			if derr != nil {
				log.Warn("decode error", "conn", conn.ID(), "error", derr)
				return
			}

			if err := b.HandleControlPacket(ctx, adapter, pkt, fh); err != nil {
				log.Debug("control packet rejected", "conn", conn.ID(), "error", err)
				return
			}
		}
	}
}
