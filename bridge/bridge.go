// Package bridge forwards messages between this broker and a remote one,
// re-serializing control packets across protocol versions when the two sides
// don't speak the same one.
package bridge

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/axmq/ax/clock"
	"github.com/axmq/ax/config"
	"github.com/axmq/ax/encoding"
	"github.com/axmq/ax/framer"
	"github.com/axmq/ax/network"
)

// State is the bridge's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// handshakeProperties carries the three MQTT 5 properties the three-step
// handshake passes between the local and remote CONNECT/CONNACK exchanges.
type handshakeProperties struct {
	receiveMaximum    uint16
	topicAliasMaximum uint16
	maximumPacketSize uint32
}

// Bridge owns two broker-facing connections — one to the local broker's own
// listener, one to the remote broker — and forwards PUBLISH (and its QoS
// acknowledgements) between them, re-encoding across protocol versions when
// the two sides differ.
type Bridge struct {
	cfg *config.Bridge

	localAddr    string
	localVersion encoding.ProtocolVersion

	remoteAddr    string
	remoteVersion encoding.ProtocolVersion

	local  *network.Connection
	remote *network.Connection

	state      State
	backoff    *network.Backoff
	cancelTick func()
}

// New creates a bridge between localAddr (this broker's own listener) and the
// remote broker described by cfg.
func New(cfg *config.Bridge, localAddr string, localVersion, remoteVersion encoding.ProtocolVersion) *Bridge {
	backoff, _ := network.NewBackoff(network.DefaultBackoffConfig())
	return &Bridge{
		cfg:           cfg,
		localAddr:     localAddr,
		localVersion:  localVersion,
		remoteAddr:    fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		remoteVersion: remoteVersion,
		backoff:       backoff,
	}
}

// AttachClock schedules reconnect attempts reconnect_period seconds after a
// disconnect, driven by the broker-wide one-second tick.
func (b *Bridge) AttachClock(c *clock.Clock) (cancel func()) {
	lastAttempt := time.Time{}
	b.cancelTick = c.Subscribe(func(now time.Time) {
		if b.state == StateConnected {
			return
		}
		if now.Sub(lastAttempt) < b.cfg.ReconnectPeriod {
			return
		}
		lastAttempt = now
		go func() {
			if err := b.Connect(); err == nil {
				go b.run()
			}
		}()
	})
	return b.cancelTick
}

// Connect performs the three-step handshake described for bridge connections:
// open the local broker once to learn its receive-maximum/topic-alias-max,
// open the remote broker passing those through, then re-open the local side
// passing along what the remote announced.
func (b *Bridge) Connect() error {
	b.state = StateConnecting

	localProps, err := b.probeLocal()
	if err != nil {
		b.state = StateDisconnected
		return errors.Wrap(err, "bridge: probe local")
	}

	remoteConn, remoteProps, err := b.openRemote(localProps)
	if err != nil {
		b.state = StateDisconnected
		return errors.Wrap(err, "bridge: open remote")
	}

	localConn, err := b.openLocal(remoteProps)
	if err != nil {
		remoteConn.Close()
		b.state = StateDisconnected
		return errors.Wrap(err, "bridge: reopen local")
	}

	b.local = localConn
	b.remote = remoteConn
	b.state = StateConnected
	b.backoff.Reset()
	return nil
}

func (b *Bridge) probeLocal() (handshakeProperties, error) {
	conn, _, err := b.dialAndConnect(b.localAddr, b.localVersion, nil)
	if err != nil {
		return handshakeProperties{}, err
	}
	defer conn.Close()

	connack, err := readConnack(conn, b.localVersion)
	if err != nil {
		return handshakeProperties{}, err
	}
	return propertiesOf(connack), nil
}

func (b *Bridge) openRemote(localProps handshakeProperties) (*network.Connection, handshakeProperties, error) {
	conn, connack, err := b.dialAndConnect(b.remoteAddr, b.remoteVersion, &localProps)
	if err != nil {
		return nil, handshakeProperties{}, err
	}
	return conn, propertiesOf(connack), nil
}

func (b *Bridge) openLocal(remoteProps handshakeProperties) (*network.Connection, error) {
	conn, _, err := b.dialAndConnect(b.localAddr, b.localVersion, &remoteProps)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (b *Bridge) dialAndConnect(addr string, version encoding.ProtocolVersion, props *handshakeProperties) (*network.Connection, encoding.Encodable, error) {
	var netConn net.Conn
	var err error
	if addr == b.remoteAddr && b.cfg.TLS != nil {
		tlsCfg, terr := b.cfg.TLS.Build()
		if terr != nil {
			return nil, nil, terr
		}
		netConn, err = tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, tlsCfg)
	} else {
		netConn, err = net.DialTimeout("tcp", addr, 10*time.Second)
	}
	if err != nil {
		return nil, nil, err
	}
	conn := network.NewConnection(netConn, "bridge-"+b.cfg.Name, nil)

	if err := writeConnect(conn, version, b.cfg.ClientID, props); err != nil {
		conn.Close()
		return nil, nil, err
	}

	connack, err := readConnack(conn, version)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	return conn, connack, nil
}

func writeConnect(w networkWriter, version encoding.ProtocolVersion, clientID string, props *handshakeProperties) error {
	if version == encoding.ProtocolVersion50 {
		pkt := &encoding.ConnectPacket{
			FixedHeader:     encoding.FixedHeader{Type: encoding.CONNECT},
			ProtocolName:    "MQTT",
			ProtocolVersion: encoding.ProtocolVersion50,
			CleanStart:      true,
			KeepAlive:       60,
			ClientID:        clientID,
		}
		if props != nil {
			if props.receiveMaximum != 0 {
				pkt.Properties.AddProperty(encoding.PropReceiveMaximum, props.receiveMaximum)
			}
			if props.topicAliasMaximum != 0 {
				pkt.Properties.AddProperty(encoding.PropTopicAliasMaximum, props.topicAliasMaximum)
			}
			if props.maximumPacketSize != 0 {
				pkt.Properties.AddProperty(encoding.PropMaximumPacketSize, props.maximumPacketSize)
			}
		}
		return encoding.EncodePacket(w, pkt)
	}

	pkt := &encoding.ConnectPacket311{
		FixedHeader:     encoding.FixedHeader{Type: encoding.CONNECT},
		ProtocolName:    "MQTT",
		ProtocolVersion: version,
		CleanSession:    true,
		KeepAlive:       60,
		ClientID:        clientID,
	}
	return encoding.EncodePacket(w, pkt)
}

func readConnack(r networkReader, version encoding.ProtocolVersion) (encoding.Encodable, error) {
	pkt, fh, err := encoding.DecodePacket(r, version)
	if err != nil {
		return nil, err
	}
	if fh.Type != encoding.CONNACK {
		return nil, errors.Newf("bridge: expected CONNACK, got %v", fh.Type)
	}
	return pkt, nil
}

func propertiesOf(pkt encoding.Encodable) handshakeProperties {
	connack, ok := pkt.(*encoding.ConnackPacket)
	if !ok {
		return handshakeProperties{}
	}
	var out handshakeProperties
	if p := connack.Properties.GetProperty(encoding.PropReceiveMaximum); p != nil {
		if v, ok := p.Value.(uint16); ok {
			out.receiveMaximum = v
		}
	}
	if p := connack.Properties.GetProperty(encoding.PropTopicAliasMaximum); p != nil {
		if v, ok := p.Value.(uint16); ok {
			out.topicAliasMaximum = v
		}
	}
	if p := connack.Properties.GetProperty(encoding.PropMaximumPacketSize); p != nil {
		if v, ok := p.Value.(uint32); ok {
			out.maximumPacketSize = v
		}
	}
	return out
}

// run forwards packets bidirectionally until either side disconnects.
func (b *Bridge) run() {
	done := make(chan struct{}, 2)
	go func() { forward(b.local, b.remote, b.localVersion, b.remoteVersion); done <- struct{}{} }()
	go func() { forward(b.remote, b.local, b.remoteVersion, b.localVersion); done <- struct{}{} }()
	<-done

	b.state = StateDisconnected
	b.local.Close()
	b.remote.Close()
}

// forward reads complete frames from src and writes them to dst, re-encoding
// PUBLISH/PUBACK/PUBREC/PUBREL/PUBCOMP when the two protocol versions differ.
// Every other packet type passes through unmodified.
func forward(src, dst *network.Connection, srcVersion, dstVersion encoding.ProtocolVersion) {
	f := framer.New(srcVersion, framer.DefaultMaxIncomingDataLength, 0)
	buf := make([]byte, 4096)

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := f.Write(time.Now(), buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}

		for {
			fh, frame, ferr := f.Next()
			if ferr == framer.ErrIncomplete {
				break
			}
			if ferr != nil {
				return
			}
			if werr := forwardOne(dst, fh, frame, srcVersion, dstVersion); werr != nil {
				return
			}
		}
	}
}

func forwardOne(dst *network.Connection, fh *encoding.FixedHeader, frame []byte, srcVersion, dstVersion encoding.ProtocolVersion) error {
	if srcVersion == dstVersion || !isReencodable(fh.Type) {
		_, err := dst.Write(frame)
		return err
	}

	pkt, _, err := encoding.DecodePacket(bytes.NewReader(frame), srcVersion)
	if err != nil {
		return err
	}

	reencoded, err := reencode(pkt, dstVersion)
	if err != nil {
		return err
	}
	return encoding.EncodePacket(dst, reencoded)
}

func isReencodable(t encoding.PacketType) bool {
	switch t {
	case encoding.PUBLISH, encoding.PUBACK, encoding.PUBREC, encoding.PUBREL, encoding.PUBCOMP:
		return true
	default:
		return false
	}
}

// reencode converts a decoded PUBLISH/PUBACK/PUBREC/PUBREL/PUBCOMP packet from
// whatever version it was decoded at into the equivalent struct for
// dstVersion, dropping MQTT 5 properties a 3.x peer has no room for.
func reencode(pkt encoding.Encodable, dstVersion encoding.ProtocolVersion) (encoding.Encodable, error) {
	switch p := pkt.(type) {
	case *encoding.PublishPacket:
		if dstVersion == encoding.ProtocolVersion50 {
			return p, nil
		}
		return &encoding.PublishPacket311{
			FixedHeader: p.FixedHeader,
			TopicName:   p.TopicName,
			PacketID:    p.PacketID,
			Payload:     p.Payload,
		}, nil
	case *encoding.PublishPacket311:
		if dstVersion != encoding.ProtocolVersion50 {
			return p, nil
		}
		return &encoding.PublishPacket{
			FixedHeader: p.FixedHeader,
			TopicName:   p.TopicName,
			PacketID:    p.PacketID,
			Payload:     p.Payload,
		}, nil
	case *encoding.PubackPacket:
		return &encoding.PubackPacket311{FixedHeader: p.FixedHeader, PacketID: p.PacketID}, nil
	case *encoding.PubackPacket311:
		return &encoding.PubackPacket{FixedHeader: p.FixedHeader, PacketID: p.PacketID, ReasonCode: encoding.ReasonSuccess}, nil
	case *encoding.PubrecPacket:
		return &encoding.PubrecPacket311{FixedHeader: p.FixedHeader, PacketID: p.PacketID}, nil
	case *encoding.PubrecPacket311:
		return &encoding.PubrecPacket{FixedHeader: p.FixedHeader, PacketID: p.PacketID, ReasonCode: encoding.ReasonSuccess}, nil
	case *encoding.PubrelPacket:
		return &encoding.PubrelPacket311{FixedHeader: p.FixedHeader, PacketID: p.PacketID}, nil
	case *encoding.PubrelPacket311:
		return &encoding.PubrelPacket{FixedHeader: p.FixedHeader, PacketID: p.PacketID, ReasonCode: encoding.ReasonSuccess}, nil
	case *encoding.PubcompPacket:
		return &encoding.PubcompPacket311{FixedHeader: p.FixedHeader, PacketID: p.PacketID}, nil
	case *encoding.PubcompPacket311:
		return &encoding.PubcompPacket{FixedHeader: p.FixedHeader, PacketID: p.PacketID, ReasonCode: encoding.ReasonSuccess}, nil
	default:
		return nil, errors.Newf("bridge: no re-encoding for %T", pkt)
	}
}

// networkWriter/networkReader let writeConnect/readConnack operate against
// either a live *network.Connection or, in tests, a plain in-memory pipe.
type networkWriter interface {
	Write(b []byte) (int, error)
}

type networkReader interface {
	Read(b []byte) (int, error)
}

// State reports the bridge's current connection state.
func (b *Bridge) State() State { return b.state }

// Close tears the bridge down, canceling any scheduled reconnect.
func (b *Bridge) Close() {
	if b.cancelTick != nil {
		b.cancelTick()
	}
	if b.local != nil {
		b.local.Close()
	}
	if b.remote != nil {
		b.remote.Close()
	}
	b.state = StateDisconnected
}
