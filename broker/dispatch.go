package broker

import (
	"context"
	"io"
	"time"

	"github.com/axmq/ax/encoding"
	"github.com/axmq/ax/hook"
	"github.com/axmq/ax/session"
	"github.com/axmq/ax/topic"
	"github.com/axmq/ax/types/message"
)

// Conn is the per-connection collaborator handleControlPacket writes replies to.
// The broker never touches a raw socket: the listener actor owns framing and I/O,
// handing the broker only already-decoded packets.
type Conn interface {
	io.Writer
	ClientID() string
	ProtocolVersion() encoding.ProtocolVersion
	SetClientID(id string)
	Close() error
}

// mqtt311ReturnCodeBadCredentials is the MQTT 3.1.1 CONNACK return code for a
// rejected username/password (section 3.2.2.3). 3.1.1 has no named reason
// code table of its own; only MQTT 5's ReasonCode does.
const mqtt311ReturnCodeBadCredentials = 0x04

// connectParams is the version-agnostic view of a CONNECT packet handleConnect
// needs: the two protocol encodings disagree on field types (properties vs.
// none, []byte vs. string will topics), so each version builds one of these
// before the shared handling runs.
type connectParams struct {
	clientID        string
	cleanStart      bool
	protocolVersion encoding.ProtocolVersion
	username        string
	password        []byte
	will            *session.WillMessage
	willDelay       uint32
	expiryInterval  uint32
	maxPacketSize   uint32
	props           *encoding.Properties // nil for 3.1.1, which carries no properties
}

func connectParamsFromV5(p *encoding.ConnectPacket) connectParams {
	cp := connectParams{
		clientID:        p.ClientID,
		cleanStart:      p.CleanStart,
		protocolVersion: p.ProtocolVersion,
		username:        p.Username,
		password:        p.Password,
		props:           &p.Properties,
	}
	if v := p.Properties.GetProperty(encoding.PropSessionExpiryInterval); v != nil {
		if iv, ok := v.Value.(uint32); ok {
			cp.expiryInterval = iv
		}
	}
	if v := p.Properties.GetProperty(encoding.PropMaximumPacketSize); v != nil {
		if iv, ok := v.Value.(uint32); ok {
			cp.maxPacketSize = iv
		}
	}
	if p.WillFlag {
		cp.will = &session.WillMessage{
			Topic:   string(p.WillTopic),
			Payload: p.WillPayload,
			QoS:     byte(p.WillQoS),
			Retain:  p.WillRetain,
		}
		if v := p.WillProperties.GetProperty(encoding.PropWillDelayInterval); v != nil {
			if iv, ok := v.Value.(uint32); ok {
				cp.willDelay = iv
			}
		}
	}
	return cp
}

func connectParamsFrom311(p *encoding.ConnectPacket311) connectParams {
	cp := connectParams{
		clientID:        p.ClientID,
		cleanStart:      p.CleanSession,
		protocolVersion: p.ProtocolVersion,
		username:        p.Username,
		password:        p.Password,
	}
	if p.WillFlag {
		cp.will = &session.WillMessage{
			Topic:   p.WillTopic,
			Payload: p.WillPayload,
			QoS:     byte(p.WillQoS),
			Retain:  p.WillRetain,
		}
	}
	return cp
}

// HandleControlPacket is the broker's single dispatch point: ban/connected-state
// gating, then routing by packet type.
func (b *Broker) HandleControlPacket(ctx context.Context, conn Conn, pkt encoding.Encodable, fh *encoding.FixedHeader) error {
	clientID := conn.ClientID()

	if clientID != "" && b.IsBanned(clientID, time.Now()) {
		return ErrSessionBanned
	}

	if clientID == "" && fh.Type != encoding.CONNECT {
		return ErrNotConnected
	}

	switch p := pkt.(type) {
	case *encoding.ConnectPacket:
		if clientID != "" {
			_ = conn.Close()
			return ErrSecondConnect
		}
		return b.handleConnect(conn, connectParamsFromV5(p))
	case *encoding.ConnectPacket311:
		if clientID != "" {
			_ = conn.Close()
			return ErrSecondConnect
		}
		return b.handleConnect(conn, connectParamsFrom311(p))

	case *encoding.PublishPacket:
		return b.handlePublish(ctx, conn, p.TopicName, p.Payload, p.PacketID, p.FixedHeader, &p.Properties)
	case *encoding.PublishPacket311:
		return b.handlePublish(ctx, conn, p.TopicName, p.Payload, p.PacketID, p.FixedHeader, nil)

	case *encoding.PubackPacket:
		b.completeDelivery(clientID, p.PacketID)
		return nil
	case *encoding.PubackPacket311:
		b.completeDelivery(clientID, p.PacketID)
		return nil

	case *encoding.PubrecPacket:
		return b.handlePubrec(conn, p.PacketID)
	case *encoding.PubrecPacket311:
		return b.handlePubrec(conn, p.PacketID)

	case *encoding.PubrelPacket:
		return b.handlePubrel(conn, p.PacketID)
	case *encoding.PubrelPacket311:
		return b.handlePubrel(conn, p.PacketID)

	case *encoding.PubcompPacket:
		b.completeDelivery(clientID, p.PacketID)
		return nil
	case *encoding.PubcompPacket311:
		b.completeDelivery(clientID, p.PacketID)
		return nil

	case *encoding.SubscribePacket:
		filters := make([]topic.Subscription, 0, len(p.Subscriptions))
		for _, s := range p.Subscriptions {
			filters = append(filters, topic.Subscription{
				TopicFilter:            s.TopicFilter,
				QoS:                    byte(s.QoS),
				NoLocal:                s.NoLocal,
				RetainAsPublished:      s.RetainAsPublished,
				RetainHandling:         s.RetainHandling,
				SubscriptionIdentifier: s.SubscriptionIdentifier,
			})
		}
		return b.handleSubscribe(ctx, conn, filters)
	case *encoding.SubscribePacket311:
		filters := make([]topic.Subscription, 0, len(p.Subscriptions))
		for _, s := range p.Subscriptions {
			filters = append(filters, topic.Subscription{TopicFilter: s.TopicFilter, QoS: byte(s.QoS)})
		}
		return b.handleSubscribe(ctx, conn, filters)

	case *encoding.UnsubscribePacket:
		return b.handleUnsubscribe(conn, p.TopicFilters)
	case *encoding.UnsubscribePacket311:
		return b.handleUnsubscribe(conn, p.TopicFilters)

	case *encoding.PingreqPacket:
		return encoding.EncodePacket(conn, &encoding.PingrespPacket{FixedHeader: encoding.FixedHeader{Type: encoding.PINGRESP}})

	case *encoding.DisconnectPacket, *encoding.DisconnectPacket311:
		b.disconnectGraceful(clientID)
		conn.SetClientID("")
		return nil

	default:
		return ErrUnsupportedPacket
	}
}

// authenticate runs CONNECT-time credential checks through the hook manager.
// With no hooks registered this returns true unconditionally, per
// hook.Manager's default-allow semantics.
func (b *Broker) authenticate(p connectParams) bool {
	client := &hook.Client{
		ID:              p.clientID,
		Username:        p.username,
		ProtocolVersion: byte(p.protocolVersion),
	}
	packet := &hook.ConnectPacket{
		ProtocolVersion: byte(p.protocolVersion),
		ClientID:        p.clientID,
		Username:        p.username,
		Password:        p.password,
	}
	return b.hooks.OnConnectAuthenticate(client, packet)
}

// rejectConnect sends a failure CONNACK for rejected credentials and closes
// the connection; the client never gets a session.
func (b *Broker) rejectConnect(conn Conn, version encoding.ProtocolVersion) error {
	if version == encoding.ProtocolVersion50 {
		_ = encoding.EncodePacket(conn, &encoding.ConnackPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.CONNACK},
			ReasonCode:  encoding.ReasonBadUsernameOrPassword,
		})
	} else {
		_ = encoding.EncodePacket(conn, &encoding.ConnackPacket311{
			FixedHeader: encoding.FixedHeader{Type: encoding.CONNACK},
			ReturnCode:  mqtt311ReturnCodeBadCredentials,
		})
	}
	_ = conn.Close()
	return ErrAuthenticationFailed
}

func (b *Broker) handleConnect(conn Conn, p connectParams) error {
	var generated bool
	if p.clientID == "" {
		p.clientID = session.GenerateClientID()
		p.cleanStart = true
		generated = true
	}

	if b.IsBanned(p.clientID, time.Now()) {
		if p.protocolVersion == encoding.ProtocolVersion50 {
			_ = encoding.EncodePacket(conn, &encoding.ConnackPacket{
				FixedHeader: encoding.FixedHeader{Type: encoding.CONNACK},
				ReasonCode:  encoding.ReasonBanned,
			})
		} else {
			_ = encoding.EncodePacket(conn, &encoding.ConnackPacket311{
				FixedHeader: encoding.FixedHeader{Type: encoding.CONNACK},
				ReturnCode:  0x03, // server unavailable
			})
		}
		_ = conn.Close()
		return ErrSessionBanned
	}

	if !b.authenticate(p) {
		return b.rejectConnect(conn, p.protocolVersion)
	}

	sess, sessionPresent := b.Connect(p.clientID, p.cleanStart, p.expiryInterval, byte(p.protocolVersion), conn)
	conn.SetClientID(p.clientID)

	if p.will != nil {
		sess.SetWillMessage(p.will, p.willDelay)
	}
	if p.maxPacketSize > 0 {
		sess.SetMaxPacketSize(p.maxPacketSize)
	}

	if p.props != nil {
		if rm := p.props.GetProperty(encoding.PropReceiveMaximum); rm != nil {
			if v, ok := rm.Value.(uint16); ok {
				sess.SetReceiveMaximum(v)
			}
		}
		if tam := p.props.GetProperty(encoding.PropTopicAliasMaximum); tam != nil {
			if v, ok := tam.Value.(uint16); ok {
				sess.SetTopicAliasMaximum(v)
			}
		}
	}

	if p.protocolVersion == encoding.ProtocolVersion50 {
		ack := &encoding.ConnackPacket{
			FixedHeader:    encoding.FixedHeader{Type: encoding.CONNACK},
			SessionPresent: sessionPresent,
			ReasonCode:     encoding.ReasonSuccess,
		}
		if generated {
			_ = ack.Properties.AddProperty(encoding.PropAssignedClientIdentifier, p.clientID)
		}
		return encoding.EncodePacket(conn, ack)
	}
	return encoding.EncodePacket(conn, &encoding.ConnackPacket311{
		FixedHeader:    encoding.FixedHeader{Type: encoding.CONNACK},
		SessionPresent: sessionPresent,
		ReturnCode:     0,
	})
}

// disconnectGraceful handles a client-initiated DISCONNECT. The will, if any,
// is discarded before normal disconnect bookkeeping runs: a graceful
// DISCONNECT must never trigger publication of the will.
func (b *Broker) disconnectGraceful(clientID string) {
	if sess, ok := b.Session(clientID); ok {
		sess.ClearWillMessage()
	}
	b.Disconnect(clientID)
}

func (b *Broker) handlePublish(ctx context.Context, conn Conn, topicName string, payload []byte, packetID uint16, fh encoding.FixedHeader, props *encoding.Properties) error {
	clientID := conn.ClientID()
	if b.CheckFlowRate(clientID, byte(fh.QoS), time.Now()) {
		b.sendRateExceededDisconnect(conn)
		b.Disconnect(clientID)
		return ErrFlowRateExceeded
	}

	sess, _ := b.Session(clientID)
	dedup, _ := b.InboundDedup(clientID)

	if sess != nil && props != nil {
		if ta := props.GetProperty(encoding.PropTopicAlias); ta != nil {
			if alias, ok := ta.Value.(uint16); ok {
				resolved, err := sess.InboundAlias(alias, topicName)
				if err != nil {
					return err
				}
				topicName = resolved
			}
		}
	}

	if fh.QoS == 2 && sess != nil && sess.HasPendingPubrel(packetID) {
		// Retransmission of a QoS 2 publish we've already accepted and are
		// waiting on PUBREL for: re-ack, don't deliver to subscribers twice.
		return b.sendPubrec(conn, packetID)
	}
	if fh.QoS == 1 && fh.DUP && dedup != nil && dedup.Exists(packetID) {
		return b.sendPuback(conn, packetID)
	}

	msg := message.NewMessage(0, topicName, payload, fh.QoS, fh.Retain, nil)
	if err := b.Publish(ctx, clientID, msg); err != nil {
		return err
	}

	switch fh.QoS {
	case 1:
		if dedup != nil {
			dedup.Add(packetID)
		}
		return b.sendPuback(conn, packetID)
	case 2:
		if sess != nil {
			sess.AddPendingPubrel(packetID)
		}
		return b.sendPubrec(conn, packetID)
	}
	return nil
}

func (b *Broker) sendPuback(conn Conn, packetID uint16) error {
	if conn.ProtocolVersion() == encoding.ProtocolVersion50 {
		return encoding.EncodePacket(conn, &encoding.PubackPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.PUBACK},
			PacketID:    packetID,
			ReasonCode:  encoding.ReasonSuccess,
		})
	}
	return encoding.EncodePacket(conn, &encoding.PubackPacket311{
		FixedHeader: encoding.FixedHeader{Type: encoding.PUBACK},
		PacketID:    packetID,
	})
}

func (b *Broker) sendPubrec(conn Conn, packetID uint16) error {
	if conn.ProtocolVersion() == encoding.ProtocolVersion50 {
		return encoding.EncodePacket(conn, &encoding.PubrecPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.PUBREC},
			PacketID:    packetID,
			ReasonCode:  encoding.ReasonSuccess,
		})
	}
	return encoding.EncodePacket(conn, &encoding.PubrecPacket311{
		FixedHeader: encoding.FixedHeader{Type: encoding.PUBREC},
		PacketID:    packetID,
	})
}

// handlePubrec responds to the client's ack of an outbound QoS 2 publish with
// PUBREL. The packet id and quota stay held until the matching PUBCOMP arrives.
func (b *Broker) handlePubrec(conn Conn, packetID uint16) error {
	if conn.ProtocolVersion() == encoding.ProtocolVersion50 {
		return encoding.EncodePacket(conn, &encoding.PubrelPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.PUBREL},
			PacketID:    packetID,
			ReasonCode:  encoding.ReasonSuccess,
		})
	}
	return encoding.EncodePacket(conn, &encoding.PubrelPacket311{
		FixedHeader: encoding.FixedHeader{Type: encoding.PUBREL},
		PacketID:    packetID,
	})
}

// handlePubrel completes an inbound QoS 2 publish: the client has seen our
// PUBREC and is releasing it, so we clear the dedup marker and reply PUBCOMP.
func (b *Broker) handlePubrel(conn Conn, packetID uint16) error {
	if sess, ok := b.Session(conn.ClientID()); ok {
		sess.RemovePendingPubrel(packetID)
	}
	if conn.ProtocolVersion() == encoding.ProtocolVersion50 {
		return encoding.EncodePacket(conn, &encoding.PubcompPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.PUBCOMP},
			PacketID:    packetID,
			ReasonCode:  encoding.ReasonSuccess,
		})
	}
	return encoding.EncodePacket(conn, &encoding.PubcompPacket311{
		FixedHeader: encoding.FixedHeader{Type: encoding.PUBCOMP},
		PacketID:    packetID,
	})
}

func (b *Broker) sendRateExceededDisconnect(conn Conn) {
	if conn.ProtocolVersion() == encoding.ProtocolVersion50 {
		_ = encoding.EncodePacket(conn, &encoding.DisconnectPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.DISCONNECT},
			ReasonCode:  encoding.ReasonMessageRateTooHigh,
		})
		return
	}
	_ = encoding.EncodePacket(conn, &encoding.DisconnectPacket311{
		FixedHeader: encoding.FixedHeader{Type: encoding.DISCONNECT},
	})
}

func (b *Broker) handleSubscribe(ctx context.Context, conn Conn, filters []topic.Subscription) error {
	clientID := conn.ClientID()
	codes := make([]encoding.ReasonCode, 0, len(filters))
	for i := range filters {
		filters[i].ClientID = clientID
		if err := b.Subscribe(ctx, &filters[i]); err != nil {
			codes = append(codes, encoding.ReasonUnspecifiedError)
			continue
		}
		codes = append(codes, encoding.ReasonCode(filters[i].QoS))
	}

	if conn.ProtocolVersion() == encoding.ProtocolVersion50 {
		return encoding.EncodePacket(conn, &encoding.SubackPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.SUBACK},
			ReasonCodes: codes,
		})
	}
	return encoding.EncodePacket(conn, &encoding.SubackPacket311{
		FixedHeader: encoding.FixedHeader{Type: encoding.SUBACK},
		ReturnCodes: reasonCodesToReturnCodes(codes),
	})
}

func (b *Broker) handleUnsubscribe(conn Conn, filters []string) error {
	clientID := conn.ClientID()
	for _, f := range filters {
		b.router.Unsubscribe(clientID, f)
	}

	if conn.ProtocolVersion() == encoding.ProtocolVersion50 {
		codes := make([]encoding.ReasonCode, len(filters))
		for i := range codes {
			codes[i] = encoding.ReasonSuccess
		}
		return encoding.EncodePacket(conn, &encoding.UnsubackPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.UNSUBACK},
			ReasonCodes: codes,
		})
	}
	return encoding.EncodePacket(conn, &encoding.UnsubackPacket311{
		FixedHeader: encoding.FixedHeader{Type: encoding.UNSUBACK},
	})
}

func reasonCodesToReturnCodes(codes []encoding.ReasonCode) []byte {
	out := make([]byte, len(codes))
	for i, c := range codes {
		out[i] = byte(c)
	}
	return out
}
