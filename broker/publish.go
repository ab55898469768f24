package broker

import (
	"bytes"
	"context"

	"github.com/cockroachdb/errors"

	"github.com/axmq/ax/encoding"
	"github.com/axmq/ax/hook"
	"github.com/axmq/ax/session"
	"github.com/axmq/ax/types/message"
)

// selection is the per-client outcome of matching a publish against the router:
// the highest QoS among any of that client's filters that matched, whether every
// matching subscription has NoLocal set, and the union of subscription identifiers
// across every filter that matched.
type selection struct {
	qos                     byte
	noLocal                 bool
	subscriptionIdentifiers []uint32
}

// Publish routes one message from fromClientID:
//  1. update the retained store if Retain is set (empty payload removes it)
//  2. deliver to each matched client at most once, at the max QoS among its
//     matching subscriptions, skipping NoLocal matches against the publisher
//
// Shared-subscription fan-out is already folded into Router.Match: it picks one
// round-robin receiver per matched shared group before this function ever runs.
func (b *Broker) Publish(ctx context.Context, fromClientID string, msg *message.Message) error {
	if msg.Retain {
		if err := b.updateRetained(ctx, msg); err != nil {
			return err
		}
	}

	matches := b.router.Match(msg.Topic)
	byClient := make(map[string]*selection, len(matches))
	for _, m := range matches {
		sel, ok := byClient[m.ClientID]
		if !ok {
			byClient[m.ClientID] = &selection{
				qos:                     m.QoS,
				noLocal:                 m.NoLocal,
				subscriptionIdentifiers: identifiersOf(m.SubscriptionIdentifier),
			}
			continue
		}
		if m.QoS > sel.qos {
			sel.qos = m.QoS
		}
		sel.noLocal = sel.noLocal && m.NoLocal
		if m.SubscriptionIdentifier != 0 {
			sel.subscriptionIdentifiers = append(sel.subscriptionIdentifiers, m.SubscriptionIdentifier)
		}
	}

	if b.stats != nil {
		b.stats.MessageReceived(len(msg.Payload))
	}

	for clientID, sel := range byClient {
		if sel.noLocal && clientID == fromClientID {
			continue
		}
		out := msg.Clone()
		out.QoS = toQoS(sel.qos)
		out.SubscriptionIdentifiers = sel.subscriptionIdentifiers
		b.enqueueDeliver(clientID, out)
	}
	return nil
}

func identifiersOf(id uint32) []uint32 {
	if id == 0 {
		return nil
	}
	return []uint32{id}
}

// deliverOne hands msg to clientID's live connection if one is registered,
// falling back to the broker-level Deliver callback (offline queueing, or
// whatever the embedding application does with an unclaimed message).
func (b *Broker) deliverOne(clientID string, msg *message.Message) {
	b.mu.RLock()
	conn, hasConn := b.conns[clientID]
	sess := b.sessions[clientID]
	b.mu.RUnlock()

	if hasConn {
		b.deliverToConn(clientID, conn, sess, msg)
		return
	}

	if b.deliver == nil {
		return
	}
	if err := b.deliver(clientID, msg); err != nil {
		if b.stats != nil {
			b.stats.MessageDropped()
		}
		return
	}
	if b.stats != nil {
		b.stats.MessageSent(len(msg.Payload))
	}
}

// deliverToConn encodes msg as a PUBLISH for conn's protocol version,
// applying outbound topic-alias compression and subscription identifiers
// (v5 only), and drops the publish instead of writing it if it would exceed
// the client's advertised maximum packet size.
func (b *Broker) deliverToConn(clientID string, conn Conn, sess *session.Session, msg *message.Message) {
	pkt := b.buildPublish(conn, sess, msg)

	var buf bytes.Buffer
	if err := encoding.EncodePacket(&buf, pkt); err != nil {
		b.dropPublish(clientID, msg, hook.DropReasonInternalError)
		return
	}

	if sess != nil {
		if max := sess.GetMaxPacketSize(); max > 0 && uint32(buf.Len()) > max {
			b.dropPublish(clientID, msg, hook.DropReasonPacketTooLarge)
			return
		}
	}

	if _, err := conn.Write(buf.Bytes()); err != nil {
		b.dropPublish(clientID, msg, hook.DropReasonClientDisconnected)
		return
	}
	if b.stats != nil {
		b.stats.MessageSent(len(msg.Payload))
	}
}

func (b *Broker) buildPublish(conn Conn, sess *session.Session, msg *message.Message) encoding.Encodable {
	fh := encoding.FixedHeader{
		Type:   encoding.PUBLISH,
		QoS:    msg.QoS,
		Retain: msg.Retain,
		DUP:    msg.DUP,
	}

	if conn.ProtocolVersion() != encoding.ProtocolVersion50 {
		return &encoding.PublishPacket311{
			FixedHeader: fh,
			TopicName:   msg.Topic,
			PacketID:    msg.PacketID,
			Payload:     msg.Payload,
		}
	}

	topicName := msg.Topic
	var props encoding.Properties
	if sess != nil {
		if alias, established, ok := sess.ResolveOutboundAlias(msg.Topic); ok {
			_ = props.AddProperty(encoding.PropTopicAlias, alias)
			if established {
				topicName = ""
			}
		}
		for _, id := range msg.SubscriptionIdentifiers {
			_ = props.AddProperty(encoding.PropSubscriptionIdentifier, id)
		}
	}

	return &encoding.PublishPacket{
		FixedHeader: fh,
		TopicName:   topicName,
		PacketID:    msg.PacketID,
		Properties:  props,
		Payload:     msg.Payload,
	}
}

// dropPublish accounts for and reports an outbound publish that could not be
// delivered, folding the generic drop counter together with the hook event a
// Hook implementation would use to, say, surface it on a dead-letter topic.
func (b *Broker) dropPublish(clientID string, msg *message.Message, reason hook.DropReason) {
	if b.stats != nil {
		b.stats.MessageDropped()
	}
	if b.hooks == nil {
		return
	}
	b.hooks.OnPublishDropped(&hook.Client{ID: clientID}, &hook.PublishPacket{
		Topic:   msg.Topic,
		Payload: msg.Payload,
		QoS:     byte(msg.QoS),
		Retain:  msg.Retain,
	}, reason)
}

func (b *Broker) updateRetained(ctx context.Context, msg *message.Message) error {
	if len(msg.Payload) == 0 {
		if err := b.retained.Delete(ctx, msg.Topic); err != nil {
			return errors.Wrap(err, "broker: delete retained")
		}
		return nil
	}
	if err := b.retained.Set(ctx, msg.Topic, msg); err != nil {
		return errors.Wrap(err, "broker: set retained")
	}
	return nil
}

func toQoS(qos byte) encoding.QoS {
	return encoding.QoS(qos)
}

// UnsubscribeAll removes every subscription owned by clientID, per disconnect/ban cleanup.
func (b *Broker) UnsubscribeAll(clientID string) int {
	return b.router.UnsubscribeAll(clientID)
}
