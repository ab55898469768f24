package broker

import (
	"time"

	"github.com/axmq/ax/session"
	"github.com/axmq/ax/types/message"
)

// enqueueDeliver is the QoS-aware entry point for handing a matched message to
// one client. QoS 0 bypasses quota and the pending queue entirely: it is
// fire-and-forget. QoS 1/2 go through the client's pending queue so delivery
// never exceeds its negotiated receive maximum.
func (b *Broker) enqueueDeliver(clientID string, msg *message.Message) {
	if msg.QoS == 0 {
		b.deliverOne(clientID, msg)
		return
	}

	b.mu.RLock()
	sess, ok := b.sessions[clientID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	sess.Pending.Enqueue(&session.PendingMessage{
		Topic:                   msg.Topic,
		Payload:                 msg.Payload,
		QoS:                     byte(msg.QoS),
		Retain:                  msg.Retain,
		Properties:              msg.Properties,
		Timestamp:               time.Now(),
		SubscriptionIdentifiers: msg.SubscriptionIdentifiers,
	})
	b.drainPending(clientID)
}

// drainPending dispatches as many queued units as clientID's quota and packet
// id pool allow. It is called after every enqueue and after every ack that
// frees quota or an id, so a burst that arrived while quota was exhausted
// drains automatically once room frees up.
func (b *Broker) drainPending(clientID string) {
	b.mu.RLock()
	sess, ok := b.sessions[clientID]
	pool, poolOK := b.idPools[clientID]
	b.mu.RUnlock()
	if !ok || !poolOK {
		return
	}

	for {
		pm, key, has := sess.Pending.NextUndispatched()
		if !has {
			return
		}
		if !sess.AcquireQuota() {
			return
		}
		id := pool.Acquire()
		if id == 0 {
			sess.ReleaseQuota()
			return
		}
		sess.Pending.MarkInFlight(id, key)

		out := message.NewMessage(id, pm.Topic, pm.Payload, toQoS(pm.QoS), pm.Retain, pm.Properties)
		out.SubscriptionIdentifiers = pm.SubscriptionIdentifiers
		b.deliverOne(clientID, out)
	}
}

// completeDelivery releases the quota and packet id held by an in-flight
// outbound publish once its ack (PUBACK for QoS 1, PUBCOMP for QoS 2) arrives,
// then tries to drain the next queued unit.
func (b *Broker) completeDelivery(clientID string, packetID uint16) {
	b.mu.RLock()
	sess, ok := b.sessions[clientID]
	pool, poolOK := b.idPools[clientID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	sess.Pending.Remove(packetID)
	sess.ReleaseQuota()
	if poolOK {
		pool.Release(packetID)
	}
	b.drainPending(clientID)
}
