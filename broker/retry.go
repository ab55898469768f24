package broker

import (
	"time"

	"github.com/axmq/ax/qos"
	"github.com/axmq/ax/session"
	"github.com/axmq/ax/types/message"
)

// retryInFlight sweeps every live session's in-flight QoS 1/2 publishes and
// resends (with DUP set) anything overdue per the broker's retry policy,
// abandoning units that have exceeded its max-retry ceiling.
func (b *Broker) retryInFlight(now time.Time) {
	b.mu.RLock()
	sessions := make(map[string]*session.Session, len(b.sessions))
	for id, sess := range b.sessions {
		sessions[id] = sess
	}
	policy := b.retryPolicy
	b.mu.RUnlock()

	for clientID, sess := range sessions {
		for _, u := range sess.Pending.InFlight() {
			if u.Attempts > policy.MaxRetries() {
				b.completeDelivery(clientID, u.PacketID)
				continue
			}
			if !policy.Due(now, u.LastAttempt, u.Attempts) {
				continue
			}
			sess.Pending.MarkRetried(u.PacketID, now)
			b.deliverOne(clientID, toResend(u))
		}
	}
}

func toResend(u session.InFlightUnit) *message.Message {
	out := message.NewMessage(u.PacketID, u.Msg.Topic, u.Msg.Payload, toQoS(u.Msg.QoS), u.Msg.Retain, u.Msg.Properties)
	out.DUP = true
	out.AttemptCount = u.Attempts
	out.SubscriptionIdentifiers = u.Msg.SubscriptionIdentifiers
	return out
}

// SetRetryPolicy configures the redelivery backoff/ceiling applied by the
// retry sweep.
func (b *Broker) SetRetryPolicy(cfg *qos.Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retryPolicy = qos.NewRetryPolicy(cfg)
}
