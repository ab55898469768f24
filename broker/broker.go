// Package broker is the top-level MQTT broker actor: it owns the live session
// table, the subscription router, the retained-message store and the hook
// manager, and dispatches inbound control packets to their handlers.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/axmq/ax/clock"
	"github.com/axmq/ax/config"
	"github.com/axmq/ax/encoding"
	"github.com/axmq/ax/hook"
	"github.com/axmq/ax/idalloc"
	"github.com/axmq/ax/qos"
	"github.com/axmq/ax/session"
	"github.com/axmq/ax/stats"
	"github.com/axmq/ax/store"
	"github.com/axmq/ax/topic"
	"github.com/axmq/ax/types/message"
)

// Deliver hands a routed message to one client. The broker doesn't know or care
// whether that means writing to a live socket or appending to an offline queue;
// the caller (the per-connection actor) supplies this.
type Deliver func(clientID string, msg *message.Message) error

// Broker holds the broker actor's state: listener set lives in
// network/cmd wiring, not here; this is the routing/session/retained/statistics core.
type Broker struct {
	mu sync.RWMutex

	sessions     map[string]*session.Session
	idPools      map[string]*idalloc.Pool
	inboundDedup map[string]*qos.DedupCache

	// conns maps client id -> its live connection, for routed delivery and
	// for detecting/evicting a connection a later CONNECT takes over.
	conns map[string]Conn

	router   *topic.Router
	retained *store.RetainedStore
	hooks    *hook.Manager
	stats    *stats.Statistics

	deliver Deliver

	banned   map[string]time.Time
	banAccum bool

	flowRates   config.FlowRates
	banDuration time.Duration
	retryPolicy *qos.RetryPolicy
}

// New creates a Broker. deliver is called for a routed message only when the
// receiving client has no live connection registered. hooks may be nil (a bare
// hook.Manager is constructed if so); st may be nil, which disables statistics.
func New(hooks *hook.Manager, st *stats.Statistics, deliver Deliver) *Broker {
	if hooks == nil {
		hooks = hook.NewManager()
	}
	return &Broker{
		sessions:     make(map[string]*session.Session),
		idPools:      make(map[string]*idalloc.Pool),
		inboundDedup: make(map[string]*qos.DedupCache),
		conns:        make(map[string]Conn),
		router:       topic.NewRouter(),
		retained:     store.NewRetainedStore(),
		hooks:        hooks,
		stats:        st,
		deliver:      deliver,
		banned:       make(map[string]time.Time),

		flowRates:   config.FlowRates{QoS0: config.DefaultQoS0Rate, QoS1: config.DefaultQoS1Rate, QoS2: config.DefaultQoS2Rate},
		banDuration: config.DefaultBanDuration,
		retryPolicy: qos.NewRetryPolicy(nil),
	}
}

// SetFlowControl configures the per-QoS publish rate ceilings and the ban
// duration applied when a session's rate exceeds its ceiling.
func (b *Broker) SetFlowControl(rates config.FlowRates, banDuration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flowRates = rates
	b.banDuration = banDuration
}

// AttachClock subscribes the broker's per-tick housekeeping (ban decrement,
// session expiry) to c's one-second tick.
func (b *Broker) AttachClock(c *clock.Clock) (cancel func()) {
	return c.Subscribe(b.tick)
}

// dueWill is a will that became publishable during a tick sweep: its
// WillDelayInterval has elapsed on a session that's still disconnected (not
// evicted). Publishing happens after the sweep releases b.mu, since
// Publish->enqueueDeliver takes b.mu.RLock.
type dueWill struct {
	clientID string
	will     *session.WillMessage
}

func (b *Broker) tick(now time.Time) {
	b.retryInFlight(now)

	var dueWills []dueWill

	b.mu.Lock()
	ackTimeout := b.retryPolicy.AckTimeout()
	for _, dedup := range b.inboundDedup {
		dedup.Cleanup(ackTimeout)
	}

	for id, until := range b.banned {
		if now.After(until) {
			delete(b.banned, id)
			if sess, ok := b.sessions[id]; ok {
				sess.SetBanTimeout(0)
			}
		} else if sess, ok := b.sessions[id]; ok {
			sess.SetBanTimeout(until.Sub(now))
		}
	}

	for id, sess := range b.sessions {
		if sess.GetState() == session.StateDisconnected {
			if will := sess.GetWillMessage(); will != nil && sess.ShouldPublishWill() {
				sess.ClearWillMessage()
				dueWills = append(dueWills, dueWill{clientID: id, will: will})
			}
		}
		if sess.IsExpired() {
			sess.SetExpired()
			delete(b.sessions, id)
			delete(b.idPools, id)
			delete(b.inboundDedup, id)
			b.hooks.OnClientExpired(id)
			if b.stats != nil {
				b.stats.ClientDisconnected(true)
			}
		}
	}
	b.mu.Unlock()

	for _, dw := range dueWills {
		b.publishWill(dw.clientID, dw.will)
	}
}

// publishWill routes a session's will message as a regular publish, as if
// the disconnected client itself had sent it (spec §4.6.2).
func (b *Broker) publishWill(fromClientID string, will *session.WillMessage) {
	msg := message.NewMessage(0, will.Topic, will.Payload, toQoS(will.QoS), will.Retain, will.Properties)
	_ = b.Publish(context.Background(), fromClientID, msg)
}

// CheckFlowRate records one publish of the given QoS against clientID's
// session flow-rate window and, if it exceeds the configured per-QoS
// ceiling, bans the session and reports true ("this session should be
// disconnected").
func (b *Broker) CheckFlowRate(clientID string, qos byte, now time.Time) bool {
	b.mu.RLock()
	sess, ok := b.sessions[clientID]
	max := b.maxRateFor(qos)
	duration := b.banDuration
	b.mu.RUnlock()
	if !ok {
		return false
	}

	if !sess.RecordPublish(qos, now, max) {
		return false
	}
	b.Ban(clientID, now, duration)
	return true
}

func (b *Broker) maxRateFor(qos byte) int {
	switch qos {
	case 1:
		return b.flowRates.QoS1
	case 2:
		return b.flowRates.QoS2
	default:
		return b.flowRates.QoS0
	}
}

// IsBanned reports whether clientID is currently banned from reconnecting.
func (b *Broker) IsBanned(clientID string, now time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	until, ok := b.banned[clientID]
	return ok && now.Before(until)
}

// Ban marks clientID banned until now+duration. If banAccumulative is set,
// a ban while already banned extends from the existing expiry rather than now.
func (b *Broker) Ban(clientID string, now time.Time, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	base := now
	if b.banAccum {
		if existing, ok := b.banned[clientID]; ok && existing.After(base) {
			base = existing
		}
	}
	until := base.Add(duration)
	b.banned[clientID] = until
	if sess, ok := b.sessions[clientID]; ok {
		sess.SetBanTimeout(until.Sub(now))
	}
}

// SetBanAccumulative toggles whether repeated bans extend the existing window.
func (b *Broker) SetBanAccumulative(accumulative bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.banAccum = accumulative
}

// Connect registers a fresh session for clientID. conn is the live connection
// making this CONNECT, or nil for callers (tests, internal reconnection paths)
// that don't need live-connection semantics. If clientID already has a live
// connection other than conn, it is sent a SessionTakenOver DISCONNECT (v5
// only) and closed before the new session is established (spec §4.6.1).
func (b *Broker) Connect(clientID string, cleanStart bool, expiryInterval uint32, protocolVersion byte, conn Conn) (sess *session.Session, sessionPresent bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.sessions[clientID]; ok {
		b.evictPriorConnLocked(clientID, existing, conn)

		if !cleanStart {
			existing.SetActive()
			b.bindConnLocked(clientID, existing, conn)
			if b.stats != nil {
				b.stats.ClientConnected()
			}
			return existing, true
		}
		b.router.UnsubscribeAll(clientID)
	}

	sess = session.New(clientID, cleanStart, expiryInterval, protocolVersion)
	sess.SetActive()
	b.sessions[clientID] = sess
	b.idPools[clientID] = idalloc.New(16)
	b.inboundDedup[clientID] = qos.NewDedupCache(qos.DefaultConfig().DedupWindowSize)
	b.bindConnLocked(clientID, sess, conn)
	if b.stats != nil {
		b.stats.ClientConnected()
	}
	return sess, false
}

func (b *Broker) bindConnLocked(clientID string, sess *session.Session, conn Conn) {
	if conn == nil {
		return
	}
	sess.SetConnHandle(conn)
	b.conns[clientID] = conn
}

// evictPriorConnLocked closes clientID's previously-registered live connection
// if conn is replacing it with a different one. Must be called with b.mu held.
func (b *Broker) evictPriorConnLocked(clientID string, existing *session.Session, conn Conn) {
	if conn == nil {
		return
	}
	prior := existing.ConnHandle()
	if prior == nil {
		return
	}
	priorConn, ok := prior.(Conn)
	if !ok || priorConn == conn {
		return
	}

	if priorConn.ProtocolVersion() == encoding.ProtocolVersion50 {
		_ = encoding.EncodePacket(priorConn, &encoding.DisconnectPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.DISCONNECT},
			ReasonCode:  encoding.ReasonSessionTakenOver,
		})
	}
	_ = priorConn.Close()
	delete(b.conns, clientID)
}

// Disconnect tears down clientID's live connection binding and, for a
// clean-start or zero-expiry session, evicts it immediately; otherwise it
// marks the session disconnected and leaves it for tick to expire or
// reconnect to reclaim. A will message due now (delay elapsed, or the session
// is being evicted so no future tick can fire) is published as a side effect.
func (b *Broker) Disconnect(clientID string) {
	b.mu.Lock()
	sess, ok := b.sessions[clientID]
	if !ok {
		b.mu.Unlock()
		return
	}

	delete(b.conns, clientID)
	sess.SetConnHandle(nil)
	sess.SetDisconnected()

	evict := sess.CleanStart || sess.GetExpiryInterval() == 0
	will := sess.GetWillMessage()
	publishNow := will != nil && (evict || sess.ShouldPublishWill())
	if publishNow {
		sess.ClearWillMessage()
	}

	if evict {
		delete(b.sessions, clientID)
		delete(b.idPools, clientID)
		delete(b.inboundDedup, clientID)
	}
	b.mu.Unlock()

	if evict {
		b.router.UnsubscribeAll(clientID)
	}
	if b.stats != nil {
		b.stats.ClientDisconnected(false)
	}
	if publishNow {
		b.publishWill(clientID, will)
	}
}

// Session returns the live session for clientID, if any.
func (b *Broker) Session(clientID string) (*session.Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[clientID]
	return s, ok
}

// InboundDedup returns clientID's inbound duplicate-publish cache, if it has
// a live session.
func (b *Broker) InboundDedup(clientID string) (*qos.DedupCache, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.inboundDedup[clientID]
	return d, ok
}

// IDPool returns clientID's packet-identifier allocator, if it has a live session.
func (b *Broker) IDPool(clientID string) (*idalloc.Pool, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.idPools[clientID]
	return p, ok
}

// Router exposes the subscription router for SUBSCRIBE/UNSUBSCRIBE handling.
func (b *Broker) Router() *topic.Router { return b.router }

// Retained exposes the retained-message store.
func (b *Broker) Retained() *store.RetainedStore { return b.retained }

// Hooks exposes the hook manager.
func (b *Broker) Hooks() *hook.Manager { return b.hooks }

// Subscribe adds sub to the router and, on success, delivers any matching
// retained messages to the new subscriber (subject to sub.RetainHandling).
func (b *Broker) Subscribe(ctx context.Context, sub *topic.Subscription) error {
	isNew := true
	if sess, ok := b.Session(sub.ClientID); ok {
		_, existed := sess.GetSubscription(sub.TopicFilter)
		isNew = !existed
		sess.AddSubscription(&session.Subscription{
			TopicFilter:            sub.TopicFilter,
			QoS:                    sub.QoS,
			NoLocal:                sub.NoLocal,
			RetainAsPublished:      sub.RetainAsPublished,
			RetainHandling:         sub.RetainHandling,
			SubscriptionIdentifier: sub.SubscriptionIdentifier,
			SubscribedAt:           time.Now(),
		})
	}

	if err := b.router.Subscribe(sub); err != nil {
		return errors.Wrap(err, "broker: subscribe")
	}
	return b.deliverRetainedOnSubscribe(ctx, sub, isNew)
}

// deliverRetainedOnSubscribe applies RetainHandling (spec §4.5): 0 always
// sends matching retained messages, 1 sends them only for a brand new
// subscription (isNew), 2 never sends them.
func (b *Broker) deliverRetainedOnSubscribe(ctx context.Context, sub *topic.Subscription, isNew bool) error {
	if sub.RetainHandling == 2 {
		return nil
	}
	if sub.RetainHandling == 1 && !isNew {
		return nil
	}
	matched, err := b.retained.Match(ctx, sub.TopicFilter, topic.NewTopicMatcher())
	if err != nil {
		return errors.Wrap(err, "broker: match retained")
	}
	for _, msg := range matched {
		retained := msg.Clone()
		retained.Retain = true
		if retained.QoS > toQoS(sub.QoS) {
			retained.QoS = toQoS(sub.QoS)
		}
		b.enqueueDeliver(sub.ClientID, retained)
	}
	return nil
}
