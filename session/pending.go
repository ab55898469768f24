package session

import (
	"sync"
	"time"
)

// pendingUnit is one queued outbound publish, keyed by a sequence number that
// is assigned once and never reused, so delivery order survives packet-id
// wraparound and reuse. dispatched marks whether a packet id has already been
// assigned to it (the unit is in flight, awaiting an ack) or it's still
// waiting for quota to free up. attempts/lastAttempt support the broker's
// redelivery sweep once a unit has been in flight longer than its retry
// policy allows.
type pendingUnit struct {
	key         uint64
	msg         *PendingMessage
	dispatched  bool
	packetID    uint16
	attempts    int
	lastAttempt time.Time
}

// InFlightUnit is a snapshot of one dispatched-but-unacked publish, returned
// by InFlight for the broker's retry sweep to evaluate.
type InFlightUnit struct {
	PacketID    uint16
	Msg         *PendingMessage
	Attempts    int
	LastAttempt time.Time
}

// PendingQueue is the ordered FIFO of publishes awaiting delivery for one
// session, independent of the packet-id each unit is eventually assigned
// while in flight.
type PendingQueue struct {
	mu      sync.Mutex
	nextKey uint64
	items   []pendingUnit
	byID    map[uint16]uint64 // packet id -> queue key, for in-flight lookup
}

// NewPendingQueue creates an empty pending-publish queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{
		byID: make(map[uint16]uint64),
	}
}

// Enqueue appends msg to the back of the queue and returns its monotonic key.
func (q *PendingQueue) Enqueue(msg *PendingMessage) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextKey++
	key := q.nextKey
	q.items = append(q.items, pendingUnit{key: key, msg: msg})
	return key
}

// Len reports how many units are queued, in flight or not.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Front returns the oldest unit in the queue without removing it.
func (q *PendingQueue) Front() (*PendingMessage, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, 0, false
	}
	u := q.items[0]
	return u.msg, u.key, true
}

// NextUndispatched returns the oldest unit that hasn't yet been assigned a
// packet id, the unit the flow-control loop should dispatch next.
func (q *PendingQueue) NextUndispatched() (*PendingMessage, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, u := range q.items {
		if !u.dispatched {
			return u.msg, u.key, true
		}
	}
	return nil, 0, false
}

// MarkInFlight records that packetID now identifies the unit keyed by key and
// marks it dispatched, so a later ack can find it again without scanning the
// queue and the flow-control loop won't redispatch it.
func (q *PendingQueue) MarkInFlight(packetID uint16, key uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.byID[packetID] = key
	for i := range q.items {
		if q.items[i].key == key {
			q.items[i].dispatched = true
			q.items[i].packetID = packetID
			q.items[i].attempts = 1
			q.items[i].lastAttempt = time.Now()
			return
		}
	}
}

// InFlight returns a snapshot of every currently-dispatched unit.
func (q *PendingQueue) InFlight() []InFlightUnit {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]InFlightUnit, 0)
	for _, u := range q.items {
		if !u.dispatched {
			continue
		}
		out = append(out, InFlightUnit{PacketID: u.packetID, Msg: u.msg, Attempts: u.attempts, LastAttempt: u.lastAttempt})
	}
	return out
}

// MarkRetried records another delivery attempt for packetID, called right
// before the broker resends it with DUP set.
func (q *PendingQueue) MarkRetried(packetID uint16, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key, ok := q.byID[packetID]
	if !ok {
		return
	}
	for i := range q.items {
		if q.items[i].key == key {
			q.items[i].attempts++
			q.items[i].lastAttempt = now
			return
		}
	}
}

// Remove drops the unit identified by packetID from both the id index and
// the ordered queue, wherever it currently sits — acks need not arrive in
// order relative to the front of the queue when multiple units are in
// flight at once.
func (q *PendingQueue) Remove(packetID uint16) (*PendingMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key, ok := q.byID[packetID]
	if !ok {
		return nil, false
	}
	delete(q.byID, packetID)

	for i, u := range q.items {
		if u.key == key {
			msg := u.msg
			q.items = append(q.items[:i], q.items[i+1:]...)
			return msg, true
		}
	}
	return nil, false
}

// Clear empties the queue and the id index, used on a clean-start reset.
func (q *PendingQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.byID = make(map[uint16]uint64)
}
