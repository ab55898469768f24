// Package stats tracks broker-wide counters and moving averages and publishes them
// both as MQTT $SYS topics (JSON payloads) and as Prometheus metrics, two views onto
// the same underlying Statistics value, so callers share one set of counters
// Stat struct through both prometheus.MustRegister and its own uptime ticker.
package stats

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// windows are the moving-average periods it tracks for every counter.
var windows = [3]time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}

// movingAverage tracks a counter's rate over three rolling windows using one ring
// sample per tick; Rollover is called once per publish cadence (every 5s).
type movingAverage struct {
	samples [3][]float64 // one ring buffer per window, sized window/tickInterval
	total   float64
}

func newMovingAverage(tickInterval time.Duration) *movingAverage {
	m := &movingAverage{}
	for i, w := range windows {
		n := int(w / tickInterval)
		if n < 1 {
			n = 1
		}
		m.samples[i] = make([]float64, 0, n)
	}
	return m
}

func (m *movingAverage) observe(delta float64, tickInterval time.Duration) {
	m.total += delta
	for i, w := range windows {
		limit := int(w / tickInterval)
		if limit < 1 {
			limit = 1
		}
		m.samples[i] = append(m.samples[i], delta)
		if len(m.samples[i]) > limit {
			m.samples[i] = m.samples[i][len(m.samples[i])-limit:]
		}
	}
}

func (m *movingAverage) averages(tickInterval time.Duration) [3]float64 {
	var out [3]float64
	for i := range windows {
		if len(m.samples[i]) == 0 {
			continue
		}
		var sum float64
		for _, s := range m.samples[i] {
			sum += s
		}
		elapsed := float64(len(m.samples[i])) * tickInterval.Seconds()
		if elapsed > 0 {
			out[i] = sum / elapsed
		}
	}
	return out
}

// Counter is a published counter value: a running total plus 60/300/900s moving averages.
type Counter struct {
	Count    uint64     `json:"count"`
	Averages [3]float64 `json:"averages"` // [60s, 300s, 900s], messages/sec
}

// Statistics is the broker-wide counter set published under $SYS. All mutation
// goes through its methods, which take a short-lived mutex around the arithmetic —
// the one shared-state exception the concurrency model calls out, since both listener
// actors (byte counts) and the broker actor (message counts) touch it.
type Statistics struct {
	mu sync.Mutex

	startedAt time.Time

	clientsTotal        uint64
	clientsMaximum      uint64
	clientsConnected    uint64
	clientsDisconnected uint64
	clientsExpired      uint64

	subscriptionsTotal  uint64
	subscriptionsShared uint64

	received *movingAverage
	sent     *movingAverage
	dropped  *movingAverage

	bytesReceived *movingAverage
	bytesSent     *movingAverage

	promReceived  prometheus.Counter
	promSent      prometheus.Counter
	promDropped   prometheus.Counter
	promConnected prometheus.Gauge
}

// New creates a Statistics tracker. reg may be nil to skip Prometheus registration
// (useful in tests); tickInterval is the cadence Tick is called at (normally 1s,
// per the clock package).
func New(reg prometheus.Registerer, tickInterval time.Duration) *Statistics {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	s := &Statistics{
		startedAt:     time.Now(),
		received:      newMovingAverage(tickInterval),
		sent:          newMovingAverage(tickInterval),
		dropped:       newMovingAverage(tickInterval),
		bytesReceived: newMovingAverage(tickInterval),
		bytesSent:     newMovingAverage(tickInterval),
		promReceived:  prometheus.NewCounter(prometheus.CounterOpts{Name: "ax_messages_received_total", Help: "Total MQTT messages received"}),
		promSent:      prometheus.NewCounter(prometheus.CounterOpts{Name: "ax_messages_sent_total", Help: "Total MQTT messages sent"}),
		promDropped:   prometheus.NewCounter(prometheus.CounterOpts{Name: "ax_messages_dropped_total", Help: "Total MQTT messages dropped"}),
		promConnected: prometheus.NewGauge(prometheus.GaugeOpts{Name: "ax_clients_connected", Help: "Currently connected MQTT clients"}),
	}
	if reg != nil {
		reg.MustRegister(s.promReceived, s.promSent, s.promDropped, s.promConnected)
	}
	return s
}

// ClientConnected records a new connected client, bumping total/maximum/connected.
func (s *Statistics) ClientConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientsTotal++
	s.clientsConnected++
	if s.clientsConnected > s.clientsMaximum {
		s.clientsMaximum = s.clientsConnected
	}
	s.promConnected.Set(float64(s.clientsConnected))
}

// ClientDisconnected records a client leaving, optionally due to session expiry.
func (s *Statistics) ClientDisconnected(expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientsConnected > 0 {
		s.clientsConnected--
	}
	s.clientsDisconnected++
	if expired {
		s.clientsExpired++
	}
	s.promConnected.Set(float64(s.clientsConnected))
}

// SetSubscriptionCounts updates the live subscription totals (total and shared-only).
func (s *Statistics) SetSubscriptionCounts(total, shared uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptionsTotal = total
	s.subscriptionsShared = shared
}

// MessageReceived records one inbound PUBLISH of n payload bytes.
func (s *Statistics) MessageReceived(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received.total++
	s.bytesReceived.total += float64(n)
	s.promReceived.Inc()
}

// MessageSent records one outbound PUBLISH of n payload bytes.
func (s *Statistics) MessageSent(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent.total++
	s.bytesSent.total += float64(n)
	s.promSent.Inc()
}

// MessageDropped records one message that could not be delivered.
func (s *Statistics) MessageDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped.total++
	s.promDropped.Inc()
}

// Tick rolls the moving-average windows forward by one tickInterval. The broker's
// clock subscriber calls this every second; the $SYS/metrics publish cadence
// (every 5s) reads the rolled-up averages without re-deriving them.
func (s *Statistics) Tick(tickInterval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received.observe(0, tickInterval)
	s.sent.observe(0, tickInterval)
	s.dropped.observe(0, tickInterval)
	s.bytesReceived.observe(0, tickInterval)
	s.bytesSent.observe(0, tickInterval)
}

// uptimeString formats elapsed time as "[<d>d ][Nh ][Nm ][Ns]"
func uptimeString(elapsed time.Duration) string {
	d := int(elapsed.Hours()) / 24
	h := int(elapsed.Hours()) % 24
	m := int(elapsed.Minutes()) % 60
	sec := int(elapsed.Seconds()) % 60

	out := ""
	if d > 0 {
		out += fmt.Sprintf("%dd ", d)
	}
	if h > 0 || d > 0 {
		out += fmt.Sprintf("%dh ", h)
	}
	if m > 0 || h > 0 || d > 0 {
		out += fmt.Sprintf("%dm ", m)
	}
	out += fmt.Sprintf("%ds", sec)
	return out
}

// SysTopics returns the $SYS/... topic -> JSON payload map uses,
// ready to be published as retained QoS 0 messages.
func (s *Statistics) SysTopics(version, description string) map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	tick := time.Second
	out := make(map[string][]byte, 8)

	out["$SYS/broker/version"] = []byte(version)
	out["$SYS/broker/description"] = []byte(description)
	out["$SYS/broker/uptime"] = []byte(uptimeString(time.Since(s.startedAt)))

	clients, _ := json.Marshal(map[string]uint64{
		"total":        s.clientsTotal,
		"maximum":      s.clientsMaximum,
		"connected":    s.clientsConnected,
		"disconnected": s.clientsDisconnected,
		"expired":      s.clientsExpired,
	})
	out["$SYS/broker/clients"] = clients

	subs, _ := json.Marshal(map[string]uint64{
		"count":  s.subscriptionsTotal,
		"shared": s.subscriptionsShared,
	})
	out["$SYS/broker/subscriptions"] = subs

	out["$SYS/broker/messages/received"] = marshalCounter(s.received, tick)
	out["$SYS/broker/messages/sent"] = marshalCounter(s.sent, tick)
	out["$SYS/broker/messages/dropped"] = marshalCounter(s.dropped, tick)
	out["$SYS/broker/load/bytes/received"] = marshalCounter(s.bytesReceived, tick)
	out["$SYS/broker/load/bytes/sent"] = marshalCounter(s.bytesSent, tick)

	return out
}

func marshalCounter(m *movingAverage, tick time.Duration) []byte {
	c := Counter{Count: uint64(m.total), Averages: m.averages(tick)}
	data, _ := json.Marshal(c)
	return data
}
