package session

import "time"

// flowWindow is a one-second fixed-window counter, the same shape as
// hook.RateLimitHook's internal rate limiter, repurposed here to detect a
// ban-worthy publish rate instead of rejecting over a configurable window.
type flowWindow struct {
	windowStart time.Time
	count       int
}

func newFlowWindow() *flowWindow {
	return &flowWindow{}
}

// record increments the window's count, rolling the window over once a full
// second has elapsed since it started, and returns the resulting rate.
func (w *flowWindow) record(now time.Time) int {
	if w.windowStart.IsZero() || now.Sub(w.windowStart) >= time.Second {
		w.windowStart = now
		w.count = 1
		return w.count
	}
	w.count++
	return w.count
}

// RecordPublish records one publish of the given QoS against its one-second
// flow-rate window and reports whether the resulting rate exceeds
// maxPerSecond, meaning this session should be banned.
func (s *Session) RecordPublish(qos byte, now time.Time, maxPerSecond int) bool {
	if qos > 2 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rate := s.flowRates[qos].record(now)
	return maxPerSecond > 0 && rate > maxPerSecond
}

// SetBanTimeout sets (or, if accumulative, should be added to by the caller
// before calling) the number of seconds remaining before this session may
// reconnect.
func (s *Session) SetBanTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BanTimeout = d
}

// IsBanned reports whether this session currently carries a nonzero ban timeout.
func (s *Session) IsBanned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BanTimeout > 0
}

// TickBanTimeout decrements the ban timeout by one tick interval, floored at
// zero, and returns the remaining timeout.
func (s *Session) TickBanTimeout(tick time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BanTimeout <= tick {
		s.BanTimeout = 0
	} else {
		s.BanTimeout -= tick
	}
	return s.BanTimeout
}
