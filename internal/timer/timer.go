// Package timer enforces the maximum duration of a voice recording.
package timer

import (
	"sync"
	"time"
)

// SessionTimer counts elapsed seconds for one armed session and fires an
// expiry callback once the configured maximum is reached.
type SessionTimer struct {
	interval time.Duration

	mu         sync.Mutex
	generation uint64
	stop       chan struct{}
}

// New returns a timer ticking once per interval; zero selects one second.
func New(interval time.Duration) *SessionTimer {
	if interval <= 0 {
		interval = time.Second
	}
	return &SessionTimer{interval: interval}
}

// Arm starts ticking. onTick receives the elapsed tick count after every tick;
// onExpire runs exactly once when elapsed >= maxSeconds, after which the timer
// disarms itself. Arming an armed timer replaces the previous session.
func (t *SessionTimer) Arm(maxSeconds int, onTick func(elapsed int), onExpire func()) {
	t.mu.Lock()
	t.disarmLocked()
	t.generation++
	gen := t.generation
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	go t.loop(gen, stop, maxSeconds, onTick, onExpire)
}

// Disarm stops ticking. Safe to call repeatedly and on an unarmed timer.
func (t *SessionTimer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
}

// Armed reports whether a session is currently being timed.
func (t *SessionTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *SessionTimer) disarmLocked() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	t.stop = nil
	t.generation++
}

func (t *SessionTimer) loop(gen uint64, stop <-chan struct{}, maxSeconds int, onTick func(int), onExpire func()) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	elapsed := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		elapsed++
		// A tick that raced with Disarm/Arm belongs to a dead generation.
		if !t.current(gen) {
			return
		}
		if onTick != nil {
			onTick(elapsed)
		}
		if elapsed >= maxSeconds {
			if !t.expire(gen) {
				return
			}
			if onExpire != nil {
				onExpire()
			}
			return
		}
	}
}

func (t *SessionTimer) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation == gen && t.stop != nil
}

// expire disarms generation gen and reports whether it was still live.
func (t *SessionTimer) expire(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.generation != gen || t.stop == nil {
		return false
	}
	t.disarmLocked()
	return true
}
