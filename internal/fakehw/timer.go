package fakehw

import (
	"sync"
	"time"

	"github.com/SPlatform/SPBootloader/timer"
)

// Timer is an in-memory timer.Timer. By default it behaves like a real
// one-shot timer (backed by time.AfterFunc); tests that need a
// deterministic expiry without sleeping call Fire directly instead of
// waiting out the real duration.
type Timer struct {
	mu       sync.Mutex
	cb       timer.Callback
	realTime *time.Timer
}

// NewTimer returns a fake timer with no callback installed yet.
func NewTimer() *Timer {
	return &Timer{}
}

// SetCallback implements timer.Timer.
func (t *Timer) SetCallback(cb timer.Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cb = cb
}

// Start implements timer.Timer.
func (t *Timer) Start(timeoutMs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.realTime != nil {
		t.realTime.Stop()
	}
	t.realTime = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		t.mu.Lock()
		cb := t.cb
		t.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

// Stop implements timer.Timer.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.realTime != nil {
		t.realTime.Stop()
	}
}

// Release implements timer.Timer.
func (t *Timer) Release() {
	t.Stop()
}

// Fire invokes the callback immediately, as if the timer had just expired,
// without waiting for real time to pass.
func (t *Timer) Fire() {
	t.mu.Lock()
	if t.realTime != nil {
		t.realTime.Stop()
	}
	cb := t.cb
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}
