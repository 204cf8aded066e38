package orch

import (
	"sync"
	"time"

	"github.com/dkeye/securecall/internal/domain"
)

// Timers holds one cancellable deadline per call.
type Timers struct {
	mu     sync.Mutex
	timers map[domain.CallID]*time.Timer
}

func NewTimers() *Timers {
	return &Timers{timers: make(map[domain.CallID]*time.Timer)}
}

// Schedule runs fn after d unless cancelled first. A previous timer for id is replaced.
func (t *Timers) Schedule(id domain.CallID, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[id]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.timers[id] == timer {
			delete(t.timers, id)
		}
		t.mu.Unlock()
		fn()
	})
	t.timers[id] = timer
}

// Cancel stops the timer of id. It reports whether a pending timer was stopped.
func (t *Timers) Cancel(id domain.CallID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.timers[id]
	if !ok {
		return false
	}
	delete(t.timers, id)
	return timer.Stop()
}

func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

func (t *Timers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
