package delegation

import (
	"sync"
	"time"
)

// Watchdog fires OnTimeout if no tool call has started within Threshold of
// activity (§4.1 "Watchdog"). It is pausable with a stacking counter: pauses
// nest across levels of delegation so no ancestor times out while a
// descendant is legitimately working (§4.3 "Parent watchdog pause/resume").
type Watchdog struct {
	mu        sync.Mutex
	threshold time.Duration
	onTimeout func()
	timer     *time.Timer
	pauseCnt  int
	stopped   bool
}

// NewWatchdog creates a Watchdog with the given inactivity threshold
// (default 60s per §6.5 activityTimeoutMs) and starts it running.
func NewWatchdog(threshold time.Duration, onTimeout func()) *Watchdog {
	if threshold <= 0 {
		threshold = 60 * time.Second
	}
	w := &Watchdog{threshold: threshold, onTimeout: onTimeout}
	w.mu.Lock()
	w.timer = time.AfterFunc(threshold, w.fire)
	w.mu.Unlock()
	return w
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.stopped || w.pauseCnt > 0 {
		w.mu.Unlock()
		return
	}
	cb := w.onTimeout
	w.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Kick resets the inactivity timer, called on every tool-call start to mark
// the sub-agent as still making progress.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.pauseCnt == 0 {
		w.timer = time.AfterFunc(w.threshold, w.fire)
	}
}

// Pause increments the stacking counter. If the counter goes from 0 to 1,
// the underlying timer is actually stopped.
func (w *Watchdog) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pauseCnt++
	if w.pauseCnt == 1 && w.timer != nil {
		w.timer.Stop()
	}
}

// Resume decrements the stacking counter. If the counter goes from 1 to 0,
// the watchdog restarts with a fresh timer.
func (w *Watchdog) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pauseCnt == 0 {
		return
	}
	w.pauseCnt--
	if w.pauseCnt == 0 && !w.stopped {
		w.timer = time.AfterFunc(w.threshold, w.fire)
	}
}

// Stop permanently stops the watchdog (called on sub-agent cleanup).
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}
