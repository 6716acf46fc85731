package swarm

import (
	"sync"
	"time"
)

// AIMD implements additive-increase, multiplicative-decrease concurrency
// control: healthy latency grows the pool linearly, a throttle halves it.
type AIMD struct {
	mu          sync.Mutex
	concurrency int
	minWorkers  int
	maxWorkers  int
	lastChange  time.Time
}

func NewAIMD(start, min, max int) *AIMD {
	if start < min {
		start = min
	}
	if start > max {
		start = max
	}
	return &AIMD{
		concurrency: start,
		minWorkers:  min,
		maxWorkers:  max,
		lastChange:  time.Now(),
	}
}

func (a *AIMD) GetConcurrency() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.concurrency
}

// Feedback records one task outcome and adjusts the target.
func (a *AIMD) Feedback(lat time.Duration, throttled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	// dampen oscillation
	if now.Sub(a.lastChange) < 100*time.Millisecond {
		return
	}

	if throttled {
		a.concurrency = a.concurrency / 2
		if a.concurrency < a.minWorkers {
			a.concurrency = a.minWorkers
		}
		a.lastChange = now
		return
	}

	if lat < 100*time.Millisecond {
		a.concurrency += 5
		if a.concurrency > a.maxWorkers {
			a.concurrency = a.maxWorkers
		}
		a.lastChange = now
	}
}
