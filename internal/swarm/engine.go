// Package swarm is an adaptive worker pool. Concurrency follows an AIMD
// controller fed by task latency and provider throttling signals, so a
// burst of rate-limit errors halves the pool instead of hammering the API.
package swarm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/smithy-go"
)

// Task is one unit of work.
type Task func(ctx context.Context) error

// Engine manages the worker pool.
type Engine struct {
	aimd    *AIMD
	tasks   chan Task
	wg      sync.WaitGroup
	pending sync.WaitGroup
	quit    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	active int
	stats  Stats
}

// Stats holds runtime statistics for the engine.
type Stats struct {
	ActiveWorkers  int
	Concurrency    int
	TasksCompleted int64
	Throttles      int64
}

// NewEngine creates a pool that starts at start workers and adapts
// between min and max.
func NewEngine(start, min, max int) *Engine {
	return &Engine{
		aimd:  NewAIMD(start, min, max),
		tasks: make(chan Task, 1024),
		quit:  make(chan struct{}),
	}
}

// Start begins the scaling loop.
func (e *Engine) Start(ctx context.Context) {
	go e.loop(ctx)
}

// Submit queues a task.
func (e *Engine) Submit(t Task) {
	e.pending.Add(1)
	e.tasks <- t
}

// Drain blocks until every submitted task has completed.
func (e *Engine) Drain() {
	e.pending.Wait()
}

// Stop shuts the pool down. Call Drain first if in-flight work matters.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.quit) })
	e.wg.Wait()
}

// GetStats returns a snapshot of pool state.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.ActiveWorkers = e.active
	s.Concurrency = e.aimd.GetConcurrency()
	return s
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.quit:
			return
		case <-ticker.C:
			target := e.aimd.GetConcurrency()
			current := e.activeCount()
			for i := current; i < target; i++ {
				e.wg.Add(1)
				go e.worker(ctx)
			}
			// Excess workers exit on their own once they notice the
			// lower target.
		}
	}
}

func (e *Engine) activeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Engine) worker(ctx context.Context) {
	e.mu.Lock()
	e.active++
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
		e.wg.Done()
	}()

	for {
		if e.activeCount() > e.aimd.GetConcurrency() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-e.quit:
			return
		case task := <-e.tasks:
			start := time.Now()
			err := task(ctx)
			latency := time.Since(start)

			throttled := IsThrottle(err)
			e.aimd.Feedback(latency, throttled)

			e.mu.Lock()
			e.stats.TasksCompleted++
			if throttled {
				e.stats.Throttles++
			}
			e.mu.Unlock()
			e.pending.Done()
		case <-time.After(10 * time.Millisecond):
			// Idle; loop back to re-check the scale-down target.
		}
	}
}

// IsThrottle reports whether err is a provider rate-limit response.
func IsThrottle(err error) bool {
	if err == nil {
		return false
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "Throttling", "ThrottlingException", "TooManyRequestsException",
			"RequestLimitExceeded", "SlowDown":
			return true
		}
	}
	return false
}
