package shutdown

import (
	"errors"
	"sync"
	"time"
)

// ErrShuttingDown is returned by BeginOperation once a shutdown has started.
// No new orders may start after that point; this is a hard invariant, not a
// race to be tolerated.
var ErrShuttingDown = errors.New("shutdown in progress")

// Coordinator is a reference-counted gate wrapped around every external
// order call. It is built on a mutex and condition variable rather than
// polling, so the drain wait cannot miss a wakeup.
type Coordinator struct {
	mu           sync.Mutex
	cond         *sync.Cond
	inFlight     int
	shuttingDown bool
}

// Result reports the outcome of a graceful drain.
type Result struct {
	Drained     bool
	Outstanding int
	Waited      time.Duration
}

// NewCoordinator creates a shutdown coordinator.
func NewCoordinator() *Coordinator {
	c := &Coordinator{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// BeginOperation registers an in-flight operation. It fails immediately if a
// shutdown is in progress, before any external call is made.
func (c *Coordinator) BeginOperation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shuttingDown {
		return ErrShuttingDown
	}
	c.inFlight++
	return nil
}

// EndOperation unregisters an in-flight operation and wakes the drain waiter
// when the count reaches zero.
func (c *Coordinator) EndOperation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	if c.inFlight == 0 {
		c.cond.Broadcast()
	}
}

// InFlight returns the current number of registered operations.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// PrepareShutdown sets the shutdown flag, rejects all new operations from
// this point on, and waits up to timeout for in-flight operations to finish.
// The result says whether the drain completed and, if not, how many
// operations were still outstanding.
func (c *Coordinator) PrepareShutdown(timeout time.Duration) Result {
	start := time.Now()

	c.mu.Lock()
	c.shuttingDown = true

	if c.inFlight == 0 {
		c.mu.Unlock()
		return Result{Drained: true, Waited: time.Since(start)}
	}

	// sync.Cond has no timed wait; a timer broadcast bounds the wait instead
	// of polling.
	deadline := start.Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	for c.inFlight > 0 && time.Now().Before(deadline) {
		c.cond.Wait()
	}
	outstanding := c.inFlight
	c.mu.Unlock()

	return Result{
		Drained:     outstanding == 0,
		Outstanding: outstanding,
		Waited:      time.Since(start),
	}
}
