package crew

import "sync"

// Concurrency is the live limit on simultaneously running workers.
// The dispatch loop reads Limit on every iteration and wakes on Changed,
// so a raised limit admits queued tasks without waiting for a completion.
type Concurrency struct {
	mu      sync.Mutex
	limit   int
	changed chan struct{}
}

// NewConcurrency returns a limit of n (minimum 1).
func NewConcurrency(n int) *Concurrency {
	if n < 1 {
		n = 1
	}
	return &Concurrency{limit: n, changed: make(chan struct{})}
}

// Limit returns the current limit.
func (c *Concurrency) Limit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// Set changes the limit and wakes every waiter.
func (c *Concurrency) Set(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n == c.limit {
		return
	}
	c.limit = n
	close(c.changed)
	c.changed = make(chan struct{})
}

// Changed returns a channel closed by the next Set. Grab it before reading
// Limit to avoid missing an update.
func (c *Concurrency) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}
