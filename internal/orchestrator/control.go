package orchestrator

import (
	"sync"

	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// control is the flag a running worker reads at every item boundary.
// An empty request means "keep going".
type control struct {
	mu        sync.Mutex
	requested domain.JobStatus
	signal    chan struct{}
}

func newControl() *control {
	return &control{signal: make(chan struct{}, 1)}
}

// request records the wanted status and wakes a worker blocked in pause.
// A pending cancel is final; request reports false when it refuses s.
func (c *control) request(s domain.JobStatus) bool {
	c.mu.Lock()
	if c.requested == domain.JobCancelled && s != domain.JobCancelled {
		c.mu.Unlock()
		return false
	}
	c.requested = s
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
	return true
}

func (c *control) get() domain.JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested
}
