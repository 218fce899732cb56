package orchestrator

import "sync"

// Pool bounds the number of jobs that run at the same time
type Pool struct {
	size      int
	available int
	mu        sync.Mutex
	onRelease func(available int)
}

// NewPool creates a pool with the given number of worker slots. Sizes below
// one are raised to one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size, available: size}
}

// SetOnRelease sets a callback invoked after a slot was returned
func (p *Pool) SetOnRelease(callback func(available int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRelease = callback
}

// Acquire tries to claim a slot. Returns true if successful.
func (p *Pool) Acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.available <= 0 {
		return false
	}
	p.available--
	return true
}

// Release returns a slot to the pool
func (p *Pool) Release() {
	p.mu.Lock()
	if p.available < p.size {
		p.available++
	}
	callback := p.onRelease
	available := p.available
	p.mu.Unlock()

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(available)
	}
}

// putBack undoes an Acquire that found no work, without the release callback
func (p *Pool) putBack() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.available < p.size {
		p.available++
	}
}

// Available returns the number of free slots
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// InUse returns the number of running jobs
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - p.available
}

// Size returns the pool capacity
func (p *Pool) Size() int {
	return p.size
}
