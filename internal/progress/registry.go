package progress

import (
	"sort"
	"sync"
)

// CloseReason tells a subscriber why its channel was closed
type CloseReason string

const (
	// ReasonFinished means the job reached a terminal state
	ReasonFinished CloseReason = "finished"
	// ReasonSlow means the subscriber did not keep up and was dropped
	ReasonSlow CloseReason = "slow"
	// ReasonUnsubscribed means the subscriber closed the subscription itself
	ReasonUnsubscribed CloseReason = "unsubscribed"
)

// Subscription receives the messages of one job
type Subscription struct {
	C <-chan Message

	ch     chan Message
	owner  *Channel
	reason CloseReason
}

// Reason returns why C was closed. It is empty while C is open.
func (s *Subscription) Reason() CloseReason {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	return s.reason
}

// Close unsubscribes
func (s *Subscription) Close() {
	s.owner.remove(s, ReasonUnsubscribed)
}

// Channel is the fan-out point of one job
type Channel struct {
	JobID string

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newChannel(jobID string) *Channel {
	return &Channel{JobID: jobID, subs: make(map[*Subscription]struct{})}
}

// subscribe adds a subscriber whose buffer already holds initial
func (c *Channel) subscribe(buffer int, initial []Message) *Subscription {
	if buffer < len(initial)+1 {
		buffer = len(initial) + 1
	}
	ch := make(chan Message, buffer)
	sub := &Subscription{C: ch, ch: ch, owner: c}
	for _, m := range initial {
		ch <- m
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		sub.reason = ReasonFinished
		close(ch)
		return sub
	}
	c.subs[sub] = struct{}{}
	return sub
}

// send delivers m to every subscriber without blocking. Subscribers whose
// buffer is full are closed.
func (c *Channel) send(m Message) (dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs {
		select {
		case sub.ch <- m:
		default:
			delete(c.subs, sub)
			sub.reason = ReasonSlow
			close(sub.ch)
			dropped++
		}
	}
	return dropped
}

func (c *Channel) remove(sub *Subscription, reason CloseReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[sub]; !ok {
		return
	}
	delete(c.subs, sub)
	sub.reason = reason
	close(sub.ch)
}

// close ends every subscription with ReasonFinished
func (c *Channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for sub := range c.subs {
		delete(c.subs, sub)
		sub.reason = ReasonFinished
		close(sub.ch)
	}
}

// Subscribers returns the number of live subscriptions
func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Registry tracks the open channel of every job. A job never has more than
// one channel.
type Registry struct {
	channels map[string]*Channel
	mu       sync.Mutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Open returns the channel of a job, creating it if needed. created reports
// whether this call created it.
func (r *Registry) Open(jobID string) (ch *Channel, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[jobID]; ok {
		return ch, false
	}
	ch = newChannel(jobID)
	r.channels[jobID] = ch
	return ch, true
}

// Get returns the channel of a job or nil
func (r *Registry) Get(jobID string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[jobID]
}

// Close removes a job's channel and ends its subscriptions
func (r *Registry) Close(jobID string) bool {
	r.mu.Lock()
	ch, ok := r.channels[jobID]
	delete(r.channels, jobID)
	r.mu.Unlock()

	if ok {
		ch.close()
	}
	return ok
}

// JobIDs returns the ids of all open channels, sorted
func (r *Registry) JobIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of open channels
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
