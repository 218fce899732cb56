package progress

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// Source gives the broadcaster read access to stored jobs
type Source interface {
	ActiveJobs(ctx context.Context) ([]*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
}

// Config tunes a Broadcaster
type Config struct {
	// ReconcileInterval is how often channels are matched against active jobs
	ReconcileInterval time.Duration
	// SubscriberBuffer is the number of messages a subscriber may lag behind
	// before it is dropped
	SubscriberBuffer int
	// Smoothing is the EWMA weight of the newest item duration, in (0,1]
	Smoothing float64
}

// DefaultConfig returns the defaults used when a value is zero
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: 10 * time.Second,
		SubscriberBuffer:  64,
		Smoothing:         0.3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = d.ReconcileInterval
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		c.Smoothing = d.Smoothing
	}
	return c
}

// jobState is what the broadcaster remembers per job between messages
type jobState struct {
	seq      uint64
	status   domain.JobStatus
	progress *ProgressData
	avgItem  time.Duration
	lastProg *Message
	lastStat *Message
}

// Broadcaster turns orchestrator events into ordered per-job messages. It
// implements orchestrator.Listener.
type Broadcaster struct {
	registry *Registry
	source   Source
	cfg      Config
	now      func() time.Time

	mu   sync.Mutex
	jobs map[string]*jobState
}

// NewBroadcaster creates a broadcaster publishing into registry
func NewBroadcaster(registry *Registry, source Source, cfg Config) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		source:   source,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		jobs:     make(map[string]*jobState),
	}
}

// Registry returns the channel registry
func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// JobProgress publishes an item-level progress snapshot
func (b *Broadcaster) JobProgress(snap domain.ProgressSnapshot) {
	b.Publish(snap)
}

// JobStatusChanged publishes a status_update. A terminal status is followed
// by a final progress snapshot, after which the channel is closed.
func (b *Broadcaster) JobStatusChanged(job *domain.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.state(job.ID)
	st.status = job.Status
	ch, _ := b.registry.Open(job.ID)

	if job.Status.IsTerminal() {
		// counters of a finished job are final, regressions are impossible
		final := b.progressData(st, domain.SnapshotOf(job))
		b.emitProgress(ch, st, job.ID, final)
		b.emitStatus(ch, st, job.ID, job.Status)
		b.registry.Close(job.ID)
		delete(b.jobs, job.ID)
		return
	}
	b.emitStatus(ch, st, job.ID, job.Status)
}

// Publish stamps a snapshot with the next sequence number and pushes it to
// every subscriber. Snapshots that would move progress backwards are dropped.
func (b *Broadcaster) Publish(snap domain.ProgressSnapshot) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.state(snap.JobID)
	if st.progress != nil && snap.Processed() < st.progress.Processed() {
		log.Printf("progress: dropped stale snapshot for job %s (%d < %d)",
			snap.JobID, snap.Processed(), st.progress.Processed())
		return false
	}
	if snap.Status != "" {
		st.status = snap.Status
	} else if st.status == "" {
		st.status = domain.JobProcessing
	}
	if snap.LastItemDuration > 0 {
		if st.avgItem == 0 {
			st.avgItem = snap.LastItemDuration
		} else {
			a := b.cfg.Smoothing
			st.avgItem = time.Duration(a*float64(snap.LastItemDuration) + (1-a)*float64(st.avgItem))
		}
	}

	ch, _ := b.registry.Open(snap.JobID)
	b.emitProgress(ch, st, snap.JobID, b.progressData(st, snap))
	return true
}

// Subscribe returns a subscription whose first messages describe the
// current state of the job. Subscriptions to finished jobs receive that
// state and are closed right away.
func (b *Broadcaster) Subscribe(ctx context.Context, jobID string) (*Subscription, error) {
	job, err := b.source.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// the job may have finished before the lock was taken; its channel is
	// already gone then and must not be reopened
	if !job.Status.IsTerminal() {
		if job, err = b.source.GetJob(ctx, jobID); err != nil {
			return nil, err
		}
	}
	if job.Status.IsTerminal() {
		st := &jobState{status: job.Status}
		p := b.progressData(st, domain.SnapshotOf(job))
		initial := make([]Message, 0, 2)
		if m, err := newMessage(TypeProgressUpdate, jobID, 1, p); err == nil {
			initial = append(initial, m)
		}
		if m, err := newMessage(TypeStatusUpdate, jobID, 2, StatusData{Status: job.Status}); err == nil {
			initial = append(initial, m)
		}
		closed := newChannel(jobID)
		closed.close()
		return closed.subscribe(b.cfg.SubscriberBuffer, initial), nil
	}

	st := b.state(jobID)
	ch, _ := b.registry.Open(jobID)
	if st.lastProg == nil {
		if st.status == "" {
			st.status = job.Status
		}
		snap := domain.SnapshotOf(job)
		snap.Status = st.status
		b.emitProgress(ch, st, jobID, b.progressData(st, snap))
	}
	var initial []Message
	if st.lastProg != nil {
		initial = append(initial, *st.lastProg)
	}
	if st.lastStat != nil {
		initial = append(initial, *st.lastStat)
	}
	// deliver in sequence order
	if len(initial) == 2 && initial[1].Seq < initial[0].Seq {
		initial[0], initial[1] = initial[1], initial[0]
	}
	return ch.subscribe(b.cfg.SubscriberBuffer, initial), nil
}

// Run reconciles channels with the active jobs until ctx is cancelled
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		if err := b.Reconcile(ctx); err != nil && ctx.Err() == nil {
			log.Printf("progress: reconcile: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Reconcile opens channels for active jobs and closes channels of jobs that
// are no longer active, sending their final state first.
func (b *Broadcaster) Reconcile(ctx context.Context) error {
	active, err := b.source.ActiveJobs(ctx)
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(active))
	for _, job := range active {
		live[job.ID] = true
		if _, created := b.registry.Open(job.ID); created {
			log.Printf("progress: opened channel for job %s", job.ID)
		}
	}

	for _, id := range b.registry.JobIDs() {
		if live[id] {
			continue
		}
		job, err := b.source.GetJob(ctx, id)
		if err != nil {
			log.Printf("progress: closing channel for job %s: %v", id, err)
			b.mu.Lock()
			delete(b.jobs, id)
			b.mu.Unlock()
			b.registry.Close(id)
			continue
		}
		if !job.Status.IsActive() {
			b.JobStatusChanged(job)
		}
	}
	return nil
}

func (b *Broadcaster) state(jobID string) *jobState {
	st, ok := b.jobs[jobID]
	if !ok {
		st = &jobState{}
		b.jobs[jobID] = st
	}
	return st
}

// progressData derives the wire payload; the caller holds b.mu
func (b *Broadcaster) progressData(st *jobState, snap domain.ProgressSnapshot) ProgressData {
	p := ProgressData{
		TotalPosters:       snap.Total,
		CompletedPosters:   snap.Completed,
		FailedPosters:      snap.Failed,
		ProgressPercentage: domain.Percentage(snap.Processed(), snap.Total),
	}
	if snap.CurrentItem != "" {
		item := snap.CurrentItem
		p.CurrentPoster = &item
	}

	if st.status.IsTerminal() {
		return p
	}
	now := b.now()
	switch {
	case st.avgItem > 0:
		remaining := snap.Total - snap.Processed()
		if remaining < 0 {
			remaining = 0
		}
		eta := now.Add(time.Duration(remaining) * st.avgItem).UTC()
		p.EstimatedCompletion = &eta
	case st.progress != nil && st.progress.EstimatedCompletion != nil:
		eta := *st.progress.EstimatedCompletion
		if eta.Before(now) {
			eta = now.UTC()
		}
		p.EstimatedCompletion = &eta
	}
	return p
}

func (b *Broadcaster) emitProgress(ch *Channel, st *jobState, jobID string, p ProgressData) {
	st.seq++
	m, err := newMessage(TypeProgressUpdate, jobID, st.seq, p)
	if err != nil {
		log.Printf("progress: encode update for job %s: %v", jobID, err)
		return
	}
	st.progress = &p
	st.lastProg = &m
	if dropped := ch.send(m); dropped > 0 {
		log.Printf("progress: dropped %d slow subscribers of job %s", dropped, jobID)
	}
}

func (b *Broadcaster) emitStatus(ch *Channel, st *jobState, jobID string, status domain.JobStatus) {
	st.seq++
	m, err := newMessage(TypeStatusUpdate, jobID, st.seq, StatusData{Status: status})
	if err != nil {
		log.Printf("progress: encode status for job %s: %v", jobID, err)
		return
	}
	st.lastStat = &m
	if dropped := ch.send(m); dropped > 0 {
		log.Printf("progress: dropped %d slow subscribers of job %s", dropped, jobID)
	}
}
