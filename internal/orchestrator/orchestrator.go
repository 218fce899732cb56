// Package orchestrator runs batch enhancement jobs: it accepts submissions,
// dispatches queued jobs onto a bounded set of worker slots and applies
// pause, resume, cancel and restart requests at item boundaries.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/posterbadge/internal/domain"
	"github.com/hochfrequenz/posterbadge/internal/engine"
	"github.com/hochfrequenz/posterbadge/internal/jobstore"
	"github.com/hochfrequenz/posterbadge/internal/notify"
	"github.com/hochfrequenz/posterbadge/internal/reconcile"
)

// Store is the persistence the orchestrator needs. *jobstore.Store implements it.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, opts jobstore.ListOptions) ([]*domain.Job, error)
	DeleteJob(ctx context.Context, id string) error
	TransitionJob(ctx context.Context, id string, to domain.JobStatus, opts jobstore.TransitionOptions) (*domain.Job, error)
	ClaimNextQueued(ctx context.Context) (*domain.Job, error)
	Heartbeat(ctx context.Context, id string) error
	StaleJobs(ctx context.Context, status domain.JobStatus, cutoff time.Time) ([]*domain.Job, error)
	RecordItemResult(ctx context.Context, res domain.ItemResult) (*domain.Job, error)
	ListItemResults(ctx context.Context, jobID string) ([]domain.ItemResult, error)
	RecordedItemIDs(ctx context.Context, jobID string) (map[string]bool, error)
	UpsertProcessedItem(ctx context.Context, item domain.ProcessedItem) error
}

// Listener observes job progress and status changes
type Listener interface {
	JobProgress(snap domain.ProgressSnapshot)
	JobStatusChanged(job *domain.Job)
}

// BadgeResolver expands badge type and preset names
type BadgeResolver interface {
	Expand(names []string) ([]string, error)
}

// Skipper builds the set of items a job can skip
type Skipper interface {
	SkipSet(ctx context.Context, libraryID string) *reconcile.Result
}

// Marker labels items on the media server after a successful enhancement
type Marker interface {
	SetMarker(ctx context.Context, itemID string) error
}

// EngineWrapper decorates the engine used for one job
type EngineWrapper interface {
	Wrap(jobID string, e engine.Engine) engine.Engine
}

// Config controls dispatching and recovery
type Config struct {
	MaxConcurrentJobs int
	// PollInterval is how often the dispatcher looks for queued jobs without being woken
	PollInterval time.Duration
	// HeartbeatInterval is how often a running worker refreshes its job
	HeartbeatInterval time.Duration
	// PickupWindow is how long a job may wait in the queue before a restart is allowed
	PickupWindow time.Duration
	// OrphanWindow is how long a processing job may go without heartbeat before it
	// counts as orphaned
	OrphanWindow time.Duration
}

// DefaultConfig returns the defaults used when a value is zero
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 2,
		PollInterval:      5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		PickupWindow:      5 * time.Minute,
		OrphanWindow:      10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = d.MaxConcurrentJobs
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.PickupWindow <= 0 {
		c.PickupWindow = d.PickupWindow
	}
	if c.OrphanWindow <= 0 {
		c.OrphanWindow = d.OrphanWindow
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Store and Engine are
// required; everything else is optional.
type Deps struct {
	Store     Store
	Engine    engine.Engine
	Badges    BadgeResolver
	Skipper   Skipper
	Marker    Marker
	Debug     EngineWrapper
	Notifier  notify.Notifier
	Listeners []Listener
	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// Orchestrator owns job submission, dispatch and control
type Orchestrator struct {
	cfg  Config
	deps Deps
	pool *Pool
	now  func() time.Time

	wake chan struct{}

	mu      sync.Mutex
	workers map[string]*control
	wg      sync.WaitGroup
}

// New creates an orchestrator
func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	if deps.Notifier == nil {
		deps.Notifier = notify.NoopNotifier{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		pool:    NewPool(cfg.MaxConcurrentJobs),
		now:     now,
		wake:    make(chan struct{}, 1),
		workers: make(map[string]*control),
	}
	o.pool.SetOnRelease(func(int) { o.Wake() })
	return o
}

// Pool returns the worker slot pool
func (o *Orchestrator) Pool() *Pool {
	return o.pool
}

// Wake asks the dispatcher to look for queued jobs now
func (o *Orchestrator) Wake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// SubmitRequest describes a new batch
type SubmitRequest struct {
	Name       string
	ItemIDs    []string
	BadgeTypes []string
	Owner      string
	LibraryID  string
	Force      bool
}

// Submit validates a request and enqueues a new job
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	if len(req.ItemIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(req.ItemIDs))
	for _, id := range req.ItemIDs {
		if id == "" {
			return nil, fmt.Errorf("%w: empty item id", domain.ErrValidation)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate item id %q", domain.ErrValidation, id)
		}
		seen[id] = true
	}

	badgeTypes := req.BadgeTypes
	if o.deps.Badges != nil {
		expanded, err := o.deps.Badges.Expand(req.BadgeTypes)
		if err != nil {
			return nil, err
		}
		badgeTypes = expanded
	}
	if len(badgeTypes) == 0 {
		return nil, fmt.Errorf("%w: at least one badge type is required", domain.ErrValidation)
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("batch of %d posters", len(req.ItemIDs))
	}

	job := &domain.Job{
		ID:         uuid.New().String(),
		Name:       name,
		Status:     domain.JobQueued,
		BadgeTypes: badgeTypes,
		ItemIDs:    append([]string(nil), req.ItemIDs...),
		LibraryID:  req.LibraryID,
		Force:      req.Force,
		Owner:      req.Owner,
		TotalItems: len(req.ItemIDs),
	}
	if err := o.deps.Store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	created, err := o.deps.Store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	log.Printf("job %s queued: %d items, badges %v", created.ID, created.TotalItems, created.BadgeTypes)
	o.statusChanged(created)
	o.Wake()
	return created, nil
}

// Job returns a job by id
func (o *Orchestrator) Job(ctx context.Context, id string) (*domain.Job, error) {
	return o.deps.Store.GetJob(ctx, id)
}

// Jobs lists jobs
func (o *Orchestrator) Jobs(ctx context.Context, opts jobstore.ListOptions) ([]*domain.Job, error) {
	return o.deps.Store.ListJobs(ctx, opts)
}

// Results returns the item results of a job
func (o *Orchestrator) Results(ctx context.Context, id string) ([]domain.ItemResult, error) {
	if _, err := o.deps.Store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return o.deps.Store.ListItemResults(ctx, id)
}

// Delete removes a terminal job and its results
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	return o.deps.Store.DeleteJob(ctx, id)
}

// Running reports whether a worker currently owns the job
func (o *Orchestrator) Running(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.workers[id]
	return ok
}

// Run dispatches queued jobs until ctx is cancelled, then waits for running
// workers to stop.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.recoverOrphans(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		o.dispatch(ctx)

		select {
		case <-ctx.Done():
			o.wg.Wait()
			return nil
		case <-o.wake:
		case <-ticker.C:
		}
	}
}

// recoverOrphans re-queues jobs left processing by a previous process.
// Nothing runs yet, so every processing job is an orphan.
func (o *Orchestrator) recoverOrphans(ctx context.Context) error {
	jobs, err := o.deps.Store.ListJobs(ctx, jobstore.ListOptions{Statuses: []domain.JobStatus{domain.JobProcessing}})
	if err != nil {
		return fmt.Errorf("list orphaned jobs: %w", err)
	}
	for _, job := range jobs {
		if o.Running(job.ID) {
			continue
		}
		requeued, err := o.deps.Store.TransitionJob(ctx, job.ID, domain.JobQueued, jobstore.TransitionOptions{
			From: []domain.JobStatus{domain.JobProcessing},
		})
		if err != nil {
			log.Printf("requeue orphaned job %s: %v", job.ID, err)
			continue
		}
		log.Printf("requeued orphaned job %s at %d/%d", job.ID, job.Processed(), job.TotalItems)
		o.statusChanged(requeued)
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context) {
	for ctx.Err() == nil && o.pool.Acquire() {
		job, ctl, err := o.claim(ctx)
		if err != nil || job == nil {
			o.pool.putBack()
			if err != nil && ctx.Err() == nil {
				log.Printf("claim queued job: %v", err)
			}
			return
		}

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runJob(ctx, job, ctl)
		}()
	}
}

// claim takes the oldest queued job and registers its control flag in one
// step under o.mu, so a control request never sees a claimed job without
// a worker.
func (o *Orchestrator) claim(ctx context.Context) (*domain.Job, *control, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, err := o.deps.Store.ClaimNextQueued(ctx)
	if err != nil || job == nil {
		return nil, nil, err
	}
	ctl := newControl()
	o.workers[job.ID] = ctl
	return job, ctl, nil
}

// finish drops the worker of a job and frees its slot
func (o *Orchestrator) finish(jobID string) {
	o.mu.Lock()
	delete(o.workers, jobID)
	o.mu.Unlock()
	o.pool.Release()
}

func (o *Orchestrator) worker(id string) *control {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.workers[id]
}

// statusChanged tells listeners about a transition and notifies on terminal states
func (o *Orchestrator) statusChanged(job *domain.Job) {
	for _, l := range o.deps.Listeners {
		l.JobStatusChanged(job)
	}
	if job.Status.IsTerminal() {
		n := notify.ForJob(job)
		notifier := o.deps.Notifier
		go func() {
			if err := notifier.Send(n); err != nil {
				log.Printf("notify job %s: %v", n.JobID, err)
			}
		}()
	}
}

func (o *Orchestrator) progress(snap domain.ProgressSnapshot) {
	for _, l := range o.deps.Listeners {
		l.JobProgress(snap)
	}
}
