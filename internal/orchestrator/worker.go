package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/domain"
	"github.com/hochfrequenz/posterbadge/internal/jobstore"
)

// shutdownTimeout bounds store writes made after the run context is gone
const shutdownTimeout = 5 * time.Second

// runJob processes the items of a claimed job in order. Items that already
// have a result are never processed again.
func (o *Orchestrator) runJob(ctx context.Context, job *domain.Job, ctl *control) {
	defer o.finish(job.ID)

	log.Printf("job %s started: %d/%d items done", job.ID, job.Processed(), job.TotalItems)
	o.statusChanged(job)

	recorded, err := o.deps.Store.RecordedItemIDs(ctx, job.ID)
	if err != nil {
		o.fail(ctx, job.ID, fmt.Errorf("load item results: %w", err))
		return
	}

	skip := map[string]bool{}
	if job.LibraryID != "" && !job.Force && o.deps.Skipper != nil {
		res := o.deps.Skipper.SkipSet(ctx, job.LibraryID)
		skip = res.Set()
		log.Printf("job %s: %d items of library %s already enhanced", job.ID, len(skip), job.LibraryID)
	}

	eng := o.deps.Engine
	if o.deps.Debug != nil {
		eng = o.deps.Debug.Wrap(job.ID, eng)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go o.heartbeat(hbCtx, job.ID)

	w := &jobRun{o: o, job: job, ctl: ctl, status: domain.JobProcessing}

	for i, itemID := range job.ItemIDs {
		if recorded[itemID] {
			continue
		}
		if w.checkpoint(ctx) {
			return
		}

		res := domain.ItemResult{JobID: job.ID, ItemID: itemID}
		partial := false
		if skip[itemID] {
			res.Outcome = domain.OutcomeSkipped
		} else {
			start := o.now()
			out, err := eng.Enhance(ctx, itemID, job.BadgeTypes)
			res.Duration = o.now().Sub(start)
			if ctx.Err() != nil {
				// shutting down; the item gets processed again after restart
				w.requeue()
				return
			}
			if err != nil {
				res.Outcome = domain.OutcomeFailure
				res.ErrorMessage = err.Error()
			} else {
				res.Outcome = domain.OutcomeSuccess
				res.ArtifactRef = out.ArtifactRef
			}
			partial = err == nil && out.Partial
		}

		updated, err := o.deps.Store.RecordItemResult(ctx, res)
		if err != nil {
			if errors.Is(err, domain.ErrJobNotActive) {
				log.Printf("job %s: stopped by an external transition", job.ID)
				return
			}
			o.fail(ctx, job.ID, fmt.Errorf("record result of %s: %w", itemID, err))
			return
		}

		if res.Outcome != domain.OutcomeSkipped && job.LibraryID != "" {
			if err := o.recordProcessed(ctx, job, res, partial); err != nil {
				o.fail(ctx, job.ID, err)
				return
			}
		}
		if res.Outcome == domain.OutcomeSuccess && o.deps.Marker != nil {
			if err := o.deps.Marker.SetMarker(ctx, itemID); err != nil {
				log.Printf("job %s: mark %s on media server: %v", job.ID, itemID, err)
			}
		}

		snap := domain.SnapshotOf(updated)
		snap.CurrentItem = nextPending(job.ItemIDs, i+1, recorded)
		snap.LastItemDuration = res.Duration
		snap.At = o.now()
		o.progress(snap)
	}

	done, err := o.deps.Store.TransitionJob(ctx, job.ID, domain.JobCompleted, jobstore.TransitionOptions{
		From: []domain.JobStatus{domain.JobProcessing},
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Printf("job %s: not completed, status changed externally", job.ID)
			return
		}
		o.fail(ctx, job.ID, fmt.Errorf("complete job: %w", err))
		return
	}
	log.Printf("job %s completed: %d ok, %d failed, %d skipped", job.ID, done.CompletedItems-done.SkippedItems, done.FailedItems, done.SkippedItems)
	o.statusChanged(done)
}

func (o *Orchestrator) recordProcessed(ctx context.Context, job *domain.Job, res domain.ItemResult, partial bool) error {
	status := domain.ProcessedSuccess
	switch {
	case res.Outcome == domain.OutcomeFailure:
		status = domain.ProcessedFailure
	case partial:
		status = domain.ProcessedPartialSuccess
	}
	err := o.deps.Store.UpsertProcessedItem(ctx, domain.ProcessedItem{
		LibraryID:  job.LibraryID,
		ItemID:     res.ItemID,
		LastStatus: status,
		LastError:  res.ErrorMessage,
		BadgeTypes: job.BadgeTypes,
	})
	if err != nil {
		return fmt.Errorf("record processed item %s: %w", res.ItemID, err)
	}
	return nil
}

// fail escalates a store fault to a failed job. Results stay in place.
func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) {
	log.Printf("job %s failed: %v", jobID, cause)
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
	}
	job, err := o.deps.Store.TransitionJob(ctx, jobID, domain.JobFailed, jobstore.TransitionOptions{
		ErrorMessage: cause.Error(),
		From:         []domain.JobStatus{domain.JobProcessing, domain.JobPaused},
	})
	if err != nil {
		log.Printf("job %s: mark failed: %v", jobID, err)
		return
	}
	o.statusChanged(job)
}

func (o *Orchestrator) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(o.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.deps.Store.Heartbeat(ctx, jobID); err != nil && ctx.Err() == nil {
				log.Printf("job %s: heartbeat: %v", jobID, err)
			}
		}
	}
}

// nextPending returns the first item from index from on that has no result yet
func nextPending(items []string, from int, recorded map[string]bool) string {
	for _, id := range items[from:] {
		if !recorded[id] {
			return id
		}
	}
	return ""
}

// jobRun is the state of one worker between item boundaries
type jobRun struct {
	o      *Orchestrator
	job    *domain.Job
	ctl    *control
	status domain.JobStatus
}

// checkpoint applies pending control requests. It returns true when the
// worker must stop: the job was cancelled, or the run context ended.
func (w *jobRun) checkpoint(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			if w.status == domain.JobProcessing {
				w.requeue()
			}
			return true
		}

		switch w.ctl.get() {
		case domain.JobCancelled:
			job, err := w.o.deps.Store.TransitionJob(ctx, w.job.ID, domain.JobCancelled, jobstore.TransitionOptions{
				From: []domain.JobStatus{domain.JobProcessing, domain.JobPaused},
			})
			if err != nil {
				log.Printf("job %s: cancel: %v", w.job.ID, err)
				return true
			}
			log.Printf("job %s cancelled at %d/%d", job.ID, job.Processed(), job.TotalItems)
			w.o.statusChanged(job)
			return true

		case domain.JobPaused:
			if w.status != domain.JobPaused {
				if !w.transition(ctx, domain.JobPaused) {
					return true
				}
			}
			select {
			case <-w.ctl.signal:
			case <-ctx.Done():
				// stays paused; resuming after restart re-queues it
			}

		default:
			if w.status == domain.JobPaused {
				if !w.transition(ctx, domain.JobProcessing) {
					return true
				}
			}
			return false
		}
	}
}

func (w *jobRun) transition(ctx context.Context, to domain.JobStatus) bool {
	job, err := w.o.deps.Store.TransitionJob(ctx, w.job.ID, to, jobstore.TransitionOptions{
		From: []domain.JobStatus{w.status},
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			log.Printf("job %s: %s: %v", w.job.ID, to, err)
			return false
		}
		w.o.fail(ctx, w.job.ID, fmt.Errorf("%s job: %w", to, err))
		return false
	}
	w.status = to
	log.Printf("job %s %s at %d/%d", job.ID, to, job.Processed(), job.TotalItems)
	w.o.statusChanged(job)
	return true
}

// requeue hands a processing job back to the queue on shutdown
func (w *jobRun) requeue() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	job, err := w.o.deps.Store.TransitionJob(ctx, w.job.ID, domain.JobQueued, jobstore.TransitionOptions{
		From: []domain.JobStatus{domain.JobProcessing},
	})
	if err != nil {
		log.Printf("job %s: requeue on shutdown: %v", w.job.ID, err)
		return
	}
	log.Printf("job %s requeued on shutdown at %d/%d", job.ID, job.Processed(), job.TotalItems)
	w.o.statusChanged(job)
}
