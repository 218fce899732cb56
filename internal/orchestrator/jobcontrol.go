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

// ControlResult reports the outcome of a control request. Status is the
// stored status when the request was answered; RequestedStatus is set when a
// running worker will apply the change at its next item boundary.
type ControlResult struct {
	Success         bool             `json:"success"`
	Status          domain.JobStatus `json:"status"`
	RequestedStatus domain.JobStatus `json:"requested_status,omitempty"`
}

// Pause asks the worker of a processing job to stop after the current item
func (o *Orchestrator) Pause(ctx context.Context, id string) (ControlResult, error) {
	job, err := o.deps.Store.GetJob(ctx, id)
	if err != nil {
		return ControlResult{}, err
	}
	if job.Status != domain.JobProcessing {
		return ControlResult{Status: job.Status}, fmt.Errorf("%w: cannot pause %s job", domain.ErrInvalidTransition, job.Status)
	}

	if ctl := o.worker(id); ctl != nil {
		if !ctl.request(domain.JobPaused) {
			return ControlResult{Status: job.Status, RequestedStatus: domain.JobCancelled}, fmt.Errorf("%w: cancel pending", domain.ErrInvalidTransition)
		}
		log.Printf("job %s: pause requested", id)
		return ControlResult{Success: true, Status: job.Status, RequestedStatus: domain.JobPaused}, nil
	}

	// no worker in this process; nothing else will move it
	return o.transitionNow(ctx, id, domain.JobPaused, domain.JobProcessing)
}

// Resume continues a paused job. A paused job without a worker, for example
// after a process restart, goes back to the queue and resumes from the first
// item without a result.
func (o *Orchestrator) Resume(ctx context.Context, id string) (ControlResult, error) {
	job, err := o.deps.Store.GetJob(ctx, id)
	if err != nil {
		return ControlResult{}, err
	}
	if job.Status != domain.JobPaused {
		return ControlResult{Status: job.Status}, fmt.Errorf("%w: cannot resume %s job", domain.ErrInvalidTransition, job.Status)
	}

	if ctl := o.worker(id); ctl != nil {
		if !ctl.request(domain.JobProcessing) {
			return ControlResult{Status: job.Status, RequestedStatus: domain.JobCancelled}, fmt.Errorf("%w: cancel pending", domain.ErrInvalidTransition)
		}
		log.Printf("job %s: resume requested", id)
		return ControlResult{Success: true, Status: job.Status, RequestedStatus: domain.JobProcessing}, nil
	}

	res, err := o.transitionNow(ctx, id, domain.JobQueued, domain.JobPaused)
	if err == nil {
		o.Wake()
	}
	return res, err
}

// Cancel stops a job. Queued jobs are cancelled immediately; running jobs
// stop at the next item boundary. Recorded results are kept.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (ControlResult, error) {
	job, err := o.deps.Store.GetJob(ctx, id)
	if err != nil {
		return ControlResult{}, err
	}
	if job.Status.IsTerminal() {
		return ControlResult{Status: job.Status}, fmt.Errorf("%w: job is already %s", domain.ErrInvalidTransition, job.Status)
	}

	if job.Status == domain.JobQueued {
		res, err := o.transitionNow(ctx, id, domain.JobCancelled, domain.JobQueued)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			return res, err
		}
		// claimed in the meantime, cancel through the worker
	}

	if ctl := o.worker(id); ctl != nil {
		ctl.request(domain.JobCancelled)
		log.Printf("job %s: cancel requested", id)
		current := job.Status
		if current == domain.JobQueued {
			current = domain.JobProcessing
		}
		return ControlResult{Success: true, Status: current, RequestedStatus: domain.JobCancelled}, nil
	}

	return o.transitionNow(ctx, id, domain.JobCancelled, domain.JobProcessing, domain.JobPaused)
}

// Restart re-enqueues a job that is stuck: queued for longer than the
// pickup window, or processing without a live worker and without a
// heartbeat within the orphan window. Completed items are never redone.
func (o *Orchestrator) Restart(ctx context.Context, id string) (ControlResult, error) {
	job, err := o.deps.Store.GetJob(ctx, id)
	if err != nil {
		return ControlResult{}, err
	}
	age := o.now().Sub(job.UpdatedAt)

	switch job.Status {
	case domain.JobQueued:
		if age < o.cfg.PickupWindow {
			return ControlResult{Status: job.Status}, fmt.Errorf("%w: job has been queued for %s, restart is allowed after %s",
				domain.ErrInvalidTransition, age.Round(time.Second), o.cfg.PickupWindow)
		}
		res, err := o.transitionNow(ctx, id, domain.JobQueued, domain.JobQueued)
		if err == nil {
			o.Wake()
		}
		return res, err

	case domain.JobProcessing:
		if o.Running(id) {
			return ControlResult{Status: job.Status}, fmt.Errorf("%w: job is running", domain.ErrInvalidTransition)
		}
		if age < o.cfg.OrphanWindow {
			return ControlResult{Status: job.Status}, fmt.Errorf("%w: job was active %s ago, restart is allowed after %s",
				domain.ErrInvalidTransition, age.Round(time.Second), o.cfg.OrphanWindow)
		}
		res, err := o.transitionNow(ctx, id, domain.JobQueued, domain.JobProcessing)
		if err == nil {
			o.Wake()
		}
		return res, err

	default:
		return ControlResult{Status: job.Status}, fmt.Errorf("%w: cannot restart %s job", domain.ErrInvalidTransition, job.Status)
	}
}

// StuckJobs returns queued jobs past the pickup window and processing jobs
// without a worker past the orphan window.
func (o *Orchestrator) StuckJobs(ctx context.Context) ([]*domain.Job, error) {
	now := o.now()
	queued, err := o.deps.Store.StaleJobs(ctx, domain.JobQueued, now.Add(-o.cfg.PickupWindow))
	if err != nil {
		return nil, err
	}
	processing, err := o.deps.Store.StaleJobs(ctx, domain.JobProcessing, now.Add(-o.cfg.OrphanWindow))
	if err != nil {
		return nil, err
	}
	stuck := queued
	for _, job := range processing {
		if !o.Running(job.ID) {
			stuck = append(stuck, job)
		}
	}
	return stuck, nil
}

func (o *Orchestrator) transitionNow(ctx context.Context, id string, to domain.JobStatus, from ...domain.JobStatus) (ControlResult, error) {
	job, err := o.deps.Store.TransitionJob(ctx, id, to, jobstore.TransitionOptions{From: from})
	if err != nil {
		return ControlResult{}, err
	}
	log.Printf("job %s %s", id, to)
	o.statusChanged(job)
	return ControlResult{Success: true, Status: job.Status}, nil
}
