//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/domain"
	"github.com/hochfrequenz/posterbadge/internal/engine"
	"github.com/hochfrequenz/posterbadge/internal/progress"
	"github.com/hochfrequenz/posterbadge/web/api"
)

func itemIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("item-%02d", i+1)
	}
	return ids
}

func TestBatchWithFailureOverWebSocket(t *testing.T) {
	release := make(chan struct{})
	eng := engine.Func(func(ctx context.Context, itemID string, badgeTypes []string) (engine.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
		if itemID == "item-04" {
			return engine.Result{}, &engine.StatusError{Code: 500, Body: "render failed"}
		}
		return engine.Result{ArtifactRef: "posters/" + itemID + ".jpg"}, nil
	})
	h := StartApp(t, TestConfig(t), eng)
	ctx := context.Background()

	id, err := h.Client.CreateJob(ctx, api.CreateJobRequest{
		Name:       "e2e",
		ItemIDs:    itemIDs(10),
		BadgeTypes: []string{"tech"},
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	w, err := progress.NewWatcher(h.Server.URL, id, progress.RetryPolicy{Delay: 50 * time.Millisecond, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	WaitFor(t, 5*time.Second, "watcher to connect", w.Connected)
	close(release)

	var msgs []progress.Message
	timeout := time.After(10 * time.Second)
	for done := false; !done; {
		select {
		case m, ok := <-w.Updates():
			if !ok {
				done = true
				break
			}
			msgs = append(msgs, m)
		case <-timeout:
			t.Fatal("watcher did not finish")
		}
	}
	if err := <-runErr; err != nil {
		t.Fatalf("Watcher.Run() error = %v", err)
	}

	var last progress.ProgressData
	var lastSeq uint64
	lastPct := -1.0
	for _, m := range msgs {
		if m.Seq <= lastSeq {
			t.Errorf("seq %d after %d", m.Seq, lastSeq)
		}
		lastSeq = m.Seq
		if m.Type != progress.TypeProgressUpdate {
			continue
		}
		p, err := m.Progress()
		if err != nil {
			t.Fatalf("decode progress: %v", err)
		}
		if p.ProgressPercentage < lastPct {
			t.Errorf("progress went back from %v to %v", lastPct, p.ProgressPercentage)
		}
		lastPct = p.ProgressPercentage
		last = p
	}

	if last.TotalPosters != 10 || last.CompletedPosters != 9 || last.FailedPosters != 1 {
		t.Errorf("final progress = %+v, want 10 total, 9 completed, 1 failed", last)
	}
	if last.ProgressPercentage != 100 {
		t.Errorf("final percentage = %v, want 100", last.ProgressPercentage)
	}
	if last.EstimatedCompletion != nil {
		t.Errorf("final ETA = %v, want none", last.EstimatedCompletion)
	}
	if w.Status() != domain.JobCompleted {
		t.Errorf("watcher status = %s, want completed", w.Status())
	}

	job, err := h.Client.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != domain.JobCompleted || job.FailedItems != 1 || job.CompletedItems != 9 {
		t.Errorf("job = %s %d/%d failed %d, want completed 9 ok 1 failed", job.Status, job.CompletedItems, job.TotalItems, job.FailedItems)
	}
	if job.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	results, err := h.Client.Results(ctx, id)
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("got %d results, want 10", len(results))
	}
	for _, r := range results {
		want := domain.OutcomeSuccess
		if r.ItemID == "item-04" {
			want = domain.OutcomeFailure
		}
		if r.Outcome != want {
			t.Errorf("result %s = %s, want %s", r.ItemID, r.Outcome, want)
		}
		if r.ItemID == "item-04" && !strings.Contains(r.ErrorMessage, "render failed") {
			t.Errorf("item-04 error = %q, want the engine error text", r.ErrorMessage)
		}
	}

	// a finished job answers a new watcher with its final state
	again, err := progress.NewWatcher(h.Server.URL, id, progress.DefaultRetryPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if err := again.Run(ctx); err != nil {
		t.Errorf("second Watcher.Run() error = %v", err)
	}
	if again.Status() != domain.JobCompleted {
		t.Errorf("second watcher status = %s, want completed", again.Status())
	}
}

func TestPauseResumeOverHTTP(t *testing.T) {
	calls := make(chan string)
	proceed := make(chan struct{})
	eng := engine.Func(func(ctx context.Context, itemID string, badgeTypes []string) (engine.Result, error) {
		select {
		case calls <- itemID:
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
		select {
		case <-proceed:
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
		return engine.Result{}, nil
	})
	h := StartApp(t, TestConfig(t), eng)
	ctx := context.Background()

	id, err := h.Client.CreateJob(ctx, api.CreateJobRequest{ItemIDs: itemIDs(10), BadgeTypes: []string{"tech"}})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	w, err := progress.NewWatcher(h.Server.URL, id, progress.RetryPolicy{Delay: 50 * time.Millisecond, MaxAttempts: 3})
	if err != nil {
		t.Fatal(err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()
	WaitFor(t, 5*time.Second, "watcher to connect", w.Connected)

	var mu sync.Mutex
	var processed []int
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for m := range w.Updates() {
			if m.Type != progress.TypeProgressUpdate {
				continue
			}
			if p, err := m.Progress(); err == nil {
				mu.Lock()
				processed = append(processed, p.Processed())
				mu.Unlock()
			}
		}
	}()
	snapshot := func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), processed...)
	}

	called := func(want string) {
		t.Helper()
		select {
		case got := <-calls:
			if got != want {
				t.Fatalf("engine called for %s, want %s", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("engine never called for %s", want)
		}
	}
	status := func(want domain.JobStatus) func() bool {
		return func() bool {
			j, err := h.Client.GetJob(ctx, id)
			return err == nil && j.Status == want
		}
	}

	items := itemIDs(10)
	for _, item := range items[:4] {
		called(item)
		proceed <- struct{}{}
	}

	// pause while item 5 is in flight; the job stops at 5/10
	called(items[4])
	res, err := h.Client.Control(ctx, id, "pause")
	if err != nil {
		t.Fatalf("pause error = %v", err)
	}
	if res.RequestedStatus != domain.JobPaused {
		t.Errorf("pause requested = %q, want paused", res.RequestedStatus)
	}
	proceed <- struct{}{}
	WaitFor(t, 5*time.Second, "job to pause", status(domain.JobPaused))
	WaitFor(t, 5*time.Second, "progress 5/10", func() bool {
		got := snapshot()
		return len(got) > 0 && got[len(got)-1] == 5
	})

	atPause := len(snapshot())
	select {
	case item := <-calls:
		t.Fatalf("engine called for %s while paused", item)
	case <-time.After(300 * time.Millisecond):
	}
	if got := snapshot(); len(got) != atPause {
		t.Errorf("progress while paused: %v", got[atPause:])
	}

	// a second pause is rejected
	if _, err := h.Client.Control(ctx, id, "pause"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second pause error = %v, want invalid transition", err)
	}

	if _, err := h.Client.Control(ctx, id, "resume"); err != nil {
		t.Fatalf("resume error = %v", err)
	}
	for _, item := range items[5:] {
		called(item)
		proceed <- struct{}{}
	}
	WaitFor(t, 5*time.Second, "job to complete", status(domain.JobCompleted))

	select {
	case <-collected:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not finish")
	}
	if err := <-runErr; err != nil {
		t.Errorf("Watcher.Run() error = %v", err)
	}

	after := snapshot()[atPause:]
	last := 5
	for _, n := range after {
		if n < last {
			t.Errorf("progress went back to %d after %d", n, last)
		}
		last = n
	}
	if last != 10 {
		t.Errorf("final progress = %d, want 10", last)
	}

	job, err := h.Client.GetJob(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if job.CompletedItems != 10 || job.FailedItems != 0 {
		t.Errorf("job = %d completed %d failed, want 10 and 0", job.CompletedItems, job.FailedItems)
	}
	results, err := h.Client.Results(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 10 {
		t.Errorf("got %d results, want 10", len(results))
	}
}

func TestDeleteActiveJobRejected(t *testing.T) {
	block := make(chan struct{})
	eng := engine.Func(func(ctx context.Context, itemID string, badgeTypes []string) (engine.Result, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return engine.Result{}, ctx.Err()
	})
	h := StartApp(t, TestConfig(t), eng)
	defer close(block)
	ctx := context.Background()

	id, err := h.Client.CreateJob(ctx, api.CreateJobRequest{ItemIDs: itemIDs(2), BadgeTypes: []string{"tech"}})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	var apiErr *api.APIError
	if err := h.Client.DeleteJob(ctx, id); !errors.As(err, &apiErr) || apiErr.StatusCode != 409 {
		t.Errorf("DeleteJob() on active job error = %v, want 409", err)
	}

	if _, err := h.Client.Control(ctx, id, "cancel"); err != nil {
		t.Fatalf("cancel error = %v", err)
	}
}
