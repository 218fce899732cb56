package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/badges"
	"github.com/hochfrequenz/posterbadge/internal/domain"
	"github.com/hochfrequenz/posterbadge/internal/engine"
	"github.com/hochfrequenz/posterbadge/internal/jobstore"
	"github.com/hochfrequenz/posterbadge/internal/reconcile"
)

// recorder is a Listener that keeps everything it sees
type recorder struct {
	mu         sync.Mutex
	progress   []domain.ProgressSnapshot
	statuses   chan *domain.Job
	onProgress func(domain.ProgressSnapshot)
}

func newRecorder() *recorder {
	return &recorder{statuses: make(chan *domain.Job, 100)}
}

func (r *recorder) JobProgress(snap domain.ProgressSnapshot) {
	r.mu.Lock()
	r.progress = append(r.progress, snap)
	hook := r.onProgress
	r.mu.Unlock()
	if hook != nil {
		hook(snap)
	}
}

func (r *recorder) JobStatusChanged(job *domain.Job) {
	r.statuses <- job
}

func (r *recorder) snapshots() []domain.ProgressSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ProgressSnapshot(nil), r.progress...)
}

func (r *recorder) waitStatus(t *testing.T, id string, status domain.JobStatus) *domain.Job {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case job := <-r.statuses:
			if job.ID == id && job.Status == status {
				return job
			}
		case <-timeout:
			t.Fatalf("timed out waiting for job %s to become %s", id, status)
			return nil
		}
	}
}

// countingEngine fails the items listed in fail and counts calls per item
type countingEngine struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newCountingEngine() *countingEngine {
	return &countingEngine{calls: map[string]int{}, fail: map[string]error{}}
}

func (e *countingEngine) Enhance(ctx context.Context, itemID string, badgeTypes []string) (engine.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[itemID]++
	if err := e.fail[itemID]; err != nil {
		return engine.Result{}, err
	}
	return engine.Result{ArtifactRef: "posters/" + itemID + ".jpg"}, nil
}

func (e *countingEngine) callCount(itemID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[itemID]
}

func itemIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("item-%02d", i+1)
	}
	return ids
}

func testConfig() Config {
	return Config{
		MaxConcurrentJobs: 2,
		PollInterval:      20 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		PickupWindow:      time.Minute,
		OrphanWindow:      2 * time.Minute,
	}
}

func newStore(t *testing.T) *jobstore.Store {
	t.Helper()
	store, err := jobstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// start runs the dispatcher until the test ends. The returned func stops it
// early and waits for the workers.
func start(t *testing.T, o *Orchestrator) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return stop
}

func TestOrchestrator_CompletesWithItemFailure(t *testing.T) {
	store := newStore(t)
	eng := newCountingEngine()
	eng.fail["item-04"] = &engine.StatusError{Code: 502, Body: "renderer crashed"}
	rec := newRecorder()

	o := New(testConfig(), Deps{Store: store, Engine: eng, Listeners: []Listener{rec}})
	start(t, o)

	job, err := o.Submit(context.Background(), SubmitRequest{
		ItemIDs:    itemIDs(10),
		BadgeTypes: []string{"audio_codec", "resolution"},
		Owner:      "alice",
	})
	if err != nil {
		t.Fatal(err)
	}

	done := rec.waitStatus(t, job.ID, domain.JobCompleted)
	if done.CompletedItems != 9 || done.FailedItems != 1 {
		t.Errorf("counters = %d completed, %d failed, want 9/1", done.CompletedItems, done.FailedItems)
	}

	results, err := o.Results(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 10 {
		t.Fatalf("results = %d, want 10", len(results))
	}
	for _, r := range results {
		if r.ItemID == "item-04" {
			if r.Outcome != domain.OutcomeFailure || r.ErrorMessage != "engine returned 502: renderer crashed" {
				t.Errorf("item-04 result = %+v", r)
			}
		} else if r.Outcome != domain.OutcomeSuccess {
			t.Errorf("%s outcome = %s, want success", r.ItemID, r.Outcome)
		}
	}

	snaps := rec.snapshots()
	if len(snaps) != 10 {
		t.Fatalf("progress snapshots = %d, want 10", len(snaps))
	}
	for i, s := range snaps {
		if s.Processed() != i+1 {
			t.Errorf("snapshot %d processed = %d, want %d", i, s.Processed(), i+1)
		}
	}
	if snaps[0].CurrentItem != "item-02" || snaps[9].CurrentItem != "" {
		t.Errorf("current items = %q ... %q", snaps[0].CurrentItem, snaps[9].CurrentItem)
	}
}

func TestOrchestrator_PauseAndResume(t *testing.T) {
	store := newStore(t)
	eng := newCountingEngine()
	rec := newRecorder()
	o := New(testConfig(), Deps{Store: store, Engine: eng, Listeners: []Listener{rec}})

	var jobID string
	var once sync.Once
	rec.onProgress = func(s domain.ProgressSnapshot) {
		if s.Processed() == 5 {
			once.Do(func() {
				res, err := o.Pause(context.Background(), s.JobID)
				if err != nil || !res.Success || res.RequestedStatus != domain.JobPaused {
					t.Errorf("Pause() = %+v, %v", res, err)
				}
			})
		}
	}
	start(t, o)

	job, err := o.Submit(context.Background(), SubmitRequest{ItemIDs: itemIDs(10), BadgeTypes: []string{"review"}})
	if err != nil {
		t.Fatal(err)
	}
	jobID = job.ID

	paused := rec.waitStatus(t, jobID, domain.JobPaused)
	if paused.Processed() != 5 {
		t.Errorf("paused at %d, want 5", paused.Processed())
	}
	if paused.PausedAt == nil {
		t.Error("PausedAt should be set")
	}

	time.Sleep(100 * time.Millisecond)
	if n := len(rec.snapshots()); n != 5 {
		t.Errorf("progress updates while paused: got %d snapshots, want 5", n)
	}

	res, err := o.Resume(context.Background(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	if res.RequestedStatus != domain.JobProcessing {
		t.Errorf("Resume() = %+v", res)
	}

	done := rec.waitStatus(t, jobID, domain.JobCompleted)
	if done.CompletedItems != 10 {
		t.Errorf("CompletedItems = %d, want 10", done.CompletedItems)
	}

	snaps := rec.snapshots()
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Processed() <= snaps[i-1].Processed() {
			t.Errorf("progress not strictly increasing at %d: %d -> %d", i, snaps[i-1].Processed(), snaps[i].Processed())
		}
	}
	if last := snaps[len(snaps)-1]; last.Processed() != 10 {
		t.Errorf("last snapshot = %d/10", last.Processed())
	}
	for _, id := range itemIDs(10) {
		if eng.callCount(id) != 1 {
			t.Errorf("%s enhanced %d times, want 1", id, eng.callCount(id))
		}
	}
}

func TestOrchestrator_Cancel(t *testing.T) {
	store := newStore(t)
	eng := newCountingEngine()
	rec := newRecorder()
	o := New(testConfig(), Deps{Store: store, Engine: eng, Listeners: []Listener{rec}})

	var once sync.Once
	rec.onProgress = func(s domain.ProgressSnapshot) {
		if s.Processed() == 3 {
			once.Do(func() {
				if _, err := o.Cancel(context.Background(), s.JobID); err != nil {
					t.Errorf("Cancel() error = %v", err)
				}
			})
		}
	}
	start(t, o)

	job, err := o.Submit(context.Background(), SubmitRequest{ItemIDs: itemIDs(10), BadgeTypes: []string{"review"}})
	if err != nil {
		t.Fatal(err)
	}

	cancelled := rec.waitStatus(t, job.ID, domain.JobCancelled)
	if cancelled.Processed() != 3 {
		t.Errorf("cancelled at %d, want 3", cancelled.Processed())
	}

	time.Sleep(50 * time.Millisecond)
	results, err := o.Results(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("results after cancel = %d, want 3", len(results))
	}
	if eng.callCount("item-04") != 0 {
		t.Error("item-04 should never be enhanced after cancel")
	}

	if _, err := o.Cancel(context.Background(), job.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second Cancel() error = %v, want ErrInvalidTransition", err)
	}
}

func TestOrchestrator_CancelQueued(t *testing.T) {
	store := newStore(t)
	rec := newRecorder()
	o := New(testConfig(), Deps{Store: store, Engine: newCountingEngine(), Listeners: []Listener{rec}})

	// not running, so the job stays queued
	job, err := o.Submit(context.Background(), SubmitRequest{ItemIDs: itemIDs(2), BadgeTypes: []string{"awards"}})
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Status != domain.JobCancelled {
		t.Errorf("Cancel() = %+v", res)
	}
}

func TestOrchestrator_ResumeAfterRestartSkipsRecordedItems(t *testing.T) {
	store := newStore(t)
	eng := newCountingEngine()
	rec := newRecorder()
	first := New(testConfig(), Deps{Store: store, Engine: eng, Listeners: []Listener{rec}})

	var once sync.Once
	rec.onProgress = func(s domain.ProgressSnapshot) {
		if s.Processed() == 4 {
			once.Do(func() { first.Pause(context.Background(), s.JobID) })
		}
	}
	stopFirst := start(t, first)

	job, err := first.Submit(context.Background(), SubmitRequest{ItemIDs: itemIDs(8), BadgeTypes: []string{"review"}})
	if err != nil {
		t.Fatal(err)
	}
	rec.waitStatus(t, job.ID, domain.JobPaused)

	// simulate a process restart: the paused worker goes away
	stopFirst()
	if got, _ := store.GetJob(context.Background(), job.ID); got.Status != domain.JobPaused {
		t.Fatalf("status after shutdown = %s, want paused", got.Status)
	}

	rec2 := newRecorder()
	second := New(testConfig(), Deps{Store: store, Engine: eng, Listeners: []Listener{rec2}})
	start(t, second)

	res, err := second.Resume(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.JobQueued {
		t.Errorf("Resume() status = %s, want queued", res.Status)
	}

	done := rec2.waitStatus(t, job.ID, domain.JobCompleted)
	if done.CompletedItems != 8 {
		t.Errorf("CompletedItems = %d, want 8", done.CompletedItems)
	}
	for _, id := range itemIDs(8) {
		if eng.callCount(id) != 1 {
			t.Errorf("%s enhanced %d times, want 1", id, eng.callCount(id))
		}
	}
}

func TestOrchestrator_Restart(t *testing.T) {
	store := newStore(t)
	var offset time.Duration
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return time.Now().Add(offset)
	}
	advance := func(d time.Duration) {
		mu.Lock()
		offset += d
		mu.Unlock()
	}

	cfg := testConfig()
	cfg.OrphanWindow = 10 * time.Minute
	o := New(cfg, Deps{Store: store, Engine: newCountingEngine(), Now: now})
	ctx := context.Background()

	queued, err := o.Submit(ctx, SubmitRequest{ItemIDs: itemIDs(3), BadgeTypes: []string{"review"}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := o.Restart(ctx, queued.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Restart() of fresh queued job error = %v, want ErrInvalidTransition", err)
	}

	advance(2 * time.Minute)
	stuck, err := o.StuckJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 1 || stuck[0].ID != queued.ID {
		t.Errorf("StuckJobs() = %v, want the queued job", stuck)
	}
	res, err := o.Restart(ctx, queued.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Status != domain.JobQueued {
		t.Errorf("Restart() = %+v", res)
	}

	// orphan: processing in the store without a worker in this process
	orphan, err := o.Submit(ctx, SubmitRequest{ItemIDs: itemIDs(3), BadgeTypes: []string{"review"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.TransitionJob(ctx, orphan.ID, domain.JobProcessing, jobstore.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}

	if _, err := o.Restart(ctx, orphan.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Restart() inside orphan window error = %v, want ErrInvalidTransition", err)
	}

	advance(9 * time.Minute)
	res, err = o.Restart(ctx, orphan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.JobQueued {
		t.Errorf("orphan restart status = %s, want queued", res.Status)
	}

	if _, err := store.TransitionJob(ctx, orphan.ID, domain.JobCancelled, jobstore.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Restart(ctx, orphan.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Restart() of cancelled job error = %v, want ErrInvalidTransition", err)
	}
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	catalog, err := badges.NewCatalog(badges.DefaultPresets())
	if err != nil {
		t.Fatal(err)
	}
	o := New(testConfig(), Deps{Store: newStore(t), Engine: newCountingEngine(), Badges: catalog})
	ctx := context.Background()

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"no items", SubmitRequest{BadgeTypes: []string{"review"}}},
		{"duplicate items", SubmitRequest{ItemIDs: []string{"a", "a"}, BadgeTypes: []string{"review"}}},
		{"empty item id", SubmitRequest{ItemIDs: []string{"a", ""}, BadgeTypes: []string{"review"}}},
		{"no badges", SubmitRequest{ItemIDs: []string{"a"}}},
		{"unknown badge", SubmitRequest{ItemIDs: []string{"a"}, BadgeTypes: []string{"hdr"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := o.Submit(ctx, tt.req); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("Submit() error = %v, want ErrValidation", err)
			}
		})
	}

	job, err := o.Submit(ctx, SubmitRequest{ItemIDs: []string{"a"}, BadgeTypes: []string{"tech"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(job.BadgeTypes) != 2 || job.QueuePosition != 1 {
		t.Errorf("job = %+v, want preset expanded and queue position 1", job)
	}
}

type fakeSkipper struct{ items []string }

func (f fakeSkipper) SkipSet(ctx context.Context, libraryID string) *reconcile.Result {
	return &reconcile.Result{LibraryID: libraryID, Entries: reconcile.Merge(f.items, nil)}
}

type fakeMarker struct {
	mu     sync.Mutex
	marked []string
}

func (m *fakeMarker) SetMarker(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, itemID)
	return nil
}

func TestOrchestrator_SkipsProcessedItems(t *testing.T) {
	store := newStore(t)
	eng := newCountingEngine()
	rec := newRecorder()
	marker := &fakeMarker{}
	o := New(testConfig(), Deps{
		Store:     store,
		Engine:    eng,
		Skipper:   fakeSkipper{items: []string{"item-01", "item-03"}},
		Marker:    marker,
		Listeners: []Listener{rec},
	})
	start(t, o)

	job, err := o.Submit(context.Background(), SubmitRequest{ItemIDs: itemIDs(4), BadgeTypes: []string{"review"}, LibraryID: "movies"})
	if err != nil {
		t.Fatal(err)
	}
	done := rec.waitStatus(t, job.ID, domain.JobCompleted)

	if done.CompletedItems != 4 || done.SkippedItems != 2 {
		t.Errorf("counters = %d completed, %d skipped, want 4/2", done.CompletedItems, done.SkippedItems)
	}
	if eng.callCount("item-01") != 0 || eng.callCount("item-02") != 1 {
		t.Error("skipped items must not reach the engine")
	}

	marker.mu.Lock()
	marked := len(marker.marked)
	marker.mu.Unlock()
	if marked != 2 {
		t.Errorf("marked = %d, want 2", marked)
	}

	rec2, err := store.GetProcessedItem(context.Background(), "movies", "item-02")
	if err != nil {
		t.Fatal(err)
	}
	if rec2.LastStatus != domain.ProcessedSuccess {
		t.Errorf("LastStatus = %s", rec2.LastStatus)
	}
}

func TestOrchestrator_ForceIgnoresSkipSet(t *testing.T) {
	store := newStore(t)
	eng := newCountingEngine()
	rec := newRecorder()
	o := New(testConfig(), Deps{
		Store:     store,
		Engine:    eng,
		Skipper:   fakeSkipper{items: []string{"item-01"}},
		Listeners: []Listener{rec},
	})
	start(t, o)

	job, err := o.Submit(context.Background(), SubmitRequest{ItemIDs: itemIDs(2), BadgeTypes: []string{"review"}, LibraryID: "movies", Force: true})
	if err != nil {
		t.Fatal(err)
	}
	done := rec.waitStatus(t, job.ID, domain.JobCompleted)
	if done.SkippedItems != 0 || eng.callCount("item-01") != 1 {
		t.Errorf("force run skipped %d items", done.SkippedItems)
	}
}

// faultyStore fails result writes for one item
type faultyStore struct {
	*jobstore.Store
	failItem string
}

func (s *faultyStore) RecordItemResult(ctx context.Context, res domain.ItemResult) (*domain.Job, error) {
	if res.ItemID == s.failItem {
		return nil, errors.New("disk I/O error")
	}
	return s.Store.RecordItemResult(ctx, res)
}

func TestOrchestrator_StoreFaultFailsJob(t *testing.T) {
	store := &faultyStore{Store: newStore(t), failItem: "item-03"}
	rec := newRecorder()
	o := New(testConfig(), Deps{Store: store, Engine: newCountingEngine(), Listeners: []Listener{rec}})
	start(t, o)

	job, err := o.Submit(context.Background(), SubmitRequest{ItemIDs: itemIDs(5), BadgeTypes: []string{"review"}})
	if err != nil {
		t.Fatal(err)
	}
	failed := rec.waitStatus(t, job.ID, domain.JobFailed)
	if failed.ErrorMessage == "" || failed.Processed() != 2 {
		t.Errorf("failed job = %+v", failed)
	}

	results, _ := o.Results(context.Background(), job.ID)
	if len(results) != 2 {
		t.Errorf("results = %d, want 2 preserved", len(results))
	}
}

func TestOrchestrator_RecoversOrphansOnStart(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	job := &domain.Job{ID: "orphan", Name: "orphan", Status: domain.JobQueued, BadgeTypes: []string{"review"}, ItemIDs: itemIDs(2), TotalItems: 2}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := store.TransitionJob(ctx, "orphan", domain.JobProcessing, jobstore.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	o := New(testConfig(), Deps{Store: store, Engine: newCountingEngine(), Listeners: []Listener{rec}})
	start(t, o)

	done := rec.waitStatus(t, "orphan", domain.JobCompleted)
	if done.CompletedItems != 2 {
		t.Errorf("CompletedItems = %d, want 2", done.CompletedItems)
	}
}

func TestPool(t *testing.T) {
	p := NewPool(2)
	released := 0
	p.SetOnRelease(func(int) { released++ })

	if !p.Acquire() || !p.Acquire() {
		t.Fatal("two slots should be available")
	}
	if p.Acquire() {
		t.Error("third acquire should fail")
	}
	if p.InUse() != 2 {
		t.Errorf("InUse() = %d, want 2", p.InUse())
	}

	p.Release()
	if p.Available() != 1 || released != 1 {
		t.Errorf("Available() = %d, released = %d", p.Available(), released)
	}

	p.putBack()
	p.putBack()
	if p.Available() != 2 {
		t.Errorf("Available() = %d, must not exceed size", p.Available())
	}
}

// gateEngine holds every call until release is closed
type gateEngine struct {
	*countingEngine
	entered chan string
	release chan struct{}
}

func newGateEngine() *gateEngine {
	return &gateEngine{countingEngine: newCountingEngine(), entered: make(chan string, 10), release: make(chan struct{})}
}

func (e *gateEngine) Enhance(ctx context.Context, itemID string, badgeTypes []string) (engine.Result, error) {
	e.entered <- itemID
	select {
	case <-e.release:
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	}
	return e.countingEngine.Enhance(ctx, itemID, badgeTypes)
}

func TestControl_CancelIsFinal(t *testing.T) {
	c := newControl()
	if !c.request(domain.JobPaused) || !c.request(domain.JobCancelled) {
		t.Fatal("pause and cancel should be accepted")
	}
	for _, s := range []domain.JobStatus{domain.JobPaused, domain.JobProcessing} {
		if c.request(s) {
			t.Errorf("request(%s) accepted after cancel", s)
		}
	}
	if got := c.get(); got != domain.JobCancelled {
		t.Errorf("requested = %s, want cancelled", got)
	}
}

func TestOrchestrator_PauseAfterCancelRejected(t *testing.T) {
	store := newStore(t)
	eng := newGateEngine()
	rec := newRecorder()
	o := New(testConfig(), Deps{Store: store, Engine: eng, Listeners: []Listener{rec}})
	start(t, o)
	ctx := context.Background()

	job, err := o.Submit(ctx, SubmitRequest{ItemIDs: itemIDs(5), BadgeTypes: []string{"review"}})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-eng.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never called")
	}

	res, err := o.Cancel(ctx, job.ID)
	if err != nil || res.RequestedStatus != domain.JobCancelled {
		t.Fatalf("Cancel() = %+v, %v", res, err)
	}
	if _, err := o.Pause(ctx, job.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Pause() after cancel error = %v, want ErrInvalidTransition", err)
	}
	if _, err := o.Resume(ctx, job.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Resume() after cancel error = %v, want ErrInvalidTransition", err)
	}
	close(eng.release)

	cancelled := rec.waitStatus(t, job.ID, domain.JobCancelled)
	if cancelled.Processed() != 1 {
		t.Errorf("cancelled at %d, want 1", cancelled.Processed())
	}

	time.Sleep(50 * time.Millisecond)
	results, err := o.Results(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("results after cancel = %d, want 1", len(results))
	}
	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobCancelled {
		t.Errorf("final status = %s, want cancelled", got.Status)
	}
	if eng.callCount("item-02") != 0 {
		t.Error("item-02 should never be enhanced after cancel")
	}
}

// claimHookStore runs onClaim right after a job was claimed
type claimHookStore struct {
	*jobstore.Store
	onClaim func(job *domain.Job)
}

func (s *claimHookStore) ClaimNextQueued(ctx context.Context) (*domain.Job, error) {
	job, err := s.Store.ClaimNextQueued(ctx)
	if job != nil && s.onClaim != nil {
		s.onClaim(job)
	}
	return job, err
}

func TestOrchestrator_PauseRightAfterClaimGoesThroughWorker(t *testing.T) {
	store := &claimHookStore{Store: newStore(t)}
	eng := newCountingEngine()
	rec := newRecorder()
	o := New(testConfig(), Deps{Store: store, Engine: eng, Listeners: []Listener{rec}})

	paused := make(chan ControlResult, 1)
	var once sync.Once
	store.onClaim = func(job *domain.Job) {
		once.Do(func() {
			go func() {
				res, err := o.Pause(context.Background(), job.ID)
				if err != nil {
					t.Errorf("Pause() error = %v", err)
				}
				paused <- res
			}()
			// let Pause look for the worker while the claim is in progress
			time.Sleep(100 * time.Millisecond)
		})
	}
	start(t, o)

	job, err := o.Submit(context.Background(), SubmitRequest{ItemIDs: itemIDs(3), BadgeTypes: []string{"review"}})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-paused:
		if res.RequestedStatus != domain.JobPaused {
			t.Errorf("Pause() = %+v, want the worker to apply it", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Pause() never returned")
	}
	rec.waitStatus(t, job.ID, domain.JobPaused)

	if _, err := o.Resume(context.Background(), job.ID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	done := rec.waitStatus(t, job.ID, domain.JobCompleted)
	if done.CompletedItems != 3 {
		t.Errorf("CompletedItems = %d, want 3", done.CompletedItems)
	}
	for _, id := range itemIDs(3) {
		if n := eng.callCount(id); n != 1 {
			t.Errorf("%s enhanced %d times, want 1", id, n)
		}
	}
}
