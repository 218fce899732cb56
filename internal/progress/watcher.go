package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// pingWait is how long a watcher waits for any frame before it treats the
// connection as dead
const pingWait = 90 * time.Second

var (
	// ErrRetriesExhausted is returned when a watcher gives up reconnecting
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	// ErrAlreadyWatching is returned when a job already has a watcher
	ErrAlreadyWatching = errors.New("job is already being watched")
)

// RetryPolicy controls reconnects after an abnormal close. The delay is
// fixed; MaxAttempts counts consecutive reconnects without a received message.
type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy returns 5 attempts, 3 seconds apart
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Delay: 3 * time.Second, MaxAttempts: 5}
}

// WebSocketURL returns the progress endpoint of a job on a server given by
// its http(s) base URL
func WebSocketURL(baseURL, jobID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/jobs/" + url.PathEscape(jobID)
	return u.String(), nil
}

// Watcher follows the progress of one job over a WebSocket connection
type Watcher struct {
	JobID string

	url     string
	policy  RetryPolicy
	dialer  *websocket.Dialer
	updates chan Message
	done    chan struct{}
	err     error

	mu        sync.Mutex
	lastSeq   uint64
	latest    *ProgressData
	status    domain.JobStatus
	connected bool
}

// NewWatcher creates a watcher for jobID on the server at baseURL
func NewWatcher(baseURL, jobID string, policy RetryPolicy) (*Watcher, error) {
	wsURL, err := WebSocketURL(baseURL, jobID)
	if err != nil {
		return nil, err
	}
	if policy.Delay <= 0 {
		policy.Delay = DefaultRetryPolicy().Delay
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	return &Watcher{
		JobID:   jobID,
		url:     wsURL,
		policy:  policy,
		dialer:  websocket.DefaultDialer,
		updates: make(chan Message, 16),
		done:    make(chan struct{}),
	}, nil
}

// Updates delivers accepted messages in sequence order. It is closed when
// Run returns.
func (w *Watcher) Updates() <-chan Message {
	return w.updates
}

// Done is closed when Run returns
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Err returns the error Run ended with, once Done is closed
func (w *Watcher) Err() error {
	<-w.done
	return w.err
}

// Latest returns the newest progress, or false while it is unknown
func (w *Watcher) Latest() (ProgressData, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == nil {
		return ProgressData{}, false
	}
	return *w.latest, true
}

// Status returns the last status received, empty if none
func (w *Watcher) Status() domain.JobStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Connected reports whether a connection is currently open
func (w *Watcher) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Run connects and follows the job until it finishes, ctx is cancelled or
// the retry policy is exhausted. It returns nil when the server closed the
// stream normally.
func (w *Watcher) Run(ctx context.Context) error {
	w.err = w.run(ctx)
	close(w.updates)
	close(w.done)
	return w.err
}

func (w *Watcher) run(ctx context.Context) error {
	failures := 0
	for {
		finished, received, err := w.session(ctx)
		w.disconnected()
		if finished {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if received {
			failures = 0
		}
		failures++
		if failures > w.policy.MaxAttempts {
			return fmt.Errorf("%w: job %s: %v", ErrRetriesExhausted, w.JobID, err)
		}
		log.Printf("watch job %s: %v, reconnecting in %s (attempt %d/%d)",
			w.JobID, err, w.policy.Delay, failures, w.policy.MaxAttempts)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.policy.Delay):
		}
	}
}

// session runs one connection. finished is true after a normal close.
func (w *Watcher) session(ctx context.Context) (finished, received bool, err error) {
	conn, resp, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, false, fmt.Errorf("%w: job %s", domain.ErrNotFound, w.JobID)
		}
		return false, false, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	w.mu.Lock()
	w.connected = true
	w.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pingWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, received, nil
			}
			return false, received, err
		}
		conn.SetReadDeadline(time.Now().Add(pingWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("watch job %s: invalid message: %v", w.JobID, err)
			continue
		}
		received = true
		if !w.accept(msg) {
			continue
		}
		select {
		case w.updates <- msg:
		case <-ctx.Done():
			return false, received, ctx.Err()
		}
	}
}

// accept applies msg to the cached state. Duplicates, superseded messages
// and progress regressions are rejected.
func (w *Watcher) accept(msg Message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if msg.JobID != w.JobID || msg.Seq <= w.lastSeq {
		return false
	}
	switch msg.Type {
	case TypeProgressUpdate:
		p, err := msg.Progress()
		if err != nil {
			return false
		}
		w.lastSeq = msg.Seq
		if w.latest != nil && p.Processed() < w.latest.Processed() {
			return false
		}
		w.latest = &p
	case TypeStatusUpdate:
		s, err := msg.Status()
		if err != nil {
			return false
		}
		w.lastSeq = msg.Seq
		w.status = s.Status
	default:
		return false
	}
	return true
}

// disconnected forgets cached progress; the next connection starts with a
// fresh snapshot
func (w *Watcher) disconnected() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	w.lastSeq = 0
	w.latest = nil
}

// Watchers runs at most one Watcher per job
type Watchers struct {
	baseURL string
	policy  RetryPolicy

	mu     sync.Mutex
	active map[string]*Watcher
}

// NewWatchers creates a watcher set for the server at baseURL
func NewWatchers(baseURL string, policy RetryPolicy) *Watchers {
	return &Watchers{baseURL: baseURL, policy: policy, active: make(map[string]*Watcher)}
}

// Watch starts a watcher for jobID in the background. A second call for a
// job that is still being watched returns ErrAlreadyWatching.
func (ws *Watchers) Watch(ctx context.Context, jobID string) (*Watcher, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if _, ok := ws.active[jobID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyWatching, jobID)
	}
	w, err := NewWatcher(ws.baseURL, jobID, ws.policy)
	if err != nil {
		return nil, err
	}
	ws.active[jobID] = w

	go func() {
		if err := w.Run(ctx); err != nil {
			log.Printf("watch job %s: %v", jobID, err)
		}
		ws.mu.Lock()
		delete(ws.active, jobID)
		ws.mu.Unlock()
	}()
	return w, nil
}

// Watching reports whether jobID has a running watcher
func (ws *Watchers) Watching(jobID string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	_, ok := ws.active[jobID]
	return ok
}

// Count returns the number of running watchers
func (ws *Watchers) Count() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.active)
}
