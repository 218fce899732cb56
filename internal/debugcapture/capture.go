// Package debugcapture records every enhancement engine call while a
// time-boxed debug session is enabled and summarizes the captured traffic
// per job.
package debugcapture

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// MaxErrorBody is the number of bytes of an error body kept per request
const MaxErrorBody = 512

// MaxDuration bounds a single debug session
const MaxDuration = 24 * time.Hour

const recentSessions = 10

// Entry is one captured engine request
type Entry struct {
	SessionID  string        `json:"session_id"`
	JobID      string        `json:"job_id"`
	ItemID     string        `json:"item_id"`
	StatusCode int           `json:"status_code"`
	ErrorBody  string        `json:"error_body,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	At         time.Time     `json:"at"`
}

// Session describes one enable/disable cycle
type Session struct {
	ID         string     `json:"id"`
	EnabledAt  time.Time  `json:"enabled_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
	JobIDs     []string   `json:"job_ids"`
	Requests   int        `json:"requests"`
}

// Status is the current debug state
type Status struct {
	Enabled        bool       `json:"enabled"`
	SessionID      string     `json:"session_id,omitempty"`
	EnabledAt      *time.Time `json:"enabled_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ActiveJobs     []string   `json:"active_jobs"`
	RecentSessions []Session  `json:"recent_sessions"`
}

// Capture owns the debug sessions and captured entries
type Capture struct {
	mu       sync.Mutex
	now      func() time.Time
	dir      string
	current  *Session
	sessions []*Session
	entries  map[string][]Entry
}

// New creates a capture that writes JSONL logs below dir. An empty dir keeps
// entries in memory only. A nil clock uses time.Now.
func New(dir string, now func() time.Time) *Capture {
	if now == nil {
		now = time.Now
	}
	return &Capture{
		now:     now,
		dir:     dir,
		entries: make(map[string][]Entry),
	}
}

// Enable starts a session lasting the given number of minutes. Enabling
// while a session is live replaces it.
func (c *Capture) Enable(minutes int) (Session, error) {
	d := time.Duration(minutes) * time.Minute
	if minutes <= 0 || d > MaxDuration {
		return Session{}, fmt.Errorf("%w: duration must be between 1 and %d minutes", domain.ErrValidation, int(MaxDuration.Minutes()))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.closeLocked(now)
	s := &Session{
		ID:        uuid.New().String(),
		EnabledAt: now,
		ExpiresAt: now.Add(d),
	}
	c.current = s
	c.sessions = append(c.sessions, s)
	if len(c.sessions) > recentSessions {
		c.sessions = c.sessions[len(c.sessions)-recentSessions:]
	}
	return *s, nil
}

// Disable ends the live session, if any
func (c *Capture) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(c.now())
}

func (c *Capture) closeLocked(now time.Time) {
	if c.current == nil {
		return
	}
	if now.Before(c.current.ExpiresAt) {
		c.current.DisabledAt = &now
	}
	c.current = nil
}

// liveLocked returns the live session, expiring it when its time is up
func (c *Capture) liveLocked() *Session {
	if c.current != nil && !c.now().Before(c.current.ExpiresAt) {
		c.current = nil
	}
	return c.current
}

// Enabled reports whether a session is live
func (c *Capture) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked() != nil
}

// Status returns the debug state with the most recent sessions first
func (c *Capture) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{ActiveJobs: []string{}, RecentSessions: []Session{}}
	if s := c.liveLocked(); s != nil {
		enabledAt, expiresAt := s.EnabledAt, s.ExpiresAt
		st.Enabled = true
		st.SessionID = s.ID
		st.EnabledAt = &enabledAt
		st.ExpiresAt = &expiresAt
		st.ActiveJobs = append(st.ActiveJobs, s.JobIDs...)
	}
	for i := len(c.sessions) - 1; i >= 0; i-- {
		s := *c.sessions[i]
		s.JobIDs = append([]string(nil), s.JobIDs...)
		st.RecentSessions = append(st.RecentSessions, s)
	}
	return st
}

// Record captures one engine call if a session is live. statusCode is 0 for
// requests that never got a response.
func (c *Capture) Record(jobID, itemID string, statusCode int, errorBody string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.liveLocked()
	if s == nil {
		return
	}

	errorBody = truncateBody(errorBody, MaxErrorBody)
	e := Entry{
		SessionID:  s.ID,
		JobID:      jobID,
		ItemID:     itemID,
		StatusCode: statusCode,
		ErrorBody:  errorBody,
		Duration:   d,
		At:         c.now(),
	}
	c.entries[jobID] = append(c.entries[jobID], e)
	s.Requests++
	if !containsString(s.JobIDs, jobID) {
		s.JobIDs = append(s.JobIDs, jobID)
	}

	if c.dir != "" {
		if err := c.appendLog(e); err != nil {
			log.Printf("debug capture: write log for job %s: %v", jobID, err)
		}
	}
}

func (c *Capture) logPath(jobID string) string {
	return filepath.Join(c.dir, jobID+".jsonl")
}

func (c *Capture) appendLog(e Entry) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(c.logPath(e.JobID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// jobEntries returns the captured entries of a job. With a log directory the
// JSONL file is authoritative, since it also holds entries recorded before a
// restart; memory is used when there is no directory or no file.
func (c *Capture) jobEntries(jobID string) ([]Entry, error) {
	c.mu.Lock()
	mem := append([]Entry(nil), c.entries[jobID]...)
	c.mu.Unlock()
	if c.dir == "" {
		return mem, nil
	}

	f, err := os.Open(c.logPath(jobID))
	if os.IsNotExist(err) {
		return mem, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decode debug log of job %s: %w", jobID, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// Log returns the captured entries of a job as JSON lines
func (c *Capture) Log(jobID string) ([]byte, error) {
	entries, err := c.jobEntries(jobID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("debug log of job %s: %w", jobID, domain.ErrNotFound)
	}

	var b strings.Builder
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// Cleanup drops captured data older than the given number of days and
// returns how many jobs were removed.
func (c *Capture) Cleanup(olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("%w: days must not be negative", domain.ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	removed := make(map[string]bool)

	for jobID, entries := range c.entries {
		if len(entries) > 0 && entries[len(entries)-1].At.Before(cutoff) {
			delete(c.entries, jobID)
			removed[jobID] = true
		}
	}

	if c.dir != "" {
		files, err := os.ReadDir(c.dir)
		if err != nil && !os.IsNotExist(err) {
			return len(removed), err
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(c.dir, f.Name())); err != nil {
					return len(removed), err
				}
				removed[strings.TrimSuffix(f.Name(), ".jsonl")] = true
			}
		}
	}
	return len(removed), nil
}

// JobIDs returns the ids of jobs with captured entries in memory
func (c *Capture) JobIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// truncateBody cuts s to at most n bytes without splitting a UTF-8 sequence
func truncateBody(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
