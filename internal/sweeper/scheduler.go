// Package sweeper runs periodic maintenance on cron schedules: restarting
// stuck jobs and pruning old debug captures.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a named maintenance job with a cron schedule
type Task struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

// Validate checks the task
func (t Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if t.Cron == "" {
		return fmt.Errorf("task %s: cron expression is required", t.Name)
	}
	if _, err := ParseCron(t.Cron); err != nil {
		return fmt.Errorf("task %s: invalid cron expression: %w", t.Name, err)
	}
	if t.Run == nil {
		return fmt.Errorf("task %s: nothing to run", t.Name)
	}
	return nil
}

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Scheduler runs tasks when their schedule comes due
type Scheduler struct {
	tasks     map[string]Task
	schedules map[string]cron.Schedule
	lastRun   map[string]time.Time
	running   map[string]bool
	mu        sync.RWMutex
	now       func() time.Time
	tick      time.Duration
	wg        sync.WaitGroup
}

// New creates a scheduler. Schedules count from the moment of creation.
func New(tasks []Task) (*Scheduler, error) {
	s := &Scheduler{
		tasks:     make(map[string]Task),
		schedules: make(map[string]cron.Schedule),
		lastRun:   make(map[string]time.Time),
		running:   make(map[string]bool),
		now:       time.Now,
		tick:      time.Minute,
	}

	start := s.now()
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.tasks[t.Name]; dup {
			return nil, fmt.Errorf("duplicate task %s", t.Name)
		}
		sched, _ := ParseCron(t.Cron)
		s.tasks[t.Name] = t
		s.schedules[t.Name] = sched
		s.lastRun[t.Name] = start
	}
	return s, nil
}

// NextRun returns the next time a task is due, zero for unknown tasks
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[name]
	if !ok {
		return time.Time{}
	}
	return sched.Next(s.lastRun[name])
}

// ShouldRun reports whether a task is due and not already running
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[name]
	if !ok || s.running[name] {
		return false
	}
	return !s.now().Before(sched.Next(s.lastRun[name]))
}

// Tasks returns the task names, sorted
func (s *Scheduler) Tasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow runs a task synchronously regardless of its schedule
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown task %s", name)
	}
	if s.running[name] {
		s.mu.Unlock()
		return fmt.Errorf("task %s is already running", name)
	}
	s.running[name] = true
	s.mu.Unlock()

	err := t.Run(ctx)

	s.mu.Lock()
	s.running[name] = false
	s.lastRun[name] = s.now()
	s.mu.Unlock()
	return err
}

// Run checks schedules every tick until ctx is cancelled. Due tasks run in
// their own goroutine; a task never overlaps with itself.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			for _, name := range s.Tasks() {
				if !s.ShouldRun(name) {
					continue
				}
				s.wg.Add(1)
				go func(name string) {
					defer s.wg.Done()
					if err := s.RunNow(ctx, name); err != nil {
						log.Printf("maintenance task %s failed: %v", name, err)
					}
				}(name)
			}
		}
	}
}
