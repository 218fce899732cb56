package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// JobUpdate is the payload of a job_update event
type JobUpdate struct {
	JobID              string           `json:"job_id"`
	Status             domain.JobStatus `json:"status"`
	TotalItems         int              `json:"total_items"`
	CompletedItems     int              `json:"completed_items"`
	FailedItems        int              `json:"failed_items"`
	ProgressPercentage float64          `json:"progress_percentage"`
	CurrentItem        string           `json:"current_item,omitempty"`
}

// SSEHub manages SSE connections. It implements orchestrator.Listener and
// turns every job event into a job_update.
type SSEHub struct {
	clients    map[chan SSEEvent]bool
	broadcast  chan SSEEvent
	register   chan chan SSEEvent
	unregister chan chan SSEEvent
	done       chan struct{}
	mu         sync.RWMutex
}

// NewSSEHub creates a new SSE hub
func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients:    make(map[chan SSEEvent]bool),
		broadcast:  make(chan SSEEvent, 256),
		register:   make(chan chan SSEEvent),
		unregister: make(chan chan SSEEvent),
		done:       make(chan struct{}),
	}
}

// Run dispatches events until ctx is cancelled. It must be called once.
func (h *SSEHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- event:
				default:
					close(client)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues an event for all clients. It never blocks; events are
// dropped while the queue is full.
func (h *SSEHub) Broadcast(event SSEEvent) {
	select {
	case h.broadcast <- event:
	default:
		log.Printf("sse: queue full, dropped %s event", event.Type)
	}
}

// Clients returns the number of connected clients
func (h *SSEHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// JobProgress broadcasts an item-level update
func (h *SSEHub) JobProgress(snap domain.ProgressSnapshot) {
	h.Broadcast(SSEEvent{Type: "job_update", Data: JobUpdate{
		JobID:              snap.JobID,
		Status:             snap.Status,
		TotalItems:         snap.Total,
		CompletedItems:     snap.Completed,
		FailedItems:        snap.Failed,
		ProgressPercentage: domain.Percentage(snap.Processed(), snap.Total),
		CurrentItem:        snap.CurrentItem,
	}})
}

// JobStatusChanged broadcasts a status change
func (h *SSEHub) JobStatusChanged(job *domain.Job) {
	h.Broadcast(SSEEvent{Type: "job_update", Data: JobUpdate{
		JobID:              job.ID,
		Status:             job.Status,
		TotalItems:         job.TotalItems,
		CompletedItems:     job.CompletedItems,
		FailedItems:        job.FailedItems,
		ProgressPercentage: job.Percentage(),
	}})
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		client := make(chan SSEEvent, 32)
		select {
		case s.sseHub.register <- client:
		case <-s.sseHub.done:
			return
		case <-r.Context().Done():
			return
		}

		for {
			select {
			case event, ok := <-client:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				fmt.Fprintf(w, "event: %s\n", event.Type)
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			case <-r.Context().Done():
				select {
				case s.sseHub.unregister <- client:
				case <-s.sseHub.done:
				}
				return
			}
		}
	}
}
