package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hochfrequenz/posterbadge/internal/domain"
	"github.com/hochfrequenz/posterbadge/internal/jobstore"
	"github.com/hochfrequenz/posterbadge/internal/orchestrator"
)

// CreateJobRequest is the body of POST /api/jobs
type CreateJobRequest struct {
	Name       string   `json:"name,omitempty"`
	ItemIDs    []string `json:"item_ids"`
	BadgeTypes []string `json:"badge_types"`
	Owner      string   `json:"owner,omitempty"`
	LibraryID  string   `json:"library_id,omitempty"`
	Force      bool     `json:"force,omitempty"`
}

// CreateJobResponse is the answer to POST /api/jobs
type CreateJobResponse struct {
	JobID string `json:"job_id"`
}

// ItemResultResponse is one recorded item outcome
type ItemResultResponse struct {
	ItemID       string         `json:"item_id"`
	Outcome      domain.Outcome `json:"outcome"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ArtifactRef  string         `json:"artifact_ref,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ControlResponse is the answer to a pause, resume, cancel or restart request
type ControlResponse struct {
	orchestrator.ControlResult
	Error string `json:"error,omitempty"`
}

func resultToResponse(r domain.ItemResult) ItemResultResponse {
	return ItemResultResponse{
		ItemID:       r.ItemID,
		Outcome:      r.Outcome,
		ErrorMessage: r.ErrorMessage,
		ArtifactRef:  r.ArtifactRef,
		DurationMS:   r.Duration.Milliseconds(),
		CreatedAt:    r.CreatedAt,
	}
}

func (s *Server) createJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		job, err := s.deps.Jobs.Submit(r.Context(), orchestrator.SubmitRequest{
			Name:       req.Name,
			ItemIDs:    req.ItemIDs,
			BadgeTypes: req.BadgeTypes,
			Owner:      req.Owner,
			LibraryID:  req.LibraryID,
			Force:      req.Force,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, CreateJobResponse{JobID: job.ID})
	}
}

func (s *Server) listJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := listOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		jobs, err := s.deps.Jobs.Jobs(r.Context(), opts)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		views := make([]domain.JobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, j.View())
		}
		writeJSON(w, views)
	}
}

func listOptions(r *http.Request) (jobstore.ListOptions, error) {
	q := r.URL.Query()
	opts := jobstore.ListOptions{Owner: q.Get("owner")}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := domain.JobStatus(strings.TrimSpace(part))
			if st == "active" {
				opts.Statuses = append(opts.Statuses, domain.ActiveStatuses...)
				continue
			}
			if !st.Valid() {
				return opts, fmt.Errorf("unknown status %q", st)
			}
			opts.Statuses = append(opts.Statuses, st)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid limit %q", raw)
		}
		opts.Limit = n
	}
	return opts, nil
}

func (s *Server) getJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.deps.Jobs.Job(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, job.View())
	}
}

func (s *Server) deleteJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Jobs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) resultsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := s.deps.Jobs.Results(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := make([]ItemResultResponse, 0, len(results))
		for _, res := range results {
			resp = append(resp, resultToResponse(res))
		}
		writeJSON(w, resp)
	}
}

type controlFunc func(ctx context.Context, id string) (orchestrator.ControlResult, error)

func (s *Server) controlHandler(fn controlFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			res.Success = false
			writeJSONStatus(w, statusFor(err), ControlResponse{ControlResult: res, Error: err.Error()})
			return
		}
		writeJSON(w, ControlResponse{ControlResult: res})
	}
}
