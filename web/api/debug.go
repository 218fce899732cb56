package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// DebugEnableRequest is the body of POST /api/debug/enable
type DebugEnableRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

// DebugCleanupRequest is the body of POST /api/debug/cleanup
type DebugCleanupRequest struct {
	Days int `json:"days"`
}

// DebugCleanupResponse reports how many job captures were removed
type DebugCleanupResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) debugEnableHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := DebugEnableRequest{DurationMinutes: 30}
		if err := decodeOptional(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		session, err := s.deps.Debug.Enable(req.DurationMinutes)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, session)
	}
}

func (s *Server) debugDisableHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.deps.Debug.Disable()
		writeJSON(w, s.deps.Debug.Status())
	}
}

func (s *Server) debugStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.deps.Debug.Status())
	}
}

func (s *Server) debugSummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.deps.Debug.Summary(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, summary)
	}
}

func (s *Server) debugLogHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		data, err := s.deps.Debug.Log(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", `attachment; filename="debug-`+id+`.jsonl"`)
		w.Write(data)
	}
}

func (s *Server) debugCleanupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := DebugCleanupRequest{Days: 7}
		if err := decodeOptional(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.Days < 0 {
			writeError(w, http.StatusBadRequest, "days must not be negative")
			return
		}
		n, err := s.deps.Debug.Cleanup(req.Days)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, DebugCleanupResponse{Removed: n})
	}
}

// decodeOptional decodes a JSON body into v, leaving v untouched when the
// body is empty
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}
