package api

import (
	"context"
	stderr "errors"
	"net/http"
	"time"

	"github.com/statdash/statdash/pkg/errors"
	"github.com/statdash/statdash/pkg/health"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":    health.StateHealthy,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now(),
	}
	statusCode := http.StatusOK

	if s.deps.Health != nil {
		overall := s.deps.Health.GetOverallHealth()
		response["status"] = overall
		response["components"] = s.deps.Health.GetAllComponents()
		if overall == health.StateUnavailable {
			statusCode = http.StatusServiceUnavailable
		}
	}

	s.respondJSON(w, statusCode, response)
}

// handleIndicator serves the table for one indicator, loading it on a miss.
// An indicator with no rows answers 204. ?format=csv returns CSV.
func (s *Server) handleIndicator(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	table, err := s.deps.Cache.GetOrLoad(r.Context(), id, s.deps.Loader)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	if table.Empty() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := table.WriteCSV(w); err != nil {
			s.logger.Warn("failed to write CSV response", "key", id, "error", err)
		}
		return
	}
	s.respondJSON(w, http.StatusOK, table)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"stats":       s.deps.Cache.Stats(),
		"memory_keys": s.deps.Cache.MemoryKeys(),
	}

	files, size, err := s.deps.Cache.DiskUsage()
	if err != nil {
		response["disk_error"] = err.Error()
	} else {
		response["disk"] = map[string]any{"files": files, "bytes": size}
	}

	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	s.deps.Cache.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.deps.Cache.Clear(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"objectives": s.deps.Catalog.Catalog().Objectives(),
	})
}

func (s *Server) handlePreloadGoal(w http.ResponseWriter, r *http.Request) {
	goalID := r.PathValue("id")

	jobID, err := s.deps.Catalog.PreloadGoal(goalID)
	if err != nil {
		s.respondFailure(w, err)
		return
	}

	response := map[string]any{"job_id": jobID, "goal": goalID}
	if s.deps.Jobs != nil {
		w.Header().Set("Location", "/preload/"+jobID)
	}
	s.respondJSON(w, http.StatusAccepted, response)
}

func (s *Server) handleGoalSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Catalog.GoalSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePreloadJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.PathValue("job"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

// respondFailure maps an error to its HTTP status.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	statusCode := statusForError(err)
	if statusCode >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "status", statusCode, "error", err)
	}
	s.respondJSON(w, statusCode, map[string]any{
		"error":     err.Error(),
		"code":      errors.CodeOf(err),
		"timestamp": time.Now(),
	})
}

func statusForError(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrCodeSourceNotFound, errors.ErrCodeCatalogNotFound, errors.ErrCodePreloadUnknown:
		return http.StatusNotFound
	case errors.ErrCodeCacheKeyInvalid:
		return http.StatusBadRequest
	case errors.ErrCodePreloadRejected:
		return http.StatusServiceUnavailable
	case errors.ErrCodeSourceRead, errors.ErrCodeSourceUnavailable:
		return http.StatusBadGateway
	}
	switch {
	case stderr.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case stderr.Is(err, context.Canceled):
		// Client went away; nobody reads this.
		return 499
	}
	return http.StatusInternalServerError
}
