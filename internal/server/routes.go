package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	// Jobs
	mux.HandleFunc("/api/jobs/ws", s.handleJobsWS)
	mux.HandleFunc("/api/jobs/{id}/cancel", s.handleJobCancel)
	mux.HandleFunc("/api/jobs", s.handleJobs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.Info())
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}

// handleJobs handles GET /api/jobs[?status=pending][&limit=N].
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ctx := r.Context()
	store := s.app.Storage.JobQueueStore()
	limit := QueryLimit(r, 100, 1000)

	if r.URL.Query().Get("status") == "pending" {
		jobs, err := store.ListPending(ctx, limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to list pending jobs: "+err.Error())
			return
		}
		pending, _ := store.CountPending(ctx)
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"jobs":    jobs,
			"pending": pending,
		})
		return
	}

	jobs, err := store.ListAll(ctx, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// handleJobCancel handles POST /api/jobs/{id}/cancel for pending jobs.
func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := r.PathValue("id")
	if err := s.app.JobManager.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "No pending job "+id)
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to cancel job: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelled"})
}

// handleJobsWS upgrades GET /api/jobs/ws to a job event stream.
func (s *Server) handleJobsWS(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.app.JobManager == nil || !s.app.JobManager.Running() {
		WriteError(w, http.StatusServiceUnavailable, "Job manager not running")
		return
	}
	s.app.JobManager.Hub().ServeWS(w, r)
}
