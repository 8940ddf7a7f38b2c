package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
)

const maxListLimit = 500

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	runs, err := s.deps.Runs.ListRuns(r.Context(), 1)
	if err != nil {
		s.logger.Error("failed to read run log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read run log")
		return
	}
	if len(runs) > 0 {
		brief := briefOf(runs[0])
		resp.LastRun = &brief
	}

	if s.deps.Schedule != nil {
		if next := s.deps.Schedule.Next(); !next.IsZero() {
			resp.NextRunAt = &next
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleListRuns handles GET /runs?limit=N, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := s.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := RunListResponse{Runs: make([]RunBrief, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, briefOf(run))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetRun handles GET /runs/{runID}. A unique id prefix is accepted.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.deps.Runs.GetRun(r.Context(), runID)
	switch {
	case errors.Is(err, runlog.ErrRunNotFound):
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	case errors.Is(err, runlog.ErrAmbiguousRunID):
		s.writeError(w, http.StatusConflict, "run id prefix matches more than one run")
		return
	case err != nil:
		s.logger.Error("failed to get run", "run_id", runID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	stages := run.Stages
	if stages == nil {
		stages = []runlog.StageRecord{}
	}
	respondJSON(w, http.StatusOK, RunDetailResponse{
		RunBrief:  briefOf(*run),
		StagesDir: run.StagesDir,
		Stages:    stages,
	})
}

// handleListSnapshots handles GET /snapshots, oldest first.
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.deps.Snapshots.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list snapshots", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []snapshot.Snapshot{}
	}
	respondJSON(w, http.StatusOK, SnapshotListResponse{Snapshots: snaps})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
