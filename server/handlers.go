package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
	"github.com/mmazurovsky/jobs-alerts-sub001/pipeline"
	"github.com/mmazurovsky/jobs-alerts-sub001/sym"
)

type healthResponse struct {
	Status        string          `json:"status"`
	ActiveAlerts  int             `json:"active_alerts"`
	LiveSessions  int             `json:"live_sessions"`
	Executions    executionCounts `json:"executions"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	MemMB         float64         `json:"mem_mb"`
}

type executionCounts struct {
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	activeAlerts, err := s.searches.CountActive()
	if err != nil {
		s.logger.Warnw("Health: counting alerts failed", "error", err)
	}

	resp := healthResponse{
		Status:        "ok",
		ActiveAlerts:  activeAlerts,
		LiveSessions:  s.sessions.Count(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		MemMB:         processMemoryMB(),
	}
	if counts, err := s.execStore.CountByStatus(); err == nil {
		resp.Executions.Running = counts[pipeline.StatusRunning]
		resp.Executions.Completed = counts[pipeline.StatusCompleted]
		resp.Executions.Failed = counts[pipeline.StatusFailed]
	}

	writeJSON(w, http.StatusOK, resp)
}

func processMemoryMB() float64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return float64(info.RSS) / (1024 * 1024)
}

// resultsRequest is the async scraper callback payload.
type resultsRequest struct {
	SearchID string          `json:"search_id"`
	OwnerID  string          `json:"owner_id"`
	Postings []alert.Posting `json:"postings"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.checkScraperVersion(r.Header.Get("X-Scraper-Version")); err != nil {
		s.logger.Warnw("Rejected results from incompatible scraper",
			"symbol", sym.Net,
			"version", r.Header.Get("X-Scraper-Version"),
			"error", err,
		)
		writeJSONError(w, http.StatusUpgradeRequired, err.Error())
		return
	}

	var req resultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SearchID == "" || req.OwnerID == "" {
		writeJSONError(w, http.StatusBadRequest, "search_id and owner_id are required")
		return
	}

	delivered, err := s.runner.IngestResults(req.SearchID, req.OwnerID, req.Postings)
	if err != nil {
		switch {
		case errors.IsNotFound(err):
			writeJSONError(w, http.StatusNotFound, "search not found")
		case errors.IsInvalidInput(err):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Errorw("Results ingestion failed",
				"search_id", req.SearchID,
				"error", err,
			)
			writeJSONError(w, http.StatusInternalServerError, "ingestion failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accepted":  len(req.Postings),
		"delivered": delivered,
	})
}

// checkScraperVersion enforces the minimum scraper version constraint.
// A missing header is rejected when a constraint is configured.
func (s *Server) checkScraperVersion(header string) error {
	if s.cfg.MinScraperVersion == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(s.cfg.MinScraperVersion)
	if err != nil {
		// Validated at config load; keep serving rather than reject everything.
		s.logger.Warnw("Invalid scraper version constraint", "constraint", s.cfg.MinScraperVersion)
		return nil
	}
	if header == "" {
		return errors.NewInvalidInputf("X-Scraper-Version header required (want %s)", s.cfg.MinScraperVersion)
	}
	version, err := semver.NewVersion(header)
	if err != nil {
		return errors.NewInvalidInputf("malformed scraper version %q", header)
	}
	if !constraint.Check(version) {
		return errors.NewInvalidInputf("scraper version %s does not satisfy %s", header, s.cfg.MinScraperVersion)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
