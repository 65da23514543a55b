package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/yanun0323/errors"

	"main/internal/audit"
	"main/internal/executor"
	"main/internal/pipeline"
)

type runCycleRequest struct {
	Symbol string `json:"symbol"`
	Mode   string `json:"mode,omitempty"`
}

type runCycleResponse struct {
	CycleID    string                 `json:"cycleId"`
	RecordID   string                 `json:"recordId"`
	Symbol     string                 `json:"symbol"`
	Action     string                 `json:"action"`
	Confidence float64                `json:"confidence"`
	Approved   bool                   `json:"approved"`
	RiskReason string                 `json:"riskReason,omitempty"`
	Executed   bool                   `json:"executed"`
	Thoughts   []audit.ThoughtSummary `json:"thoughts,omitempty"`
	Execution  *executor.Result       `json:"execution,omitempty"`
	Duration   string                 `json:"duration"`
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not running")
		return
	}

	var req runCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	result, err := s.deps.Runner.RunCycle(r.Context(), pipeline.Request{
		Symbol: req.Symbol,
		Mode:   executor.Mode(req.Mode),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, runCycleResponse{
		CycleID:    result.CycleID,
		RecordID:   result.Record.ID,
		Symbol:     req.Symbol,
		Action:     string(result.Decision.Action),
		Confidence: result.Decision.Confidence,
		Approved:   result.Risk.Approved,
		RiskReason: result.Risk.Reason,
		Executed:   result.Record.WasExecuted,
		Thoughts:   result.Record.Thoughts,
		Execution:  result.Execution,
		Duration:   result.Duration.String(),
	})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Symbol: strings.ToUpper(strings.TrimSpace(q.Get("symbol"))),
	}
	if v := q.Get("executed"); v != "" {
		executed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "executed must be a boolean")
			return
		}
		filter.ExecutedOnly = executed
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit"), 50); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	records, err := s.deps.Store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.deps.Store.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == audit.ErrNotFound:
		writeError(w, http.StatusNotFound, "record not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, record)
	}
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if s.deps.Replayer == nil {
		writeError(w, http.StatusServiceUnavailable, "replay not available")
		return
	}
	result, err := s.deps.Replayer.Replay(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == audit.ErrNotFound:
		writeError(w, http.StatusNotFound, "record not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRiskStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Risk == nil {
		writeError(w, http.StatusServiceUnavailable, "risk manager not running")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Risk.Status())
}

func (s *Server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Router == nil {
		writeError(w, http.StatusServiceUnavailable, "execution router not running")
		return
	}
	status, err := s.deps.Router.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleKillSwitchReset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Risk == nil {
		writeError(w, http.StatusServiceUnavailable, "risk manager not running")
		return
	}
	if err := s.deps.Risk.KillSwitch().Reset(true); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Risk.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	status := http.StatusOK
	if s.deps.Bus != nil {
		stats := s.deps.Bus.Snapshot()
		body["busRunning"] = stats.Running
		body["queueDepth"] = stats.QueueDepth
		if !stats.Running {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("bad integer")
	}
	return n, nil
}
