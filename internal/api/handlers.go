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

	"github.com/nerrad567/vcontrold-bridge/internal/audit"
	"github.com/nerrad567/vcontrold-bridge/internal/bridge"
	"github.com/nerrad567/vcontrold-bridge/internal/heating"
)

// History query bounds, matching the repository.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// rawRequest is the body of the raw read and write endpoints.
type rawRequest struct {
	Command string `json:"command"`
	Value   string `json:"value,omitempty"`
}

// rawResponse echoes the command with the daemon's answer.
type rawResponse struct {
	Command string `json:"command"`
	Value   string `json:"value"`
	Status  string `json:"status,omitempty"`
}

// handleHealth returns the bridge health. Degraded is still a 200: the
// API itself is up.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.bridge.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           h.Status,
		"reason":           h.Reason,
		"version":          s.version,
		"device_id":        h.DeviceID,
		"daemon_connected": h.Daemon.Connected,
	})
}

// handleDevice returns the inventory id and the daemon link state.
func (s *Server) handleDevice(w http.ResponseWriter, _ *http.Request) {
	snap := s.bridge.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":    snap.DeviceID,
		"heating_type": snap.HeatingType,
		"daemon":       s.daemonMetrics(),
	})
}

func (s *Server) handleReadings(w http.ResponseWriter, _ *http.Request) {
	snap := s.bridge.Snapshot()
	if snap.Readings == nil {
		snap.Readings = []heating.Reading{}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleReading(w http.ResponseWriter, r *http.Request) {
	sensor := chi.URLParam(r, "sensor")
	if _, ok := heating.Lookup(sensor); !ok {
		writeNotFound(w, fmt.Sprintf("unknown sensor %q", sensor))
		return
	}
	reading, ok := s.bridge.Reading(sensor)
	if !ok {
		writeNotFound(w, fmt.Sprintf("no reading for %q yet", sensor))
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleReadingHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history is disabled")
		return
	}

	sensor := chi.URLParam(r, "sensor")
	if _, ok := heating.Lookup(sensor); !ok {
		writeNotFound(w, fmt.Sprintf("unknown sensor %q", sensor))
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	since, err := parseSinceParam(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}

	entries, err := s.history.History(r.Context(), sensor, limit, since)
	if err != nil {
		s.logger.Error("history query failed", "sensor", sensor, "error", err)
		writeInternalError(w, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sensor":  sensor,
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) handleRawRead(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRaw(w, r)
	if !ok {
		return
	}

	body, err := s.daemon.Read(r.Context(), req.Command)
	if err != nil {
		writeDaemonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rawResponse{Command: req.Command, Value: body})
}

func (s *Server) handleRawWrite(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRaw(w, r)
	if !ok {
		return
	}
	if req.Value == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "value is required")
		return
	}
	if req.Command == heating.CmdSetOperating && !heating.ValidOperatingMode(req.Value) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation,
			fmt.Sprintf("operating mode %q not one of WW, H+WW, RED, NORM, ABSCHALT", req.Value))
		return
	}

	err := s.daemon.Write(r.Context(), req.Command, req.Value)
	s.recordWrite(r, req, err)
	if err != nil {
		writeDaemonError(w, err)
		return
	}
	s.logger.Info("raw write accepted", "command", req.Command, "value", req.Value)
	writeJSON(w, http.StatusOK, rawResponse{Command: req.Command, Value: req.Value, Status: "accepted"})
}

// recordWrite appends an API write to the command log.
func (s *Server) recordWrite(r *http.Request, req rawRequest, err error) {
	if s.commands == nil {
		return
	}
	e := &audit.Entry{
		Source:    audit.SourceAPI,
		DeviceID:  s.bridge.DeviceID(),
		Command:   req.Command,
		Value:     req.Value,
		Status:    audit.StatusOK,
		RequestID: requestID(r),
	}
	if err != nil {
		_, e.ErrorCode = daemonErrorStatus(err)
		e.Status = audit.StatusError
		e.Message = err.Error()
	}
	// The request context may already be cancelled by a timed out write.
	ctx := context.WithoutCancel(r.Context())
	if lerr := s.commands.Record(ctx, e); lerr != nil {
		s.logger.Warn("failed to record command", "command", req.Command, "error", lerr)
	}
}

// handleCommands lists the command log.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeNotFound(w, "command log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Source:  q.Get("source"),
		Command: q.Get("command"),
		Status:  q.Get("status"),
	}
	var err error
	if filter.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, err = parseIntParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "invalid offset")
		return
	}

	result, err := s.commands.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("command log query failed", "error", err)
		writeInternalError(w, "command log query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handlePoll runs a poll cycle and reports its outcome.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.bridge.PollNow(r.Context())
	if err != nil {
		writeDaemonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pollResponse(cycle))
}

func pollResponse(c bridge.Cycle) map[string]any {
	return map[string]any{
		"cycle_id":  c.ID,
		"device_id": c.DeviceID,
		"readings":  len(c.Readings),
		"started":   c.Started,
	}
}

func decodeRaw(w http.ResponseWriter, r *http.Request) (rawRequest, bool) {
	var req rawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return req, false
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "command is required")
		return req, false
	}
	return req, true
}

// parseHistoryLimit parses the limit query parameter with bounds enforcement.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum of %d", maxHistoryLimit)
	}
	return limit, nil
}

// parseSinceParam parses the since parameter as RFC3339/RFC3339Nano.
func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// parseIntParam parses an optional non-negative integer query parameter.
func parseIntParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return n, nil
}
