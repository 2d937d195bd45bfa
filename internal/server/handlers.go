package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mintlabs/engagemint/internal/insight"
	"github.com/mintlabs/engagemint/internal/store"
	"github.com/mintlabs/engagemint/internal/telemetry"
)

const (
	defaultTelemetryLimit = 200
	maxTelemetryLimit     = 1000
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Stats()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, map[string]any{
		"status":   "ok",
		"sessions": counts.Sessions,
		"points":   counts.Points,
	})
}

type startCommandRequest struct {
	UserID     string `json:"userId"`
	Title      string `json:"title"`
	CourseCode string `json:"courseCode"`
}

// handleCommandStart creates a new active session, queues a start command
// for the capture device, and begins monitoring the session.
func (s *Server) handleCommandStart(w http.ResponseWriter, r *http.Request) {
	var req startCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Title) == "" {
		writeErr(w, http.StatusBadRequest, "userId and title are required")
		return
	}

	sess, err := s.store.CreateSession(store.Session{
		UserID:     req.UserID,
		Title:      req.Title,
		CourseCode: req.CourseCode,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	cmd, err := s.store.EnqueueCommand(s.cfg.Monitor.DeviceID, "start_session")
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.monitor.Watch(sess.ID)
	writeOK(w, map[string]any{"session": sess, "command": cmd})
}

type endCommandRequest struct {
	SessionID string `json:"sessionId"`
}

// handleCommandEnd finalizes the session with its computed average as the
// overall score, queues an end command, and stops monitoring.
func (s *Server) handleCommandEnd(w http.ResponseWriter, r *http.Request) {
	var req endCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeErr(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	sessionStats, err := s.insights.SessionStats(req.SessionID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if err := s.store.FinalizeSession(req.SessionID, sessionStats.AverageScore); err != nil {
		writeStoreErr(w, err)
		return
	}

	cmd, err := s.store.EnqueueCommand(s.cfg.Monitor.DeviceID, "end_session")
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.monitor.Unwatch(req.SessionID, time.Now())

	sess, err := s.store.GetSession(req.SessionID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeOK(w, map[string]any{"session": sess, "command": cmd})
}

func (s *Server) handleDeviceCommands(w http.ResponseWriter, r *http.Request) {
	cmds, err := s.store.DrainCommands(r.PathValue("deviceID"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, map[string]any{"commands": cmds})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.PathValue("userID"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	sessionStats, err := s.insights.SessionStats(sessionID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeOK(w, map[string]any{"session": sess, "stats": sessionStats})
}

type patchSessionRequest struct {
	Description *string         `json:"description"`
	Comments    json.RawMessage `json:"comments"`
}

// coerceComments accepts either a string list or a bare string, which
// becomes a one-element list.
func coerceComments(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	return nil, fmt.Errorf("comments must be a string or a string array")
}

func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	var req patchSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	comments, err := coerceComments(req.Comments)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Description == nil && comments == nil {
		writeErr(w, http.StatusBadRequest, "nothing to update")
		return
	}

	sess, err := s.store.UpdateSessionMeta(r.PathValue("sessionID"), req.Description, comments)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeOK(w, map[string]any{"session": sess})
}

func (s *Server) handleGetTelemetry(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if _, err := s.store.GetSession(sessionID); err != nil {
		writeStoreErr(w, err)
		return
	}

	// Unparseable limits fall back to the default rather than failing.
	limit := defaultTelemetryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxTelemetryLimit {
		limit = maxTelemetryLimit
	}

	points, err := s.store.Telemetry(sessionID, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.store.TelemetryCount(sessionID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, map[string]any{"points": points, "total": total})
}

// handleIngestTelemetry accepts raw samples from the capture device. The
// body is either a bare JSON array of samples or {"samples":[...]}.
// Malformed samples are dropped, not rejected.
func (s *Server) handleIngestTelemetry(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var samples []map[string]any
	if err := json.Unmarshal(raw, &samples); err != nil {
		var wrapped struct {
			Samples []map[string]any `json:"samples"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			writeErr(w, http.StatusBadRequest, "expected a sample array")
			return
		}
		samples = wrapped.Samples
	}

	points := telemetry.NormalizeAll(samples)
	if err := s.store.AppendTelemetry(sessionID, points); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	if sess.Status == "active" {
		s.monitor.Watch(sessionID)
	}

	writeOK(w, map[string]any{
		"accepted": len(points),
		"dropped":  len(samples) - len(points),
	})
}

func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if _, err := s.store.GetSession(sessionID); err != nil {
		writeStoreErr(w, err)
		return
	}

	state, watching := s.monitor.StateOf(sessionID)
	alerts := s.monitor.Alerts(sessionID)
	if alerts == nil {
		alerts = []telemetry.Alert{}
	}
	writeOK(w, map[string]any{
		"state":    state,
		"watching": watching,
		"alerts":   alerts,
	})
}

func (s *Server) handleSessionInsight(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"
	res, err := s.insights.SessionInsight(r.Context(), r.PathValue("sessionID"), refresh)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeOK(w, res)
}

func (s *Server) handleComparisonInsight(w http.ResponseWriter, r *http.Request) {
	rawIDs := strings.Split(r.URL.Query().Get("sessions"), ",")
	ids := make([]string, 0, len(rawIDs))
	for _, id := range rawIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		writeErr(w, http.StatusBadRequest, "at least two session ids are required")
		return
	}
	if len(ids) > insight.MaxComparisonSessions {
		writeErr(w, http.StatusBadRequest, fmt.Sprintf("at most %d sessions can be compared", insight.MaxComparisonSessions))
		return
	}

	refresh := r.URL.Query().Get("refresh") == "true"
	res, err := s.insights.ComparisonInsight(r.Context(), ids, refresh)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeOK(w, res)
}
