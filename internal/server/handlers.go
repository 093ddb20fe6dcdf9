package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/tilewall/internal/calibration"
	"github.com/codefionn/tilewall/internal/coordinator"
	"github.com/codefionn/tilewall/internal/marker"
	"github.com/codefionn/tilewall/internal/protocol"
	"github.com/codefionn/tilewall/internal/session"
	"github.com/codefionn/tilewall/internal/store"
)

const (
	defaultMarkerSize = 400
	maxMarkerSize     = 4096
	historyLimit      = 20
)

type layoutResponse struct {
	SessionID   string                   `json:"session_id"`
	Layout      map[string][4][2]float64 `json:"layout"`
	AspectRatio float64                  `json:"aspect_ratio"`
	Frames      int                      `json:"frames"`
	Forced      bool                     `json:"forced"`
	CompletedAt time.Time                `json:"completed_at"`
}

func newLayoutResponse(r *calibration.Result) layoutResponse {
	return layoutResponse{
		SessionID:   r.SessionID,
		Layout:      r.WireLayout(),
		AspectRatio: r.AspectRatio,
		Frames:      r.Frames,
		Forced:      r.Forced,
		CompletedAt: r.CompletedAt,
	}
}

type historyEntry struct {
	ID          int64     `json:"id"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	Expected    []int     `json:"expected"`
	Frames      int       `json:"frames"`
	Forced      bool      `json:"forced"`
	AspectRatio float64   `json:"aspect_ratio,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{
		"code":    coordinator.ErrorCode(err),
		"message": err.Error(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	calibrating := false
	if s.deps.Engine != nil {
		_, calibrating = s.deps.Engine.Current()
	}
	streaming := false
	if s.deps.Streaming != nil {
		streaming = s.deps.Streaming.Active()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"clients":     s.deps.Registry.Count(),
		"connections": s.hub.ClientCount(),
		"sessions":    len(s.deps.Sessions.List()),
		"calibrating": calibrating,
		"streaming":   streaming,
	})
}

type clientResponse struct {
	ClientID    string    `json:"client_id"`
	MarkerID    int       `json:"marker_id"`
	SessionID   string    `json:"session_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// handleClients lists registered tiles by marker ID
func (s *Server) handleClients(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	entries := s.deps.Registry.Snapshot()
	clients := make([]clientResponse, 0, len(entries))
	for _, e := range entries {
		sessionID, _ := s.deps.Sessions.SessionOf(e.ClientID)
		clients = append(clients, clientResponse{
			ClientID:    e.ClientID,
			MarkerID:    e.MarkerID,
			SessionID:   sessionID,
			ConnectedAt: e.ConnectedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clients": clients})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.deps.Coordinator.Summaries(),
	})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	err := s.deps.Sessions.RemoveIfEmpty(id)
	switch {
	case errors.Is(err, session.ErrSessionNotEmpty):
		writeJSON(w, http.StatusConflict, map[string]string{
			"code":    protocol.CodeInvalidRequest,
			"message": err.Error(),
		})
		return
	case err != nil:
		writeError(w, http.StatusNotFound, err)
		return
	}
	if s.deps.Engine != nil {
		_ = s.deps.Engine.Cancel(id, "session removed")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")

	sess, err := s.deps.Sessions.Get(id)
	if err == nil && sess.Layout != nil {
		writeJSON(w, http.StatusOK, newLayoutResponse(sess.Layout))
		return
	}

	if s.deps.DB != nil {
		result, dbErr := s.deps.DB.LatestLayout(id)
		if dbErr == nil {
			writeJSON(w, http.StatusOK, newLayoutResponse(result))
			return
		}
		if !errors.Is(dbErr, store.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, dbErr)
			return
		}
	}

	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusNotFound, coordinator.ErrNotCalibrated)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.deps.DB == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"runs": []historyEntry{}})
		return
	}

	runs, err := s.deps.DB.History(ps.ByName("id"), historyLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	entries := make([]historyEntry, 0, len(runs))
	for _, run := range runs {
		entries = append(entries, historyEntry{
			ID:          run.ID,
			Outcome:     run.Outcome,
			Error:       run.Error,
			Expected:    run.Expected,
			Frames:      run.Frames,
			Forced:      run.Forced,
			AspectRatio: run.AspectRatio,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": entries})
}

func (s *Server) handleCalibrationCancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.deps.Coordinator.CancelCalibration(ps.ByName("id"), "cancelled by operator")
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, calibration.ErrNoRun):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleMarker(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.Atoi(strings.TrimSuffix(ps.ByName("id"), ".png"))
	if err != nil {
		writeError(w, http.StatusBadRequest, marker.ErrInvalidMarkerID)
		return
	}

	size := defaultMarkerSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		size, err = strconv.Atoi(raw)
		if err != nil || size < 1 || size > maxMarkerSize {
			writeError(w, http.StatusBadRequest, marker.ErrInvalidSize)
			return
		}
	}

	bitmap, err := s.deps.Codec.Encode(id, size)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if err := marker.WritePNG(w, bitmap); err != nil {
		s.log.Warn("Failed to write marker %d: %v", id, err)
	}
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.Media == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"media": []interface{}{}})
		return
	}
	items, err := s.deps.Media.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"media": items})
}
