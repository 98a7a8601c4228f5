package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/alerting"
	"github.com/opsboard/opsboard-analytics/internal/audit"
)

// ─── Thresholds ───────────────────────────────────────────────────────────────

func (s *Server) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	ths, err := s.alerts.ListThresholds(r.Context())
	if err != nil {
		s.alertError(w, err)
		return
	}
	jsonOK(w, map[string]any{"thresholds": ths, "total": len(ths)})
}

func (s *Server) handleCreateThreshold(w http.ResponseWriter, r *http.Request) {
	var t alerting.Threshold
	if err := decodeBody(r, &t); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	created, err := s.alerts.CreateThreshold(r.Context(), t)
	if err != nil {
		s.alertError(w, err)
		return
	}
	_ = s.audit.LogThresholdChanged(r.Context(), audit.EventThresholdCreated, created.ID, created.Name)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetThreshold(w http.ResponseWriter, r *http.Request) {
	t, err := s.alerts.GetThreshold(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.alertError(w, err)
		return
	}
	jsonOK(w, t)
}

func (s *Server) handleUpdateThreshold(w http.ResponseWriter, r *http.Request) {
	var t alerting.Threshold
	if err := decodeBody(r, &t); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	updated, err := s.alerts.UpdateThreshold(r.Context(), mux.Vars(r)["id"], t)
	if err != nil {
		s.alertError(w, err)
		return
	}
	_ = s.audit.LogThresholdChanged(r.Context(), audit.EventThresholdUpdated, updated.ID, updated.Name)
	jsonOK(w, updated)
}

func (s *Server) handleDeleteThreshold(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.alerts.DeleteThreshold(r.Context(), id); err != nil {
		s.alertError(w, err)
		return
	}
	_ = s.audit.LogThresholdChanged(r.Context(), audit.EventThresholdDeleted, id, "")
	w.WriteHeader(http.StatusNoContent)
}

// ─── History ──────────────────────────────────────────────────────────────────

// handleHistory returns newest-first history.
//
//	Query params:
//	  limit           max results (default all)
//	  unacknowledged  "true" to drop acknowledged entries
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.alerts.History()
	if r.URL.Query().Get("unacknowledged") == "true" {
		pending := history[:0]
		for _, n := range history {
			if !n.Acknowledged {
				pending = append(pending, n)
			}
		}
		history = pending
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n >= 0 && n < len(history) {
			history = history[:n]
		}
	}
	jsonOK(w, map[string]any{"history": history, "total": len(history)})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.ClearHistory(r.Context()); err != nil {
		s.alertError(w, err)
		return
	}
	_ = s.audit.LogHistoryCleared(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.alerts.Acknowledge(r.Context(), id); err != nil {
		s.alertError(w, err)
		return
	}
	_ = s.audit.LogAlertAcknowledged(r.Context(), id)
	jsonOK(w, map[string]any{"id": id, "acknowledged": true})
}

// ─── Evaluation ───────────────────────────────────────────────────────────────

type checkRequest struct {
	// Metrics to evaluate. When absent the current metrics are refreshed
	// from the record store using the query's timeframe and stations.
	Metrics map[string]any `json:"metrics"`
}

type firingResponse struct {
	Threshold     alerting.Threshold    `json:"threshold"`
	Notification  alerting.Notification `json:"notification"`
	DispatchError string                `json:"dispatch_error,omitempty"`
}

func (s *Server) handleCheckAlerts(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	values := req.Metrics
	if values == nil {
		m, err := s.analytics.Refresh(r.Context(), s.parseRequest(r))
		if err != nil {
			s.analyticsError(w, err)
			return
		}
		values = m.Values()
	}

	firings, err := s.alerts.Evaluate(r.Context(), values)
	if err != nil {
		s.alertError(w, err)
		return
	}
	out := make([]firingResponse, 0, len(firings))
	for _, f := range firings {
		fr := firingResponse{Threshold: f.Threshold, Notification: f.Notification}
		if f.Err != nil {
			fr.DispatchError = f.Err.Error()
		}
		out = append(out, fr)
	}
	jsonOK(w, map[string]any{"fired": out, "count": len(out)})
}

func (s *Server) alertError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alerting.ErrThresholdNotFound),
		errors.Is(err, alerting.ErrNotificationNotFound):
		respondError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, alerting.ErrInvalidThreshold):
		respondError(w, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	default:
		s.logger.Error("alert request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
