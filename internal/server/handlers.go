package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opsboard/opsboard-analytics/internal/analytics"
)

const maxBodyBytes = 1 << 20

// handleHealth handles liveness checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports 503 while a backing store is unreachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	jsonOK(w, map[string]any{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	stats := s.analytics.Cache().Stats()
	jsonOK(w, map[string]any{
		"name":           "opsboard-analytics",
		"version":        Version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"cache_entries":  stats.Entries,
		"stream_clients": s.hub.ClientCount(),
		"chart_metrics":  analytics.ChartMetrics(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// parseRequest reads timeframe and stations from the query string.
// Stations may be repeated or comma separated.
func (s *Server) parseRequest(r *http.Request) analytics.Request {
	q := r.URL.Query()
	tf := q.Get("timeframe")
	if tf == "" {
		tf = s.cfg.DefaultTimeframe
	}
	var stations []string
	for _, v := range q["stations"] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				stations = append(stations, part)
			}
		}
	}
	return analytics.Request{Timeframe: tf, Stations: stations}
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
