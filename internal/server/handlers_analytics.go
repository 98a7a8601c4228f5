package server

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/analytics"
	"github.com/opsboard/opsboard-analytics/internal/analytics/forecasting"
)

// ─── Dashboard analytics ──────────────────────────────────────────────────────
//
// GET  /api/v1/analytics/metrics           current-window metrics
// GET  /api/v1/analytics/comparison        current vs previous window
// GET  /api/v1/analytics/chart/{metric}    one daily series
// GET  /api/v1/analytics/export            per-day table (json or csv)
// POST /api/v1/analytics/forecast          forecast, cached 30m
// POST /api/v1/analytics/forecast/summary  headline forecast figures

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.analytics.Metrics(r.Context(), s.parseRequest(r))
	if err != nil {
		s.analyticsError(w, err)
		return
	}
	jsonOK(w, m)
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	c, err := s.analytics.Comparison(r.Context(), s.parseRequest(r))
	if err != nil {
		s.analyticsError(w, err)
		return
	}
	jsonOK(w, c)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	metric := mux.Vars(r)["metric"]
	c, err := s.analytics.Chart(r.Context(), s.parseRequest(r), metric)
	if err != nil {
		s.analyticsError(w, err)
		return
	}
	jsonOK(w, c)
}

// handleExport serves JSON by default and CSV for format=csv.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	e, err := s.analytics.Export(r.Context(), s.parseRequest(r))
	if err != nil {
		s.analyticsError(w, err)
		return
	}
	switch r.URL.Query().Get("format") {
	case "", "json":
		jsonOK(w, e)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="analytics-%s.csv"`, e.Timeframe))
		if err := writeExportCSV(w, e); err != nil {
			s.logger.Warn("failed to write csv export", zap.Error(err))
		}
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "format must be json or csv")
	}
}

func writeExportCSV(w http.ResponseWriter, e *analytics.Export) error {
	catSet := make(map[string]struct{})
	for _, row := range e.Rows {
		for c := range row.Categories {
			catSet[c] = struct{}{}
		}
	}
	cats := make([]string, 0, len(catSet))
	for c := range catSet {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	money := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

	cw := csv.NewWriter(w)
	header := []string{"date", "reports", "sales", "fuel_volume", "fuel_revenue", "expenses"}
	for _, c := range cats {
		header = append(header, "expenses_"+c)
	}
	header = append(header, "profit", "margin")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range e.Rows {
		rec := []string{
			row.Date,
			strconv.Itoa(row.Reports),
			money(row.Sales),
			money(row.FuelVolume),
			money(row.FuelRevenue),
			money(row.Expenses),
		}
		for _, c := range cats {
			rec = append(rec, money(row.Categories[c]))
		}
		rec = append(rec, money(row.Profit), money(row.Margin))
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	var opts forecasting.Options
	if err := decodeBody(r, &opts); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	start := time.Now()
	f, err := s.analytics.Forecast(r.Context(), opts)
	if err != nil {
		s.analyticsError(w, err)
		return
	}
	_ = s.audit.LogForecastGenerated(r.Context(), string(f.Metadata.Model), f.Metadata.ForecastDays, time.Since(start))
	jsonOK(w, f)
}

func (s *Server) handleForecastSummary(w http.ResponseWriter, r *http.Request) {
	var opts forecasting.Options
	if err := decodeBody(r, &opts); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	summary, err := s.analytics.ForecastSummary(r.Context(), opts)
	if err != nil {
		s.analyticsError(w, err)
		return
	}
	jsonOK(w, summary)
}

// analyticsError maps service errors to HTTP responses. Anything not caused
// by the request itself is treated as an upstream failure.
func (s *Server) analyticsError(w http.ResponseWriter, err error) {
	switch {
	case forecasting.IsInsufficientHistory(err):
		writeJSON(w, http.StatusUnprocessableEntity, APIError{
			Error:   err.Error(),
			Code:    ErrCodeInsufficientData,
			Status:  "insufficient_data",
			Message: err.Error(),
		})
	case errors.Is(err, analytics.ErrInvalidTimeframe),
		errors.Is(err, forecasting.ErrInvalidOptions):
		respondError(w, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, analytics.ErrUnknownMetric):
		respondError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		s.logger.Warn("analytics request failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, err.Error())
	}
}
