package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/opsboard/opsboard-analytics/internal/cache"
)

var cacheCategories = map[string]cache.Category{
	string(cache.CategoryMetrics):    cache.CategoryMetrics,
	string(cache.CategoryComparison): cache.CategoryComparison,
	string(cache.CategoryForecast):   cache.CategoryForecast,
	string(cache.CategoryChart):      cache.CategoryChart,
	string(cache.CategoryExport):     cache.CategoryExport,
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, s.analytics.Cache().Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.analytics.Cache().ClearAll(r.Context())
	_ = s.audit.LogCacheCleared(r.Context(), "", 0)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["category"]
	category, ok := cacheCategories[name]
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "unknown cache category "+name)
		return
	}
	removed := s.analytics.Cache().Invalidate(r.Context(), category)
	_ = s.audit.LogCacheCleared(r.Context(), name, removed)
	jsonOK(w, map[string]any{"category": name, "removed": removed})
}
