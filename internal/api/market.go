package api

import (
	"net/http"

	"bazaar-radar/internal/engine"
)

func (s *Server) handleMarketMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.isReady() {
		writeError(w, http.StatusServiceUnavailable, "no refresh cycle has completed yet")
		return
	}
	writeJSON(w, s.analytics.MarketMetrics(s.currentStates()))
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	if !s.isReady() {
		writeError(w, http.StatusServiceUnavailable, "no refresh cycle has completed yet")
		return
	}
	writeJSON(w, s.analytics.CorrelationMatrix(s.currentStates()))
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	if !s.isReady() {
		writeError(w, http.StatusServiceUnavailable, "no refresh cycle has completed yet")
		return
	}
	limit := queryInt(r, "limit", 20)
	trending := s.analytics.TrendingProducts(s.currentStates(), limit)
	if trending == nil {
		trending = []engine.TrendingProduct{}
	}
	writeJSON(w, trending)
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	if !s.isReady() {
		writeError(w, http.StatusServiceUnavailable, "no refresh cycle has completed yet")
		return
	}
	cells := s.analytics.Heatmap(s.currentStates())
	if cells == nil {
		cells = []engine.HeatmapCell{}
	}
	writeJSON(w, cells)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	report := s.report
	ready := s.ready
	s.mu.RUnlock()

	if !ready || report == nil {
		writeError(w, http.StatusServiceUnavailable, "no refresh cycle has completed yet")
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !s.isReady() {
		writeError(w, http.StatusServiceUnavailable, "no refresh cycle has completed yet")
		return
	}
	name := r.PathValue("name")

	var def *engine.IndexDefinition
	for i := range s.cfg.Indexes {
		if s.cfg.Indexes[i].Name == name {
			def = &s.cfg.Indexes[i]
			break
		}
	}
	if def == nil {
		writeError(w, http.StatusNotFound, "unknown index")
		return
	}

	interval := engine.Interval(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = engine.Interval1h
	}
	if !validInterval(interval) {
		writeError(w, http.StatusBadRequest, "unknown interval")
		return
	}

	states := s.currentStates()
	constituents := engine.ResolveConstituents(*def, states)
	candlesByKey := s.db.CandlesBulk(constituents, interval, queryInt(r, "limit", 168))
	writeJSON(w, engine.BuildIndex(*def, states, candlesByKey))
}
