package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"bazaar-radar/internal/config"
	"bazaar-radar/internal/db"
	"bazaar-radar/internal/engine"
	"bazaar-radar/internal/feed"
)

// Server is the HTTP API server that connects the feed client, analytics
// engine, and database. Refresh cycles are the only writer of the live
// state; handlers read it under the lock.
type Server struct {
	cfg       *config.Config
	feed      *feed.Client
	db        *db.DB
	scorer    *engine.Scorer
	analytics *engine.Analytics
	insights  *engine.InsightsDetector

	mu          sync.RWMutex
	ready       bool
	lastRefresh time.Time
	snapshot    *feed.Snapshot
	states      []engine.ProductState
	products    []ProductView
	report      *engine.InsightReport
}

// ProductView is the per-product row served by /api/products.
type ProductView struct {
	Key          string                   `json:"key"`
	Name         string                   `json:"name,omitempty"`
	BidPrice     float64                  `json:"bid_price"`
	AskPrice     float64                  `json:"ask_price"`
	Spread       float64                  `json:"spread"`
	WeeklyVolume float64                  `json:"weekly_volume"`
	Score        float64                  `json:"score"`
	Manipulation engine.ManipulationScore `json:"manipulation"`
}

// NewServer creates a Server with the given config, feed client, and database.
func NewServer(cfg *config.Config, feedClient *feed.Client, database *db.DB) *Server {
	scorer := engine.NewScorer()
	scorer.Params = cfg.Scoring
	return &Server{
		cfg:       cfg,
		feed:      feedClient,
		db:        database,
		scorer:    scorer,
		analytics: engine.NewAnalytics(database),
		insights:  engine.NewInsightsDetector(),
	}
}

// Handler returns the HTTP handler with all API routes and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/products", s.handleProducts)
	mux.HandleFunc("GET /api/products/{key}/orderbook", s.handleOrderBook)
	mux.HandleFunc("GET /api/products/{key}/candles", s.handleCandles)
	mux.HandleFunc("GET /api/products/{key}/related", s.handleRelated)
	mux.HandleFunc("GET /api/market/metrics", s.handleMarketMetrics)
	mux.HandleFunc("GET /api/market/correlations", s.handleCorrelations)
	mux.HandleFunc("GET /api/market/trending", s.handleTrending)
	mux.HandleFunc("GET /api/market/heatmap", s.handleHeatmap)
	mux.HandleFunc("GET /api/market/insights", s.handleInsights)
	mux.HandleFunc("GET /api/index/{name}", s.handleIndex)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// currentStates returns a snapshot of the live product states.
func (s *Server) currentStates() []engine.ProductState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	writeJSON(w, map[string]interface{}{
		"ready":        s.ready,
		"last_refresh": s.lastRefresh,
		"products":     len(s.products),
	})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if !s.isReady() {
		writeError(w, http.StatusServiceUnavailable, "no refresh cycle has completed yet")
		return
	}
	limit := queryInt(r, "limit", 0)

	s.mu.RLock()
	products := s.products
	s.mu.RUnlock()

	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}
	writeJSON(w, products)
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	if !s.isReady() {
		writeError(w, http.StatusServiceUnavailable, "no refresh cycle has completed yet")
		return
	}
	key := r.PathValue("key")

	s.mu.RLock()
	product, ok := s.snapshot.Products[key]
	s.mu.RUnlock()

	if !ok {
		// Product missing from the live snapshot: fall back to the last
		// stored book before giving up.
		snap := s.db.LatestBookSnapshot(key)
		if snap == nil {
			writeError(w, http.StatusNotFound, "unknown product")
			return
		}
		writeJSON(w, engine.AnalyzeOrderBook(snap.Bids, snap.Asks))
		return
	}
	writeJSON(w, engine.AnalyzeOrderBook(product.BidBook, product.AskBook))
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	interval := engine.Interval(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = engine.Interval1h
	}
	if !validInterval(interval) {
		writeError(w, http.StatusBadRequest, "unknown interval")
		return
	}
	limit := queryInt(r, "limit", 168)

	candles := s.db.Candles(key, interval, limit)
	if candles == nil {
		candles = []engine.Candle{}
	}
	writeJSON(w, candles)
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	if !s.isReady() {
		writeError(w, http.StatusServiceUnavailable, "no refresh cycle has completed yet")
		return
	}
	key := r.PathValue("key")
	limit := queryInt(r, "limit", 10)

	related := s.analytics.RelatedProducts(s.currentStates(), key, limit)
	if related == nil {
		related = []engine.RelatedProduct{}
	}
	writeJSON(w, related)
}

func validInterval(iv engine.Interval) bool {
	for _, known := range engine.AllIntervals {
		if iv == known {
			return true
		}
	}
	return false
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// sortProductViews orders rows by score descending, key ascending on ties.
func sortProductViews(views []ProductView) {
	sort.Slice(views, func(i, j int) bool {
		if views[i].Score != views[j].Score {
			return views[i].Score > views[j].Score
		}
		return views[i].Key < views[j].Key
	})
}
