package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"bazaar-radar/internal/config"
	"bazaar-radar/internal/db"
	"bazaar-radar/internal/engine"
	"bazaar-radar/internal/feed"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewServer(config.Default(), feed.NewClient("http://127.0.0.1:0"), database)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// publishState installs a ready state the way a refresh cycle would.
func publishState(s *Server, snap *feed.Snapshot, states []engine.ProductState, views []ProductView) {
	s.mu.Lock()
	s.snapshot = snap
	s.states = states
	s.products = views
	s.report = &engine.InsightReport{}
	s.lastRefresh = time.Now()
	s.ready = true
	s.mu.Unlock()
}

func TestEndpointsBeforeFirstRefresh(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{
		"/api/products",
		"/api/products/WHEAT/orderbook",
		"/api/products/WHEAT/related",
		"/api/market/metrics",
		"/api/market/correlations",
		"/api/market/trending",
		"/api/market/heatmap",
		"/api/market/insights",
		"/api/index/farming",
	} {
		if rec := get(t, s, path); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s before refresh = %d, want 503", path, rec.Code)
		}
	}
	// Status always answers.
	if rec := get(t, s, "/api/status"); rec.Code != http.StatusOK {
		t.Errorf("/api/status = %d, want 200", rec.Code)
	}
}

func TestHandleProducts_SortedAndLimited(t *testing.T) {
	s := newTestServer(t)
	views := []ProductView{
		{Key: "LOW", Score: 1.5},
		{Key: "HIGH", Score: 8.2},
		{Key: "MID", Score: 4.0},
	}
	sortProductViews(views)
	publishState(s, &feed.Snapshot{Products: map[string]feed.Product{}}, nil, views)

	rec := get(t, s, "/api/products?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body=%s", rec.Code, rec.Body.String())
	}
	var got []ProductView
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Key != "HIGH" || got[1].Key != "MID" {
		t.Errorf("products = %+v, want top 2 by score", got)
	}
}

func TestHandleOrderBook(t *testing.T) {
	s := newTestServer(t)
	snap := &feed.Snapshot{Products: map[string]feed.Product{
		"WHEAT": {
			Key:     "WHEAT",
			BidBook: []feed.OrderLevel{{UnitPrice: 4.5, Amount: 100, OrderCount: 3}},
			AskBook: []feed.OrderLevel{{UnitPrice: 5.0, Amount: 80, OrderCount: 2}},
		},
	}}
	publishState(s, snap, nil, nil)

	rec := get(t, s, "/api/products/WHEAT/orderbook")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body=%s", rec.Code, rec.Body.String())
	}
	var analysis engine.OrderBookAnalysis
	if err := json.NewDecoder(rec.Body).Decode(&analysis); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if analysis.Stats.BestBid != 4.5 || analysis.Stats.BestAsk != 5.0 {
		t.Errorf("best bid/ask = %v/%v", analysis.Stats.BestBid, analysis.Stats.BestAsk)
	}

	if rec := get(t, s, "/api/products/NOPE/orderbook"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown product = %d, want 404", rec.Code)
	}
}

func TestHandleOrderBook_FallsBackToStoredSnapshot(t *testing.T) {
	s := newTestServer(t)
	publishState(s, &feed.Snapshot{Products: map[string]feed.Product{}}, nil, nil)

	err := s.db.SaveBookSnapshot("GONE", time.Now(),
		[]feed.OrderLevel{{UnitPrice: 10, Amount: 5}},
		[]feed.OrderLevel{{UnitPrice: 12, Amount: 5}})
	if err != nil {
		t.Fatalf("SaveBookSnapshot: %v", err)
	}

	rec := get(t, s, "/api/products/GONE/orderbook")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 via stored book", rec.Code)
	}
	var analysis engine.OrderBookAnalysis
	if err := json.NewDecoder(rec.Body).Decode(&analysis); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if analysis.Stats.BestBid != 10 {
		t.Errorf("best bid = %v, want 10 from the stored book", analysis.Stats.BestBid)
	}
}

func TestHandleCandles(t *testing.T) {
	s := newTestServer(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var candles []engine.Candle
	for i := 0; i < 3; i++ {
		candles = append(candles, engine.Candle{
			ProductKey: "WHEAT", Interval: engine.Interval1h,
			PeriodStart: base.Add(time.Duration(i) * time.Hour),
			Open:        4, High: 5, Low: 4, Close: 4.5,
		})
	}
	if err := s.db.UpsertCandles(candles); err != nil {
		t.Fatalf("UpsertCandles: %v", err)
	}

	rec := get(t, s, "/api/products/WHEAT/candles?interval=1h")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body=%s", rec.Code, rec.Body.String())
	}
	var got []engine.Candle
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("candles = %d, want 3", len(got))
	}

	if rec := get(t, s, "/api/products/WHEAT/candles?interval=3m"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad interval = %d, want 400", rec.Code)
	}

	// Unknown product returns an empty series, not an error.
	rec = get(t, s, "/api/products/NOPE/candles")
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown product candles = %d, want 200", rec.Code)
	}
	got = nil
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("unknown product candles = %d entries, want 0", len(got))
	}
}

func TestHandleIndex(t *testing.T) {
	s := newTestServer(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var candles []engine.Candle
	for i, c := range []float64{50, 55, 60} {
		candles = append(candles, engine.Candle{
			ProductKey: "WHEAT", Interval: engine.Interval1h,
			PeriodStart: base.Add(time.Duration(i) * time.Hour),
			Open:        c, High: c, Low: c, Close: c,
		})
	}
	if err := s.db.UpsertCandles(candles); err != nil {
		t.Fatalf("UpsertCandles: %v", err)
	}

	states := []engine.ProductState{
		{Key: "WHEAT", BidVolume: 10, AskVolume: 10, BidMovingWeek: 500, AskMovingWeek: 500},
	}
	publishState(s, &feed.Snapshot{Products: map[string]feed.Product{}}, states, nil)

	rec := get(t, s, "/api/index/farming")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body=%s", rec.Code, rec.Body.String())
	}
	var idx engine.IndexSeries
	if err := json.NewDecoder(rec.Body).Decode(&idx); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(idx.Points) != 3 {
		t.Fatalf("points = %d, want 3", len(idx.Points))
	}
	if idx.Points[0].Close != 100 {
		t.Errorf("first close = %v, want 100", idx.Points[0].Close)
	}

	if rec := get(t, s, "/api/index/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown index = %d, want 404", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)
	rec := get(t, s, "/api/status")
	var status map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["ready"] != false {
		t.Errorf("ready = %v, want false before first refresh", status["ready"])
	}

	publishState(s, &feed.Snapshot{Products: map[string]feed.Product{}}, nil, []ProductView{{Key: "X"}})
	rec = get(t, s, "/api/status")
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["ready"] != true || status["products"] != float64(1) {
		t.Errorf("status = %v", status)
	}
}

func TestHandleInsights(t *testing.T) {
	s := newTestServer(t)
	publishState(s, &feed.Snapshot{Products: map[string]feed.Product{}}, nil, nil)
	s.mu.Lock()
	s.report = &engine.InsightReport{
		Hot: []engine.HotProduct{{Key: "HOT", ChangePct: 7.5, IsNew: true}},
	}
	s.mu.Unlock()

	rec := get(t, s, "/api/market/insights")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var report engine.InsightReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(report.Hot) != 1 || report.Hot[0].Key != "HOT" || !report.Hot[0].IsNew {
		t.Errorf("report = %+v", report)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("OPTIONS", "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != 204 {
		t.Errorf("preflight = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
