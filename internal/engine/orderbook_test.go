package engine

import (
	"math"
	"testing"

	"bazaar-radar/internal/feed"
)

func level(price, amount float64, orders int) feed.OrderLevel {
	return feed.OrderLevel{UnitPrice: price, Amount: amount, OrderCount: orders}
}

func TestAnalyzeOrderBook_EmptyBooks(t *testing.T) {
	a := AnalyzeOrderBook(nil, nil)
	if a.Imbalance.Ratio != 0 {
		t.Errorf("empty books imbalance = %v, want 0", a.Imbalance.Ratio)
	}
	if a.Imbalance.Trend != TrendStable {
		t.Errorf("empty books trend = %q, want %q", a.Imbalance.Trend, TrendStable)
	}
	if a.Stats.Spread != 0 || a.Stats.MidPrice != 0 {
		t.Errorf("empty books stats = %+v, want zeros", a.Stats)
	}
	if a.Depth.DepthRatio != 1 {
		t.Errorf("empty books depth ratio = %v, want neutral 1", a.Depth.DepthRatio)
	}
	if len(a.Whales) != 0 || len(a.Walls) != 0 || len(a.Levels) != 0 {
		t.Errorf("empty books should produce no whales/walls/levels")
	}
}

func TestAnalyzeOrderBook_OneSideEmpty(t *testing.T) {
	bids := []feed.OrderLevel{level(100, 500, 5)}
	a := AnalyzeOrderBook(bids, nil)
	if a.Imbalance.Ratio != 1 {
		t.Errorf("all-bid book imbalance = %v, want 1", a.Imbalance.Ratio)
	}
	if a.Imbalance.Trend != TrendImproving {
		t.Errorf("all-bid trend = %q, want %q", a.Imbalance.Trend, TrendImproving)
	}
	if a.Depth.DepthRatio != 100 {
		t.Errorf("bid-only depth ratio = %v, want sentinel 100", a.Depth.DepthRatio)
	}
}

func TestImbalanceRatio_AlwaysInRange(t *testing.T) {
	cases := []struct {
		bids, asks []feed.OrderLevel
	}{
		{nil, nil},
		{[]feed.OrderLevel{level(10, 100, 1)}, nil},
		{nil, []feed.OrderLevel{level(12, 100, 1)}},
		{[]feed.OrderLevel{level(10, 1e9, 1)}, []feed.OrderLevel{level(12, 1, 1)}},
		{[]feed.OrderLevel{level(10, 50, 1), level(9, 50, 2)}, []feed.OrderLevel{level(12, 100, 3)}},
	}
	for i, tc := range cases {
		r := computeImbalance(tc.bids, tc.asks).Ratio
		if r < -1 || r > 1 {
			t.Errorf("case %d: ratio %v out of [-1,1]", i, r)
		}
	}
}

func TestComputeImbalance_TrendLabels(t *testing.T) {
	// 55/45 split -> ratio 0.1 exactly -> bid-heavy, not stable.
	im := computeImbalance(
		[]feed.OrderLevel{level(10, 55, 1)},
		[]feed.OrderLevel{level(11, 45, 1)},
	)
	if im.Trend != TrendImproving {
		t.Errorf("ratio 0.1 trend = %q, want %q", im.Trend, TrendImproving)
	}

	im = computeImbalance(
		[]feed.OrderLevel{level(10, 45, 1)},
		[]feed.OrderLevel{level(11, 55, 1)},
	)
	if im.Trend != TrendWorsening {
		t.Errorf("ask-heavy trend = %q, want %q", im.Trend, TrendWorsening)
	}

	im = computeImbalance(
		[]feed.OrderLevel{level(10, 51, 1)},
		[]feed.OrderLevel{level(11, 49, 1)},
	)
	if im.Trend != TrendStable {
		t.Errorf("ratio 0.02 trend = %q, want %q", im.Trend, TrendStable)
	}
}

func TestComputeBookStats(t *testing.T) {
	bids := []feed.OrderLevel{level(98, 10, 1), level(100, 10, 1), level(95, 10, 1)}
	asks := []feed.OrderLevel{level(110, 10, 1), level(108, 10, 1), level(115, 10, 1)}
	st := computeBookStats(bids, asks)
	if st.BestBid != 100 || st.BestAsk != 108 {
		t.Errorf("best bid/ask = %v/%v, want 100/108", st.BestBid, st.BestAsk)
	}
	if st.Spread != 8 {
		t.Errorf("spread = %v, want 8", st.Spread)
	}
	if st.MidPrice != 104 {
		t.Errorf("mid = %v, want 104", st.MidPrice)
	}
}

func TestComputeDepth_WindowAndRatio(t *testing.T) {
	// Best bid 100: levels at 100 (0%), 96 (4%) count; 94 (6%) does not.
	bids := []feed.OrderLevel{level(100, 100, 1), level(96, 50, 1), level(94, 999, 1)}
	// Best ask 110: levels at 110 (0%), 115 (4.5%) count; 117 (6.4%) does not.
	asks := []feed.OrderLevel{level(110, 60, 1), level(115, 40, 1), level(117, 999, 1)}
	st := computeBookStats(bids, asks)
	d := computeDepth(bids, asks, st)
	if d.BidDepth != 150 {
		t.Errorf("bid depth = %v, want 150", d.BidDepth)
	}
	if d.AskDepth != 100 {
		t.Errorf("ask depth = %v, want 100", d.AskDepth)
	}
	if math.Abs(d.DepthRatio-1.5) > 1e-9 {
		t.Errorf("depth ratio = %v, want 1.5", d.DepthRatio)
	}
	if d.LiquidityScore < 0 || d.LiquidityScore > 100 {
		t.Errorf("liquidity score %v out of range", d.LiquidityScore)
	}
}

func TestDetectWhales_SingleOutlier(t *testing.T) {
	var bids []feed.OrderLevel
	for i := 0; i < 10; i++ {
		bids = append(bids, level(100-float64(i), 100, 1))
	}
	asks := []feed.OrderLevel{level(110, 5000, 1)}
	whales := detectWhales(bids, asks)
	if len(whales) != 1 {
		t.Fatalf("expected exactly 1 whale, got %d", len(whales))
	}
	if whales[0].Amount != 5000 || whales[0].Side != "ask" {
		t.Errorf("whale = %+v, want the 5000-amount ask order", whales[0])
	}
	if whales[0].ZScore < whaleZThreshold {
		t.Errorf("whale z-score %v below threshold", whales[0].ZScore)
	}
}

func TestDetectWhales_UniformBookHasNone(t *testing.T) {
	var bids []feed.OrderLevel
	for i := 0; i < 20; i++ {
		bids = append(bids, level(100, 100, 1))
	}
	if whales := detectWhales(bids, nil); len(whales) != 0 {
		t.Errorf("uniform amounts should yield no whales, got %d", len(whales))
	}
}

func TestDetectWalls(t *testing.T) {
	// Side average includes the wall itself: (9*100+5000)/10 = 590,
	// and 5000 > 5*590, so only the big order qualifies.
	var bids []feed.OrderLevel
	for i := 0; i < 9; i++ {
		bids = append(bids, level(100-float64(i), 100, 1))
	}
	bids = append(bids, level(90, 5000, 1))
	walls := detectWalls(bids, nil)
	if len(walls) != 1 {
		t.Fatalf("expected 1 wall, got %d", len(walls))
	}
	if walls[0].UnitPrice != 90 || walls[0].Side != "bid" {
		t.Errorf("wall = %+v, want the 5000 @ 90 bid", walls[0])
	}
}

func TestClusterLevels_SupportAndResistance(t *testing.T) {
	// Mid 100: band width 1. Bids at 95.1, 95.3 cluster into one band.
	bids := []feed.OrderLevel{level(95.1, 4000, 2), level(95.3, 3000, 1), level(90, 500, 1)}
	asks := []feed.OrderLevel{level(105, 8000, 3)}
	st := BookStats{MidPrice: 100}
	levels := clusterLevels(bids, asks, st.MidPrice)

	var supports, resistances []PriceLevel
	for _, l := range levels {
		switch l.Kind {
		case LevelSupport:
			supports = append(supports, l)
		case LevelResistance:
			resistances = append(resistances, l)
		}
	}
	if len(supports) != 2 {
		t.Fatalf("expected 2 support bands, got %d", len(supports))
	}
	if supports[0].Volume != 7000 || supports[0].OrderCount != 3 {
		t.Errorf("top support = %+v, want merged 7000/3", supports[0])
	}
	if math.Abs(supports[0].Strength-0.7) > 1e-9 {
		t.Errorf("strength = %v, want 0.7", supports[0].Strength)
	}
	if len(resistances) != 1 {
		t.Fatalf("expected 1 resistance band, got %d", len(resistances))
	}
	if resistances[0].DistancePctMid <= 0 {
		t.Errorf("resistance above mid should have positive distance, got %v", resistances[0].DistancePctMid)
	}
}

func TestDepthCurves_Cumulative(t *testing.T) {
	bids := []feed.OrderLevel{level(98, 10, 1), level(100, 5, 1), level(99, 20, 1)}
	asks := []feed.OrderLevel{level(112, 7, 1), level(110, 3, 1)}
	bidCurve, askCurve := depthCurves(bids, asks)

	if len(bidCurve) != 3 || bidCurve[0].Price != 100 {
		t.Fatalf("bid curve must start at best bid, got %+v", bidCurve)
	}
	wantCum := []float64{5, 25, 35}
	for i, w := range wantCum {
		if bidCurve[i].Cumulative != w {
			t.Errorf("bid cum[%d] = %v, want %v", i, bidCurve[i].Cumulative, w)
		}
	}
	if len(askCurve) != 2 || askCurve[0].Price != 110 {
		t.Fatalf("ask curve must start at best ask, got %+v", askCurve)
	}
	if askCurve[1].Cumulative != 10 {
		t.Errorf("ask cum[1] = %v, want 10", askCurve[1].Cumulative)
	}
}
