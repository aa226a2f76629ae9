package engine

import (
	"math"
	"testing"
	"time"
)

func indexCandles(key string, closes []float64) []Candle {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]Candle, len(closes))
	for i, c := range closes {
		candles[i] = Candle{
			ProductKey:  key,
			Interval:    Interval1h,
			PeriodStart: base.Add(time.Duration(i) * time.Hour),
			Open:        c,
			High:        c * 1.01,
			Low:         c * 0.99,
			Close:       c,
			AskClose:    c * 1.05,
		}
	}
	return candles
}

func TestResolveConstituents_ExactAndPattern(t *testing.T) {
	states := []ProductState{
		{Key: "ENCHANTED_DIAMOND", BidMovingWeek: 500, AskMovingWeek: 500},
		{Key: "ENCHANTED_GOLD", BidMovingWeek: 500, AskMovingWeek: 500},
		{Key: "WHEAT", BidMovingWeek: 500, AskMovingWeek: 500},
		{Key: "CARROT", BidMovingWeek: 500, AskMovingWeek: 500},
	}
	def := IndexDefinition{
		Name:         "test",
		Constituents: []string{"ENCHANTED_*", "WHEAT"},
	}
	got := ResolveConstituents(def, states)
	want := []string{"ENCHANTED_DIAMOND", "ENCHANTED_GOLD", "WHEAT"}
	if len(got) != len(want) {
		t.Fatalf("resolved = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("resolved[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolveConstituents_VolumeFloorAndUnknownKeys(t *testing.T) {
	states := []ProductState{
		{Key: "LIQUID", BidMovingWeek: 500, AskMovingWeek: 500},
		{Key: "DEAD", BidMovingWeek: 10, AskMovingWeek: 10},
	}
	def := IndexDefinition{Constituents: []string{"LIQUID", "DEAD", "MISSING"}}
	got := ResolveConstituents(def, states)
	if len(got) != 1 || got[0] != "LIQUID" {
		t.Errorf("resolved = %v, want [LIQUID]", got)
	}
}

func TestResolveConstituents_PatternDeduplicatesExactMatch(t *testing.T) {
	states := []ProductState{
		{Key: "LOG", BidMovingWeek: 500, AskMovingWeek: 500},
		{Key: "LOG_OAK", BidMovingWeek: 500, AskMovingWeek: 500},
	}
	def := IndexDefinition{Constituents: []string{"LOG*", "LOG"}}
	got := ResolveConstituents(def, states)
	if len(got) != 2 {
		t.Errorf("resolved = %v, want 2 unique keys", got)
	}
}

func TestBuildIndex_SingleConstituentRebasesTo100(t *testing.T) {
	states := []ProductState{{Key: "A", BidMovingWeek: 500, AskMovingWeek: 500}}
	def := IndexDefinition{Name: "solo", Constituents: []string{"A"}}
	candles := map[string][]Candle{"A": indexCandles("A", []float64{50, 55, 60})}

	idx := BuildIndex(def, states, candles)
	if len(idx.Points) != 3 {
		t.Fatalf("points = %d, want 3", len(idx.Points))
	}
	if idx.Points[0].Close != 100 {
		t.Errorf("first close = %v, want exactly 100", idx.Points[0].Close)
	}
	// 55/50*100 = 110, 60/50*100 = 120.
	if math.Abs(idx.Points[1].Close-110) > 1e-9 || math.Abs(idx.Points[2].Close-120) > 1e-9 {
		t.Errorf("rebased closes = %v, %v, want 110, 120", idx.Points[1].Close, idx.Points[2].Close)
	}
	for _, p := range idx.Points {
		if p.Contributors != 1 {
			t.Errorf("contributors = %d, want 1", p.Contributors)
		}
	}
}

func TestBuildIndex_AveragesRebasedSeries(t *testing.T) {
	states := []ProductState{
		{Key: "A", BidMovingWeek: 500, AskMovingWeek: 500},
		{Key: "B", BidMovingWeek: 500, AskMovingWeek: 500},
	}
	def := IndexDefinition{Name: "pair", Constituents: []string{"A", "B"}}
	candles := map[string][]Candle{
		"A": indexCandles("A", []float64{10, 12}),   // rebased: 100, 120
		"B": indexCandles("B", []float64{200, 180}), // rebased: 100, 90
	}

	idx := BuildIndex(def, states, candles)
	if len(idx.Points) != 2 {
		t.Fatalf("points = %d, want 2", len(idx.Points))
	}
	if idx.Points[0].Close != 100 {
		t.Errorf("first close = %v, want 100", idx.Points[0].Close)
	}
	if math.Abs(idx.Points[1].Close-105) > 1e-9 {
		t.Errorf("second close = %v, want (120+90)/2 = 105", idx.Points[1].Close)
	}
	if idx.Points[1].Contributors != 2 {
		t.Errorf("contributors = %d, want 2", idx.Points[1].Contributors)
	}
}

func TestBuildIndex_UnionOfTimestamps(t *testing.T) {
	// B only covers the last two hours; the index still spans A's full range
	// and B contributes only where it has data.
	states := []ProductState{
		{Key: "A", BidMovingWeek: 500, AskMovingWeek: 500},
		{Key: "B", BidMovingWeek: 500, AskMovingWeek: 500},
	}
	def := IndexDefinition{Name: "union", Constituents: []string{"A", "B"}}

	full := indexCandles("A", []float64{100, 100, 100, 100})
	partial := indexCandles("B", []float64{50, 50, 50, 50})[2:]
	candles := map[string][]Candle{"A": full, "B": partial}

	idx := BuildIndex(def, states, candles)
	if len(idx.Points) != 4 {
		t.Fatalf("points = %d, want 4 (union, not intersection)", len(idx.Points))
	}
	if idx.Points[0].Contributors != 1 || idx.Points[1].Contributors != 1 {
		t.Errorf("early contributors = %d/%d, want 1/1",
			idx.Points[0].Contributors, idx.Points[1].Contributors)
	}
	if idx.Points[2].Contributors != 2 || idx.Points[3].Contributors != 2 {
		t.Errorf("late contributors = %d/%d, want 2/2",
			idx.Points[2].Contributors, idx.Points[3].Contributors)
	}
	// Both series are flat at their base, so every point closes at 100.
	for i, p := range idx.Points {
		if math.Abs(p.Close-100) > 1e-9 {
			t.Errorf("point %d close = %v, want 100", i, p.Close)
		}
	}
}

func TestBuildIndex_TimestampsAscending(t *testing.T) {
	states := []ProductState{{Key: "A", BidMovingWeek: 500, AskMovingWeek: 500}}
	def := IndexDefinition{Name: "ord", Constituents: []string{"A"}}
	candles := indexCandles("A", []float64{10, 11, 12, 13})
	// Shuffle the input order; output must still be chronological.
	shuffled := []Candle{candles[2], candles[0], candles[3], candles[1]}

	idx := BuildIndex(def, states, map[string][]Candle{"A": shuffled})
	for i := 1; i < len(idx.Points); i++ {
		if !idx.Points[i].Timestamp.After(idx.Points[i-1].Timestamp) {
			t.Errorf("points not chronological at %d: %v then %v",
				i, idx.Points[i-1].Timestamp, idx.Points[i].Timestamp)
		}
	}
	if idx.Points[0].Close != 100 {
		t.Errorf("first chronological close = %v, want 100", idx.Points[0].Close)
	}
}

func TestBuildIndex_NoData(t *testing.T) {
	states := []ProductState{{Key: "A", BidMovingWeek: 500, AskMovingWeek: 500}}
	def := IndexDefinition{Name: "empty", Constituents: []string{"A"}}
	idx := BuildIndex(def, states, map[string][]Candle{})
	if len(idx.Points) != 0 {
		t.Errorf("points = %d, want none", len(idx.Points))
	}
	if idx.Name != "empty" || len(idx.Constituents) != 1 {
		t.Errorf("series metadata = %+v", idx)
	}
}

func TestRebaseSeries_SkipsZeroLeadingCloses(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	candles := []Candle{
		{PeriodStart: base, Close: 0},
		{PeriodStart: base.Add(time.Hour), Close: 50},
		{PeriodStart: base.Add(2 * time.Hour), Close: 75},
	}
	r := rebaseSeries(candles)
	if len(r) != 3 {
		t.Fatalf("rebased entries = %d, want 3", len(r))
	}
	if got := r[base.Add(time.Hour).Unix()].Close; got != 100 {
		t.Errorf("first positive close rebased to %v, want 100", got)
	}
	if got := r[base.Add(2*time.Hour).Unix()].Close; math.Abs(got-150) > 1e-9 {
		t.Errorf("later close rebased to %v, want 150", got)
	}
}
