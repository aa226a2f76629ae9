package engine

import (
	"math"
	"sort"

	"bazaar-radar/internal/feed"
)

// Imbalance trend labels.
const (
	TrendStable    = "Stable"
	TrendImproving = "Improving"
	TrendWorsening = "Worsening"
)

// Level kinds for clustered price bands.
const (
	LevelSupport    = "Support"
	LevelResistance = "Resistance"
)

const (
	whaleZThreshold   = 3.0
	wallMultiplier    = 5.0
	maxWhales         = 10
	maxWalls          = 10
	maxLevelsPerSide  = 5
	levelBandPctOfMid = 0.01
	levelStrengthCap  = 10000.0
	depthWindowPct    = 5.0
)

// BookImbalance summarizes bid/ask volume pressure.
type BookImbalance struct {
	Ratio       float64 `json:"ratio"` // -1 (all ask) .. +1 (all bid)
	TotalBidVol float64 `json:"total_bid_volume"`
	TotalAskVol float64 `json:"total_ask_volume"`
	Trend       string  `json:"trend"`
}

// BookStats holds top-of-book prices.
type BookStats struct {
	BestBid  float64 `json:"best_bid"`
	BestAsk  float64 `json:"best_ask"`
	Spread   float64 `json:"spread"`
	MidPrice float64 `json:"mid_price"`
}

// DepthMetrics measures liquidity near the touch.
type DepthMetrics struct {
	BidDepth       float64 `json:"bid_depth"` // volume within 5% of best bid
	AskDepth       float64 `json:"ask_depth"` // volume within 5% of best ask
	DepthRatio     float64 `json:"depth_ratio"`
	LiquidityScore float64 `json:"liquidity_score"` // 0-100
}

// WhaleOrder is a statistically outsized order.
type WhaleOrder struct {
	Side      string  `json:"side"` // "bid" or "ask"
	UnitPrice float64 `json:"unit_price"`
	Amount    float64 `json:"amount"`
	ZScore    float64 `json:"z_score"`
}

// WallOrder is an order large enough to resist price movement past its level.
type WallOrder struct {
	Side       string  `json:"side"`
	UnitPrice  float64 `json:"unit_price"`
	Amount     float64 `json:"amount"`
	SideAvgMul float64 `json:"side_avg_multiple"`
}

// PriceLevel is a clustered band of order volume acting as support or
// resistance.
type PriceLevel struct {
	Kind           string  `json:"kind"`
	Price          float64 `json:"price"` // band center
	Volume         float64 `json:"volume"`
	OrderCount     int     `json:"order_count"`
	Strength       float64 `json:"strength"` // 0-1
	DistancePctMid float64 `json:"distance_pct_mid"`
}

// DepthPoint is one step of the cumulative depth curve.
type DepthPoint struct {
	Price      float64 `json:"price"`
	Amount     float64 `json:"amount"`
	Cumulative float64 `json:"cumulative"`
}

// OrderBookAnalysis is the complete one-pass analysis of a bid/ask book pair.
type OrderBookAnalysis struct {
	Imbalance BookImbalance `json:"imbalance"`
	Stats     BookStats     `json:"stats"`
	Depth     DepthMetrics  `json:"depth"`
	Whales    []WhaleOrder  `json:"whales"`
	Walls     []WallOrder   `json:"walls"`
	Levels    []PriceLevel  `json:"levels"`
	BidCurve  []DepthPoint  `json:"bid_curve"`
	AskCurve  []DepthPoint  `json:"ask_curve"`
}

// AnalyzeOrderBook derives all microstructure metrics from a snapshot of both
// book sides. Empty books on either side never panic; ratios default to the
// neutral values documented per metric.
func AnalyzeOrderBook(bids, asks []feed.OrderLevel) *OrderBookAnalysis {
	a := &OrderBookAnalysis{}

	a.Imbalance = computeImbalance(bids, asks)
	a.Stats = computeBookStats(bids, asks)
	a.Depth = computeDepth(bids, asks, a.Stats)
	a.Whales = detectWhales(bids, asks)
	a.Walls = detectWalls(bids, asks)
	a.Levels = clusterLevels(bids, asks, a.Stats.MidPrice)
	a.BidCurve, a.AskCurve = depthCurves(bids, asks)
	return a
}

func computeImbalance(bids, asks []feed.OrderLevel) BookImbalance {
	var bidVol, askVol float64
	for _, o := range bids {
		bidVol += o.Amount
	}
	for _, o := range asks {
		askVol += o.Amount
	}

	im := BookImbalance{TotalBidVol: bidVol, TotalAskVol: askVol, Trend: TrendStable}
	total := bidVol + askVol
	if total > 0 {
		im.Ratio = (bidVol - askVol) / total
	}
	switch {
	case math.Abs(im.Ratio) < 0.1:
		im.Trend = TrendStable
	case im.Ratio > 0:
		im.Trend = TrendImproving
	default:
		im.Trend = TrendWorsening
	}
	return im
}

func computeBookStats(bids, asks []feed.OrderLevel) BookStats {
	var st BookStats
	for _, o := range bids {
		if o.UnitPrice > st.BestBid {
			st.BestBid = o.UnitPrice
		}
	}
	bestAsk := math.MaxFloat64
	for _, o := range asks {
		if o.UnitPrice < bestAsk {
			bestAsk = o.UnitPrice
		}
	}
	if bestAsk != math.MaxFloat64 {
		st.BestAsk = bestAsk
	}
	if st.BestBid > 0 && st.BestAsk > 0 {
		st.Spread = st.BestAsk - st.BestBid
		st.MidPrice = (st.BestBid + st.BestAsk) / 2
	}
	return st
}

func computeDepth(bids, asks []feed.OrderLevel, st BookStats) DepthMetrics {
	var d DepthMetrics
	if st.BestBid > 0 {
		for _, o := range bids {
			if (st.BestBid-o.UnitPrice)/st.BestBid*100 <= depthWindowPct {
				d.BidDepth += o.Amount
			}
		}
	}
	if st.BestAsk > 0 {
		for _, o := range asks {
			if (o.UnitPrice-st.BestAsk)/st.BestAsk*100 <= depthWindowPct {
				d.AskDepth += o.Amount
			}
		}
	}

	switch {
	case d.AskDepth > 0:
		d.DepthRatio = d.BidDepth / d.AskDepth
	case d.BidDepth > 0:
		// No ask-side depth at all: sentinel favoring the bid side.
		d.DepthRatio = 100
	default:
		d.DepthRatio = 1
	}

	// Liquidity: tighter spread and more near-touch depth both score higher,
	// each component capped at 50.
	var spreadScore float64
	if st.MidPrice > 0 {
		spreadPct := st.Spread / st.MidPrice * 100
		spreadScore = 50 * clamp(1-spreadPct/depthWindowPct, 0, 1)
	}
	depthScore := 50 * math.Min(1, (d.BidDepth+d.AskDepth)/levelStrengthCap)
	d.LiquidityScore = spreadScore + depthScore
	return d
}

func detectWhales(bids, asks []feed.OrderLevel) []WhaleOrder {
	type pooled struct {
		side  string
		level feed.OrderLevel
	}
	var pool []pooled
	amounts := make([]float64, 0, len(bids)+len(asks))
	for _, o := range bids {
		pool = append(pool, pooled{"bid", o})
		amounts = append(amounts, o.Amount)
	}
	for _, o := range asks {
		pool = append(pool, pooled{"ask", o})
		amounts = append(amounts, o.Amount)
	}
	if len(pool) < 2 {
		return nil
	}

	m := mean(amounts)
	sd := stdDev(amounts)
	if sd <= 0 {
		return nil
	}

	var whales []WhaleOrder
	for _, p := range pool {
		z := (p.level.Amount - m) / sd
		if z >= whaleZThreshold {
			whales = append(whales, WhaleOrder{
				Side:      p.side,
				UnitPrice: p.level.UnitPrice,
				Amount:    p.level.Amount,
				ZScore:    z,
			})
		}
	}
	sort.Slice(whales, func(i, j int) bool { return whales[i].ZScore > whales[j].ZScore })
	if len(whales) > maxWhales {
		whales = whales[:maxWhales]
	}
	return whales
}

func detectWalls(bids, asks []feed.OrderLevel) []WallOrder {
	var walls []WallOrder
	walls = append(walls, sideWalls(bids, "bid")...)
	walls = append(walls, sideWalls(asks, "ask")...)
	sort.Slice(walls, func(i, j int) bool { return walls[i].Amount > walls[j].Amount })
	if len(walls) > maxWalls {
		walls = walls[:maxWalls]
	}
	return walls
}

func sideWalls(orders []feed.OrderLevel, side string) []WallOrder {
	if len(orders) == 0 {
		return nil
	}
	var sum float64
	for _, o := range orders {
		sum += o.Amount
	}
	avg := sum / float64(len(orders))
	if avg <= 0 {
		return nil
	}

	var walls []WallOrder
	for _, o := range orders {
		if o.Amount > wallMultiplier*avg {
			walls = append(walls, WallOrder{
				Side:       side,
				UnitPrice:  o.UnitPrice,
				Amount:     o.Amount,
				SideAvgMul: o.Amount / avg,
			})
		}
	}
	return walls
}

func clusterLevels(bids, asks []feed.OrderLevel, midPrice float64) []PriceLevel {
	if midPrice <= 0 {
		return nil
	}
	bandWidth := midPrice * levelBandPctOfMid

	levels := sideLevels(bids, LevelSupport, bandWidth, midPrice)
	levels = append(levels, sideLevels(asks, LevelResistance, bandWidth, midPrice)...)
	return levels
}

func sideLevels(orders []feed.OrderLevel, kind string, bandWidth, midPrice float64) []PriceLevel {
	if len(orders) == 0 || bandWidth <= 0 {
		return nil
	}
	type band struct {
		volume float64
		count  int
	}
	bands := make(map[int]*band)
	for _, o := range orders {
		idx := int(math.Floor(o.UnitPrice / bandWidth))
		b, ok := bands[idx]
		if !ok {
			b = &band{}
			bands[idx] = b
		}
		b.volume += o.Amount
		b.count += o.OrderCount
	}

	levels := make([]PriceLevel, 0, len(bands))
	for idx, b := range bands {
		center := (float64(idx) + 0.5) * bandWidth
		levels = append(levels, PriceLevel{
			Kind:           kind,
			Price:          center,
			Volume:         b.volume,
			OrderCount:     b.count,
			Strength:       math.Min(1, b.volume/levelStrengthCap),
			DistancePctMid: sanitizeFloat((center - midPrice) / midPrice * 100),
		})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Volume > levels[j].Volume })
	if len(levels) > maxLevelsPerSide {
		levels = levels[:maxLevelsPerSide]
	}
	return levels
}

// depthCurves builds cumulative volume curves: bids from best bid downward,
// asks from best ask upward.
func depthCurves(bids, asks []feed.OrderLevel) (bidCurve, askCurve []DepthPoint) {
	sortedBids := make([]feed.OrderLevel, len(bids))
	copy(sortedBids, bids)
	sort.Slice(sortedBids, func(i, j int) bool { return sortedBids[i].UnitPrice > sortedBids[j].UnitPrice })

	sortedAsks := make([]feed.OrderLevel, len(asks))
	copy(sortedAsks, asks)
	sort.Slice(sortedAsks, func(i, j int) bool { return sortedAsks[i].UnitPrice < sortedAsks[j].UnitPrice })

	var cum float64
	for _, o := range sortedBids {
		cum += o.Amount
		bidCurve = append(bidCurve, DepthPoint{Price: o.UnitPrice, Amount: o.Amount, Cumulative: cum})
	}
	cum = 0
	for _, o := range sortedAsks {
		cum += o.Amount
		askCurve = append(askCurve, DepthPoint{Price: o.UnitPrice, Amount: o.Amount, Cumulative: cum})
	}
	return bidCurve, askCurve
}
