package engine

import (
	"math"
	"sort"
	"sync"
)

const (
	maxInsightsPerKind = 10

	hotChangeThresholdPct   = 5.0
	surgeMultiplier         = 2.0
	spreadWidenThresholdPct = 20.0
	spreadMinSamples        = 12
	spreadLookbackHours     = 24

	fireSaleBelowAvgPct   = 20.0
	fireSaleBelowLowPct   = 10.0
	fireSaleVolumeFactor  = 1.5
	moverMinHourlyCandles = 24
)

// HotProduct flags a fast short-term price move.
type HotProduct struct {
	Key          string  `json:"key"`
	ChangePct    float64 `json:"change_pct"`
	CurrentPrice float64 `json:"current_price"`
	IsNew        bool    `json:"is_new"` // first cycle this key is flagged
}

// VolumeSurge flags current-hour volume far above its recent average.
type VolumeSurge struct {
	Key           string  `json:"key"`
	CurrentVolume float64 `json:"current_volume"`
	AverageVolume float64 `json:"average_volume"`
	Multiplier    float64 `json:"multiplier"`
}

// SpreadOpportunity flags a spread that widened sharply versus its average.
type SpreadOpportunity struct {
	Key           string  `json:"key"`
	CurrentSpread float64 `json:"current_spread"`
	AverageSpread float64 `json:"average_spread"`
	WidenedPct    float64 `json:"widened_pct"`
}

// FireSale flags a product dumped well below its recent trading range with
// confirming volume. All three conditions must hold simultaneously so no
// single noisy signal can trigger it.
type FireSale struct {
	Key             string  `json:"key"`
	AskPrice        float64 `json:"ask_price"`
	BelowAvgPct     float64 `json:"below_avg_pct"`
	BelowWeekLowPct float64 `json:"below_week_low_pct"`
	VolumeFactor    float64 `json:"volume_factor"`
}

// MarketMover is one entry of the 24h gainers/losers ranking.
type MarketMover struct {
	Key       string  `json:"key"`
	ChangePct float64 `json:"change_pct"`
	Price     float64 `json:"price"`
}

// InsightReport bundles one refresh cycle's findings.
type InsightReport struct {
	Hot           []HotProduct        `json:"hot"`
	VolumeSurges  []VolumeSurge       `json:"volume_surges"`
	SpreadWidened []SpreadOpportunity `json:"spread_widened"`
	FireSales     []FireSale          `json:"fire_sales"`
	TopGainers    []MarketMover       `json:"top_gainers"`
	TopLosers     []MarketMover       `json:"top_losers"`
}

// InsightInput is the per-product data the detector scans: current state
// plus recent 15-minute and hourly candles (newest last).
type InsightInput struct {
	State         ProductState
	QuarterHourly []Candle
	Hourly        []Candle
	WeekCandles   []Candle // daily candles covering the last 7 days
}

// InsightsDetector runs the rule scanners. It is the one component with
// memory: the set of previously-flagged hot keys survives between refresh
// cycles so the report can mark which entries are new. The set is
// mutex-guarded because refreshes may run concurrently with reads.
type InsightsDetector struct {
	mu      sync.Mutex
	seenHot map[string]bool
}

// NewInsightsDetector creates a detector with empty memory.
func NewInsightsDetector() *InsightsDetector {
	return &InsightsDetector{seenHot: make(map[string]bool)}
}

// Scan evaluates all rules over the batch and returns the capped, ranked
// report. Products with insufficient history simply don't appear in the
// affected categories.
func (d *InsightsDetector) Scan(inputs []InsightInput) *InsightReport {
	report := &InsightReport{}

	currentHot := make(map[string]bool)
	for _, in := range inputs {
		if h, ok := detectHot(in); ok {
			currentHot[in.State.Key] = true
			report.Hot = append(report.Hot, h)
		}
		if s, ok := detectVolumeSurge(in); ok {
			report.VolumeSurges = append(report.VolumeSurges, s)
		}
		if s, ok := detectSpreadWidened(in); ok {
			report.SpreadWidened = append(report.SpreadWidened, s)
		}
		if f, ok := detectFireSale(in); ok {
			report.FireSales = append(report.FireSales, f)
		}
	}

	d.mu.Lock()
	for i := range report.Hot {
		report.Hot[i].IsNew = !d.seenHot[report.Hot[i].Key]
	}
	d.seenHot = currentHot
	d.mu.Unlock()

	report.TopGainers, report.TopLosers = detectMovers(inputs)

	sort.Slice(report.Hot, func(i, j int) bool {
		return math.Abs(report.Hot[i].ChangePct) > math.Abs(report.Hot[j].ChangePct)
	})
	sort.Slice(report.VolumeSurges, func(i, j int) bool {
		return report.VolumeSurges[i].Multiplier > report.VolumeSurges[j].Multiplier
	})
	sort.Slice(report.SpreadWidened, func(i, j int) bool {
		return report.SpreadWidened[i].WidenedPct > report.SpreadWidened[j].WidenedPct
	})
	sort.Slice(report.FireSales, func(i, j int) bool {
		return report.FireSales[i].BelowAvgPct > report.FireSales[j].BelowAvgPct
	})

	report.Hot = capHot(report.Hot)
	if len(report.VolumeSurges) > maxInsightsPerKind {
		report.VolumeSurges = report.VolumeSurges[:maxInsightsPerKind]
	}
	if len(report.SpreadWidened) > maxInsightsPerKind {
		report.SpreadWidened = report.SpreadWidened[:maxInsightsPerKind]
	}
	if len(report.FireSales) > maxInsightsPerKind {
		report.FireSales = report.FireSales[:maxInsightsPerKind]
	}
	return report
}

func capHot(hot []HotProduct) []HotProduct {
	if len(hot) > maxInsightsPerKind {
		return hot[:maxInsightsPerKind]
	}
	return hot
}

// detectHot: |price change| across the two most recent 15-minute candles
// at or above the threshold.
func detectHot(in InsightInput) (HotProduct, bool) {
	q := in.QuarterHourly
	if len(q) < 2 {
		return HotProduct{}, false
	}
	prev := q[len(q)-2].Close
	cur := q[len(q)-1].Close
	change := pctChange(cur, prev)
	if math.Abs(change) < hotChangeThresholdPct {
		return HotProduct{}, false
	}
	return HotProduct{Key: in.State.Key, ChangePct: change, CurrentPrice: cur}, true
}

// detectVolumeSurge: current-hour volume at least 2x the average of the
// prior hourly volumes.
func detectVolumeSurge(in InsightInput) (VolumeSurge, bool) {
	h := in.Hourly
	if len(h) < 2 {
		return VolumeSurge{}, false
	}
	current := h[len(h)-1].Volume
	var prior []float64
	for _, c := range h[:len(h)-1] {
		prior = append(prior, c.Volume)
	}
	avg := mean(prior)
	if avg <= 0 {
		return VolumeSurge{}, false
	}
	mult := current / avg
	if mult < surgeMultiplier {
		return VolumeSurge{}, false
	}
	return VolumeSurge{
		Key:           in.State.Key,
		CurrentVolume: current,
		AverageVolume: avg,
		Multiplier:    mult,
	}, true
}

// detectSpreadWidened: current spread at least 20% above the mean of the
// last 24 hourly spreads (needing at least 12 usable samples).
func detectSpreadWidened(in InsightInput) (SpreadOpportunity, bool) {
	h := in.Hourly
	if len(h) == 0 {
		return SpreadOpportunity{}, false
	}
	window := h
	if len(window) > spreadLookbackHours {
		window = window[len(window)-spreadLookbackHours:]
	}
	var spreads []float64
	for _, c := range window[:len(window)-1] {
		if c.Spread > 0 {
			spreads = append(spreads, c.Spread)
		}
	}
	if len(spreads) < spreadMinSamples {
		return SpreadOpportunity{}, false
	}
	avg := mean(spreads)
	current := in.State.AskPrice - in.State.BidPrice
	if avg <= 0 || current <= 0 {
		return SpreadOpportunity{}, false
	}
	widened := (current - avg) / avg * 100
	if widened < spreadWidenThresholdPct {
		return SpreadOpportunity{}, false
	}
	return SpreadOpportunity{
		Key:           in.State.Key,
		CurrentSpread: current,
		AverageSpread: avg,
		WidenedPct:    widened,
	}, true
}

// detectFireSale requires all three conditions at once: ask well below the
// 24h average close, ask well below the 7-day low, and confirming hourly
// volume.
func detectFireSale(in InsightInput) (FireSale, bool) {
	h := in.Hourly
	if len(h) < 2 || in.State.AskPrice <= 0 {
		return FireSale{}, false
	}

	window := h
	if len(window) > 24 {
		window = window[len(window)-24:]
	}
	var closes []float64
	for _, c := range window {
		closes = append(closes, c.Close)
	}
	avgClose := mean(closes)
	if avgClose <= 0 {
		return FireSale{}, false
	}
	belowAvg := (avgClose - in.State.AskPrice) / avgClose * 100
	if belowAvg < fireSaleBelowAvgPct {
		return FireSale{}, false
	}

	weekLow := math.MaxFloat64
	for _, c := range in.WeekCandles {
		if c.Low > 0 && c.Low < weekLow {
			weekLow = c.Low
		}
	}
	if weekLow == math.MaxFloat64 {
		return FireSale{}, false
	}
	belowLow := (weekLow - in.State.AskPrice) / weekLow * 100
	if belowLow < fireSaleBelowLowPct {
		return FireSale{}, false
	}

	current := h[len(h)-1].Volume
	var prior []float64
	for _, c := range h[:len(h)-1] {
		prior = append(prior, c.Volume)
	}
	avgVol := mean(prior)
	if avgVol <= 0 || current < fireSaleVolumeFactor*avgVol {
		return FireSale{}, false
	}

	return FireSale{
		Key:             in.State.Key,
		AskPrice:        in.State.AskPrice,
		BelowAvgPct:     belowAvg,
		BelowWeekLowPct: belowLow,
		VolumeFactor:    current / avgVol,
	}, true
}

// detectMovers ranks 24h price change across products with at least 24
// hourly candles.
func detectMovers(inputs []InsightInput) (gainers, losers []MarketMover) {
	var movers []MarketMover
	for _, in := range inputs {
		h := in.Hourly
		if len(h) < moverMinHourlyCandles {
			continue
		}
		// Reference is the close 24 steps back, a full 24h span; at exactly
		// the minimum history the oldest close stands in, one hour short.
		idx := len(h) - 1 - moverMinHourlyCandles
		if idx < 0 {
			idx = 0
		}
		ref := h[idx].Close
		cur := h[len(h)-1].Close
		if ref <= 0 {
			continue
		}
		movers = append(movers, MarketMover{
			Key:       in.State.Key,
			ChangePct: (cur - ref) / ref * 100,
			Price:     cur,
		})
	}

	sort.Slice(movers, func(i, j int) bool { return movers[i].ChangePct > movers[j].ChangePct })
	for _, m := range movers {
		if m.ChangePct > 0 && len(gainers) < maxInsightsPerKind {
			gainers = append(gainers, m)
		}
	}
	for i := len(movers) - 1; i >= 0; i-- {
		if movers[i].ChangePct < 0 && len(losers) < maxInsightsPerKind {
			losers = append(losers, movers[i])
		}
	}
	return gainers, losers
}
