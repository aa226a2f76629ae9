package engine

import (
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	metricsTTL     = 5 * time.Minute
	correlationTTL = 15 * time.Minute

	// correlationTopN bounds the O(N²) pairwise comparison.
	correlationTopN = 100
	// correlationMinAligned is the minimum overlapping hourly observations
	// per pair.
	correlationMinAligned = 24
	// correlationLookback is how many hourly candles feed each series.
	correlationLookback = 7 * 24
	// symmetryTolerance bounds the difference between corr(a,b) computed in
	// either argument order; the mirrored triangle must stay within it.
	symmetryTolerance = 1e-9

	heatmapLookback    = 48
	trendingVolatile   = 25.0
	momentumShortHours = 6
	momentumMedHours   = 24
	momentumLongHours  = 7 * 24
)

// Trend direction labels.
const (
	DirectionBullish  = "Bullish"
	DirectionBearish  = "Bearish"
	DirectionVolatile = "Volatile"
	DirectionNeutral  = "Neutral"
)

// Correlation strength labels.
const (
	CorrelationStrong   = "Strong"
	CorrelationModerate = "Moderate"
	CorrelationWeak     = "Weak"
)

// MarketMetrics is the aggregate market overview.
type MarketMetrics struct {
	TotalMarketCap    float64   `json:"total_market_cap"`
	AverageSpreadPct  float64   `json:"average_spread_pct"`
	ManipulationIndex float64   `json:"manipulation_index"` // % of active products flagged
	HealthScore       float64   `json:"health_score"`       // 0-100
	ActiveProducts    int       `json:"active_products"`
	ComputedAt        time.Time `json:"computed_at"`
}

// CorrelationMatrix maps product pairs to Pearson coefficients.
// The diagonal is exactly 1; the matrix is symmetric within tolerance.
type CorrelationMatrix struct {
	Keys       []string                      `json:"keys"`
	Values     map[string]map[string]float64 `json:"values"`
	ComputedAt time.Time                     `json:"computed_at"`
}

// Coefficient returns the correlation between two products, 0 when either is
// not in the matrix.
func (m *CorrelationMatrix) Coefficient(a, b string) float64 {
	if row, ok := m.Values[a]; ok {
		return row[b]
	}
	return 0
}

// RelatedProduct is one entry in a correlation ranking.
type RelatedProduct struct {
	Key         string  `json:"key"`
	Correlation float64 `json:"correlation"`
	Strength    string  `json:"strength"`
}

// TrendingProduct carries multi-horizon momentum for one product.
type TrendingProduct struct {
	Key            string  `json:"key"`
	ShortMomentum  float64 `json:"short_momentum"`  // % change over 6h
	MediumMomentum float64 `json:"medium_momentum"` // % change over 24h
	LongMomentum   float64 `json:"long_momentum"`   // % change over 7d
	Direction      string  `json:"direction"`
	Strength       float64 `json:"strength"` // Euclidean norm of the momenta
}

// HeatmapCell positions one product on the volatility/volume plane.
type HeatmapCell struct {
	Key              string  `json:"key"`
	Volatility       float64 `json:"volatility"`
	WeeklyVolume     float64 `json:"weekly_volume"`
	VolatilityNorm   float64 `json:"volatility_norm"`   // 0-1
	WeeklyVolumeNorm float64 `json:"weekly_volume_norm"` // 0-1
}

// Analytics computes cross-product market statistics. The expensive outputs
// (market metrics, correlation matrix) sit behind TTL caches with
// singleflight so concurrent refreshes don't recompute redundantly.
type Analytics struct {
	source CandleSource

	mu        sync.RWMutex
	metrics   *MarketMetrics
	metricsAt time.Time
	matrix    *CorrelationMatrix
	matrixAt  time.Time

	group singleflight.Group
}

// NewAnalytics creates an analytics engine over the given candle source.
func NewAnalytics(source CandleSource) *Analytics {
	return &Analytics{source: source}
}

// MarketMetrics returns the cached market overview, recomputing it from the
// given states when the cache is older than 5 minutes.
func (a *Analytics) MarketMetrics(states []ProductState) *MarketMetrics {
	a.mu.RLock()
	if a.metrics != nil && time.Since(a.metricsAt) < metricsTTL {
		defer a.mu.RUnlock()
		return a.metrics
	}
	a.mu.RUnlock()

	v, _, _ := a.group.Do("metrics", func() (interface{}, error) {
		a.mu.RLock()
		if a.metrics != nil && time.Since(a.metricsAt) < metricsTTL {
			defer a.mu.RUnlock()
			return a.metrics, nil
		}
		a.mu.RUnlock()

		m := computeMarketMetrics(states)
		a.mu.Lock()
		a.metrics = m
		a.metricsAt = time.Now()
		a.mu.Unlock()
		return m, nil
	})
	return v.(*MarketMetrics)
}

func computeMarketMetrics(states []ProductState) *MarketMetrics {
	m := &MarketMetrics{ComputedAt: time.Now().UTC()}

	var spreads []float64
	var volumes []float64
	manipulated := 0
	for _, p := range states {
		if !p.Active() {
			continue
		}
		m.ActiveProducts++
		m.TotalMarketCap += p.BidPrice * p.BidVolume
		if p.AskPrice > 0 {
			spreads = append(spreads, (p.AskPrice-p.BidPrice)/p.AskPrice*100)
		}
		volumes = append(volumes, p.WeeklyVolume())
		if p.Manipulated {
			manipulated++
		}
	}
	if m.ActiveProducts == 0 {
		return m
	}

	m.AverageSpreadPct = sanitizeFloat(mean(spreads))
	m.ManipulationIndex = float64(manipulated) / float64(m.ActiveProducts) * 100

	spreadStability := clamp(100-m.AverageSpreadPct*2, 0, 100)
	volumeDistribution := volumeDistributionScore(volumes)
	m.HealthScore = clamp(
		0.4*spreadStability+0.4*volumeDistribution+0.2*(100-m.ManipulationIndex),
		0, 100)
	return m
}

// volumeDistributionScore rewards evenly spread volume: 100 when every
// product trades equally, approaching 0 when one product dominates.
// Based on a normalized Herfindahl index.
func volumeDistributionScore(volumes []float64) float64 {
	n := len(volumes)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return 100
	}
	var total float64
	for _, v := range volumes {
		total += v
	}
	if total <= 0 {
		return 0
	}
	var hhi float64
	for _, v := range volumes {
		share := v / total
		hhi += share * share
	}
	minHHI := 1 / float64(n)
	return clamp((1-hhi)/(1-minHHI), 0, 1) * 100
}

// CorrelationMatrix returns the cached pairwise correlation matrix over the
// top products by weekly volume, recomputing when older than 15 minutes.
func (a *Analytics) CorrelationMatrix(states []ProductState) *CorrelationMatrix {
	a.mu.RLock()
	if a.matrix != nil && time.Since(a.matrixAt) < correlationTTL {
		defer a.mu.RUnlock()
		return a.matrix
	}
	a.mu.RUnlock()

	v, _, _ := a.group.Do("correlation", func() (interface{}, error) {
		a.mu.RLock()
		if a.matrix != nil && time.Since(a.matrixAt) < correlationTTL {
			defer a.mu.RUnlock()
			return a.matrix, nil
		}
		a.mu.RUnlock()

		m := a.computeCorrelationMatrix(states)
		a.mu.Lock()
		a.matrix = m
		a.matrixAt = time.Now()
		a.mu.Unlock()
		return m, nil
	})
	return v.(*CorrelationMatrix)
}

func (a *Analytics) computeCorrelationMatrix(states []ProductState) *CorrelationMatrix {
	keys := topByWeeklyVolume(states, correlationTopN)
	series := a.hourlyCloseSeries(keys)

	matrix := &CorrelationMatrix{
		Keys:       keys,
		Values:     make(map[string]map[string]float64, len(keys)),
		ComputedAt: time.Now().UTC(),
	}
	for _, k := range keys {
		matrix.Values[k] = make(map[string]float64, len(keys))
		matrix.Values[k][k] = 1.0
	}

	// Upper triangle only, mirrored below. Independent per-cell computation
	// would differ from the mirror only by float summation order, bounded by
	// symmetryTolerance; mirroring keeps the matrix exactly symmetric.
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			r := alignedCorrelation(series[keys[i]], series[keys[j]])
			matrix.Values[keys[i]][keys[j]] = r
			matrix.Values[keys[j]][keys[i]] = r
		}
	}
	return matrix
}

// hourlyCloseSeries fetches hourly close series for all keys in parallel,
// bounded to the CPU count.
func (a *Analytics) hourlyCloseSeries(keys []string) map[string]map[int64]float64 {
	series := make(map[string]map[int64]float64, len(keys))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, key := range keys {
		g.Go(func() error {
			candles := a.source.Candles(key, Interval1h, correlationLookback)
			byPeriod := make(map[int64]float64, len(candles))
			for _, c := range candles {
				byPeriod[c.PeriodStart.Unix()] = c.Close
			}
			mu.Lock()
			series[key] = byPeriod
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return series
}

// alignedCorrelation computes Pearson correlation over timestamps both series
// share, requiring at least correlationMinAligned observations.
func alignedCorrelation(sa, sb map[int64]float64) float64 {
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	shared := make([]int64, 0, len(sa))
	for ts := range sa {
		if _, ok := sb[ts]; ok {
			shared = append(shared, ts)
		}
	}
	if len(shared) < correlationMinAligned {
		return 0
	}
	// Deterministic summation order regardless of map iteration.
	sort.Slice(shared, func(i, j int) bool { return shared[i] < shared[j] })

	xs := make([]float64, len(shared))
	ys := make([]float64, len(shared))
	for i, ts := range shared {
		xs[i] = sa[ts]
		ys[i] = sb[ts]
	}
	r, ok := pearson(xs, ys)
	if !ok {
		return 0
	}
	return r
}

func topByWeeklyVolume(states []ProductState, n int) []string {
	sorted := make([]ProductState, len(states))
	copy(sorted, states)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].WeeklyVolume() > sorted[j].WeeklyVolume()
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	keys := make([]string, len(sorted))
	for i, p := range sorted {
		keys[i] = p.Key
	}
	return keys
}

// RelatedProducts ranks all other products in the matrix by absolute
// correlation to the given key.
func (a *Analytics) RelatedProducts(states []ProductState, key string, limit int) []RelatedProduct {
	matrix := a.CorrelationMatrix(states)
	row, ok := matrix.Values[key]
	if !ok {
		return nil
	}

	related := make([]RelatedProduct, 0, len(row))
	for other, r := range row {
		if other == key {
			continue
		}
		related = append(related, RelatedProduct{
			Key:         other,
			Correlation: r,
			Strength:    correlationStrength(r),
		})
	}
	sort.Slice(related, func(i, j int) bool {
		ai, aj := math.Abs(related[i].Correlation), math.Abs(related[j].Correlation)
		if ai != aj {
			return ai > aj
		}
		return related[i].Key < related[j].Key
	})
	if limit > 0 && len(related) > limit {
		related = related[:limit]
	}
	return related
}

func correlationStrength(r float64) string {
	switch abs := math.Abs(r); {
	case abs >= 0.7:
		return CorrelationStrong
	case abs >= 0.4:
		return CorrelationModerate
	default:
		return CorrelationWeak
	}
}

// TrendingProducts ranks products by momentum strength across three horizons.
func (a *Analytics) TrendingProducts(states []ProductState, limit int) []TrendingProduct {
	keys := make([]string, 0, len(states))
	for _, p := range states {
		if p.Active() {
			keys = append(keys, p.Key)
		}
	}
	candlesByKey := a.source.CandlesBulk(keys, Interval1h, momentumLongHours+1)

	var trending []TrendingProduct
	for _, key := range keys {
		candles := candlesByKey[key]
		if len(candles) <= momentumShortHours {
			continue
		}
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}

		short := momentum(closes, momentumShortHours)
		med := momentum(closes, momentumMedHours)
		long := momentum(closes, momentumLongHours)

		tp := TrendingProduct{
			Key:            key,
			ShortMomentum:  short,
			MediumMomentum: med,
			LongMomentum:   long,
			Strength:       math.Sqrt(short*short + med*med + long*long),
		}
		tp.Direction = momentumDirection(short, med, long)
		trending = append(trending, tp)
	}
	sort.Slice(trending, func(i, j int) bool { return trending[i].Strength > trending[j].Strength })
	if limit > 0 && len(trending) > limit {
		trending = trending[:limit]
	}
	return trending
}

// momentum is the % change between the latest close and the close n periods
// earlier (or the oldest available when history is shorter).
func momentum(closes []float64, periods int) float64 {
	if len(closes) < 2 {
		return 0
	}
	idx := len(closes) - 1 - periods
	if idx < 0 {
		idx = 0
	}
	return sanitizeFloat(pctChange(closes[len(closes)-1], closes[idx]))
}

func momentumDirection(short, med, long float64) string {
	switch {
	case short > 0 && med > 0 && long > 0:
		return DirectionBullish
	case short < 0 && med < 0 && long < 0:
		return DirectionBearish
	case math.Abs(short)+math.Abs(med)+math.Abs(long) > trendingVolatile:
		return DirectionVolatile
	default:
		return DirectionNeutral
	}
}

// Heatmap positions every active product on the volatility/volume plane,
// with both axes normalized to [0,1] across the batch.
func (a *Analytics) Heatmap(states []ProductState) []HeatmapCell {
	keys := make([]string, 0, len(states))
	weekly := make(map[string]float64, len(states))
	for _, p := range states {
		if !p.Active() {
			continue
		}
		keys = append(keys, p.Key)
		weekly[p.Key] = p.WeeklyVolume()
	}
	candlesByKey := a.source.CandlesBulk(keys, Interval1h, heatmapLookback)

	cells := make([]HeatmapCell, 0, len(keys))
	var maxVol, maxWeekly float64
	for _, key := range keys {
		candles := candlesByKey[key]
		closes := make([]float64, 0, len(candles))
		for _, c := range candles {
			closes = append(closes, c.Close)
		}
		vol := stdDev(priceReturns(closes)) * mean(closes)
		cell := HeatmapCell{
			Key:          key,
			Volatility:   sanitizeFloat(vol),
			WeeklyVolume: weekly[key],
		}
		if cell.Volatility > maxVol {
			maxVol = cell.Volatility
		}
		if cell.WeeklyVolume > maxWeekly {
			maxWeekly = cell.WeeklyVolume
		}
		cells = append(cells, cell)
	}
	for i := range cells {
		if maxVol > 0 {
			cells[i].VolatilityNorm = cells[i].Volatility / maxVol
		}
		if maxWeekly > 0 {
			cells[i].WeeklyVolumeNorm = cells[i].WeeklyVolume / maxWeekly
		}
	}
	return cells
}

// InvalidateCaches clears the TTL caches; used in tests and after bulk data
// rewrites.
func (a *Analytics) InvalidateCaches() {
	a.mu.Lock()
	a.metrics = nil
	a.matrix = nil
	a.mu.Unlock()
}
