package engine

import "math"

// ScoringParams holds the empirically-tuned constants behind the opportunity
// score. Values were calibrated against observed marketplace outcomes; do not
// re-derive them without validating against real flip results.
type ScoringParams struct {
	// TakerFeeRate is the marketplace taker fee applied to instant sells.
	TakerFeeRate float64 `json:"taker_fee_rate" yaml:"taker_fee_rate"`

	// MinCandlesAdvanced is the history needed for the advanced scoring path.
	MinCandlesAdvanced int `json:"min_candles_advanced" yaml:"min_candles_advanced"`

	// RiskBuffer floors the volatility estimate so flat histories don't
	// divide the score by ~zero.
	RiskBuffer float64 `json:"risk_buffer" yaml:"risk_buffer"`
	// VolatilityEpsilon adds a bid-proportional term to the volatility
	// denominator.
	VolatilityEpsilon float64 `json:"volatility_epsilon" yaml:"volatility_epsilon"`

	// HourlyVolumeCeiling caps the throughput a single hour is credited for.
	HourlyVolumeCeiling float64 `json:"hourly_volume_ceiling" yaml:"hourly_volume_ceiling"`
	// MinViableWeeklyVolume is the weekly throughput below which the volume
	// score decays quadratically.
	MinViableWeeklyVolume float64 `json:"min_viable_weekly_volume" yaml:"min_viable_weekly_volume"`

	// SweetSpotPrice is the log-space center of the price-affinity factor.
	SweetSpotPrice float64 `json:"sweet_spot_price" yaml:"sweet_spot_price"`
	// SweetSpotWidth is the Gaussian width in log10 units.
	SweetSpotWidth float64 `json:"sweet_spot_width" yaml:"sweet_spot_width"`
	// SweetSpotFloor is the minimum affinity; HighROIFloor replaces it when
	// ROI exceeds HighROIThreshold so cheap high-spread items aren't buried.
	SweetSpotFloor   float64 `json:"sweet_spot_floor" yaml:"sweet_spot_floor"`
	HighROIFloor     float64 `json:"high_roi_floor" yaml:"high_roi_floor"`
	HighROIThreshold float64 `json:"high_roi_threshold" yaml:"high_roi_threshold"`

	// MinWorthwhileSpread / MinWorthwhileAsk gate out positions too small to
	// be worth the capital; the gate is a sigmoid, not a hard cutoff.
	MinWorthwhileSpread float64 `json:"min_worthwhile_spread" yaml:"min_worthwhile_spread"`
	MinWorthwhileAsk    float64 `json:"min_worthwhile_ask" yaml:"min_worthwhile_ask"`

	// DustPrice quadratically suppresses items priced below this (simplified
	// path only).
	DustPrice float64 `json:"dust_price" yaml:"dust_price"`
	// ImplausibleROI / ImplausibleWeeklyVolume mark the "spread trap" corner:
	// very high ROI together with very high volume is statistically
	// implausible and gets discounted.
	ImplausibleROI          float64 `json:"implausible_roi" yaml:"implausible_roi"`
	ImplausibleWeeklyVolume float64 `json:"implausible_weekly_volume" yaml:"implausible_weekly_volume"`

	// Manipulation detection.
	ManipulationMinCandles int     `json:"manipulation_min_candles" yaml:"manipulation_min_candles"`
	ManipulationZThreshold float64 `json:"manipulation_z_threshold" yaml:"manipulation_z_threshold"`
	ManipulationMaxZ       float64 `json:"manipulation_max_z" yaml:"manipulation_max_z"`
	// StdDevFloorPct floors the close stddev at this fraction of the mean so
	// near-flat histories don't blow up the z-score.
	StdDevFloorPct float64 `json:"stddev_floor_pct" yaml:"stddev_floor_pct"`
}

// DefaultScoringParams are the tuned production constants.
var DefaultScoringParams = ScoringParams{
	TakerFeeRate:            0.01125,
	MinCandlesAdvanced:      6,
	RiskBuffer:              0.05,
	VolatilityEpsilon:       0.002,
	HourlyVolumeCeiling:     5000,
	MinViableWeeklyVolume:   10000,
	SweetSpotPrice:          5000,
	SweetSpotWidth:          1.6,
	SweetSpotFloor:          0.25,
	HighROIFloor:            0.6,
	HighROIThreshold:        0.5,
	MinWorthwhileSpread:     2.0,
	MinWorthwhileAsk:        20.0,
	DustPrice:               5.0,
	ImplausibleROI:          2.0,
	ImplausibleWeeklyVolume: 2_000_000,
	ManipulationMinCandles:  24,
	ManipulationZThreshold:  1.5,
	ManipulationMaxZ:        5.0,
	StdDevFloorPct:          0.001,
}

// Scorer computes opportunity and manipulation scores. It is stateless over
// its inputs: identical inputs yield bit-identical outputs.
type Scorer struct {
	Params ScoringParams
}

// NewScorer creates a Scorer with the default tuned parameters.
func NewScorer() *Scorer {
	return &Scorer{Params: DefaultScoringParams}
}

// ScoreBatch scores every input against its candle history. Results are
// order-preserving: output index i corresponds to inputs[i], so callers can
// zip results back to products without a keyed lookup.
func (s *Scorer) ScoreBatch(inputs []ScoringInput, candlesByProduct map[string][]Candle) ([]float64, []ManipulationScore) {
	opps := make([]float64, len(inputs))
	manips := make([]ManipulationScore, len(inputs))
	for i, in := range inputs {
		candles := candlesByProduct[in.ProductKey]
		opps[i] = s.OpportunityScore(in, candles)
		manips[i] = s.ManipulationScore(in.BidPrice, candles)
	}
	return opps, manips
}

// OpportunityScore rates flip profitability on a 0-10 scale.
// With at least MinCandlesAdvanced candles of history it uses the full
// volatility-adjusted formula; with sparse history it falls back to a
// simplified ROI-based score.
func (s *Scorer) OpportunityScore(in ScoringInput, candles []Candle) float64 {
	p := s.Params

	// No invertible spread: buying at ask and selling at bid can't profit.
	if in.BidPrice >= in.AskPrice || in.AskPrice <= 0 || in.BidPrice <= 0 {
		return 0
	}

	netProfit := in.AskPrice*(1-p.TakerFeeRate) - in.BidPrice
	if netProfit <= 0 {
		return 0
	}
	roi := netProfit / in.BidPrice

	if len(candles) >= p.MinCandlesAdvanced {
		return s.advancedScore(in, candles, netProfit, roi)
	}
	return s.simplifiedScore(in, netProfit, roi)
}

func (s *Scorer) advancedScore(in ScoringInput, candles []Candle, netProfit, roi float64) float64 {
	p := s.Params

	closes := make([]float64, 0, len(candles))
	for _, c := range candles {
		closes = append(closes, c.Close)
	}
	meanClose := mean(closes)

	// Volatility: stddev of close returns scaled back to price units,
	// floored so flat histories don't produce a near-zero denominator.
	volatility := stdDev(priceReturns(closes)) * meanClose
	if volatility < p.RiskBuffer {
		volatility = p.RiskBuffer
	}

	spreadStability := s.spreadStability(candles)
	volumeScore := s.volumeScore(in.BidMovingWeek, in.AskMovingWeek)
	sweetSpot := s.sweetSpot(in.BidPrice, roi)
	capitalGate := s.capitalGate(netProfit, in.AskPrice)
	trendFactor := s.trendFactor(closes)

	raw := (netProfit * volumeScore * spreadStability * sweetSpot * capitalGate) /
		(volatility + in.BidPrice*p.VolatilityEpsilon)
	raw *= trendFactor
	raw *= 1 + 0.5*math.Log10(1+math.Min(roi, 100))

	return compressScore(raw)
}

func (s *Scorer) simplifiedScore(in ScoringInput, netProfit, roi float64) float64 {
	p := s.Params

	volumeScore := s.volumeScore(in.BidMovingWeek, in.AskMovingWeek)
	sweetSpot := s.sweetSpot(in.BidPrice, roi)

	// Dust penalty: sub-threshold prices decay quadratically.
	dustPenalty := 1.0
	if in.BidPrice < p.DustPrice {
		ratio := in.BidPrice / p.DustPrice
		dustPenalty = ratio * ratio
	}

	// Feasibility penalty: very high ROI together with very high volume is a
	// classic spread trap (the spread would have been arbitraged away). The
	// ROI term is frozen once roi*penalty would start shrinking, keeping the
	// score non-decreasing in the spread.
	weekly := in.BidMovingWeek + in.AskMovingWeek
	feasibilityPenalty := 1.0
	if vol := math.Min(weekly/p.ImplausibleWeeklyVolume, 1); vol > 0 {
		penROI := math.Min(roi, p.ImplausibleROI/(1.5*vol))
		feasibilityPenalty = 1 - 0.75*vol*math.Min(penROI/p.ImplausibleROI, 1)
	}

	raw := roi * 10 * volumeScore * sweetSpot * dustPenalty * feasibilityPenalty
	return compressScore(raw)
}

// spreadStability is the inverse coefficient of variation of per-candle
// relative range, clamped to [0.1, 1]. A perfectly steady range scores 1.
func (s *Scorer) spreadStability(candles []Candle) float64 {
	var ranges []float64
	for _, c := range candles {
		if c.Close > 0 {
			ranges = append(ranges, (c.High-c.Low)/c.Close)
		}
	}
	if len(ranges) < 2 {
		return 1
	}
	m := mean(ranges)
	if m <= 0 {
		// Ranges all zero: no intra-candle movement at all.
		return 1
	}
	cv := stdDev(ranges) / m
	if cv <= 0 {
		return 1
	}
	return clamp(1/cv, 0.1, 1)
}

// volumeScore rates weekly throughput: capped at the hourly ceiling,
// penalized quadratically below the minimum viable weekly volume, and
// penalized for a lopsided bid/ask balance.
func (s *Scorer) volumeScore(bidWeek, askWeek float64) float64 {
	p := s.Params
	weekly := bidWeek + askWeek
	if weekly <= 0 {
		return 0
	}

	hourly := weekly / (7 * 24)
	score := math.Min(hourly, p.HourlyVolumeCeiling) / p.HourlyVolumeCeiling

	if weekly < p.MinViableWeeklyVolume {
		ratio := weekly / p.MinViableWeeklyVolume
		score *= ratio * ratio
	}

	// Balance penalty: one-sided flow means fills only come on one leg.
	hi := math.Max(bidWeek, askWeek)
	lo := math.Min(bidWeek, askWeek)
	if hi > 0 {
		score *= 0.5 + 0.5*(lo/hi)
	}
	return score
}

// sweetSpot is a Gaussian price-affinity factor in log-price space peaking
// at the configured target price. High-ROI items get a higher floor.
func (s *Scorer) sweetSpot(bidPrice, roi float64) float64 {
	p := s.Params
	if bidPrice <= 0 {
		return p.SweetSpotFloor
	}
	d := math.Log10(bidPrice) - math.Log10(p.SweetSpotPrice)
	g := math.Exp(-(d * d) / (2 * p.SweetSpotWidth * p.SweetSpotWidth))

	floor := p.SweetSpotFloor
	if roi >= p.HighROIThreshold {
		floor = p.HighROIFloor
	}
	return math.Max(g, floor)
}

// capitalGate collapses the score toward zero when both the absolute spread
// and the absolute ask price are below "worth the capital" thresholds.
func (s *Scorer) capitalGate(netProfit, askPrice float64) float64 {
	p := s.Params
	spreadGate := sigmoid(4 * (netProfit/p.MinWorthwhileSpread - 1))
	priceGate := sigmoid(4 * (askPrice/p.MinWorthwhileAsk - 1))
	return spreadGate * priceGate
}

// trendFactor compares the latest close to its 5-period SMA, clamped to
// [0.8, 1.2] so a trend can nudge but never dominate the score.
func (s *Scorer) trendFactor(closes []float64) float64 {
	if len(closes) == 0 {
		return 1
	}
	avg := sma(closes, 5)
	if avg <= 0 {
		return 1
	}
	return clamp(closes[len(closes)-1]/avg, 0.8, 1.2)
}

// compressScore squashes an unbounded positive raw score onto [0, 10].
func compressScore(raw float64) float64 {
	if raw <= 0 || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0
	}
	return clamp(math.Log10(1+raw)*3.5, 0, 10)
}

// ManipulationScore computes a z-score of the current bid against recent
// close history. Below ManipulationMinCandles of history it reports
// not-manipulated with zero fields: insufficient data is no signal, not an
// error.
func (s *Scorer) ManipulationScore(currentBid float64, candles []Candle) ManipulationScore {
	p := s.Params
	if len(candles) < p.ManipulationMinCandles {
		return ManipulationScore{}
	}

	closes := make([]float64, 0, len(candles))
	for _, c := range candles {
		closes = append(closes, c.Close)
	}
	m := mean(closes)
	if m <= 0 {
		return ManipulationScore{}
	}

	sd := stdDev(closes)
	if floor := m * p.StdDevFloorPct; sd < floor {
		sd = floor
	}

	z := (currentBid - m) / sd
	return ManipulationScore{
		IsManipulated:    math.Abs(z) > p.ManipulationZThreshold,
		ZScore:           sanitizeFloat(z),
		DeviationPercent: sanitizeFloat((currentBid - m) / m * 100),
		Intensity:        math.Min(1, math.Abs(z)/p.ManipulationMaxZ),
	}
}
