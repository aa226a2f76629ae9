package engine

import "time"

// Interval is a candle bucket size.
type Interval string

const (
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
)

// AllIntervals lists every supported interval, smallest first.
var AllIntervals = []Interval{Interval5m, Interval15m, Interval1h, Interval4h, Interval1d, Interval1w}

// Duration returns the bucket width of the interval. Unknown intervals
// default to one hour.
func (iv Interval) Duration() time.Duration {
	switch iv {
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval1w:
		return 7 * 24 * time.Hour
	}
	return time.Hour
}

// SubDaily reports whether the interval aggregates incrementally from the
// latest stored candle forward (daily and weekly candles are rebuilt from
// the full retained tick window instead, so initially-seeded flat candles
// get corrected).
func (iv Interval) SubDaily() bool {
	return iv.Duration() < 24*time.Hour
}

// Candle is one fixed-interval OHLC summary of a product's bid price,
// plus the closing ask and the mean spread over the bucket.
type Candle struct {
	ProductKey  string    `json:"product_key"`
	Interval    Interval  `json:"interval"`
	PeriodStart time.Time `json:"period_start"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	Spread      float64   `json:"spread"`
	AskClose    float64   `json:"ask_close"`
}

// ScoringInput is the current-state snapshot passed into the scorer,
// one per product per scoring cycle. Not persisted.
type ScoringInput struct {
	ProductKey    string  `json:"product_key"`
	BidPrice      float64 `json:"bid_price"`
	AskPrice      float64 `json:"ask_price"`
	BidMovingWeek float64 `json:"bid_moving_week"`
	AskMovingWeek float64 `json:"ask_moving_week"`
}

// ManipulationScore flags a product whose current bid is a statistical
// outlier against its recent close history.
type ManipulationScore struct {
	IsManipulated    bool    `json:"is_manipulated"`
	ZScore           float64 `json:"z_score"`
	DeviationPercent float64 `json:"deviation_percent"`
	Intensity        float64 `json:"intensity"`
}

// ProductState is the per-product live state the market analytics consume:
// current prices and book volumes, weekly throughput, and the latest
// manipulation flag.
type ProductState struct {
	Key           string  `json:"key"`
	Name          string  `json:"name,omitempty"`
	BidPrice      float64 `json:"bid_price"`
	AskPrice      float64 `json:"ask_price"`
	BidVolume     float64 `json:"bid_volume"`
	AskVolume     float64 `json:"ask_volume"`
	BidMovingWeek float64 `json:"bid_moving_week"`
	AskMovingWeek float64 `json:"ask_moving_week"`
	Manipulated   bool    `json:"manipulated"`
}

// WeeklyVolume returns combined weekly throughput on both sides.
func (p ProductState) WeeklyVolume() float64 {
	return p.BidMovingWeek + p.AskMovingWeek
}

// Active reports whether the product has any volume on either side.
func (p ProductState) Active() bool {
	return p.BidVolume > 0 || p.AskVolume > 0
}

// CandleSource supplies stored candles to the analytics engine. The engine
// itself never touches the network or disk; implementations hand data in.
type CandleSource interface {
	Candles(productKey string, interval Interval, limit int) []Candle
	CandlesBulk(productKeys []string, interval Interval, limit int) map[string][]Candle
}
