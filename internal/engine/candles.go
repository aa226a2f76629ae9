package engine

import (
	"sort"
	"time"

	"bazaar-radar/internal/feed"
)

// AggregateCandles buckets ticks for one product into fixed-interval OHLC
// candles. Buckets are epoch-aligned (timestamp floored to the interval
// width from the Unix epoch), so re-runs over the same ticks produce
// identical periods.
//
// Within a bucket: open = bid of earliest tick, close/askClose = bid/ask of
// latest tick, high/low = max/min bid, volume = sum of bid+ask volume,
// spread = mean of (ask-bid) over ticks where both sides are present.
// Buckets with no ticks produce no candle.
func AggregateCandles(ticks []feed.Tick, interval Interval) []Candle {
	if len(ticks) == 0 {
		return nil
	}

	sorted := make([]feed.Tick, len(ticks))
	copy(sorted, ticks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	width := interval.Duration()

	type bucket struct {
		candle      Candle
		spreadSum   float64
		spreadCount int
	}

	var order []time.Time
	buckets := make(map[time.Time]*bucket)

	for _, t := range sorted {
		start := bucketStart(t.Timestamp, width)
		b, ok := buckets[start]
		if !ok {
			b = &bucket{candle: Candle{
				ProductKey:  t.ProductKey,
				Interval:    interval,
				PeriodStart: start,
				Open:        t.BidPrice,
				High:        t.BidPrice,
				Low:         t.BidPrice,
			}}
			buckets[start] = b
			order = append(order, start)
		}
		if t.BidPrice > b.candle.High {
			b.candle.High = t.BidPrice
		}
		if t.BidPrice < b.candle.Low {
			b.candle.Low = t.BidPrice
		}
		b.candle.Close = t.BidPrice
		b.candle.AskClose = t.AskPrice
		b.candle.Volume += t.BidVolume + t.AskVolume
		if t.BidPrice > 0 && t.AskPrice > 0 {
			b.spreadSum += t.AskPrice - t.BidPrice
			b.spreadCount++
		}
	}

	candles := make([]Candle, 0, len(order))
	for _, start := range order {
		b := buckets[start]
		if b.spreadCount > 0 {
			b.candle.Spread = b.spreadSum / float64(b.spreadCount)
		}
		candles = append(candles, b.candle)
	}
	return candles
}

// bucketStart floors ts onto a Unix-epoch-aligned period. time.Truncate
// counts from the zero Time instead, which would shift weekly buckets by
// three days.
func bucketStart(ts time.Time, width time.Duration) time.Time {
	sec := int64(width / time.Second)
	return time.Unix(ts.Unix()/sec*sec, 0).UTC()
}

// AggregateSince filters ticks to those at or after the cutoff before
// aggregating. Used for the incremental sub-daily path: only buckets from
// the latest stored candle's start forward are recomputed.
func AggregateSince(ticks []feed.Tick, interval Interval, cutoff time.Time) []Candle {
	if cutoff.IsZero() {
		return AggregateCandles(ticks, interval)
	}
	var window []feed.Tick
	for _, t := range ticks {
		if !t.Timestamp.Before(cutoff) {
			window = append(window, t)
		}
	}
	return AggregateCandles(window, interval)
}
