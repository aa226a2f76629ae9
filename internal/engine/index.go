package engine

import (
	"sort"
	"strings"
	"time"
)

// indexMinWeeklyVolume excludes near-zero-volume constituents; a product with
// essentially no throughput is likely pruned upstream and would only drag a
// stale price into the index.
const indexMinWeeklyVolume = 100.0

// IndexDefinition names an index and lists its constituents. Entries are
// exact product keys or prefix patterns with a trailing '*'
// (e.g. "ENCHANTED_*").
type IndexDefinition struct {
	Name         string   `json:"name" yaml:"name"`
	Constituents []string `json:"constituents" yaml:"constituents"`
}

// IndexPoint is one averaged, rebased OHLC observation of an index.
type IndexPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	AskClose     float64   `json:"ask_close"`
	Contributors int       `json:"contributors"`
}

// IndexSeries is a computed synthetic index.
type IndexSeries struct {
	Name         string       `json:"name"`
	Constituents []string     `json:"constituents"`
	Points       []IndexPoint `json:"points"`
}

// ResolveConstituents expands an index definition's patterns against the
// product catalog, keeping only products with meaningful weekly volume.
// The result is sorted and de-duplicated.
func ResolveConstituents(def IndexDefinition, states []ProductState) []string {
	byKey := make(map[string]ProductState, len(states))
	keys := make([]string, 0, len(states))
	for _, p := range states {
		byKey[p.Key] = p
		keys = append(keys, p.Key)
	}

	matched := make(map[string]bool)
	for _, pattern := range def.Constituents {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			for _, k := range keys {
				if strings.HasPrefix(k, prefix) {
					matched[k] = true
				}
			}
			continue
		}
		if _, ok := byKey[pattern]; ok {
			matched[pattern] = true
		}
	}

	resolved := make([]string, 0, len(matched))
	for k := range matched {
		if byKey[k].WeeklyVolume() >= indexMinWeeklyVolume {
			resolved = append(resolved, k)
		}
	}
	sort.Strings(resolved)
	return resolved
}

// BuildIndex combines the constituents' candle series into one normalized
// index. Each constituent is rebased to 100 at its first available close,
// then the rebased OHLC values are averaged per timestamp over the UNION of
// all timestamps: a sparsely-covered constituent contributes where it has
// data and simply sits out elsewhere, so one gappy series never truncates
// the whole index.
func BuildIndex(def IndexDefinition, states []ProductState, candlesByKey map[string][]Candle) *IndexSeries {
	constituents := ResolveConstituents(def, states)
	series := &IndexSeries{Name: def.Name, Constituents: constituents}

	rebased := make(map[string]map[int64]Candle, len(constituents))
	tsSet := make(map[int64]bool)
	for _, key := range constituents {
		r := rebaseSeries(candlesByKey[key])
		if len(r) == 0 {
			continue
		}
		rebased[key] = r
		for ts := range r {
			tsSet[ts] = true
		}
	}
	if len(tsSet) == 0 {
		return series
	}

	timestamps := make([]int64, 0, len(tsSet))
	for ts := range tsSet {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	for _, ts := range timestamps {
		var p IndexPoint
		for _, key := range constituents {
			c, ok := rebased[key][ts]
			if !ok {
				continue
			}
			p.Open += c.Open
			p.High += c.High
			p.Low += c.Low
			p.Close += c.Close
			p.AskClose += c.AskClose
			p.Contributors++
		}
		if p.Contributors == 0 {
			continue
		}
		n := float64(p.Contributors)
		p.Timestamp = time.Unix(ts, 0).UTC()
		p.Open /= n
		p.High /= n
		p.Low /= n
		p.Close /= n
		p.AskClose /= n
		series.Points = append(series.Points, p)
	}
	return series
}

// rebaseSeries scales a candle series so its first close equals 100.
func rebaseSeries(candles []Candle) map[int64]Candle {
	if len(candles) == 0 {
		return nil
	}
	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PeriodStart.Before(sorted[j].PeriodStart)
	})

	var base float64
	for _, c := range sorted {
		if c.Close > 0 {
			base = c.Close
			break
		}
	}
	if base <= 0 {
		return nil
	}

	out := make(map[int64]Candle, len(sorted))
	scale := 100 / base
	for _, c := range sorted {
		c.Open *= scale
		c.High *= scale
		c.Low *= scale
		c.Close *= scale
		c.AskClose *= scale
		out[c.PeriodStart.Unix()] = c
	}
	return out
}
