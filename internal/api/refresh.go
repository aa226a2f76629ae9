package api

import (
	"fmt"
	"log"
	"sort"
	"time"

	"bazaar-radar/internal/engine"
	"bazaar-radar/internal/feed"
	"bazaar-radar/internal/logger"
)

const (
	candleWindow = 7 * 24 * time.Hour

	scoringCandleLimit  = 48
	insightQuarterLimit = 8
	insightHourlyLimit  = 25
	insightWeekDayLimit = 7
)

// Refresh runs one full pipeline cycle: poll the feed, persist ticks,
// re-aggregate candles, score the batch, rescan insights, and publish the
// new state. It is the single writer; callers must not run it concurrently
// with itself.
func (s *Server) Refresh() error {
	started := time.Now()

	snap, err := s.feed.FetchSnapshot()
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	ticks := snap.Ticks()
	if err := s.db.InsertTicks(ticks); err != nil {
		return fmt.Errorf("persist ticks: %w", err)
	}

	s.rebuildCandles()
	s.saveBooks(snap)

	keys, inputs := scoringInputs(snap)
	hourly := s.db.CandlesBulk(keys, engine.Interval1h, scoringCandleLimit)
	scores, manips := s.scorer.ScoreBatch(inputs, hourly)

	states := make([]engine.ProductState, len(inputs))
	views := make([]ProductView, len(inputs))
	for i, in := range inputs {
		p := snap.Products[in.ProductKey]
		name := s.feed.ProductName(in.ProductKey)
		states[i] = engine.ProductState{
			Key:           in.ProductKey,
			Name:          name,
			BidPrice:      p.QuickStatus.BidPrice,
			AskPrice:      p.QuickStatus.AskPrice,
			BidVolume:     p.QuickStatus.BidVolume,
			AskVolume:     p.QuickStatus.AskVolume,
			BidMovingWeek: p.QuickStatus.BidMovingWeek,
			AskMovingWeek: p.QuickStatus.AskMovingWeek,
			Manipulated:   manips[i].IsManipulated,
		}
		views[i] = ProductView{
			Key:          in.ProductKey,
			Name:         name,
			BidPrice:     p.QuickStatus.BidPrice,
			AskPrice:     p.QuickStatus.AskPrice,
			Spread:       p.QuickStatus.AskPrice - p.QuickStatus.BidPrice,
			WeeklyVolume: states[i].WeeklyVolume(),
			Score:        scores[i],
			Manipulation: manips[i],
		}
	}
	sortProductViews(views)

	report := s.insights.Scan(s.insightInputs(keys, states))

	s.mu.Lock()
	s.snapshot = snap
	s.states = states
	s.products = views
	s.report = report
	s.lastRefresh = time.Now()
	s.ready = true
	s.mu.Unlock()

	s.db.PruneTicks()
	s.db.PruneBookSnapshots()

	logger.Info("Refresh", fmt.Sprintf("Cycle done: %d products in %s",
		len(states), time.Since(started).Round(time.Millisecond)))
	return nil
}

// rebuildCandles re-aggregates every interval from the retained tick window.
// Sub-daily intervals resume from the latest stored bucket so only the live
// partial candle is recomputed; daily and weekly candles are rebuilt whole.
func (s *Server) rebuildCandles() {
	window := s.db.AllTicksSince(time.Now().Add(-candleWindow))
	for key, productTicks := range window {
		var candles []engine.Candle
		for _, iv := range engine.AllIntervals {
			if iv.SubDaily() {
				cutoff, _ := s.db.LatestCandleStart(key, iv)
				candles = append(candles, engine.AggregateSince(productTicks, iv, cutoff)...)
			} else {
				candles = append(candles, engine.AggregateCandles(productTicks, iv)...)
			}
		}
		if err := s.db.UpsertCandles(candles); err != nil {
			log.Printf("[Refresh] candle upsert %s: %v", key, err)
		}
	}
}

// saveBooks stores one order-book snapshot per product that has any levels.
func (s *Server) saveBooks(snap *feed.Snapshot) {
	for key, p := range snap.Products {
		if len(p.BidBook) == 0 && len(p.AskBook) == 0 {
			continue
		}
		if err := s.db.SaveBookSnapshot(key, snap.FetchedAt, p.BidBook, p.AskBook); err != nil {
			log.Printf("[Refresh] book snapshot %s: %v", key, err)
		}
	}
}

// scoringInputs flattens a snapshot into key-sorted scoring inputs so each
// cycle scores products in a deterministic order.
func scoringInputs(snap *feed.Snapshot) ([]string, []engine.ScoringInput) {
	keys := make([]string, 0, len(snap.Products))
	for key := range snap.Products {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	inputs := make([]engine.ScoringInput, len(keys))
	for i, key := range keys {
		q := snap.Products[key].QuickStatus
		inputs[i] = engine.ScoringInput{
			ProductKey:    key,
			BidPrice:      q.BidPrice,
			AskPrice:      q.AskPrice,
			BidMovingWeek: q.BidMovingWeek,
			AskMovingWeek: q.AskMovingWeek,
		}
	}
	return keys, inputs
}

func (s *Server) insightInputs(keys []string, states []engine.ProductState) []engine.InsightInput {
	quarter := s.db.CandlesBulk(keys, engine.Interval15m, insightQuarterLimit)
	hourly := s.db.CandlesBulk(keys, engine.Interval1h, insightHourlyLimit)
	daily := s.db.CandlesBulk(keys, engine.Interval1d, insightWeekDayLimit)

	inputs := make([]engine.InsightInput, len(states))
	for i, st := range states {
		inputs[i] = engine.InsightInput{
			State:         st,
			QuarterHourly: quarter[st.Key],
			Hourly:        hourly[st.Key],
			WeekCandles:   daily[st.Key],
		}
	}
	return inputs
}

// RunRefreshLoop refreshes immediately, then on every tick until stop closes.
func (s *Server) RunRefreshLoop(interval time.Duration, stop <-chan struct{}) {
	if err := s.Refresh(); err != nil {
		logger.Warn("Refresh", fmt.Sprintf("Initial cycle failed: %v", err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Refresh(); err != nil {
				logger.Warn("Refresh", fmt.Sprintf("Cycle failed: %v", err))
			}
		case <-stop:
			return
		}
	}
}
