package feed

import "time"

// Tick is a single observation of a product's top-of-book state.
// Ticks are append-only and feed the candle aggregator.
type Tick struct {
	ProductKey string    `json:"product_key"`
	BidPrice   float64   `json:"bid_price"`
	AskPrice   float64   `json:"ask_price"`
	BidVolume  float64   `json:"bid_volume"`
	AskVolume  float64   `json:"ask_volume"`
	Timestamp  time.Time `json:"timestamp"`
}

// OrderLevel is one aggregated price level on one side of a book.
type OrderLevel struct {
	UnitPrice  float64 `json:"pricePerUnit"`
	Amount     float64 `json:"amount"`
	OrderCount int     `json:"orders"`
}

// QuickStatus holds the feed's per-product summary numbers.
// Bid is the best buy-order price (demand side), Ask the best sell-order price.
type QuickStatus struct {
	BidPrice      float64 `json:"bidPrice"`
	AskPrice      float64 `json:"askPrice"`
	BidVolume     float64 `json:"bidVolume"`
	AskVolume     float64 `json:"askVolume"`
	BidMovingWeek float64 `json:"bidMovingWeek"`
	AskMovingWeek float64 `json:"askMovingWeek"`
	BidOrders     int     `json:"bidOrders"`
	AskOrders     int     `json:"askOrders"`
}

// Product is one product's full snapshot from the marketplace feed:
// summary numbers plus both sides of the order book.
type Product struct {
	Key         string       `json:"product_id"`
	QuickStatus QuickStatus  `json:"quick_status"`
	BidBook     []OrderLevel `json:"buy_summary"`
	AskBook     []OrderLevel `json:"sell_summary"`
}

// Snapshot is the full feed payload for one poll cycle.
type Snapshot struct {
	Products  map[string]Product `json:"products"`
	FetchedAt time.Time          `json:"-"`
}

// ProductMeta is catalog metadata used only for labeling, never for computation.
type ProductMeta struct {
	Key  string `json:"id"`
	Name string `json:"name"`
	Tier string `json:"tier"`
}

// Ticks converts a snapshot into one tick per product, stamped with the fetch time.
func (s *Snapshot) Ticks() []Tick {
	ticks := make([]Tick, 0, len(s.Products))
	for key, p := range s.Products {
		ticks = append(ticks, Tick{
			ProductKey: key,
			BidPrice:   p.QuickStatus.BidPrice,
			AskPrice:   p.QuickStatus.AskPrice,
			BidVolume:  p.QuickStatus.BidVolume,
			AskVolume:  p.QuickStatus.AskVolume,
			Timestamp:  s.FetchedAt,
		})
	}
	return ticks
}
