package db

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"bazaar-radar/internal/engine"
)

// UpsertCandles writes candles by natural key, replacing any existing row for
// the same (product, interval, period). Re-aggregation of a live bucket
// overwrites the previous partial candle.
func (d *DB) UpsertCandles(candles []engine.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin candle upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO candles (product_key, interval, period_start, open, high, low, close, volume, spread, ask_close)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (product_key, interval, period_start) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low, close=excluded.close,
			volume=excluded.volume, spread=excluded.spread, ask_close=excluded.ask_close
	`)
	if err != nil {
		return fmt.Errorf("prepare candle upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(c.ProductKey, string(c.Interval), c.PeriodStart.UTC().Format(time.RFC3339),
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Spread, c.AskClose); err != nil {
			return fmt.Errorf("upsert candle %s/%s: %w", c.ProductKey, c.Interval, err)
		}
	}
	return tx.Commit()
}

// Candles returns up to limit most recent candles for one product and
// interval, oldest first. limit <= 0 returns everything.
func (d *DB) Candles(productKey string, interval engine.Interval, limit int) []engine.Candle {
	query := `
		SELECT product_key, interval, period_start, open, high, low, close, volume, spread, ask_close
		FROM candles WHERE product_key=? AND interval=? ORDER BY period_start DESC
	`
	args := []interface{}{productKey, string(interval)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.sql.Query(query, args...)
	if err != nil {
		log.Printf("[DB] Candles(%s, %s): %v", productKey, interval, err)
		return nil
	}
	defer rows.Close()

	candles := scanCandles(rows)
	reverseCandles(candles)
	return candles
}

// CandlesBulk fetches the most recent candles for many products in one query.
// Every requested key has an entry in the result, possibly empty.
func (d *DB) CandlesBulk(productKeys []string, interval engine.Interval, limit int) map[string][]engine.Candle {
	out := make(map[string][]engine.Candle, len(productKeys))
	if len(productKeys) == 0 {
		return out
	}
	for _, k := range productKeys {
		out[k] = nil
	}

	placeholders := strings.Repeat("?,", len(productKeys))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(productKeys)+1)
	args = append(args, string(interval))
	for _, k := range productKeys {
		args = append(args, k)
	}

	rows, err := d.sql.Query(`
		SELECT product_key, interval, period_start, open, high, low, close, volume, spread, ask_close
		FROM candles WHERE interval=? AND product_key IN (`+placeholders+`)
		ORDER BY product_key, period_start
	`, args...)
	if err != nil {
		log.Printf("[DB] CandlesBulk(%s): %v", interval, err)
		return out
	}
	defer rows.Close()

	for _, c := range scanCandles(rows) {
		out[c.ProductKey] = append(out[c.ProductKey], c)
	}
	if limit > 0 {
		for k, candles := range out {
			if len(candles) > limit {
				out[k] = candles[len(candles)-limit:]
			}
		}
	}
	return out
}

// LatestCandleStart returns the newest stored period start for a product and
// interval, used to resume sub-daily aggregation incrementally.
func (d *DB) LatestCandleStart(productKey string, interval engine.Interval) (time.Time, bool) {
	var ts string
	err := d.sql.QueryRow(
		"SELECT period_start FROM candles WHERE product_key=? AND interval=? ORDER BY period_start DESC LIMIT 1",
		productKey, string(interval),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// CandleProductKeys lists distinct products that have candles at an interval.
func (d *DB) CandleProductKeys(interval engine.Interval) []string {
	rows, err := d.sql.Query("SELECT DISTINCT product_key FROM candles WHERE interval=? ORDER BY product_key", string(interval))
	if err != nil {
		log.Printf("[DB] CandleProductKeys(%s): %v", interval, err)
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err == nil {
			keys = append(keys, k)
		}
	}
	return keys
}

func scanCandles(rows *sql.Rows) []engine.Candle {
	var candles []engine.Candle
	for rows.Next() {
		var c engine.Candle
		var interval, ts string
		if err := rows.Scan(&c.ProductKey, &interval, &ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Spread, &c.AskClose); err != nil {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		c.Interval = engine.Interval(interval)
		c.PeriodStart = parsed
		candles = append(candles, c)
	}
	return candles
}

func reverseCandles(candles []engine.Candle) {
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
}
