package db

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"bazaar-radar/internal/feed"
)

// tickRetention bounds the raw tick window; daily and weekly candles are
// rebuilt from it each cycle, so it must cover the longest rebuild span.
const tickRetention = 7 * 24 * time.Hour

// InsertTicks appends one refresh cycle's ticks in a single transaction.
func (d *DB) InsertTicks(ticks []feed.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin tick insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO ticks (product_key, bid_price, ask_price, bid_volume, ask_volume, timestamp) VALUES (?,?,?,?,?,?)")
	if err != nil {
		return fmt.Errorf("prepare tick insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range ticks {
		if _, err := stmt.Exec(t.ProductKey, t.BidPrice, t.AskPrice, t.BidVolume, t.AskVolume,
			t.Timestamp.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("insert tick %s: %w", t.ProductKey, err)
		}
	}
	return tx.Commit()
}

// TicksSince returns one product's ticks at or after the cutoff, oldest first.
func (d *DB) TicksSince(productKey string, cutoff time.Time) []feed.Tick {
	rows, err := d.sql.Query(
		"SELECT product_key, bid_price, ask_price, bid_volume, ask_volume, timestamp FROM ticks WHERE product_key=? AND timestamp>=? ORDER BY timestamp",
		productKey, cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		log.Printf("[DB] TicksSince(%s): %v", productKey, err)
		return nil
	}
	defer rows.Close()
	return scanTicks(rows)
}

// AllTicksSince returns every product's ticks at or after the cutoff, grouped
// by product key and oldest first within each group.
func (d *DB) AllTicksSince(cutoff time.Time) map[string][]feed.Tick {
	rows, err := d.sql.Query(
		"SELECT product_key, bid_price, ask_price, bid_volume, ask_volume, timestamp FROM ticks WHERE timestamp>=? ORDER BY product_key, timestamp",
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		log.Printf("[DB] AllTicksSince: %v", err)
		return nil
	}
	defer rows.Close()

	grouped := make(map[string][]feed.Tick)
	for _, t := range scanTicks(rows) {
		grouped[t.ProductKey] = append(grouped[t.ProductKey], t)
	}
	return grouped
}

func scanTicks(rows *sql.Rows) []feed.Tick {
	var ticks []feed.Tick
	for rows.Next() {
		var t feed.Tick
		var ts string
		if err := rows.Scan(&t.ProductKey, &t.BidPrice, &t.AskPrice, &t.BidVolume, &t.AskVolume, &ts); err != nil {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		t.Timestamp = parsed
		ticks = append(ticks, t)
	}
	return ticks
}

// PruneTicks removes ticks older than the retention window. Should be called
// periodically to prevent unbounded SQLite database growth.
func (d *DB) PruneTicks() {
	cutoff := time.Now().Add(-tickRetention).UTC().Format(time.RFC3339)
	res, err := d.sql.Exec("DELETE FROM ticks WHERE timestamp < ?", cutoff)
	if err != nil {
		log.Printf("[DB] PruneTicks: %v", err)
	} else if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("[DB] PruneTicks: removed %d old ticks", n)
	}
}
