package db

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"bazaar-radar/internal/feed"
)

const snapshotRetention = 7 * 24 * time.Hour

// BookSnapshot is one stored order-book observation.
type BookSnapshot struct {
	ProductKey string            `json:"product_key"`
	TakenAt    time.Time         `json:"taken_at"`
	Bids       []feed.OrderLevel `json:"bids"`
	Asks       []feed.OrderLevel `json:"asks"`
}

// SaveBookSnapshot appends one product's order book. Levels are stored as
// JSON blobs; the book shape is read back whole, never queried by level.
func (d *DB) SaveBookSnapshot(productKey string, takenAt time.Time, bids, asks []feed.OrderLevel) error {
	bidsJSON, err := json.Marshal(bids)
	if err != nil {
		return fmt.Errorf("marshal bids: %w", err)
	}
	asksJSON, err := json.Marshal(asks)
	if err != nil {
		return fmt.Errorf("marshal asks: %w", err)
	}
	_, err = d.sql.Exec(
		"INSERT INTO book_snapshots (product_key, taken_at, bids_json, asks_json) VALUES (?,?,?,?)",
		productKey, takenAt.UTC().Format(time.RFC3339), string(bidsJSON), string(asksJSON),
	)
	if err != nil {
		return fmt.Errorf("insert book snapshot %s: %w", productKey, err)
	}
	return nil
}

// LatestBookSnapshot returns the newest stored book for a product, or nil
// when none exists.
func (d *DB) LatestBookSnapshot(productKey string) *BookSnapshot {
	var ts, bidsJSON, asksJSON string
	err := d.sql.QueryRow(
		"SELECT taken_at, bids_json, asks_json FROM book_snapshots WHERE product_key=? ORDER BY taken_at DESC LIMIT 1",
		productKey,
	).Scan(&ts, &bidsJSON, &asksJSON)
	if err != nil {
		return nil
	}
	takenAt, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil
	}

	snap := &BookSnapshot{ProductKey: productKey, TakenAt: takenAt}
	if err := json.Unmarshal([]byte(bidsJSON), &snap.Bids); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(asksJSON), &snap.Asks); err != nil {
		return nil
	}
	return snap
}

// PruneBookSnapshots removes snapshots older than the retention window.
func (d *DB) PruneBookSnapshots() {
	cutoff := time.Now().Add(-snapshotRetention).UTC().Format(time.RFC3339)
	res, err := d.sql.Exec("DELETE FROM book_snapshots WHERE taken_at < ?", cutoff)
	if err != nil {
		log.Printf("[DB] PruneBookSnapshots: %v", err)
	} else if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("[DB] PruneBookSnapshots: removed %d old snapshots", n)
	}
}
