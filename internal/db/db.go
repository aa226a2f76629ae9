package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"bazaar-radar/internal/logger"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	sql *sql.DB
}

func defaultPath() string {
	// Prefer working directory so the DB is stable across go run / go build.
	// Fall back to executable directory for deployed builds.
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "radar.db")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "radar.db")
}

// Open opens (or creates) the SQLite database and runs migrations. An empty
// path uses the default location next to the working directory.
func Open(path string) (*DB, error) {
	if path == "" {
		path = defaultPath()
	}
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	// Try to read current version
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS ticks (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				product_key TEXT NOT NULL,
				bid_price   REAL NOT NULL,
				ask_price   REAL NOT NULL,
				bid_volume  REAL NOT NULL DEFAULT 0,
				ask_volume  REAL NOT NULL DEFAULT 0,
				timestamp   TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_ticks_product_ts ON ticks(product_key, timestamp);
			CREATE INDEX IF NOT EXISTS idx_ticks_ts ON ticks(timestamp);

			CREATE TABLE IF NOT EXISTS candles (
				product_key  TEXT NOT NULL,
				interval     TEXT NOT NULL,
				period_start TEXT NOT NULL,
				open         REAL NOT NULL,
				high         REAL NOT NULL,
				low          REAL NOT NULL,
				close        REAL NOT NULL,
				volume       REAL NOT NULL DEFAULT 0,
				spread       REAL NOT NULL DEFAULT 0,
				ask_close    REAL NOT NULL DEFAULT 0,
				PRIMARY KEY (product_key, interval, period_start)
			);
			CREATE INDEX IF NOT EXISTS idx_candles_lookup ON candles(product_key, interval, period_start DESC);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1")
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS book_snapshots (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				product_key TEXT NOT NULL,
				taken_at    TEXT NOT NULL,
				bids_json   TEXT NOT NULL DEFAULT '[]',
				asks_json   TEXT NOT NULL DEFAULT '[]'
			);
			CREATE INDEX IF NOT EXISTS idx_book_product_ts ON book_snapshots(product_key, taken_at DESC);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2 (order-book snapshots)")
	}

	return nil
}

// SqlDB returns the underlying *sql.DB for use by other packages.
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}
