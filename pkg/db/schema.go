package db

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations run in order inside one transaction each. The number applied is
// kept in PRAGMA user_version, so a step is never repeated. Append only.
// Timestamps are unix milliseconds; every table is append-only.
var migrations = []string{
	// 1: audit tables
	`CREATE TABLE IF NOT EXISTS pair_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    action TEXT NOT NULL,
    state TEXT NOT NULL,
    outcome TEXT,
    message TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pair_events_pair ON pair_events(exchange, symbol, id);

CREATE TABLE IF NOT EXISTS order_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    op TEXT NOT NULL,
    outcome TEXT NOT NULL,
    order_id TEXT,
    side TEXT,
    type TEXT,
    price REAL DEFAULT 0,
    amount REAL DEFAULT 0,
    attempts INTEGER DEFAULT 0,
    latency_ms INTEGER DEFAULT 0,
    message TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_log_pair ON order_log(exchange, symbol, id);

CREATE TABLE IF NOT EXISTS watchdog_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    exchange TEXT NOT NULL,
    open_orders INTEGER DEFAULT 0,
    positions INTEGER DEFAULT 0,
    cancelled INTEGER DEFAULT 0,
    recreated INTEGER DEFAULT 0,
    stops_placed INTEGER DEFAULT 0,
    advanced INTEGER DEFAULT 0,
    cleared INTEGER DEFAULT 0,
    error TEXT,
    duration_ms INTEGER DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    type TEXT NOT NULL,
    source TEXT,
    options TEXT,
    forwarded INTEGER DEFAULT 0,
    created_at INTEGER NOT NULL
);
`,

	// 2: protective order details in the executor log
	`ALTER TABLE order_log ADD COLUMN client_id TEXT;
ALTER TABLE order_log ADD COLUMN stop_price REAL DEFAULT 0;`,

	// 3: history lookups by exchange
	`CREATE INDEX IF NOT EXISTS idx_watchdog_reports_exchange ON watchdog_reports(exchange, id);
CREATE INDEX IF NOT EXISTS idx_signals_pair ON signals(exchange, symbol, id);`,
}

// ApplyMigrations brings the schema to the latest version.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	ctx := context.Background()
	if _, err := d.DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}

	version, err := SchemaVersion(ctx, d.DB)
	if err != nil {
		return err
	}
	for v := version; v < len(migrations); v++ {
		if err := migrate(ctx, d.DB, v+1, migrations[v]); err != nil {
			return err
		}
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB, version int, stmt string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("migration %d: set version: %w", version, err)
	}
	return tx.Commit()
}

// SchemaVersion reports how many migrations the database has applied.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
