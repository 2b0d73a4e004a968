package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// The DDL sticks to types every backend understands (TEXT, INTEGER,
// DOUBLE PRECISION, BOOLEAN). Statements run one at a time because the
// libsql protocol rejects multi-statement strings.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS configuration (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		draw_date TEXT,
		draw_correlative INTEGER NOT NULL DEFAULT 1 CHECK (draw_correlative >= 1),
		last_ticket_number INTEGER NOT NULL DEFAULT 0 CHECK (last_ticket_number >= 0),
		ticket_price_usd DOUBLE PRECISION NOT NULL DEFAULT 1,
		usd_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		page_blocked BOOLEAN NOT NULL DEFAULT FALSE,
		block_reason_message TEXT NOT NULL DEFAULT '',
		schedule TEXT NOT NULL DEFAULT '[]',
		admin_contacts TEXT NOT NULL DEFAULT '{}',
		mail_config TEXT NOT NULL DEFAULT '{}',
		last_results_date TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		ticket_number TEXT NOT NULL,
		draw_correlative INTEGER NOT NULL,
		draw_date TEXT NOT NULL,
		numbers TEXT NOT NULL,
		buyer_name TEXT NOT NULL,
		buyer_phone TEXT NOT NULL,
		buyer_id TEXT NOT NULL DEFAULT '',
		buyer_email TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL,
		payment_reference TEXT NOT NULL,
		value_usd DOUBLE PRECISION NOT NULL,
		value_local DOUBLE PRECISION NOT NULL,
		applied_rate DOUBLE PRECISION NOT NULL,
		purchase_timestamp TEXT NOT NULL,
		voucher_uri TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		status_transition_at TEXT NOT NULL,
		status_reason TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_draw_ticket ON sales (draw_correlative, ticket_number)`,

	`CREATE INDEX IF NOT EXISTS idx_sales_draw_status ON sales (draw_correlative, status)`,

	`CREATE TABLE IF NOT EXISTS results (
		draw_date TEXT NOT NULL,
		slot TEXT NOT NULL,
		winning_number TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		UNIQUE (draw_date, slot)
	)`,
}

// Migrate creates the tables and indexes. It is idempotent.
func Migrate(ctx context.Context, dbx *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := dbx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
