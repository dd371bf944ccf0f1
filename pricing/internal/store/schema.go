package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const productsTable = `
	CREATE TABLE IF NOT EXISTS products (
		id SERIAL PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		shipping_revenue NUMERIC NOT NULL DEFAULT 0,
		net_retail NUMERIC NOT NULL,
		wholesale_price NUMERIC NOT NULL DEFAULT 0,
		return_rate NUMERIC NOT NULL DEFAULT 0,
		return_shipping NUMERIC NOT NULL DEFAULT 0,
		return_fulfillment NUMERIC NOT NULL DEFAULT 0,
		cancellation_rate NUMERIC NOT NULL DEFAULT 0,
		depreciation NUMERIC NOT NULL DEFAULT 0,
		outbound_shipping NUMERIC NOT NULL DEFAULT 0,
		inbound_shipping NUMERIC NOT NULL DEFAULT 0,
		packaging NUMERIC NOT NULL DEFAULT 0,
		fulfillment NUMERIC NOT NULL DEFAULT 0,
		payment_cost NUMERIC NOT NULL DEFAULT 0,
		refunds NUMERIC NOT NULL DEFAULT 0,
		retail_price NUMERIC NOT NULL,
		target_margin NUMERIC NOT NULL DEFAULT 0,
		margin_level TEXT NOT NULL DEFAULT 'cm2',
		floor_price NUMERIC,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	ALTER TABLE products ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 1;
`

// migrateBackoff is the pause between failed migration attempts.
var migrateBackoff = time.Second

// Migrate creates the products table, retrying while postgres is still starting.
func Migrate(ctx context.Context, db *sql.DB, retries int) error {
	var err error
	for i := 0; i <= retries; i++ {
		if _, err = db.ExecContext(ctx, productsTable); err == nil {
			return nil
		}
		if i == retries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(migrateBackoff):
		}
	}
	return fmt.Errorf("failed to create products table: %w", err)
}
