package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/SWLivingstone/margin-calculator/pricing/internal/logic"
)

var (
	// ErrNotFound is returned when a sku has no catalog row.
	ErrNotFound = errors.New("product not found")

	// ErrStale is returned when a product row changed after it was read.
	ErrStale = errors.New("product changed since it was read")
)

// Product mirrors a row of the 'products' table: the cost record of a sku
// plus the margin it should be priced at.
type Product struct {
	ID           int
	Sku          string
	Name         string
	Values       logic.Cm2Values
	TargetMargin float64
	Level        logic.MarginLevel
	FloorPrice   *float64
	Version      int64
	UpdatedAt    time.Time
}

// FloorKey is the cache key of this revision's floor price at level and target.
func (p *Product) FloorKey(level logic.MarginLevel, target float64) FloorKey {
	return FloorKey{Sku: p.Sku, Version: p.Version, Level: level, TargetMargin: target}
}

type CatalogStore struct {
	db *sql.DB
}

// NewCatalogStore expects an open postgres connection pool.
func NewCatalogStore(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

const productColumns = `
	id, sku, name,
	shipping_revenue, net_retail, wholesale_price,
	return_rate, return_shipping, return_fulfillment, cancellation_rate, depreciation,
	outbound_shipping, inbound_shipping, packaging, fulfillment, payment_cost, refunds, retail_price,
	target_margin, margin_level, floor_price, version, updated_at`

// UpsertProduct inserts a product or replaces the cost record of an existing sku.
// The stored floor price is cleared because it no longer matches the costs.
func (s *CatalogStore) UpsertProduct(ctx context.Context, p Product) (int, error) {
	query := `
		INSERT INTO products (
			sku, name,
			shipping_revenue, net_retail, wholesale_price,
			return_rate, return_shipping, return_fulfillment, cancellation_rate, depreciation,
			outbound_shipping, inbound_shipping, packaging, fulfillment, payment_cost, refunds, retail_price,
			target_margin, margin_level
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (sku)
		DO UPDATE SET
			name = EXCLUDED.name,
			shipping_revenue = EXCLUDED.shipping_revenue,
			net_retail = EXCLUDED.net_retail,
			wholesale_price = EXCLUDED.wholesale_price,
			return_rate = EXCLUDED.return_rate,
			return_shipping = EXCLUDED.return_shipping,
			return_fulfillment = EXCLUDED.return_fulfillment,
			cancellation_rate = EXCLUDED.cancellation_rate,
			depreciation = EXCLUDED.depreciation,
			outbound_shipping = EXCLUDED.outbound_shipping,
			inbound_shipping = EXCLUDED.inbound_shipping,
			packaging = EXCLUDED.packaging,
			fulfillment = EXCLUDED.fulfillment,
			payment_cost = EXCLUDED.payment_cost,
			refunds = EXCLUDED.refunds,
			retail_price = EXCLUDED.retail_price,
			target_margin = EXCLUDED.target_margin,
			margin_level = EXCLUDED.margin_level,
			floor_price = NULL,
			version = products.version + 1,
			updated_at = NOW()
		RETURNING id
	`

	v := p.Values
	args := []any{p.Sku, p.Name}
	for _, f := range []float64{
		v.ShippingRevenue, v.NetRetail, v.WholesalePrice,
		v.ReturnRate, v.ReturnShipping, v.ReturnFulfillment, v.CancellationRate, v.Depreciation,
		v.OutboundShipping, v.InboundShipping, v.Packaging, v.Fulfillment, v.PaymentCost, v.Refunds, v.RetailPrice,
		p.TargetMargin,
	} {
		args = append(args, decimal.NewFromFloat(f))
	}
	args = append(args, p.Level.String())

	var id int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to upsert product: %w", err)
	}
	return id, nil
}

// GetProduct loads a single sku.
func (s *CatalogStore) GetProduct(ctx context.Context, sku string) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE sku = $1`

	p, err := scanProduct(s.db.QueryRowContext(ctx, query, sku))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// GetProductsBySKUs loads the requested skus keyed by sku. Unknown skus are
// absent from the map.
func (s *CatalogStore) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE sku = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(skus))
	if err != nil {
		return nil, fmt.Errorf("failed to batch get products: %w", err)
	}
	defer rows.Close()

	products := make(map[string]*Product, len(skus))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[p.Sku] = p
	}
	return products, rows.Err()
}

// ListProducts returns every product ordered by sku.
func (s *CatalogStore) ListProducts(ctx context.Context) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY sku`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// SaveFloorPrice records the floor price solved from p. It returns ErrStale
// when the row was replaced or removed after p was read.
func (s *CatalogStore) SaveFloorPrice(ctx context.Context, p Product, price float64) error {
	query := `UPDATE products SET floor_price = $2 WHERE sku = $1 AND version = $3`

	res, err := s.db.ExecContext(ctx, query, p.Sku, decimal.NewFromFloat(price), p.Version)
	if err != nil {
		return fmt.Errorf("failed to save floor price: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save floor price: %w", err)
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*Product, error) {
	var (
		p     Product
		level string
		floor decimal.NullDecimal
		cols  [16]decimal.Decimal
	)

	dest := []any{&p.ID, &p.Sku, &p.Name}
	for i := range cols {
		dest = append(dest, &cols[i])
	}
	dest = append(dest, &level, &floor, &p.Version, &p.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	f := func(i int) float64 { return cols[i].InexactFloat64() }
	p.Values = logic.Cm2Values{
		Cm1Values: logic.Cm1Values{
			Cm0Values: logic.Cm0Values{
				ShippingRevenue: f(0),
				NetRetail:       f(1),
				WholesalePrice:  f(2),
			},
			ReturnRate:        f(3),
			ReturnShipping:    f(4),
			ReturnFulfillment: f(5),
			CancellationRate:  f(6),
			Depreciation:      f(7),
		},
		OutboundShipping: f(8),
		InboundShipping:  f(9),
		Packaging:        f(10),
		Fulfillment:      f(11),
		PaymentCost:      f(12),
		Refunds:          f(13),
		RetailPrice:      f(14),
	}
	p.TargetMargin = f(15)
	p.Level = logic.ParseMarginLevel(level)

	if floor.Valid {
		price := floor.Decimal.InexactFloat64()
		p.FloorPrice = &price
	}
	return &p, nil
}
