package handler

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/SWLivingstone/margin-calculator/pricing/internal/logic"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/store"
)

// maxBatchSkus caps the skus of one floor price batch.
const maxBatchSkus = 100

var (
	errZeroNetRetail   = errors.New("net_retail must be non-zero")
	errZeroRetailPrice = errors.New("retail_price must be non-zero")
	errNonFinite       = errors.New("margin is not a finite number")
	errNoSkus          = errors.New("skus is required")
	errTooManySkus     = fmt.Errorf("at most %d skus per request", maxBatchSkus)
)

// ProductStore is the part of the catalog the API needs.
type ProductStore interface {
	GetProduct(ctx context.Context, sku string) (*store.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]*store.Product, error)
	UpsertProduct(ctx context.Context, p store.Product) (int, error)
}

// FloorPriceCache caches solved floor prices.
type FloorPriceCache interface {
	GetFloorPrice(ctx context.Context, key store.FloorKey) (float64, bool, error)
	SetFloorPrice(ctx context.Context, key store.FloorKey, price float64) error
	InvalidateSku(ctx context.Context, sku string) error
}

// Pricing holds the dependencies shared by the HTTP and gRPC surfaces.
type Pricing struct {
	products ProductStore
	cache    FloorPriceCache
	solver   logic.Solver
	logger   zerolog.Logger
}

func NewPricing(products ProductStore, cache FloorPriceCache, solver logic.Solver, logger zerolog.Logger) *Pricing {
	return &Pricing{
		products: products,
		cache:    cache,
		solver:   solver,
		logger:   logger,
	}
}

// floorPrice returns the cached floor price for the key or solves and caches it.
// Cache failures are logged and never fail the lookup.
func (p *Pricing) floorPrice(ctx context.Context, product *store.Product, target float64, level logic.MarginLevel) (float64, bool, error) {
	key := product.FloorKey(level, target)

	price, ok, err := p.cache.GetFloorPrice(ctx, key)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key.String()).Msg("floor price cache read failed")
	} else if ok {
		return price, true, nil
	}

	price, err = p.lowestPrice(product.Values, target, level)
	if err != nil {
		return 0, false, err
	}

	if err := p.cache.SetFloorPrice(ctx, key, price); err != nil {
		p.logger.Warn().Err(err).Str("key", key.String()).Msg("floor price cache write failed")
	}
	return price, false, nil
}

type floorPriceResult struct {
	Sku          string   `json:"sku"`
	Price        *float64 `json:"price,omitempty"`
	TargetMargin float64  `json:"target_margin"`
	MarginLevel  string   `json:"margin_level,omitempty"`
	Cached       bool     `json:"cached"`
	Error        string   `json:"error,omitempty"`
}

// floorPrices solves each sku at its stored target and level, in request order.
// Unknown skus and failed searches are reported on their own entry.
func (p *Pricing) floorPrices(ctx context.Context, skus []string) ([]floorPriceResult, error) {
	if len(skus) == 0 {
		return nil, errNoSkus
	}
	if len(skus) > maxBatchSkus {
		return nil, errTooManySkus
	}

	products, err := p.products.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return nil, err
	}

	results := make([]floorPriceResult, 0, len(skus))
	for _, sku := range skus {
		product, ok := products[sku]
		if !ok {
			results = append(results, floorPriceResult{Sku: sku, Error: store.ErrNotFound.Error()})
			continue
		}

		res := floorPriceResult{
			Sku:          sku,
			TargetMargin: product.TargetMargin,
			MarginLevel:  product.Level.String(),
		}
		price, cached, err := p.floorPrice(ctx, product, product.TargetMargin, product.Level)
		if err != nil {
			p.logger.Warn().Err(err).Str("sku", sku).Msg("batch floor price failed")
			res.Error = err.Error()
		} else {
			res.Price = &price
			res.Cached = cached
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *Pricing) lowestPrice(values logic.Cm2Values, target float64, level logic.MarginLevel) (float64, error) {
	if err := validateSolverInput(values); err != nil {
		return 0, err
	}

	price, err := p.solver.LowestPossiblePrice(values, target, level)
	if err != nil {
		return 0, err
	}
	if !isFinite(price) {
		return 0, errNonFinite
	}
	return price, nil
}

func validateNetRetail(v logic.Cm0Values) error {
	if v.NetRetail == 0 {
		return errZeroNetRetail
	}
	return nil
}

func validateSolverInput(v logic.Cm2Values) error {
	if err := validateNetRetail(v.Cm0Values); err != nil {
		return err
	}
	if v.RetailPrice == 0 {
		return errZeroRetailPrice
	}
	return nil
}

func validateMargins(ms ...logic.MarginCalculation) error {
	for _, m := range ms {
		if !isFinite(m.Absolute) || !isFinite(m.Relative) {
			return errNonFinite
		}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func isSolverError(err error) bool {
	return errors.Is(err, logic.ErrBracketNotFound) ||
		errors.Is(err, logic.ErrNoConvergence) ||
		errors.Is(err, errNonFinite)
}

func isInputError(err error) bool {
	return errors.Is(err, errZeroNetRetail) ||
		errors.Is(err, errZeroRetailPrice) ||
		errors.Is(err, errNoSkus) ||
		errors.Is(err, errTooManySkus)
}
