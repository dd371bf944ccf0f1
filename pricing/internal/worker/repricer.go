package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/SWLivingstone/margin-calculator/pricing/internal/logic"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/mq"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/store"
)

type ProductSource interface {
	ListProducts(ctx context.Context) ([]store.Product, error)
	SaveFloorPrice(ctx context.Context, p store.Product, price float64) error
}

type PriceCache interface {
	SetFloorPrice(ctx context.Context, key store.FloorKey, price float64) error
}

type FloorPricePublisher interface {
	PublishFloorPrice(u mq.FloorPriceUpdate) error
}

// Repricer periodically solves and stores the floor price of every product.
type Repricer struct {
	products  ProductSource
	cache     PriceCache
	publisher FloorPricePublisher
	solver    logic.Solver
	interval  time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRepricer builds a Repricer. publisher may be nil.
func NewRepricer(products ProductSource, cache PriceCache, publisher FloorPricePublisher, solver logic.Solver, interval, timeout time.Duration, logger zerolog.Logger) *Repricer {
	return &Repricer{
		products:  products,
		cache:     cache,
		publisher: publisher,
		solver:    solver,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Run reprices once immediately and then on every tick until ctx is done.
func (r *Repricer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("background re-pricer is active")

	for {
		r.tick(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Repricer) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error().Err(err).Msg("re-pricing run failed")
	}
}

// RunOnce reprices every product and returns how many floor prices were saved.
// A failing sku is logged and skipped, as is a product whose costs changed
// after it was listed. Only saved prices are cached and published.
func (r *Repricer) RunOnce(ctx context.Context) (int, error) {
	products, err := r.products.ListProducts(ctx)
	if err != nil {
		return 0, err
	}

	runID := uuid.NewString()
	logger := r.logger.With().Str("run_id", runID).Logger()

	updated := 0
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		plog := logger.With().Str("sku", p.Sku).Str("margin_level", p.Level.String()).Logger()

		if p.Values.NetRetail == 0 || p.Values.RetailPrice == 0 {
			plog.Warn().Msg("skipping product with zero net retail or retail price")
			continue
		}

		price, err := r.solver.LowestPossiblePrice(p.Values, p.TargetMargin, p.Level)
		if err != nil {
			plog.Warn().Err(err).Float64("target_margin", p.TargetMargin).Msg("floor price search failed")
			continue
		}

		if err := r.products.SaveFloorPrice(ctx, p, price); errors.Is(err, store.ErrStale) {
			plog.Info().Int64("version", p.Version).Msg("product changed during run, skipping")
			continue
		} else if err != nil {
			plog.Error().Err(err).Msg("floor price update failed")
			continue
		}

		if err := r.cache.SetFloorPrice(ctx, p.FloorKey(p.Level, p.TargetMargin), price); err != nil {
			plog.Warn().Err(err).Msg("floor price cache write failed")
		}

		if r.publisher != nil {
			err := r.publisher.PublishFloorPrice(mq.FloorPriceUpdate{
				RunID:        runID,
				Sku:          p.Sku,
				Level:        p.Level.String(),
				TargetMargin: p.TargetMargin,
				FloorPrice:   price,
				RetailPrice:  p.Values.RetailPrice,
				Timestamp:    r.now().Unix(),
			})
			if err != nil {
				plog.Warn().Err(err).Msg("floor price publish failed")
			}
		}

		plog.Info().
			Float64("floor_price", price).
			Float64("retail_price", p.Values.RetailPrice).
			Float64("target_margin", p.TargetMargin).
			Msg("re-priced")
		updated++
	}

	logger.Info().Int("products", len(products)).Int("updated", updated).Msg("re-pricing run complete")
	return updated, nil
}
