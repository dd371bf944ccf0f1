package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SWLivingstone/margin-calculator/pricing/internal/auth"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/logic"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	products map[string]*store.Product
	nextID   int
	err      error
}

func newFakeStore(products ...store.Product) *fakeStore {
	s := &fakeStore{products: make(map[string]*store.Product)}
	for _, p := range products {
		p := p
		s.nextID++
		p.ID = s.nextID
		s.products[p.Sku] = &p
	}
	return s
}

func (s *fakeStore) GetProduct(_ context.Context, sku string) (*store.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.products[sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) GetProductsBySKUs(_ context.Context, skus []string) (map[string]*store.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]*store.Product)
	for _, sku := range skus {
		if p, ok := s.products[sku]; ok {
			cp := *p
			out[sku] = &cp
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertProduct(_ context.Context, p store.Product) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return 0, s.err
	}
	if existing, ok := s.products[p.Sku]; ok {
		p.ID = existing.ID
		p.Version = existing.Version + 1
	} else {
		s.nextID++
		p.ID = s.nextID
	}
	s.products[p.Sku] = &p
	return p.ID, nil
}

type fakeCache struct {
	mu          sync.Mutex
	prices      map[string]float64
	invalidated []string
	readErr     error
}

func newFakeCache() *fakeCache {
	return &fakeCache{prices: make(map[string]float64)}
}

func (c *fakeCache) GetFloorPrice(_ context.Context, key store.FloorKey) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readErr != nil {
		return 0, false, c.readErr
	}
	price, ok := c.prices[key.String()]
	return price, ok, nil
}

func (c *fakeCache) SetFloorPrice(_ context.Context, key store.FloorKey, price float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prices[key.String()] = price
	return nil
}

func (c *fakeCache) InvalidateSku(_ context.Context, sku string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidated = append(c.invalidated, sku)
	return nil
}

var errBoom = errors.New("boom")

func fixtureValues() logic.Cm2Values {
	return logic.Cm2Values{
		Cm1Values: logic.Cm1Values{
			Cm0Values: logic.Cm0Values{
				ShippingRevenue: 6.77,
				NetRetail:       14.29,
				WholesalePrice:  8.00,
			},
			ReturnRate:        0.094,
			ReturnShipping:    5.05,
			ReturnFulfillment: 1.16,
			CancellationRate:  0.0242,
			Depreciation:      0.1,
		},
		OutboundShipping: 5.05,
		InboundShipping:  0.36,
		Packaging:        0.68,
		Fulfillment:      3.82,
		PaymentCost:      0.0195,
		Refunds:          0.0133,
		RetailPrice:      17.00,
	}
}

func fixtureProduct() store.Product {
	return store.Product{
		Sku:          "SKU-1",
		Name:         "Linen shirt",
		Values:       fixtureValues(),
		TargetMargin: 12,
		Level:        logic.LevelCM2,
	}
}

func newTestPricing(s *fakeStore, c *fakeCache) *Pricing {
	return NewPricing(s, c, logic.Solver{MaxExpansions: 64, MaxBisections: 2048}, zerolog.Nop())
}

func newTestIssuer() *auth.Issuer {
	return auth.NewIssuer("signing-key", "pricing-admin", "", time.Minute)
}
