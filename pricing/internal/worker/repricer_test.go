package worker

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/SWLivingstone/margin-calculator/pricing/internal/logic"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/mq"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/store"
)

type fakeSource struct {
	mu       sync.Mutex
	products []store.Product
	versions map[string]int64
	saved    map[string]float64
	saveErr  map[string]error
	listErr  error
	lists    int

	// afterList runs once the listing is handed out.
	afterList func()
}

func (s *fakeSource) ListProducts(context.Context) ([]store.Product, error) {
	s.mu.Lock()
	s.lists++
	listed := append([]store.Product(nil), s.products...)
	err := s.listErr
	s.mu.Unlock()

	if s.afterList != nil {
		s.afterList()
	}
	return listed, err
}

// upsert replaces the costs of a sku the way CatalogStore.UpsertProduct does.
func (s *fakeSource) upsert(sku string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.versions == nil {
		s.versions = make(map[string]int64)
	}
	s.versions[sku]++
	delete(s.saved, sku)
}

func (s *fakeSource) SaveFloorPrice(_ context.Context, p store.Product, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveErr[p.Sku]; err != nil {
		return err
	}
	if s.versions[p.Sku] != p.Version {
		return store.ErrStale
	}
	if s.saved == nil {
		s.saved = make(map[string]float64)
	}
	s.saved[p.Sku] = price
	return nil
}

func (s *fakeSource) listCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

type fakeCache struct {
	prices map[store.FloorKey]float64
}

func (c *fakeCache) SetFloorPrice(_ context.Context, key store.FloorKey, price float64) error {
	if c.prices == nil {
		c.prices = make(map[store.FloorKey]float64)
	}
	c.prices[key] = price
	return nil
}

type fakePublisher struct {
	updates []mq.FloorPriceUpdate
}

func (p *fakePublisher) PublishFloorPrice(u mq.FloorPriceUpdate) error {
	p.updates = append(p.updates, u)
	return nil
}

func fixtureProduct(sku string, wholesale, target float64, level logic.MarginLevel) store.Product {
	return store.Product{
		Sku: sku,
		Values: logic.Cm2Values{
			Cm1Values: logic.Cm1Values{
				Cm0Values: logic.Cm0Values{
					ShippingRevenue: 6.77,
					NetRetail:       14.29,
					WholesalePrice:  wholesale,
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
		},
		TargetMargin: target,
		Level:        level,
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func newTestRepricer(src *fakeSource, cache *fakeCache, pub FloorPricePublisher) *Repricer {
	r := NewRepricer(src, cache, pub, logic.Solver{MaxExpansions: 64, MaxBisections: 2048}, time.Hour, time.Second, zerolog.Nop())
	r.now = func() time.Time { return time.Unix(1760000000, 0) }
	return r
}

func TestRunOnce(t *testing.T) {
	zeroNet := fixtureProduct("SKU-ZERO", 8, 12, logic.LevelCM2)
	zeroNet.Values.NetRetail = 0

	src := &fakeSource{
		products: []store.Product{
			fixtureProduct("SKU-1", 8, 12, logic.LevelCM2),
			fixtureProduct("SKU-2", 1, 45, logic.LevelCM0),
			fixtureProduct("SKU-UNREACHABLE", 8, 150, logic.LevelCM0),
			zeroNet,
		},
	}
	cache := &fakeCache{}
	pub := &fakePublisher{}

	updated, err := newTestRepricer(src, cache, pub).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, updated)

	require.Equal(t, 16.82, round2(src.saved["SKU-1"]))
	require.Equal(t, -12.48, round2(src.saved["SKU-2"]))
	require.NotContains(t, src.saved, "SKU-UNREACHABLE")
	require.NotContains(t, src.saved, "SKU-ZERO")

	key := store.FloorKey{Sku: "SKU-1", Level: logic.LevelCM2, TargetMargin: 12}
	require.Equal(t, src.saved["SKU-1"], cache.prices[key])

	require.Len(t, pub.updates, 2)
	require.Equal(t, "SKU-1", pub.updates[0].Sku)
	require.Equal(t, "cm2", pub.updates[0].Level)
	require.Equal(t, int64(1760000000), pub.updates[0].Timestamp)
	require.Equal(t, pub.updates[0].RunID, pub.updates[1].RunID)
	require.NotEmpty(t, pub.updates[0].RunID)
}

func TestRunOnce_SaveFailureSkipsSku(t *testing.T) {
	src := &fakeSource{
		products: []store.Product{
			fixtureProduct("SKU-1", 8, 12, logic.LevelCM2),
			fixtureProduct("SKU-2", 8, 12, logic.LevelCM1),
		},
		saveErr: map[string]error{"SKU-1": errors.New("db down")},
	}
	pub := &fakePublisher{}

	updated, err := newTestRepricer(src, &fakeCache{}, pub).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, updated)
	require.Len(t, pub.updates, 1)
	require.Equal(t, "SKU-2", pub.updates[0].Sku)
}

func TestRunOnce_ProductChangedDuringRun(t *testing.T) {
	src := &fakeSource{
		products: []store.Product{
			fixtureProduct("SKU-1", 8, 12, logic.LevelCM2),
			fixtureProduct("SKU-2", 8, 12, logic.LevelCM1),
		},
	}
	src.afterList = func() { src.upsert("SKU-1") }
	cache := &fakeCache{}
	pub := &fakePublisher{}

	updated, err := newTestRepricer(src, cache, pub).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	require.NotContains(t, src.saved, "SKU-1")
	for key := range cache.prices {
		require.NotEqual(t, "SKU-1", key.Sku)
	}
	require.Len(t, pub.updates, 1)
	require.Equal(t, "SKU-2", pub.updates[0].Sku)
}

func TestRunOnce_ListFailure(t *testing.T) {
	src := &fakeSource{listErr: errors.New("db down")}

	_, err := newTestRepricer(src, &fakeCache{}, nil).RunOnce(context.Background())
	require.Error(t, err)
}

func TestRunOnce_WithoutPublisher(t *testing.T) {
	src := &fakeSource{products: []store.Product{fixtureProduct("SKU-1", 8, 12, logic.LevelCM2)}}

	updated, err := newTestRepricer(src, &fakeCache{}, nil).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, updated)
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	r := newTestRepricer(src, &fakeCache{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return src.listCount() >= 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("repricer did not stop")
	}
}
