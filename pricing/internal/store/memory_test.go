package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/SWLivingstone/margin-calculator/pricing/internal/logic"
)

func newTestCache(t *testing.T) (*PriceCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cache := NewPriceCache(mr.Addr(), "", 0, time.Minute)
	t.Cleanup(func() { _ = cache.Close() })

	return cache, mr
}

func TestFloorKey_String(t *testing.T) {
	key := FloorKey{Sku: "SKU-1", Version: 3, Level: logic.LevelCM1, TargetMargin: 12}
	require.Equal(t, "floor:SKU-1:3:cm1:12", key.String())

	key.TargetMargin = 12.5
	require.Equal(t, "floor:SKU-1:3:cm1:12.5", key.String())
}

func TestProduct_FloorKey(t *testing.T) {
	p := Product{Sku: "SKU-1", Version: 4}

	key := p.FloorKey(logic.LevelCM0, 30)
	require.Equal(t, FloorKey{Sku: "SKU-1", Version: 4, Level: logic.LevelCM0, TargetMargin: 30}, key)

	p.Version++
	require.NotEqual(t, key.String(), p.FloorKey(logic.LevelCM0, 30).String())
}

func TestPriceCache_SetGet(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	require.NoError(t, cache.Ping(ctx))

	key := FloorKey{Sku: "SKU-1", Level: logic.LevelCM2, TargetMargin: 12}

	_, ok, err := cache.GetFloorPrice(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.SetFloorPrice(ctx, key, 16.8194580078125))

	price, ok, err := cache.GetFloorPrice(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 16.8194580078125, price)
}

func TestPriceCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	key := FloorKey{Sku: "SKU-1", Level: logic.LevelCM0, TargetMargin: 30}
	require.NoError(t, cache.SetFloorPrice(ctx, key, 2.09))

	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.GetFloorPrice(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPriceCache_InvalidateSku(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	keys := []FloorKey{
		{Sku: "SKU-1", Level: logic.LevelCM0, TargetMargin: 30},
		{Sku: "SKU-1", Level: logic.LevelCM2, TargetMargin: 12},
		{Sku: "SKU-2", Level: logic.LevelCM2, TargetMargin: 12},
	}
	for _, k := range keys {
		require.NoError(t, cache.SetFloorPrice(ctx, k, 10))
	}

	require.NoError(t, cache.InvalidateSku(ctx, "SKU-1"))

	require.False(t, mr.Exists(keys[0].String()))
	require.False(t, mr.Exists(keys[1].String()))
	require.True(t, mr.Exists(keys[2].String()))

	require.NoError(t, cache.InvalidateSku(ctx, "SKU-404"))
}

func TestPriceCache_InvalidateSkuWithGlobCharacters(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	bracket := FloorKey{Sku: "SKU[1]", Version: 1, Level: logic.LevelCM2, TargetMargin: 12}
	star := FloorKey{Sku: "SKU*", Version: 1, Level: logic.LevelCM2, TargetMargin: 12}
	other := FloorKey{Sku: "SKU-9", Version: 1, Level: logic.LevelCM2, TargetMargin: 12}
	for _, k := range []FloorKey{bracket, star, other} {
		require.NoError(t, cache.SetFloorPrice(ctx, k, 10))
	}

	require.NoError(t, cache.InvalidateSku(ctx, "SKU[1]"))
	require.False(t, mr.Exists(bracket.String()))
	require.True(t, mr.Exists(star.String()))
	require.True(t, mr.Exists(other.String()))

	require.NoError(t, cache.InvalidateSku(ctx, "SKU*"))
	require.False(t, mr.Exists(star.String()))
	require.True(t, mr.Exists(other.String()))
}

func TestPriceCache_IndexExpiresWithPrices(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	key := FloorKey{Sku: "SKU-1", Version: 1, Level: logic.LevelCM2, TargetMargin: 12}
	require.NoError(t, cache.SetFloorPrice(ctx, key, 10))
	require.True(t, mr.Exists(indexKey("SKU-1")))

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(indexKey("SKU-1")))

	require.NoError(t, cache.InvalidateSku(ctx, "SKU-1"))
}

func TestPriceCache_CorruptValue(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	key := FloorKey{Sku: "SKU-1", Level: logic.LevelCM2, TargetMargin: 12}
	require.NoError(t, mr.Set(key.String(), "not-a-number"))

	_, _, err := cache.GetFloorPrice(ctx, key)
	require.Error(t, err)
}
