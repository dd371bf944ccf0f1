package mq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFloorPriceUpdate_Encoding(t *testing.T) {
	in := FloorPriceUpdate{
		RunID:        "3f0c7f4e-8d51-4d2e-9c3b-0d6a2f8f1c11",
		Sku:          "SKU-1",
		Level:        "cm2",
		TargetMargin: 12,
		FloorPrice:   16.8194580078125,
		RetailPrice:  17,
		Timestamp:    1760000000,
	}

	out, err := DecodeFloorPriceUpdate(EncodeFloorPriceUpdate(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestFloorPriceUpdate_NegativeAndZeroFields(t *testing.T) {
	in := FloorPriceUpdate{Sku: "SKU-2", Level: "cm0", FloorPrice: -12.48046875}

	out, err := DecodeFloorPriceUpdate(EncodeFloorPriceUpdate(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeFloorPriceUpdate_ShortBuffer(t *testing.T) {
	_, err := DecodeFloorPriceUpdate([]byte{1, 2})
	require.Error(t, err)

	_, err = DecodeFloorPriceUpdate([]byte{0xff, 0, 0, 0})
	require.Error(t, err)
}

func TestDecodeFloorPriceUpdate_BadVTableOffset(t *testing.T) {
	_, err := DecodeFloorPriceUpdate([]byte{4, 0, 0, 0, 0, 0, 0, 0x80})
	require.ErrorIs(t, err, errCorrupt)
}

func TestDecodeFloorPriceUpdate_DamagedPayloads(t *testing.T) {
	buf := EncodeFloorPriceUpdate(FloorPriceUpdate{
		RunID:        "run-1",
		Sku:          "SKU-1",
		Level:        "cm2",
		TargetMargin: 12,
		FloorPrice:   16.82,
		RetailPrice:  17,
		Timestamp:    1760000000,
	})

	for n := 0; n < len(buf); n++ {
		require.NotPanics(t, func() { _, _ = DecodeFloorPriceUpdate(buf[:n]) }, "truncated to %d", n)
	}

	for i := range buf {
		damaged := append([]byte(nil), buf...)
		damaged[i] = 0xff
		require.NotPanics(t, func() { _, _ = DecodeFloorPriceUpdate(damaged) }, "byte %d", i)
	}
}
