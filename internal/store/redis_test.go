package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/keranjang-dev/keranjang/internal/pricing"
	"github.com/keranjang-dev/keranjang/internal/store"
)

func newTestStore(t *testing.T) (*store.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedis(client, time.Hour, "cart:"), mr
}

func sampleSnapshot(t *testing.T) pricing.Snapshot {
	t.Helper()
	rule, err := pricing.NewTaxRule("IVA", decimal.NewFromInt(21), 0, 0)
	require.NoError(t, err)
	line, err := pricing.NewLine("sku-1", "Notebook", decimal.NewFromInt(2), decimal.NewFromInt(50), decimal.NewFromFloat(0.5), true, pricing.PriceWithoutTax, []*pricing.TaxRule{rule}, nil)
	require.NoError(t, err)
	cart, err := pricing.NewCart("cart-1", pricing.PriceWithoutTax)
	require.NoError(t, err)
	_, err = cart.Add(line)
	require.NoError(t, err)
	return cart.Snapshot()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	snap := sampleSnapshot(t)

	require.NoError(t, s.Save(ctx, "cart-1", snap))

	loaded, err := s.Load(ctx, "cart-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, snap.InstanceID, loaded.InstanceID)
	require.Len(t, loaded.Lines, 1)
	require.True(t, loaded.Lines[0].Quantity.Equal(decimal.NewFromInt(2)))

	cart, err := pricing.RestoreCart(*loaded)
	require.NoError(t, err)
	require.True(t, cart.Subtotal().Equal(decimal.NewFromInt(100)))
	require.True(t, cart.Total().Equal(decimal.NewFromInt(121)))
}

func TestLoadMissingReturnsNil(t *testing.T) {
	s, _ := newTestStore(t)
	loaded, err := s.Load(context.Background(), "absent")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestSaveSetsTTL(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, s.Save(context.Background(), "cart-1", sampleSnapshot(t)))
	require.Greater(t, mr.TTL("cart:cart-1"), time.Duration(0))
}

func TestClearRemovesKey(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "cart-1", sampleSnapshot(t)))
	require.NoError(t, s.Clear(ctx, "cart-1"))
	require.False(t, mr.Exists("cart:cart-1"))

	// Clearing twice is a no-op.
	require.NoError(t, s.Clear(ctx, "cart-1"))
}
