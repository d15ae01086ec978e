package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightsgoout/xchange/internal/order"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func restingOrder(t *testing.T, side order.Side, price string, qty int64) *order.Order {
	return order.New(order.Params{
		ClientID: 1, Ticker: "X", Side: side, Type: order.Limit,
		OriginalQuantity: qty, LimitPrice: mustDecimal(t, price),
	})
}

func TestBidSideOrdersDescendingByPriceThenTime(t *testing.T) {
	s := NewBidSide()
	low := restingOrder(t, order.Buy, "10.00", 100)
	high := restingOrder(t, order.Buy, "12.00", 50)
	mid := restingOrder(t, order.Buy, "11.00", 25)

	s.Insert(low)
	s.Insert(high)
	s.Insert(mid)

	assert.True(t, s.Best().Equal(mustDecimal(t, "12.00")))
	assert.Equal(t, high.ID(), s.Front().ID())

	// remove best, next best should surface.
	removed, ok := s.Remove(high.ID())
	require.True(t, ok)
	assert.Equal(t, high.ID(), removed.ID())
	assert.Equal(t, mid.ID(), s.Front().ID())
}

func TestAskSideOrdersAscendingByPrice(t *testing.T) {
	s := NewAskSide()
	s.Insert(restingOrder(t, order.Sell, "15.00", 10))
	s.Insert(restingOrder(t, order.Sell, "14.00", 10))
	s.Insert(restingOrder(t, order.Sell, "16.00", 10))

	assert.True(t, s.Best().Equal(mustDecimal(t, "14.00")))
}

func TestSamePriceTieBrokenByEntryTime(t *testing.T) {
	s := NewBidSide()
	first := restingOrder(t, order.Buy, "10.00", 10)
	second := restingOrder(t, order.Buy, "10.00", 10)
	s.Insert(first)
	s.Insert(second)

	assert.Equal(t, first.ID(), s.Front().ID())
}

func TestRemoveUnknownOrderReturnsFalse(t *testing.T) {
	s := NewBidSide()
	_, ok := s.Remove(999)
	assert.False(t, ok)
}

func TestEmptySideBestIsZeroAndFrontIsNil(t *testing.T) {
	s := NewAskSide()
	assert.True(t, s.Best().IsZero())
	assert.Nil(t, s.Front())
}

func TestPriceAtDepthAndVolumeAtPrice(t *testing.T) {
	s := NewBidSide()
	s.Insert(restingOrder(t, order.Buy, "24.063", 100))
	s.Insert(restingOrder(t, order.Buy, "24.062", 200))
	s.Insert(restingOrder(t, order.Buy, "24.061", 300))
	s.Insert(restingOrder(t, order.Buy, "24.060", 400))

	assert.True(t, s.Best().Equal(mustDecimal(t, "24.063")))
	assert.True(t, s.PriceAtDepth(0).Equal(mustDecimal(t, "24.063")))
	assert.True(t, s.PriceAtDepth(2).Equal(mustDecimal(t, "24.061")))
	assert.True(t, s.PriceAtDepth(99).IsZero())

	assert.Equal(t, int64(400), s.VolumeAtPrice(mustDecimal(t, "24.060")))
	assert.Equal(t, int64(0), s.VolumeAtPrice(mustDecimal(t, "25.00")))
}

func TestVolumeAtPriceAggregatesMultipleOrders(t *testing.T) {
	s := NewAskSide()
	s.Insert(restingOrder(t, order.Sell, "10.00", 40))
	s.Insert(restingOrder(t, order.Sell, "10.00", 60))
	assert.Equal(t, int64(100), s.VolumeAtPrice(mustDecimal(t, "10.00")))
}

func TestLevelsReturnsBestFirst(t *testing.T) {
	s := NewAskSide()
	s.Insert(restingOrder(t, order.Sell, "15.00", 10))
	s.Insert(restingOrder(t, order.Sell, "14.00", 20))

	levels := s.Levels()
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Price.Equal(mustDecimal(t, "14.00")))
	assert.Equal(t, int64(20), levels[0].Volume)
}
