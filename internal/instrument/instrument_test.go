package instrument

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightsgoout/xchange/internal/order"
)

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func TestRecordIncomingOrderSkipsZeroPrice(t *testing.T) {
	inst := New("MSFT")
	market := order.New(order.Params{ClientID: 1, Ticker: "MSFT", Side: order.Buy, Type: order.Market, OriginalQuantity: 100})
	inst.RecordIncomingOrder(market)

	assert.True(t, inst.BidVWAP().IsZero())
	assert.True(t, inst.BidHigh().IsZero())
	assert.True(t, inst.BidLow().IsZero())
}

func TestRecordIncomingOrderAccumulatesVWAPAndHighLow(t *testing.T) {
	inst := New("GOOG")
	a := order.New(order.Params{ClientID: 1, Ticker: "GOOG", Side: order.Buy, Type: order.Limit, OriginalQuantity: 100, LimitPrice: d(t, "10.00")})
	b := order.New(order.Params{ClientID: 1, Ticker: "GOOG", Side: order.Buy, Type: order.Limit, OriginalQuantity: 50, LimitPrice: d(t, "12.00")})

	inst.RecordIncomingOrder(a)
	inst.RecordIncomingOrder(b)

	// (100*10 + 50*12)/150 = (1000+600)/150 = 10.6667 (rounded to 4dp)
	assert.True(t, inst.BidVWAP().Equal(d(t, "10.6667")), "got %s", inst.BidVWAP())
	assert.True(t, inst.BidHigh().Equal(d(t, "12.00")))
	assert.True(t, inst.BidLow().Equal(d(t, "10.00")))
}

func TestOnMatchUpdatesBothSidesRegardlessOfAggressor(t *testing.T) {
	inst := New("AAPL")
	inst.OnMatch(order.Sell, d(t, "15.00"), 60)

	assert.True(t, inst.LastTradedPrice().Equal(d(t, "15.00")))
	assert.Equal(t, int64(60), inst.BuyVolume())
	assert.Equal(t, int64(60), inst.SellVolume())
	assert.True(t, inst.AveragePrice().Equal(d(t, "15.00")))
	assert.True(t, inst.AverageBuyPrice().Equal(d(t, "15.00")))
	assert.True(t, inst.AverageSellPrice().Equal(d(t, "15.00")))
}

func TestRestAndCancelAdjustSideVolume(t *testing.T) {
	inst := New("AAPL")
	o := order.New(order.Params{ClientID: 1, Ticker: "AAPL", Side: order.Buy, Type: order.Limit, OriginalQuantity: 40, LimitPrice: d(t, "10.00")})

	inst.OnRest(o)
	assert.Equal(t, int64(40), inst.BidVolume())

	inst.OnCancelResting(o)
	o.Cancel()
	assert.Equal(t, int64(0), inst.BidVolume())
}

func TestFilledRegistryMigration(t *testing.T) {
	inst := New("AAPL")
	o := order.New(order.Params{ClientID: 1, Ticker: "AAPL", Side: order.Buy, Type: order.Limit, OriginalQuantity: 40, LimitPrice: d(t, "10.00")})

	inst.RegisterPartiallyFilled(o)
	_, ok := inst.PartiallyFilledOrder(o.ID())
	require.True(t, ok)

	require.NoError(t, o.Execute(40, d(t, "10.00"), 1))
	inst.PromotePartiallyFilled()

	_, stillPartial := inst.PartiallyFilledOrder(o.ID())
	assert.False(t, stillPartial)
	_, isFilled := inst.FilledOrder(o.ID())
	assert.True(t, isFilled)
}

func TestHaltTripsPermanently(t *testing.T) {
	inst := New("AAPL")
	assert.False(t, inst.IsHalted())

	inst.Lock()
	inst.Halt("order 7: execute(10) exceeds open quantity 5")
	inst.Unlock()

	assert.True(t, inst.IsHalted())
	assert.Contains(t, inst.HaltCause(), "order 7")
}
