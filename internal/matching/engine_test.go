package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightsgoout/xchange/internal/instrument"
	"github.com/lightsgoout/xchange/internal/notify"
	"github.com/lightsgoout/xchange/internal/order"
)

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

// harness wires an Engine to unbuffered-enough channels and drains them
// into slices for inspection, mirroring how the dispatcher/fanout
// stages will eventually consume these same channels.
type harness struct {
	engine        *Engine
	orderUpdates  chan notify.OrderUpdate
	marketEvents  chan notify.MarketEvent
	gotOrders     []notify.OrderUpdate
	gotMarket     []notify.MarketEvent
	done          chan struct{}
}

func newHarness() *harness {
	h := &harness{
		orderUpdates: make(chan notify.OrderUpdate, 64),
		marketEvents: make(chan notify.MarketEvent, 64),
		done:         make(chan struct{}),
	}
	h.engine = New(h.orderUpdates, h.marketEvents)
	go func() {
		defer close(h.done)
		for h.orderUpdates != nil || h.marketEvents != nil {
			select {
			case u, ok := <-h.orderUpdates:
				if !ok {
					h.orderUpdates = nil
					continue
				}
				h.gotOrders = append(h.gotOrders, u)
			case m, ok := <-h.marketEvents:
				if !ok {
					h.marketEvents = nil
					continue
				}
				h.gotMarket = append(h.gotMarket, m)
			}
		}
	}()
	return h
}

func (h *harness) close() {
	close(h.orderUpdates)
	close(h.marketEvents)
	<-h.done
}

func limitOrder(t *testing.T, side order.Side, ticker, price string, qty int64) *order.Order {
	return order.New(order.Params{
		ClientID: 1, Ticker: ticker, Side: side, Type: order.Limit,
		OriginalQuantity: qty, LimitPrice: d(t, price),
	})
}

func marketOrder(ticker string, side order.Side, qty int64) *order.Order {
	return order.New(order.Params{ClientID: 1, Ticker: ticker, Side: side, Type: order.Market, OriginalQuantity: qty})
}

func TestSimpleLimitCross(t *testing.T) {
	h := newHarness()
	defer h.close()
	inst := instrument.New("AAPL")

	sell := limitOrder(t, order.Sell, "AAPL", "100.00", 50)
	h.engine.Submit(inst, sell)

	buy := limitOrder(t, order.Buy, "AAPL", "100.00", 50)
	h.engine.Submit(inst, buy)

	assert.True(t, buy.IsFilled())
	assert.True(t, sell.IsFilled())
	assert.True(t, inst.LastTradedPrice().Equal(d(t, "100.00")))
	assert.Equal(t, int64(0), inst.BidVolume())
	assert.Equal(t, int64(0), inst.AskVolume())
}

func TestMarketBuyAgainstEmptyBookIsRejected(t *testing.T) {
	h := newHarness()
	defer h.close()
	inst := instrument.New("AAPL")

	o := marketOrder("AAPL", order.Buy, 10)
	h.engine.Submit(inst, o)

	assert.Equal(t, order.Rejected, o.Status())
	assert.Equal(t, int64(0), o.ExecutedQuantity())
}

func TestPriceTimePriority(t *testing.T) {
	h := newHarness()
	defer h.close()
	inst := instrument.New("AAPL")

	first := limitOrder(t, order.Buy, "AAPL", "10.00", 30)
	second := limitOrder(t, order.Buy, "AAPL", "10.00", 30)
	h.engine.Submit(inst, first)
	h.engine.Submit(inst, second)

	sell := limitOrder(t, order.Sell, "AAPL", "10.00", 30)
	h.engine.Submit(inst, sell)

	assert.True(t, first.IsFilled())
	assert.Equal(t, int64(0), second.ExecutedQuantity())
}

func TestCancelThenResubmitRestsAtBackOfQueue(t *testing.T) {
	h := newHarness()
	defer h.close()
	inst := instrument.New("AAPL")

	original := limitOrder(t, order.Buy, "AAPL", "10.00", 30)
	h.engine.Submit(inst, original)

	resting, ok := h.engine.Cancel(inst, order.Buy, original.ID())
	require.True(t, ok)
	assert.Equal(t, order.Cancelled, resting.Status())
	assert.Equal(t, int64(0), inst.BidVolume())

	again, ok := h.engine.Cancel(inst, order.Buy, original.ID())
	assert.False(t, ok)
	assert.Nil(t, again)

	resubmitted := limitOrder(t, order.Buy, "AAPL", "10.00", 30)
	h.engine.Submit(inst, resubmitted)
	assert.Equal(t, int64(30), inst.BidVolume())
}

func TestPartialFillRestsRemainder(t *testing.T) {
	h := newHarness()
	defer h.close()
	inst := instrument.New("AAPL")

	sell := limitOrder(t, order.Sell, "AAPL", "10.00", 100)
	h.engine.Submit(inst, sell)

	buy := limitOrder(t, order.Buy, "AAPL", "10.00", 40)
	h.engine.Submit(inst, buy)

	assert.True(t, buy.IsFilled())
	assert.Equal(t, order.PartiallyFilled, sell.Status())
	assert.Equal(t, int64(60), sell.OpenQuantity())
	assert.Equal(t, int64(60), inst.AskVolume())

	_, stillPartial := inst.PartiallyFilledOrder(sell.ID())
	assert.True(t, stillPartial)
}

func TestHaltedInstrumentRejectsFurtherSubmissions(t *testing.T) {
	h := newHarness()
	defer h.close()
	inst := instrument.New("AAPL")

	inst.Lock()
	inst.Halt("test-induced halt")
	inst.Unlock()

	o := limitOrder(t, order.Buy, "AAPL", "10.00", 10)
	h.engine.Submit(inst, o)

	assert.Equal(t, order.Rejected, o.Status())

	_, ok := h.engine.Cancel(inst, order.Buy, o.ID())
	assert.False(t, ok)
}

func TestMarketOrderSweepsMultipleLevelsAndCancelsResidual(t *testing.T) {
	h := newHarness()
	defer h.close()
	inst := instrument.New("AAPL")

	h.engine.Submit(inst, limitOrder(t, order.Sell, "AAPL", "10.00", 20))
	h.engine.Submit(inst, limitOrder(t, order.Sell, "AAPL", "10.50", 20))

	buy := marketOrder("AAPL", order.Buy, 50)
	h.engine.Submit(inst, buy)

	assert.Equal(t, int64(40), buy.ExecutedQuantity())
	assert.Equal(t, order.Cancelled, buy.Status())
	assert.Equal(t, int64(0), inst.AskVolume())

	_, stillPartial := inst.PartiallyFilledOrder(buy.ID())
	assert.False(t, stillPartial, "cancelled MARKET residual must not linger in the partially-filled registry")
}
