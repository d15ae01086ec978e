// Package matching implements C4: the price-time priority cross
// algorithm described in spec §4.4, the hardest and most central piece
// of the simulator.
package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lightsgoout/xchange/internal/book"
	"github.com/lightsgoout/xchange/internal/instrument"
	"github.com/lightsgoout/xchange/internal/notify"
	"github.com/lightsgoout/xchange/internal/order"
)

// Engine runs the submission and cancellation algorithms against a
// caller-supplied Instrument. It carries no per-instrument state of its
// own — per spec §4.5, per-instrument serialization is the dispatcher's
// job (one goroutine, one queue), not the engine's.
type Engine struct {
	orderUpdates chan<- notify.OrderUpdate
	marketData   chan<- notify.MarketEvent
	nowMillis    func() int64
}

// New constructs an Engine that publishes notifications onto the given
// channels (spec §5: one order-update queue, one market-data queue,
// both produced by the dispatcher side of the pipeline).
func New(orderUpdates chan<- notify.OrderUpdate, marketData chan<- notify.MarketEvent) *Engine {
	return &Engine{
		orderUpdates: orderUpdates,
		marketData:   marketData,
		nowMillis:    func() int64 { return time.Now().UnixMilli() },
	}
}

// pending batches notifications generated while an instrument's lock is
// held, so the engine can send them to the (possibly blocking) output
// channels after releasing the lock.
type pending struct {
	orderUpdates []notify.OrderUpdate
	marketEvents []notify.MarketEvent
}

func (p *pending) order(o *order.Order) {
	p.orderUpdates = append(p.orderUpdates, notify.OrderUpdate{
		OrderID:              o.ID(),
		ClientID:             o.ClientID(),
		AverageExecutedPrice: o.AverageExecutedPrice(),
		ExecutedQuantity:     o.ExecutedQuantity(),
		Status:               o.Status(),
	})
}

func (p *pending) trade(ticker string, timeMillis int64, aggressor order.Side, price decimal.Decimal, qty int64) {
	p.marketEvents = append(p.marketEvents, notify.TradePrint{
		Ticker: ticker, TimeMillis: timeMillis, AggressorSide: aggressor, Price: price, Quantity: qty,
	})
}

func (p *pending) quote(ticker string, timeMillis int64, bid, ask decimal.Decimal) {
	p.marketEvents = append(p.marketEvents, notify.QuotePrint{
		Ticker: ticker, TimeMillis: timeMillis, BidPrice: bid, AskPrice: ask,
	})
}

func (e *Engine) flush(p *pending) {
	for _, u := range p.orderUpdates {
		e.orderUpdates <- u
	}
	for _, m := range p.marketEvents {
		e.marketData <- m
	}
}

// Submit runs the full submission algorithm of spec §4.4 against inst
// for the incoming order o, mutating inst's books and statistics and
// enqueueing the resulting notifications. It panics with
// *xerrors.InvariantViolation if Order.Execute detects an internal
// inconsistency; the caller (the dispatcher) is responsible for
// recovering that panic per instrument.
func (e *Engine) Submit(inst *instrument.Instrument, o *order.Order) {
	inst.Lock()
	p := &pending{}

	func() {
		defer inst.Unlock()
		e.submitLocked(inst, o, p)
	}()

	e.flush(p)
}

// sidesFor returns (opposite, own) book sides for an incoming order of
// the given side: a BUY crosses the ask side and rests on the bid side.
func sidesFor(inst *instrument.Instrument, side order.Side) (opposite, own *book.OrderBookSide) {
	if side == order.Buy {
		return inst.Asks(), inst.Bids()
	}
	return inst.Bids(), inst.Asks()
}

func sideFor(inst *instrument.Instrument, side order.Side) *book.OrderBookSide {
	if side == order.Buy {
		return inst.Bids()
	}
	return inst.Asks()
}

func (e *Engine) submitLocked(inst *instrument.Instrument, o *order.Order, p *pending) {
	if inst.IsHaltedLocked() {
		o.Reject()
		p.order(o)
		return
	}

	opposite, own := sidesFor(inst, o.Side())

	// Step 1: a MARKET order against an empty opposite book is rejected
	// outright, synchronously, with no book mutation.
	if o.Type() == order.Market {
		if opposite.Len() == 0 {
			o.Reject()
			p.order(o)
			return
		}
		o.SetEffectivePrice(opposite.Best())
	}

	// Step 2: incoming-order VWAP/high/low statistics, independent of
	// whether this order ever matches or rests.
	inst.RecordIncomingOrder(o)

	now := e.nowMillis()

	// Step 3: the match loop, from the best resting counter-order down,
	// stopping at the first price the aggressor cannot cross or once the
	// aggressor is fully filled.
	for o.OpenQuantity() > 0 {
		resting := opposite.Front()
		if resting == nil {
			break
		}

		if o.Type() == order.Market {
			o.SetEffectivePrice(resting.LimitPrice())
		}

		if !crosses(o, resting) {
			break
		}

		matchedVolume := minInt64(o.OpenQuantity(), resting.OpenQuantity())
		tradePrice := resting.LimitPrice()

		mustExecute(o, matchedVolume, tradePrice, now)
		mustExecute(resting, matchedVolume, tradePrice, now)

		inst.OnMatch(o.Side(), tradePrice, matchedVolume)

		if resting.IsClosed() {
			opposite.Remove(resting.ID())
			inst.RegisterFilled(resting)
		} else {
			inst.RegisterPartiallyFilled(resting)
		}

		p.order(o)
		p.order(resting)
		p.trade(inst.Ticker(), now, o.Side(), tradePrice, matchedVolume)
		p.quote(inst.Ticker(), now, inst.Bids().Best(), inst.Asks().Best())
	}

	// Step 4: post-loop disposition of the aggressor.
	switch {
	case o.IsFilled():
		inst.RegisterFilled(o)
	case o.Type() == order.Market:
		// MARKET residuals never rest: the simulator cancels the
		// unmatched remainder (spec §4.4 "Post-loop"). A partially
		// filled MARKET order was never registered as partially-filled
		// in the first place here, so there is nothing to promote —
		// cancelling just drops any trace of it from that registry.
		inst.RemovePartiallyFilled(o.ID())
		o.Cancel()
	default:
		own.Insert(o)
		inst.OnRest(o)
		o.RestNew()
	}

	// Step 5: sweep promotions triggered by this submission.
	inst.PromotePartiallyFilled()
}

// crosses reports whether the aggressor's price permits matching
// against resting at its current price, per spec §4.4 step 3: BUY
// matches when resting.price <= aggressor.price; SELL matches when
// resting.price >= aggressor.price. For MARKET aggressors the
// comparison always passes (effective_price tracks resting.price).
func crosses(aggressor, resting *order.Order) bool {
	if aggressor.Type() == order.Market {
		return true
	}
	if aggressor.Side() == order.Buy {
		return resting.LimitPrice().LessThanOrEqual(aggressor.LimitPrice())
	}
	return resting.LimitPrice().GreaterThanOrEqual(aggressor.LimitPrice())
}

func mustExecute(o *order.Order, volume int64, price decimal.Decimal, tradeTime int64) {
	if err := o.Execute(volume, price, tradeTime); err != nil {
		panic(err)
	}
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Cancel locates order_id on the named side of inst. If it is still
// resting, it is removed, marked CANCELLED, and an order-update is
// enqueued; otherwise (already matched away, or unknown) it returns
// (nil, false) with no side effects (spec §4.4 "Cancellation").
func (e *Engine) Cancel(inst *instrument.Instrument, side order.Side, orderID uint64) (*order.Order, bool) {
	inst.Lock()
	p := &pending{}
	var result *order.Order
	var ok bool

	func() {
		defer inst.Unlock()
		if inst.IsHaltedLocked() {
			return
		}
		sideBook := sideFor(inst, side)
		resting, found := sideBook.Remove(orderID)
		if !found {
			return
		}
		inst.OnCancelResting(resting)
		resting.Cancel()
		inst.RemovePartiallyFilled(orderID)
		p.order(resting)
		result, ok = resting, true
	}()

	e.flush(p)
	return result, ok
}
