// Package instrument implements C3: an instrument owning two book sides,
// the filled/partially-filled registries, and the incremental scalar
// statistics described in spec §4.3.
package instrument

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/lightsgoout/xchange/internal/book"
	"github.com/lightsgoout/xchange/internal/order"
)

// statRoundingPlaces is the "rounded to 4 decimal places, half-up, at
// read time" precision spec §4.3 requires for every money statistic.
const statRoundingPlaces = 4

// Instrument owns the bid/ask book sides, the filled/partially-filled
// order registries, and every incremental statistic in spec §4.3. All
// mutation happens from the single dispatcher goroutine that owns this
// instrument (spec §5); reads may run concurrently from any goroutine.
type Instrument struct {
	ticker string

	mu    sync.RWMutex
	bids  *book.OrderBookSide
	asks  *book.OrderBookSide

	filled          map[uint64]*order.Order
	partiallyFilled map[uint64]*order.Order

	lastTradedPrice decimal.Decimal

	bidVolume  int64
	askVolume  int64
	buyVolume  int64
	sellVolume int64

	sumPriceVolume decimal.Decimal
	sumVolume      int64

	sumBuyPriceVolume decimal.Decimal
	sumBuyVolume      int64

	sumSellPriceVolume decimal.Decimal
	sumSellVolume      int64

	bidVwapNumerator   decimal.Decimal
	bidVwapDenominator int64
	askVwapNumerator   decimal.Decimal
	askVwapDenominator int64

	bidHigh decimal.Decimal
	bidLow  decimal.Decimal
	askHigh decimal.Decimal
	askLow  decimal.Decimal

	// halted mirrors the teacher pack's circuit-breaker trip flag: once an
	// invariant violation is observed, this instrument stops accepting
	// further matching work while the rest of the process keeps running
	// (spec "halt the owning instrument's processing").
	halted    bool
	haltCause string
}

// New creates an empty instrument for the given (already canonicalized)
// ticker.
func New(ticker string) *Instrument {
	return &Instrument{
		ticker:          ticker,
		bids:            book.NewBidSide(),
		asks:            book.NewAskSide(),
		filled:          make(map[uint64]*order.Order),
		partiallyFilled: make(map[uint64]*order.Order),
	}
}

// Ticker returns the instrument's canonical ticker.
func (i *Instrument) Ticker() string { return i.ticker }

// Bids and Asks expose the two book sides to the matching engine. The
// caller is trusted to hold the instrument's lock (or be the sole
// mutator goroutine) when calling mutating book methods.
func (i *Instrument) Bids() *book.OrderBookSide { return i.bids }
func (i *Instrument) Asks() *book.OrderBookSide { return i.asks }

// Lock/Unlock expose the instrument's mutex to the matching engine so a
// whole submission (book mutation + statistics update) is applied as
// one atomic unit from the readers' point of view.
func (i *Instrument) Lock()   { i.mu.Lock() }
func (i *Instrument) Unlock() { i.mu.Unlock() }

// Halt trips this instrument permanently: it never un-halts, since a
// detected invariant violation means its book state can no longer be
// trusted. Callers must hold the instrument's lock.
func (i *Instrument) Halt(cause string) {
	i.halted = true
	i.haltCause = cause
}

// IsHalted reports whether this instrument has been tripped by a prior
// invariant violation and should no longer accept new work.
func (i *Instrument) IsHalted() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.halted
}

// IsHaltedLocked is IsHalted for callers that already hold the
// instrument's lock (the matching engine, mid-submission).
func (i *Instrument) IsHaltedLocked() bool { return i.halted }

// HaltCause returns the diagnostic message recorded by Halt, or "" if
// the instrument has never been halted.
func (i *Instrument) HaltCause() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.haltCause
}

// RecordIncomingOrder updates the side-specific VWAP and high/low
// statistics using an incoming order's (quantity, submitted price),
// before any matching occurs (spec §4.4 step 2). Per spec §4.3 these
// accumulate from *every* incoming order whose submitted price is
// non-zero — including orders that never rest or trade — which is
// preserved here exactly as documented in spec §9's open question, not
// "fixed" to accumulate from executed trades instead.
func (i *Instrument) RecordIncomingOrder(o *order.Order) {
	price := o.LimitPrice()
	if price.IsZero() {
		return
	}
	qty := decimal.NewFromInt(o.OriginalQuantity())

	if o.Side() == order.Buy {
		i.bidVwapNumerator = i.bidVwapNumerator.Add(qty.Mul(price))
		i.bidVwapDenominator += o.OriginalQuantity()
		i.updateHighLow(&i.bidHigh, &i.bidLow, price)
	} else {
		i.askVwapNumerator = i.askVwapNumerator.Add(qty.Mul(price))
		i.askVwapDenominator += o.OriginalQuantity()
		i.updateHighLow(&i.askHigh, &i.askLow, price)
	}
}

func (i *Instrument) updateHighLow(high, low *decimal.Decimal, price decimal.Decimal) {
	if price.GreaterThan(*high) {
		*high = price
	}
	// Low initializes to zero and is reset on the first non-zero
	// observation, then tracks the minimum thereafter (spec §9).
	if low.IsZero() || price.LessThan(*low) {
		*low = price
	}
}

// OnRest increments the appropriate side volume by the resting order's
// open quantity, the moment it is inserted into its own book side (spec
// §4.4 step 4).
func (i *Instrument) OnRest(o *order.Order) {
	if o.Side() == order.Buy {
		i.bidVolume += o.OpenQuantity()
	} else {
		i.askVolume += o.OpenQuantity()
	}
}

// OnCancelResting decrements the appropriate side volume by the
// quantity being removed from the book, called just before the order's
// own state is zeroed by Cancel (spec §4.3 "−open_quantity on cancel").
func (i *Instrument) OnCancelResting(o *order.Order) {
	qty := o.OpenQuantity()
	if o.Side() == order.Buy {
		i.bidVolume -= qty
	} else {
		i.askVolume -= qty
	}
}

// OnMatch records one trade: last_traded_price, the matched side's
// resting-volume decrement, and every average-price statistic. Both
// buy_volume and sell_volume are cumulative matched volume across the
// whole trade, not just the aggressor's side (spec §4.3 "incremented
// only at match time"; spec §8 scenario 1 reads buy_volume=sell_volume=60
// for a single 60-share cross).
func (i *Instrument) OnMatch(aggressorSide order.Side, price decimal.Decimal, volume int64) {
	i.lastTradedPrice = price

	if aggressorSide == order.Buy {
		// A buy aggressor consumes resting asks.
		i.askVolume -= volume
	} else {
		i.bidVolume -= volume
	}

	pv := price.Mul(decimal.NewFromInt(volume))
	i.buyVolume += volume
	i.sumBuyPriceVolume = i.sumBuyPriceVolume.Add(pv)
	i.sumBuyVolume += volume
	i.sellVolume += volume
	i.sumSellPriceVolume = i.sumSellPriceVolume.Add(pv)
	i.sumSellVolume += volume

	i.sumPriceVolume = i.sumPriceVolume.Add(pv)
	i.sumVolume += volume
}

// RegisterFilled records o in the filled registry and removes it from
// the partially-filled registry if present (spec §3 "migrates
// atomically from partially-filled to filled").
func (i *Instrument) RegisterFilled(o *order.Order) {
	delete(i.partiallyFilled, o.ID())
	i.filled[o.ID()] = o
}

// RegisterPartiallyFilled records o in the partially-filled registry.
func (i *Instrument) RegisterPartiallyFilled(o *order.Order) {
	i.partiallyFilled[o.ID()] = o
}

// PromotePartiallyFilled sweeps the partially-filled registry and moves
// any order whose status has since become Filled into the filled
// registry (spec §4.4 step 5).
func (i *Instrument) PromotePartiallyFilled() {
	for id, o := range i.partiallyFilled {
		if o.IsFilled() {
			delete(i.partiallyFilled, id)
			i.filled[id] = o
		}
	}
}

// RemovePartiallyFilled drops o from the partially-filled registry
// (used when a resting order is cancelled).
func (i *Instrument) RemovePartiallyFilled(id uint64) {
	delete(i.partiallyFilled, id)
}

// FilledOrder and PartiallyFilledOrder look an order up by id in the
// corresponding registry.
func (i *Instrument) FilledOrder(id uint64) (*order.Order, bool) {
	o, ok := i.filled[id]
	return o, ok
}

func (i *Instrument) PartiallyFilledOrder(id uint64) (*order.Order, bool) {
	o, ok := i.partiallyFilled[id]
	return o, ok
}

// ---- Read-only statistics surface (spec §4.3, §6) ----

func round4(d decimal.Decimal) decimal.Decimal { return d.Round(statRoundingPlaces) }

func (i *Instrument) LastTradedPrice() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return round4(i.lastTradedPrice)
}

func (i *Instrument) BidVolume() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.bidVolume
}

func (i *Instrument) AskVolume() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.askVolume
}

func (i *Instrument) BuyVolume() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.buyVolume
}

func (i *Instrument) SellVolume() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.sellVolume
}

func weightedAverage(numerator decimal.Decimal, denominator int64) decimal.Decimal {
	if denominator == 0 {
		return decimal.Zero
	}
	return round4(numerator.Div(decimal.NewFromInt(denominator)))
}

func (i *Instrument) AveragePrice() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return weightedAverage(i.sumPriceVolume, i.sumVolume)
}

func (i *Instrument) AverageBuyPrice() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return weightedAverage(i.sumBuyPriceVolume, i.sumBuyVolume)
}

func (i *Instrument) AverageSellPrice() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return weightedAverage(i.sumSellPriceVolume, i.sumSellVolume)
}

func (i *Instrument) BidVWAP() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return weightedAverage(i.bidVwapNumerator, i.bidVwapDenominator)
}

func (i *Instrument) AskVWAP() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return weightedAverage(i.askVwapNumerator, i.askVwapDenominator)
}

func (i *Instrument) BidHigh() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return round4(i.bidHigh)
}

func (i *Instrument) BidLow() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return round4(i.bidLow)
}

func (i *Instrument) AskHigh() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return round4(i.askHigh)
}

func (i *Instrument) AskLow() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return round4(i.askLow)
}

func (i *Instrument) BestBid() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return round4(i.bids.Best())
}

func (i *Instrument) BestAsk() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return round4(i.asks.Best())
}

func (i *Instrument) BidPriceAtDepth(d int) decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return round4(i.bids.PriceAtDepth(d))
}

func (i *Instrument) AskPriceAtDepth(d int) decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return round4(i.asks.PriceAtDepth(d))
}

func (i *Instrument) BidVolumeAtPrice(p decimal.Decimal) int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.bids.VolumeAtPrice(p)
}

func (i *Instrument) AskVolumeAtPrice(p decimal.Decimal) int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.asks.VolumeAtPrice(p)
}

// BidLevels and AskLevels return a full book snapshot, best level
// first (spec §6 "bid/ask book snapshots").
func (i *Instrument) BidLevels() []book.LevelSnapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.bids.Levels()
}

func (i *Instrument) AskLevels() []book.LevelSnapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.asks.Levels()
}
