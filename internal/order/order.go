// Package order implements C1: the immutable identity plus mutable
// execution state of a single order, exactly as described in spec §4.1.
package order

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/lightsgoout/xchange/internal/xerrors"
)

// Side is a tagged enum: a resting/aggressing order is either a buy
// (bid) or a sell (ask).
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Type distinguishes limit orders (which may rest) from market orders
// (which never rest — see spec §4.4 step 4).
type Type int

const (
	Limit Type = iota
	Market
)

func (t Type) String() string {
	if t == Limit {
		return "LIMIT"
	}
	return "MARKET"
}

// Status is the order's lifecycle state machine (spec §4.4 "State
// machine"): NEW -> {PARTIALLY_FILLED, FILLED, CANCELLED, REJECTED};
// PARTIALLY_FILLED -> {FILLED, CANCELLED}; the rest are terminal.
type Status int

const (
	New Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s Status) String() string {
	switch s {
	case New:
		return "NEW"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Fill is one entry in an order's append-only trade log: (volume,
// price, trade_time).
type Fill struct {
	Volume int64
	Price  decimal.Decimal
	Time   int64 // monotonic nanoseconds, matches EntryTime's clock
}

// idCounter and entryClock are the process-wide monotonic sources spec
// §4.1 and §9 call for: a counter for order_id, and a strictly
// increasing nanosecond clock for entry_time so ties are never spurious.
var idCounter uint64
var entryClock int64

// NextID hands out the next order_id from the process-wide counter.
func NextID() uint64 {
	return atomic.AddUint64(&idCounter, 1)
}

// monotonicNanos returns a nanosecond timestamp guaranteed to be
// strictly greater than every value it has previously returned, even
// under concurrent callers and even if the wall clock does not advance
// between calls (spec §9: "possible only if the monotonic timestamp is
// coarser than request arrival" — we make that case unreachable).
func monotonicNanos(wallClock func() int64) int64 {
	for {
		prev := atomic.LoadInt64(&entryClock)
		next := wallClock()
		if next <= prev {
			next = prev + 1
		}
		if atomic.CompareAndSwapInt64(&entryClock, prev, next) {
			return next
		}
	}
}

// Order holds the immutable identity and mutable execution state of one
// order. Mutable fields are guarded by mu: the matching engine's
// dispatcher goroutine is the sole writer, but the facade's read-only
// statistics methods may run concurrently from other goroutines (spec
// §5 "relaxed-consistency reads with per-field atomicity").
type Order struct {
	id               uint64
	clientID         uint64
	ticker           string
	side             Side
	orderType        Type
	originalQuantity int64
	limitPrice       decimal.Decimal
	entryTime        int64

	mu               sync.RWMutex
	openQuantity     int64
	executedQuantity int64
	effectivePrice   decimal.Decimal
	status           Status
	fills            []Fill
}

// Params bundles the construction-time identity fields.
type Params struct {
	ClientID         uint64
	Ticker           string
	Side             Side
	Type             Type
	OriginalQuantity int64
	LimitPrice       decimal.Decimal // ignored (treated as zero) for Market orders
	// Clock, if non-nil, supplies the wall-clock nanosecond reading used
	// to derive entry_time. Tests substitute a deterministic clock;
	// production callers leave it nil and get time.Now().UnixNano().
	Clock func() int64
}

// New constructs an Order, assigning its order_id from the process-wide
// monotonic counter and capturing entry_time with nanosecond resolution
// (spec §4.1).
func New(p Params) *Order {
	price := p.LimitPrice
	if p.Type == Market {
		price = decimal.Zero
	}
	clock := p.Clock
	if clock == nil {
		clock = defaultClock
	}
	return &Order{
		id:               NextID(),
		clientID:         p.ClientID,
		ticker:           p.Ticker,
		side:             p.Side,
		orderType:        p.Type,
		originalQuantity: p.OriginalQuantity,
		limitPrice:       price,
		entryTime:        monotonicNanos(clock),
		openQuantity:     p.OriginalQuantity,
		status:           New,
	}
}

// Identity accessors — immutable, safe to call without locking.
func (o *Order) ID() uint64                { return o.id }
func (o *Order) ClientID() uint64          { return o.clientID }
func (o *Order) Ticker() string            { return o.ticker }
func (o *Order) Side() Side                { return o.side }
func (o *Order) Type() Type                { return o.orderType }
func (o *Order) OriginalQuantity() int64   { return o.originalQuantity }
func (o *Order) LimitPrice() decimal.Decimal { return o.limitPrice }
func (o *Order) EntryTime() int64          { return o.entryTime }

// OpenQuantity is the unexecuted, non-cancelled remainder.
func (o *Order) OpenQuantity() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.openQuantity
}

// ExecutedQuantity is the cumulative matched volume.
func (o *Order) ExecutedQuantity() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.executedQuantity
}

// EffectivePrice is the matched counter-order's price for a MARKET
// order; undefined (zero) until it has matched at least once.
func (o *Order) EffectivePrice() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.effectivePrice
}

// SetEffectivePrice records the opposite book's best price for a MARKET
// order (spec §4.4 step 1, re-read every loop iteration in step 3).
func (o *Order) SetEffectivePrice(p decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.effectivePrice = p
}

// Status reports the current lifecycle state.
func (o *Order) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// setStatusLocked is an internal helper; callers must hold o.mu.
func (o *Order) setStatusLocked(s Status) {
	o.status = s
}

// Fills returns a defensive copy of the append-only trade log.
func (o *Order) Fills() []Fill {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Fill, len(o.fills))
	copy(out, o.fills)
	return out
}

// Execute appends a trade and decrements open / increments executed
// quantity. It fails with an *xerrors.InvariantViolation-shaped error if
// volume exceeds the order's open quantity (spec §4.1) — the caller
// (the matching engine) is expected to panic with it, since this is a
// fatal internal inconsistency, not a recoverable condition.
func (o *Order) Execute(volume int64, price decimal.Decimal, tradeTime int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if volume > o.openQuantity {
		return &xerrors.InvariantViolation{
			Ticker: o.ticker,
			Msg:    fmt.Sprintf("order %d: execute(%d) exceeds open quantity %d", o.id, volume, o.openQuantity),
		}
	}

	o.fills = append(o.fills, Fill{Volume: volume, Price: price, Time: tradeTime})
	o.openQuantity -= volume
	o.executedQuantity += volume
	if o.orderType == Market {
		o.effectivePrice = price
	}

	switch {
	case o.openQuantity == 0:
		o.setStatusLocked(Filled)
	default:
		o.setStatusLocked(PartiallyFilled)
	}
	return nil
}

// Cancel zeros open_quantity without touching executed_quantity and
// marks the order CANCELLED (spec §4.1, §4.4 "Cancellation").
func (o *Order) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openQuantity = 0
	o.setStatusLocked(Cancelled)
}

// Reject marks the order REJECTED (spec §4.4 step 1: a MARKET order
// against an empty opposite book).
func (o *Order) Reject() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openQuantity = 0
	o.setStatusLocked(Rejected)
}

// RestNew transitions a freshly-inserted resting order to NEW (spec
// §4.4 step 4: "insert O into its own side ... and sets O.status to
// NEW").
func (o *Order) RestNew() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == New {
		return
	}
	o.setStatusLocked(New)
}

// IsFilled reports whether the order has fully executed.
func (o *Order) IsFilled() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status == Filled
}

// IsClosed reports whether no open quantity remains (filled, cancelled,
// or rejected).
func (o *Order) IsClosed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.openQuantity == 0
}

// AverageExecutedPrice is Σ(volume·price)/Σvolume across fills, or zero
// when there have been no fills (spec §4.1).
func (o *Order) AverageExecutedPrice() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.fills) == 0 {
		return decimal.Zero
	}
	var numerator decimal.Decimal
	var totalVolume int64
	for _, f := range o.fills {
		numerator = numerator.Add(f.Price.Mul(decimal.NewFromInt(f.Volume)))
		totalVolume += f.Volume
	}
	if totalVolume == 0 {
		return decimal.Zero
	}
	return numerator.Div(decimal.NewFromInt(totalVolume))
}

// LastExecutedPrice is the price of the most recent fill, or zero if
// there have been no fills.
func (o *Order) LastExecutedPrice() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.fills) == 0 {
		return decimal.Zero
	}
	return o.fills[len(o.fills)-1].Price
}

// LastExecutedVolume is the volume of the most recent fill, or zero if
// there have been no fills.
func (o *Order) LastExecutedVolume() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.fills) == 0 {
		return 0
	}
	return o.fills[len(o.fills)-1].Volume
}

// Snapshot is an immutable point-in-time copy of an order's state,
// returned to callers across the facade boundary (cancel responses,
// get_client_order) so they cannot observe torn or racing field reads.
type Snapshot struct {
	OrderID              uint64
	ClientID             uint64
	Ticker               string
	Side                 Side
	Type                 Type
	OriginalQuantity     int64
	LimitPrice           decimal.Decimal
	OpenQuantity         int64
	ExecutedQuantity     int64
	EffectivePrice       decimal.Decimal
	Status               Status
	AverageExecutedPrice decimal.Decimal
}

// ToSnapshot takes a single consistent reading of every mutable field.
func (o *Order) ToSnapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	avg := decimal.Zero
	if len(o.fills) > 0 {
		var numerator decimal.Decimal
		var totalVolume int64
		for _, f := range o.fills {
			numerator = numerator.Add(f.Price.Mul(decimal.NewFromInt(f.Volume)))
			totalVolume += f.Volume
		}
		if totalVolume > 0 {
			avg = numerator.Div(decimal.NewFromInt(totalVolume))
		}
	}
	return Snapshot{
		OrderID:              o.id,
		ClientID:             o.clientID,
		Ticker:               o.ticker,
		Side:                 o.side,
		Type:                 o.orderType,
		OriginalQuantity:     o.originalQuantity,
		LimitPrice:           o.limitPrice,
		OpenQuantity:         o.openQuantity,
		ExecutedQuantity:     o.executedQuantity,
		EffectivePrice:       o.effectivePrice,
		Status:               o.status,
		AverageExecutedPrice: avg,
	}
}

func defaultClock() int64 {
	return nowNanos()
}
