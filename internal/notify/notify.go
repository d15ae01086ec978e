// Package notify defines the three notification shapes the engine fans
// out to subscribers (spec §4.6, §4.7, §6) and the subscriber callback
// contracts the transport layer implements, per spec §9's guidance to
// model enumerations and market-data notifications as tagged unions
// rather than a struct with optional fields.
package notify

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lightsgoout/xchange/internal/order"
)

// OrderUpdate is delivered to an order's owning client (spec §4.6): the
// four-tuple (order_id, average_executed_price, executed_quantity,
// status).
type OrderUpdate struct {
	OrderID              uint64
	ClientID             uint64
	AverageExecutedPrice decimal.Decimal
	ExecutedQuantity     int64
	Status               order.Status
}

// MarketEvent is the tagged-union marker implemented by TradePrint and
// QuotePrint, the two market-data notification shapes (spec §4.7).
type MarketEvent interface {
	isMarketEvent()
}

// TradePrint carries one match: ticker, time, aggressor side, price,
// and volume.
type TradePrint struct {
	Ticker        string
	TimeMillis    int64
	AggressorSide order.Side
	Price         decimal.Decimal
	Quantity      int64
}

func (TradePrint) isMarketEvent() {}

// QuotePrint carries the current top of book for a ticker.
type QuotePrint struct {
	Ticker     string
	TimeMillis int64
	BidPrice   decimal.Decimal
	AskPrice   decimal.Decimal
}

func (QuotePrint) isMarketEvent() {}

// OrderSubscriber receives order-state updates for the orders it owns
// (notify_order in spec §6). A non-nil return is a DELIVERY_FAILURE
// (spec §7) and causes the caller to evict this subscriber.
type OrderSubscriber interface {
	NotifyOrder(update OrderUpdate) error
}

// MarketSubscriber receives trade and quote notifications for the
// tickers it has subscribed to (notify_trade / notify_quote in spec
// §6). A non-nil return from either method is a DELIVERY_FAILURE (spec
// §7) and causes the caller to evict this subscriber from that ticker.
type MarketSubscriber interface {
	NotifyTrade(trade TradePrint) error
	NotifyQuote(quote QuotePrint) error
}

// Handle is the opaque per-client identifier the facade uses to key the
// SubscriptionTable (spec §3, §9 "Subscriber handles are opaque
// references"). It wraps a UUID purely as a non-guessable correlation
// token for diagnostics; the engine never inspects it beyond using it
// as a map key.
type Handle struct {
	id uuid.UUID
}

// NewHandle mints a fresh opaque subscriber handle.
func NewHandle() Handle {
	return Handle{id: uuid.New()}
}

func (h Handle) String() string { return h.id.String() }
