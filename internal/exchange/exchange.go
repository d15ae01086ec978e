// Package exchange implements C8: the ExchangeFacade, the single typed
// request/response surface a transport drives (spec §4.8, §6). It owns
// instrument registration, the ClientOrderDirectory, the
// SubscriptionTable, and the three pipeline queues wiring C4-C7
// together.
package exchange

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/lightsgoout/xchange/internal/book"
	"github.com/lightsgoout/xchange/internal/config"
	"github.com/lightsgoout/xchange/internal/instrument"
	"github.com/lightsgoout/xchange/internal/matching"
	"github.com/lightsgoout/xchange/internal/notify"
	"github.com/lightsgoout/xchange/internal/order"
	"github.com/lightsgoout/xchange/internal/pipeline"
	"github.com/lightsgoout/xchange/internal/telemetry"
	"github.com/lightsgoout/xchange/internal/xerrors"
)

// Subscriber is what a transport registers: one object that can receive
// both order-state updates and market-data notifications. The facade
// tracks the two capabilities under separate keys (client_id for order
// ownership, an opaque Handle for per-ticker market-data subscription)
// even though they are usually backed by the same transport connection.
type Subscriber interface {
	notify.OrderSubscriber
	notify.MarketSubscriber
}

// clientIDStride is added to the monotonic counter on every Register
// call. A non-unit stride (spec §4.8 "to discourage trivial enumeration
// by untrusted clients") means client IDs are not consecutive integers.
// The stride is fixed, so every ID is a multiple of clientIDStride and
// dividing by it still yields the client's registration ordinal.
const clientIDStride = 7919 // a prime, chosen only to avoid an accidental common factor with typical batch sizes.

// orderLocation is what the ClientOrderDirectory stores per order: the
// instrument and resting side needed to route a cancellation, plus a
// direct pointer for lock-free snapshot reads.
type orderLocation struct {
	instrument *instrument.Instrument
	side       order.Side
	order      *order.Order
}

// Facade is the ExchangeFacade. It is safe for concurrent use by any
// number of caller goroutines (spec §5 "N producer threads").
type Facade struct {
	instrumentsMu sync.RWMutex
	instruments   map[string]*instrument.Instrument

	clientCounter uint64

	directoryMu sync.RWMutex
	directory   map[uint64]map[uint64]*orderLocation

	subscribersMu    sync.RWMutex
	orderSubscribers map[uint64]notify.OrderSubscriber
	byHandle         map[notify.Handle]Subscriber
	marketSubs       map[string]map[notify.Handle]notify.MarketSubscriber

	submittedOrders chan pipeline.WorkItem
	orderUpdates    chan notify.OrderUpdate
	marketEvents    chan notify.MarketEvent

	metrics *telemetry.Metrics
}

// New constructs a Facade and starts its dispatcher and two fan-out
// goroutines, sized by cfg's queue capacities (spec §5 "recommended
// capacity >= 10^5").
func New(cfg *config.Config, metrics *telemetry.Metrics) *Facade {
	f := &Facade{
		instruments:      make(map[string]*instrument.Instrument),
		directory:        make(map[uint64]map[uint64]*orderLocation),
		orderSubscribers: make(map[uint64]notify.OrderSubscriber),
		byHandle:         make(map[notify.Handle]Subscriber),
		marketSubs:       make(map[string]map[notify.Handle]notify.MarketSubscriber),
		submittedOrders:  make(chan pipeline.WorkItem, cfg.Pipeline.SubmittedOrderQueueCapacity),
		orderUpdates:     make(chan notify.OrderUpdate, cfg.Pipeline.OrderUpdateQueueCapacity),
		marketEvents:     make(chan notify.MarketEvent, cfg.Pipeline.MarketDataQueueCapacity),
		metrics:          metrics,
	}

	engine := matching.New(f.orderUpdates, f.marketEvents)
	dispatcher := pipeline.NewOrderDispatcher(engine, f.submittedOrders, metrics)
	orderFanout := pipeline.NewOrderUpdateFanout(f.orderUpdates, f)
	marketFanout := pipeline.NewTradeQuoteFanout(f.marketEvents, f, metrics)

	go func() {
		dispatcher.Run()
		// The dispatcher is the sole producer of both downstream queues,
		// so once it has drained, closing them lets the fan-out workers
		// drain and return in turn.
		close(f.orderUpdates)
		close(f.marketEvents)
	}()
	go orderFanout.Run()
	go marketFanout.Run()

	return f
}

// Shutdown closes the submitted-order queue, which cooperatively drains
// the whole pipeline: the dispatcher exits once it is empty, and closing
// the order-update/market-data channels it owns as sole producer then
// drains the two fan-out workers in turn (spec §5 "queues are drained
// and each worker returns when its input is closed").
func (f *Facade) Shutdown() {
	close(f.submittedOrders)
}

// RegisterInstrument registers ticker, canonicalized uppercase. It is
// idempotent: a second registration of the same ticker is a no-op
// (spec §6 "idempotent").
func (f *Facade) RegisterInstrument(ticker string) {
	canon := canonicalTicker(ticker)
	f.instrumentsMu.Lock()
	defer f.instrumentsMu.Unlock()
	if _, ok := f.instruments[canon]; ok {
		return
	}
	f.instruments[canon] = instrument.New(canon)
}

// QueueDepths reports the current length of the three pipeline
// channels, for a caller (the demo harness, a metrics poller) to sample
// on an interval and publish as gauges (spec §5 queue-depth observability).
func (f *Facade) QueueDepths() (submittedOrders, orderUpdates, marketEvents int) {
	return len(f.submittedOrders), len(f.orderUpdates), len(f.marketEvents)
}

// Tickers lists every registered ticker.
func (f *Facade) Tickers() []string {
	f.instrumentsMu.RLock()
	defer f.instrumentsMu.RUnlock()
	out := make([]string, 0, len(f.instruments))
	for t := range f.instruments {
		out = append(out, t)
	}
	return out
}

func (f *Facade) lookupInstrument(ticker string) (*instrument.Instrument, bool) {
	f.instrumentsMu.RLock()
	defer f.instrumentsMu.RUnlock()
	inst, ok := f.instruments[canonicalTicker(ticker)]
	return inst, ok
}

func canonicalTicker(ticker string) string { return strings.ToUpper(strings.TrimSpace(ticker)) }

// Register assigns a fresh client_id to sub and an opaque Handle usable
// with Subscribe/Unsubscribe (spec §6 "register(subscriber_handle) ->
// client_id").
func (f *Facade) Register(sub Subscriber) (clientID uint64, handle notify.Handle) {
	clientID = atomic.AddUint64(&f.clientCounter, clientIDStride)
	handle = notify.NewHandle()

	f.subscribersMu.Lock()
	defer f.subscribersMu.Unlock()
	f.orderSubscribers[clientID] = sub
	f.byHandle[handle] = sub

	f.directoryMu.Lock()
	f.directory[clientID] = make(map[uint64]*orderLocation)
	f.directoryMu.Unlock()

	return clientID, handle
}

// Subscribe adds handle's subscriber to ticker's market-data
// distribution list. Duplicates are ignored (spec §6).
func (f *Facade) Subscribe(handle notify.Handle, ticker string) error {
	canon := canonicalTicker(ticker)
	if _, ok := f.lookupInstrument(canon); !ok {
		return xerrors.Validation("unknown ticker %q", ticker)
	}

	f.subscribersMu.Lock()
	defer f.subscribersMu.Unlock()
	sub, ok := f.byHandle[handle]
	if !ok {
		return xerrors.Validation("unknown subscriber handle")
	}
	if f.marketSubs[canon] == nil {
		f.marketSubs[canon] = make(map[notify.Handle]notify.MarketSubscriber)
	}
	f.marketSubs[canon][handle] = sub
	return nil
}

// Unsubscribe removes handle from ticker's market-data distribution
// list, if present.
func (f *Facade) Unsubscribe(handle notify.Handle, ticker string) {
	canon := canonicalTicker(ticker)
	f.subscribersMu.Lock()
	defer f.subscribersMu.Unlock()
	delete(f.marketSubs[canon], handle)
}

// SubmitOrder validates and constructs an order, links it into the
// submitting client's directory, enqueues it on the submitted-order
// queue, and returns its freshly assigned order_id (spec §4.8).
func (f *Facade) SubmitOrder(ticker string, clientID uint64, sideStr, typeStr string, price decimal.Decimal, quantity int64) (uint64, error) {
	inst, ok := f.lookupInstrument(ticker)
	if !ok {
		return 0, xerrors.Validation("unknown ticker %q", ticker)
	}

	side, err := parseSide(sideStr)
	if err != nil {
		return 0, err
	}
	orderType, err := parseType(typeStr)
	if err != nil {
		return 0, err
	}
	if price.IsNegative() {
		return 0, xerrors.Validation("price must be >= 0, got %s", price)
	}
	if quantity <= 0 {
		return 0, xerrors.Validation("quantity must be > 0, got %d", quantity)
	}

	f.directoryMu.Lock()
	clientDir, ok := f.directory[clientID]
	if !ok {
		f.directoryMu.Unlock()
		return 0, xerrors.Validation("unknown client %d", clientID)
	}
	f.directoryMu.Unlock()

	o := order.New(order.Params{
		ClientID: clientID, Ticker: inst.Ticker(), Side: side, Type: orderType,
		OriginalQuantity: quantity, LimitPrice: price,
	})

	f.directoryMu.Lock()
	clientDir[o.ID()] = &orderLocation{instrument: inst, side: side, order: o}
	f.directoryMu.Unlock()

	if f.metrics != nil {
		f.metrics.OrdersSubmitted.WithLabelValues(side.String()).Inc()
	}

	f.submittedOrders <- pipeline.SubmissionItem(pipeline.Submission{Instrument: inst, Order: o})
	return o.ID(), nil
}

// CancelOrder cancels order_id on behalf of client_id, blocking until
// the dispatcher has processed the request in-band with any concurrent
// matching on the same instrument (spec §5 "individual order
// cancellation is an in-band operation"). It returns the order's
// post-cancel snapshot, or (nil, NOT_CANCELLABLE) if the order was
// already terminal or unknown to this client.
func (f *Facade) CancelOrder(clientID, orderID uint64) (*order.Snapshot, error) {
	f.directoryMu.RLock()
	clientDir, ok := f.directory[clientID]
	if !ok {
		f.directoryMu.RUnlock()
		return nil, xerrors.Validation("unknown client %d", clientID)
	}
	loc, ok := clientDir[orderID]
	f.directoryMu.RUnlock()
	if !ok {
		return nil, xerrors.NotCancellable("order %d is not owned by client %d", orderID, clientID)
	}

	cancellation, resultCh := pipeline.NewCancellation(loc.instrument, loc.side, orderID)
	f.submittedOrders <- pipeline.CancellationItem(cancellation)
	result := <-resultCh

	if !result.OK {
		return nil, xerrors.NotCancellable("order %d is no longer cancellable", orderID)
	}

	if f.metrics != nil {
		f.metrics.OrdersCancelled.Inc()
	}

	snap := result.Order.ToSnapshot()
	return &snap, nil
}

// GetClientOrder returns a point-in-time snapshot of order_id if it is
// owned by client_id, or (nil, false) otherwise. It reads the order's
// own fields directly under the directory and order read locks, without
// routing through the pipeline (spec §6 "get_client_order").
func (f *Facade) GetClientOrder(clientID, orderID uint64) (*order.Snapshot, bool) {
	f.directoryMu.RLock()
	defer f.directoryMu.RUnlock()
	clientDir, ok := f.directory[clientID]
	if !ok {
		return nil, false
	}
	loc, ok := clientDir[orderID]
	if !ok {
		return nil, false
	}
	snap := loc.order.ToSnapshot()
	return &snap, true
}

func parseSide(s string) (order.Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return order.Buy, nil
	case "SELL":
		return order.Sell, nil
	default:
		return 0, xerrors.Validation("unknown side %q", s)
	}
}

func parseType(s string) (order.Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIMIT":
		return order.Limit, nil
	case "MARKET":
		return order.Market, nil
	default:
		return 0, xerrors.Validation("unknown type %q", s)
	}
}

// ---- pipeline.OrderSubscriberRegistry ----

func (f *Facade) OrderSubscriber(clientID uint64) (notify.OrderSubscriber, bool) {
	f.subscribersMu.RLock()
	defer f.subscribersMu.RUnlock()
	sub, ok := f.orderSubscribers[clientID]
	return sub, ok
}

func (f *Facade) EvictOrderSubscriber(clientID uint64) {
	f.subscribersMu.Lock()
	defer f.subscribersMu.Unlock()
	delete(f.orderSubscribers, clientID)
	if f.metrics != nil {
		f.metrics.SubscriberEvicted.WithLabelValues("order_update").Inc()
	}
}

// ---- pipeline.MarketSubscriberRegistry ----

func (f *Facade) MarketSubscribers(ticker string) map[notify.Handle]notify.MarketSubscriber {
	f.subscribersMu.RLock()
	defer f.subscribersMu.RUnlock()
	src := f.marketSubs[canonicalTicker(ticker)]
	out := make(map[notify.Handle]notify.MarketSubscriber, len(src))
	for h, s := range src {
		out[h] = s
	}
	return out
}

func (f *Facade) EvictMarketSubscriber(ticker string, handle notify.Handle) {
	f.subscribersMu.Lock()
	defer f.subscribersMu.Unlock()
	delete(f.marketSubs[canonicalTicker(ticker)], handle)
	if f.metrics != nil {
		f.metrics.SubscriberEvicted.WithLabelValues("market_data").Inc()
	}
}

// ---- Per-instrument read surface (spec §6, delegating to §4.3) ----

func (f *Facade) requireInstrument(ticker string) (*instrument.Instrument, error) {
	inst, ok := f.lookupInstrument(ticker)
	if !ok {
		return nil, xerrors.Validation("unknown ticker %q", ticker)
	}
	return inst, nil
}

func (f *Facade) LastTradedPrice(ticker string) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return inst.LastTradedPrice(), nil
}

func (f *Facade) BidVolume(ticker string) (int64, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return 0, err
	}
	return inst.BidVolume(), nil
}

func (f *Facade) AskVolume(ticker string) (int64, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return 0, err
	}
	return inst.AskVolume(), nil
}

func (f *Facade) BuyVolume(ticker string) (int64, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return 0, err
	}
	return inst.BuyVolume(), nil
}

func (f *Facade) SellVolume(ticker string) (int64, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return 0, err
	}
	return inst.SellVolume(), nil
}

func (f *Facade) AveragePrice(ticker string) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return inst.AveragePrice(), nil
}

func (f *Facade) AverageBuyPrice(ticker string) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return inst.AverageBuyPrice(), nil
}

func (f *Facade) AverageSellPrice(ticker string) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return inst.AverageSellPrice(), nil
}

func (f *Facade) BidVWAP(ticker string) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return inst.BidVWAP(), nil
}

func (f *Facade) AskVWAP(ticker string) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return inst.AskVWAP(), nil
}

func (f *Facade) BestBid(ticker string) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return inst.BestBid(), nil
}

func (f *Facade) BestAsk(ticker string) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return inst.BestAsk(), nil
}

func (f *Facade) PriceAtDepth(ticker string, side order.Side, depth int) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	if side == order.Buy {
		return inst.BidPriceAtDepth(depth), nil
	}
	return inst.AskPriceAtDepth(depth), nil
}

func (f *Facade) VolumeAtPrice(ticker string, side order.Side, price decimal.Decimal) (int64, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return 0, err
	}
	if side == order.Buy {
		return inst.BidVolumeAtPrice(price), nil
	}
	return inst.AskVolumeAtPrice(price), nil
}

func (f *Facade) BidHigh(ticker string) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return inst.BidHigh(), nil
}

func (f *Facade) BidLow(ticker string) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return inst.BidLow(), nil
}

func (f *Facade) AskHigh(ticker string) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return inst.AskHigh(), nil
}

func (f *Facade) AskLow(ticker string) (decimal.Decimal, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return inst.AskLow(), nil
}

func (f *Facade) BidBookSnapshot(ticker string) ([]book.LevelSnapshot, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return nil, err
	}
	return inst.BidLevels(), nil
}

func (f *Facade) AskBookSnapshot(ticker string) ([]book.LevelSnapshot, error) {
	inst, err := f.requireInstrument(ticker)
	if err != nil {
		return nil, err
	}
	return inst.AskLevels(), nil
}
