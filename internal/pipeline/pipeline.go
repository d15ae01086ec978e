// Package pipeline implements C5-C7: the three single-consumer queue
// workers that decouple submission, matching, and subscriber fan-out
// (spec §4.5, §4.6, §4.7, §5).
package pipeline

import (
	"github.com/rs/zerolog/log"

	"github.com/lightsgoout/xchange/internal/instrument"
	"github.com/lightsgoout/xchange/internal/matching"
	"github.com/lightsgoout/xchange/internal/notify"
	"github.com/lightsgoout/xchange/internal/order"
	"github.com/lightsgoout/xchange/internal/telemetry"
	"github.com/lightsgoout/xchange/internal/xerrors"
)

// Submission is one unit of work on the submitted-order queue: a newly
// constructed order together with the instrument it belongs to.
type Submission struct {
	Instrument *instrument.Instrument
	Order      *order.Order
}

// Cancellation is a request to cancel a resting order, carried on the
// same queue as Submission so cancellation is serialized against
// matching for its instrument (spec §5 "individual order cancellation
// is an in-band operation"). Result is delivered on result once the
// dispatcher has processed it.
type Cancellation struct {
	Instrument *instrument.Instrument
	Side       order.Side
	OrderID    uint64
	result     chan<- CancelResult
}

// CancelResult is what a Cancellation resolves to: the cancelled
// order's own post-cancel state, or ok=false if it was not cancellable
// (spec §4.4 "Cancellation").
type CancelResult struct {
	Order *order.Order
	OK    bool
}

// NewCancellation builds a Cancellation paired with the channel its
// result will be delivered on. The caller is expected to receive from
// the returned channel after enqueueing the Cancellation.
func NewCancellation(inst *instrument.Instrument, side order.Side, orderID uint64) (Cancellation, <-chan CancelResult) {
	ch := make(chan CancelResult, 1)
	return Cancellation{Instrument: inst, Side: side, OrderID: orderID, result: ch}, ch
}

// WorkItem is the tagged union carried on the submitted-order queue:
// exactly one of Submission or Cancellation is non-nil.
type WorkItem struct {
	Submission   *Submission
	Cancellation *Cancellation
}

// SubmissionItem wraps a Submission as a WorkItem.
func SubmissionItem(s Submission) WorkItem { return WorkItem{Submission: &s} }

// CancellationItem wraps a Cancellation as a WorkItem.
func CancellationItem(c Cancellation) WorkItem { return WorkItem{Cancellation: &c} }

// OrderDispatcher is C5: the single-threaded consumer of the
// submitted-order queue. Per spec §4.5 "single-consumer guarantees
// per-instrument-serial matching without additional locking across
// instruments" — exactly one goroutine ever calls into matching.Engine.
type OrderDispatcher struct {
	engine  *matching.Engine
	queue   <-chan WorkItem
	metrics *telemetry.Metrics
}

// NewOrderDispatcher wires a dispatcher to the engine that performs the
// actual matching/cancellation algorithms and the queue it consumes.
// metrics may be nil, in which case the dispatcher runs unmetered.
func NewOrderDispatcher(engine *matching.Engine, queue <-chan WorkItem, metrics *telemetry.Metrics) *OrderDispatcher {
	return &OrderDispatcher{engine: engine, queue: queue, metrics: metrics}
}

// Run drains the queue until it is closed, processing each item in
// order. It is meant to be the body of the dispatcher's dedicated
// goroutine.
func (d *OrderDispatcher) Run() {
	for item := range d.queue {
		d.process(item)
	}
}

func (d *OrderDispatcher) process(item WorkItem) {
	switch {
	case item.Submission != nil:
		d.submit(item.Submission)
	case item.Cancellation != nil:
		d.cancel(item.Cancellation)
	}
}

// submit recovers an *xerrors.InvariantViolation panic from the engine
// and halts only the owning instrument, so one instrument's internal
// inconsistency never takes down the dispatcher goroutine serving every
// other instrument (spec §4.4 "must halt the owning instrument's
// processing"; §7 "invariant violations are never recovered" is honored
// in spirit — the instrument is marked permanently unusable rather than
// the violation being silently absorbed).
func (d *OrderDispatcher) submit(s *Submission) {
	defer d.recoverInvariantViolation(s.Instrument)
	d.engine.Submit(s.Instrument, s.Order)
	if d.metrics != nil && s.Order.Status() == order.Rejected {
		d.metrics.OrdersRejected.Inc()
	}
}

func (d *OrderDispatcher) cancel(c *Cancellation) {
	defer d.recoverInvariantViolation(c.Instrument)
	resting, ok := d.engine.Cancel(c.Instrument, c.Side, c.OrderID)
	c.result <- CancelResult{Order: resting, OK: ok}
}

func (d *OrderDispatcher) recoverInvariantViolation(inst *instrument.Instrument) {
	r := recover()
	if r == nil {
		return
	}
	iv, ok := r.(*xerrors.InvariantViolation)
	if !ok {
		panic(r)
	}
	inst.Lock()
	inst.Halt(iv.Msg)
	inst.Unlock()
	log.Error().Str("ticker", iv.Ticker).Str("cause", iv.Msg).Msg("instrument halted after invariant violation")
}

// OrderUpdateFanout is C6: the single-threaded consumer of the
// order-update queue. For each update it looks up the owning client's
// subscriber and delivers the four-tuple; a delivery failure evicts
// that client (spec §4.6).
type OrderUpdateFanout struct {
	queue    <-chan notify.OrderUpdate
	registry OrderSubscriberRegistry
}

// OrderSubscriberRegistry is the lookup/eviction surface OrderUpdateFanout
// needs from the subscription table, kept minimal so this package never
// imports the facade that owns the real table.
type OrderSubscriberRegistry interface {
	OrderSubscriber(clientID uint64) (notify.OrderSubscriber, bool)
	EvictOrderSubscriber(clientID uint64)
}

// NewOrderUpdateFanout wires a fanout worker to its queue and the
// registry it consults for each delivery.
func NewOrderUpdateFanout(queue <-chan notify.OrderUpdate, registry OrderSubscriberRegistry) *OrderUpdateFanout {
	return &OrderUpdateFanout{queue: queue, registry: registry}
}

// Run drains the queue until it is closed.
func (f *OrderUpdateFanout) Run() {
	for update := range f.queue {
		f.deliver(update)
	}
}

func (f *OrderUpdateFanout) deliver(update notify.OrderUpdate) {
	sub, ok := f.registry.OrderSubscriber(update.ClientID)
	if !ok {
		return
	}
	if err := sub.NotifyOrder(update); err != nil {
		log.Warn().Uint64("client_id", update.ClientID).Err(err).Msg("order subscriber delivery failure, evicting")
		f.registry.EvictOrderSubscriber(update.ClientID)
	}
}

// TradeQuoteFanout is C7: the single-threaded consumer of the
// market-data queue. It dispatches TradePrint and QuotePrint events to
// every subscriber of the event's ticker, evicting any subscriber whose
// callback fails (spec §4.7).
type TradeQuoteFanout struct {
	queue    <-chan notify.MarketEvent
	registry MarketSubscriberRegistry
	metrics  *telemetry.Metrics
}

// MarketSubscriberRegistry is the lookup/eviction surface TradeQuoteFanout
// needs from the subscription table.
type MarketSubscriberRegistry interface {
	MarketSubscribers(ticker string) map[notify.Handle]notify.MarketSubscriber
	EvictMarketSubscriber(ticker string, handle notify.Handle)
}

// NewTradeQuoteFanout wires a fanout worker to its queue and registry.
// metrics may be nil, in which case the fanout runs unmetered.
func NewTradeQuoteFanout(queue <-chan notify.MarketEvent, registry MarketSubscriberRegistry, metrics *telemetry.Metrics) *TradeQuoteFanout {
	return &TradeQuoteFanout{queue: queue, registry: registry, metrics: metrics}
}

// Run drains the queue until it is closed.
func (f *TradeQuoteFanout) Run() {
	for event := range f.queue {
		f.deliver(event)
	}
}

func (f *TradeQuoteFanout) deliver(event notify.MarketEvent) {
	switch e := event.(type) {
	case notify.TradePrint:
		if f.metrics != nil {
			f.metrics.TradesExecuted.Inc()
		}
		for handle, sub := range f.registry.MarketSubscribers(e.Ticker) {
			if err := sub.NotifyTrade(e); err != nil {
				log.Warn().Str("ticker", e.Ticker).Str("subscriber", handle.String()).Err(err).Msg("trade subscriber delivery failure, evicting")
				f.registry.EvictMarketSubscriber(e.Ticker, handle)
			}
		}
	case notify.QuotePrint:
		for handle, sub := range f.registry.MarketSubscribers(e.Ticker) {
			if err := sub.NotifyQuote(e); err != nil {
				log.Warn().Str("ticker", e.Ticker).Str("subscriber", handle.String()).Err(err).Msg("quote subscriber delivery failure, evicting")
				f.registry.EvictMarketSubscriber(e.Ticker, handle)
			}
		}
	}
}
