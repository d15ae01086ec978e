// Package book implements C2: a sorted sequence of resting orders for
// one side of one instrument, with O(log n) sorted insertion and O(1)
// (amortized, cached) best-price access (spec §4.2).
//
// The teacher's reference implementation (quantcup) indexed a flat array
// by integer price and cached askMin/bidMax, advancing the cached
// extreme only when a price level is exhausted. We generalize that same
// caching technique to arbitrary decimal prices by keying a red-black
// tree (github.com/emirpasic/gods/trees/redblacktree) on price and
// caching a pointer to the best level, updating it exactly when the
// teacher would have advanced askMin/bidMax.
package book

import (
	"container/list"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/shopspring/decimal"

	"github.com/lightsgoout/xchange/internal/order"
)

// priceLevel holds the FIFO queue of resting orders at one price. FIFO
// order is entry-time order: PushBack on insert, Front is the earliest
// (price-time priority, spec §3).
type priceLevel struct {
	price  decimal.Decimal
	orders *list.List
}

// location lets Remove find an order's list element in O(1) without a
// linear scan, an enrichment over the "linear in the worst case" bound
// spec §4.2 calls merely acceptable.
type location struct {
	level *priceLevel
	elem  *list.Element
}

// comparator orders two decimal.Decimal prices; its sign also tells
// OrderBookSide which of two levels is "better" for this side.
type comparator func(a, b decimal.Decimal) int

// OrderBookSide is the sorted resting-order sequence for one side of
// one instrument.
type OrderBookSide struct {
	side    order.Side
	cmp     comparator
	tree    *redblacktree.Tree
	levels  map[string]*priceLevel
	index   map[uint64]*location
	best    *priceLevel
	count   int
}

func newSide(side order.Side, cmp comparator) *OrderBookSide {
	treeCmp := func(a, b interface{}) int {
		return cmp(a.(decimal.Decimal), b.(decimal.Decimal))
	}
	return &OrderBookSide{
		side:   side,
		cmp:    cmp,
		tree:   redblacktree.NewWith(treeCmp),
		levels: make(map[string]*priceLevel),
		index:  make(map[uint64]*location),
	}
}

// NewBidSide returns an empty bid (buy) side: descending by price, so
// the tree's natural (leftmost-first) order is highest-price-first.
func NewBidSide() *OrderBookSide {
	return newSide(order.Buy, func(a, b decimal.Decimal) int { return b.Cmp(a) })
}

// NewAskSide returns an empty ask (sell) side: ascending by price, so
// the tree's natural order is lowest-price-first.
func NewAskSide() *OrderBookSide {
	return newSide(order.Sell, func(a, b decimal.Decimal) int { return a.Cmp(b) })
}

// Side reports which side (Buy/Sell) this book side represents.
func (s *OrderBookSide) Side() order.Side { return s.side }

// Len is the number of resting orders on this side.
func (s *OrderBookSide) Len() int { return s.count }

// Insert adds a resting order, keyed by its limit price, to the tail of
// its price level's FIFO queue (earlier-inserted orders at the same
// price always win, per price-time priority).
func (s *OrderBookSide) Insert(o *order.Order) {
	key := o.LimitPrice()
	keyStr := key.String()

	lvl, found := s.levels[keyStr]
	if !found {
		lvl = &priceLevel{price: key, orders: list.New()}
		s.levels[keyStr] = lvl
		s.tree.Put(key, lvl)
	}

	elem := lvl.orders.PushBack(o)
	s.index[o.ID()] = &location{level: lvl, elem: elem}
	s.count++

	if s.best == nil || s.cmp(key, s.best.price) < 0 {
		s.best = lvl
	}
}

// Remove removes a resting order by identity. Returns (order, true) if
// it was found resting on this side, or (nil, false) otherwise (spec
// §4.4 "Cancellation": not found means already matched or unknown).
func (s *OrderBookSide) Remove(id uint64) (*order.Order, bool) {
	loc, ok := s.index[id]
	if !ok {
		return nil, false
	}

	resting := loc.elem.Value.(*order.Order)
	loc.level.orders.Remove(loc.elem)
	delete(s.index, id)
	s.count--

	if loc.level.orders.Len() == 0 {
		s.tree.Remove(loc.level.price)
		delete(s.levels, loc.level.price.String())
		if s.best == loc.level {
			s.best = s.recomputeBest()
		}
	}

	return resting, true
}

func (s *OrderBookSide) recomputeBest() *priceLevel {
	node := s.tree.Left()
	if node == nil {
		return nil
	}
	return node.Value.(*priceLevel)
}

// Front returns the best, earliest-entered resting order, or nil if the
// side is empty. The matching engine's loop calls Front repeatedly,
// re-reading it after each Remove, exactly as spec §4.4 step 3
// describes iterating "from index 0".
func (s *OrderBookSide) Front() *order.Order {
	if s.best == nil {
		return nil
	}
	head := s.best.orders.Front()
	if head == nil {
		return nil
	}
	return head.Value.(*order.Order)
}

// Best returns the best resting price, or zero if the side is empty
// (spec §4.3 best_bid/best_ask).
func (s *OrderBookSide) Best() decimal.Decimal {
	if s.best == nil {
		return decimal.Zero
	}
	return s.best.price
}

// PriceAtDepth returns the (d+1)-th distinct price level (d=0 is best),
// or zero if fewer levels exist (spec §4.3).
func (s *OrderBookSide) PriceAtDepth(d int) decimal.Decimal {
	if d < 0 {
		return decimal.Zero
	}
	it := s.tree.Iterator()
	idx := -1
	for it.Next() {
		idx++
		if idx == d {
			return it.Value().(*priceLevel).price
		}
	}
	return decimal.Zero
}

// VolumeAtPrice sums open quantity at an exact price, or zero if no
// resting orders sit there (spec §4.3).
func (s *OrderBookSide) VolumeAtPrice(p decimal.Decimal) int64 {
	lvl, ok := s.levels[p.String()]
	if !ok {
		return 0
	}
	var total int64
	for e := lvl.orders.Front(); e != nil; e = e.Next() {
		total += e.Value.(*order.Order).OpenQuantity()
	}
	return total
}

// LevelSnapshot is one aggregated price level, used for book snapshots
// (spec §6 "bid/ask book snapshots").
type LevelSnapshot struct {
	Price      decimal.Decimal
	Volume     int64
	OrderCount int
}

// Levels returns every price level, best first.
func (s *OrderBookSide) Levels() []LevelSnapshot {
	out := make([]LevelSnapshot, 0, len(s.levels))
	it := s.tree.Iterator()
	for it.Next() {
		lvl := it.Value().(*priceLevel)
		var vol int64
		for e := lvl.orders.Front(); e != nil; e = e.Next() {
			vol += e.Value.(*order.Order).OpenQuantity()
		}
		out = append(out, LevelSnapshot{Price: lvl.price, Volume: vol, OrderCount: lvl.orders.Len()})
	}
	return out
}

// Contains reports whether an order_id is currently resting on this
// side.
func (s *OrderBookSide) Contains(id uint64) bool {
	_, ok := s.index[id]
	return ok
}
