package orderbook

import (
	"github.com/tidwall/btree"

	"depthflow/models"
)

// PriceLevel is one (price, quantity) pair on a side of the book.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Delta describes what the most recent Update changed. Every field is
// after-minus-before for that single call; an empty side counts as price and
// quantity zero.
type Delta struct {
	BestAskPrice    float64
	BestAskQuantity float64
	BestBidPrice    float64
	BestBidQuantity float64
	AskCount        int
	BidCount        int
	SumAskQuantity  float64
	SumBidQuantity  float64
}

// side is one half of the book, ordered best first.
type side = btree.BTreeG[PriceLevel]

func askLess(a, b PriceLevel) bool { return a.Price < b.Price }
func bidLess(a, b PriceLevel) bool { return a.Price > b.Price }

func newSide(less func(a, b PriceLevel) bool) *side {
	return btree.NewBTreeGOptions(less, btree.Options{NoLocks: true})
}

// OrderBook keeps each side in a B-tree ordered best first: asks ascending,
// bids descending. Upserts and removals are O(log n), positional lookups use
// the tree's counted index, and running totals keep the aggregate queries
// O(1).
//
// Price and quantity queries on a side with too few levels return 0. Callers
// that need to tell an empty slot from a zero price use AskAt/BidAt.
type OrderBook struct {
	asks *side
	bids *side

	sumAskQty float64
	sumBidQty float64
	sumAskPQ  float64
	sumBidPQ  float64

	delta Delta
}

// New returns an empty order book.
func New() *OrderBook {
	return &OrderBook{
		asks: newSide(askLess),
		bids: newSide(bidLess),
	}
}

// Update applies a depth row and records its Delta.
func (b *OrderBook) Update(e models.DepthEntry) {
	b.Apply(e.IsAsk, e.Price, e.Quantity)
}

// Apply upserts the level at price on the given side. A quantity of zero (or
// below) removes the level when present and is a no-op otherwise.
func (b *OrderBook) Apply(isAsk bool, price, quantity float64) {
	before := b.top()

	if isAsk {
		applySide(b.asks, price, quantity, &b.sumAskQty, &b.sumAskPQ)
	} else {
		applySide(b.bids, price, quantity, &b.sumBidQty, &b.sumBidPQ)
	}

	after := b.top()
	b.delta = Delta{
		BestAskPrice:    after.askPrice - before.askPrice,
		BestAskQuantity: after.askQty - before.askQty,
		BestBidPrice:    after.bidPrice - before.bidPrice,
		BestBidQuantity: after.bidQty - before.bidQty,
		AskCount:        after.askCount - before.askCount,
		BidCount:        after.bidCount - before.bidCount,
		SumAskQuantity:  after.sumAsk - before.sumAsk,
		SumBidQuantity:  after.sumBid - before.sumBid,
	}
}

func applySide(levels *side, price, quantity float64, sumQty, sumPQ *float64) {
	key := PriceLevel{Price: price}

	if quantity <= 0 {
		old, found := levels.Delete(key)
		if !found {
			return
		}
		*sumQty -= old.Quantity
		*sumPQ -= old.Price * old.Quantity
		if levels.Len() == 0 {
			*sumQty, *sumPQ = 0, 0
		}
		return
	}

	old, found := levels.Set(PriceLevel{Price: price, Quantity: quantity})
	if found {
		*sumQty += quantity - old.Quantity
		*sumPQ += price * (quantity - old.Quantity)
		return
	}
	*sumQty += quantity
	*sumPQ += price * quantity
}

type topOfBook struct {
	askPrice, askQty float64
	bidPrice, bidQty float64
	askCount         int
	bidCount         int
	sumAsk, sumBid   float64
}

func (b *OrderBook) top() topOfBook {
	t := topOfBook{
		askCount: b.asks.Len(),
		bidCount: b.bids.Len(),
		sumAsk:   b.sumAskQty,
		sumBid:   b.sumBidQty,
	}
	if l, ok := b.asks.Min(); ok {
		t.askPrice, t.askQty = l.Price, l.Quantity
	}
	if l, ok := b.bids.Min(); ok {
		t.bidPrice, t.bidQty = l.Price, l.Quantity
	}
	return t
}

// LastDelta returns the effect of the most recent Update.
func (b *OrderBook) LastDelta() Delta { return b.delta }

// ===== LEVEL QUERIES =====

// AskAt returns the i-th ask level, 0 being the best.
func (b *OrderBook) AskAt(i int) (PriceLevel, bool) { return levelAt(b.asks, i) }

// BidAt returns the i-th bid level, 0 being the best.
func (b *OrderBook) BidAt(i int) (PriceLevel, bool) { return levelAt(b.bids, i) }

func levelAt(levels *side, i int) (PriceLevel, bool) {
	if i < 0 || i >= levels.Len() {
		return PriceLevel{}, false
	}
	return levels.GetAt(i)
}

func (b *OrderBook) NthAskPrice(i int) float64    { l, _ := b.AskAt(i); return l.Price }
func (b *OrderBook) NthBidPrice(i int) float64    { l, _ := b.BidAt(i); return l.Price }
func (b *OrderBook) NthAskQuantity(i int) float64 { l, _ := b.AskAt(i); return l.Quantity }
func (b *OrderBook) NthBidQuantity(i int) float64 { l, _ := b.BidAt(i); return l.Quantity }

func (b *OrderBook) BestAskPrice() float64      { return b.NthAskPrice(0) }
func (b *OrderBook) BestBidPrice() float64      { return b.NthBidPrice(0) }
func (b *OrderBook) BestAskQuantity() float64   { return b.NthAskQuantity(0) }
func (b *OrderBook) BestBidQuantity() float64   { return b.NthBidQuantity(0) }
func (b *OrderBook) SecondAskPrice() float64    { return b.NthAskPrice(1) }
func (b *OrderBook) SecondBidPrice() float64    { return b.NthBidPrice(1) }
func (b *OrderBook) SecondAskQuantity() float64 { return b.NthAskQuantity(1) }
func (b *OrderBook) SecondBidQuantity() float64 { return b.NthBidQuantity(1) }

// TopAsks calls fn on the n best asks, best first, until fn returns false.
func (b *OrderBook) TopAsks(n int, fn func(i int, l PriceLevel) bool) { scanTop(b.asks, n, fn) }

// TopBids calls fn on the n best bids, best first, until fn returns false.
func (b *OrderBook) TopBids(n int, fn func(i int, l PriceLevel) bool) { scanTop(b.bids, n, fn) }

func scanTop(levels *side, n int, fn func(i int, l PriceLevel) bool) {
	if n <= 0 {
		return
	}
	i := 0
	levels.Scan(func(l PriceLevel) bool {
		if !fn(i, l) {
			return false
		}
		i++
		return i < n
	})
}

// ===== AGGREGATES =====

func (b *OrderBook) AskCount() int { return b.asks.Len() }
func (b *OrderBook) BidCount() int { return b.bids.Len() }

func (b *OrderBook) SumAskQuantity() float64 { return b.sumAskQty }
func (b *OrderBook) SumBidQuantity() float64 { return b.sumBidQty }

func (b *OrderBook) SumTotalAskBidQuantity() float64 { return b.sumAskQty + b.sumBidQty }

// CumulativeQuantityOfTopNAsks sums the quantity of the n best asks (or of all
// asks when fewer are present).
func (b *OrderBook) CumulativeQuantityOfTopNAsks(n int) float64 {
	return cumulative(b.asks, n)
}

// CumulativeQuantityOfTopNBids sums the quantity of the n best bids.
func (b *OrderBook) CumulativeQuantityOfTopNBids(n int) float64 {
	return cumulative(b.bids, n)
}

func cumulative(levels *side, n int) float64 {
	total := 0.0
	scanTop(levels, n, func(_ int, l PriceLevel) bool {
		total += l.Quantity
		return true
	})
	return total
}

func (b *OrderBook) SumAskPriceTimesQuantity() float64 { return b.sumAskPQ }
func (b *OrderBook) SumBidPriceTimesQuantity() float64 { return b.sumBidPQ }

// SumOfPriceTimesQuantity is Σ price·quantity across both sides.
func (b *OrderBook) SumOfPriceTimesQuantity() float64 { return b.sumAskPQ + b.sumBidPQ }

// ===== SNAPSHOTS =====

// Asks returns a copy of the ask side, best first.
func (b *OrderBook) Asks() []PriceLevel { return b.asks.Items() }

// Bids returns a copy of the bid side, best first.
func (b *OrderBook) Bids() []PriceLevel { return b.bids.Items() }

// Clone returns an independent copy of the book. Sides are shared copy on
// write, so cloning is O(1).
func (b *OrderBook) Clone() *OrderBook {
	c := *b
	c.asks = b.asks.Copy()
	c.bids = b.bids.Copy()
	return &c
}

// Reset drops every level.
func (b *OrderBook) Reset() {
	b.asks.Clear()
	b.bids.Clear()
	b.sumAskQty, b.sumBidQty = 0, 0
	b.sumAskPQ, b.sumBidPQ = 0, 0
	b.delta = Delta{}
}
