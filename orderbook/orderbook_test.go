package orderbook

import (
	"math"
	"math/rand"
	"testing"

	"depthflow/models"
)

func seededBook() *OrderBook {
	b := New()
	for _, l := range []PriceLevel{{Price: 10, Quantity: 2}, {Price: 11, Quantity: 1}, {Price: 11.1, Quantity: 2}, {Price: 11.5, Quantity: 2}, {Price: 12, Quantity: 2}} {
		b.Apply(true, l.Price, l.Quantity)
	}
	for _, l := range []PriceLevel{{Price: 9, Quantity: 1}, {Price: 8.1, Quantity: 2}, {Price: 7, Quantity: 2}, {Price: 6.5, Quantity: 2}, {Price: 5, Quantity: 2}} {
		b.Apply(false, l.Price, l.Quantity)
	}
	return b
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOrderBookSortedOnInsert(t *testing.T) {
	b := New()
	for _, p := range []float64{12, 10, 11.5, 11, 11.1} {
		b.Update(models.DepthEntry{IsAsk: true, Price: p, Quantity: 1})
	}
	for _, p := range []float64{5, 9, 7, 8.1, 6.5} {
		b.Update(models.DepthEntry{IsAsk: false, Price: p, Quantity: 1})
	}

	wantAsks := []float64{10, 11, 11.1, 11.5, 12}
	wantBids := []float64{9, 8.1, 7, 6.5, 5}
	for i, l := range b.Asks() {
		if l.Price != wantAsks[i] {
			t.Fatalf("ask %d: got %v want %v", i, l.Price, wantAsks[i])
		}
	}
	for i, l := range b.Bids() {
		if l.Price != wantBids[i] {
			t.Fatalf("bid %d: got %v want %v", i, l.Price, wantBids[i])
		}
	}
}

func TestOrderBookQueries(t *testing.T) {
	b := seededBook()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"best ask", b.BestAskPrice(), 10},
		{"best bid", b.BestBidPrice(), 9},
		{"best ask qty", b.BestAskQuantity(), 2},
		{"best bid qty", b.BestBidQuantity(), 1},
		{"second ask", b.SecondAskPrice(), 11},
		{"second bid", b.SecondBidPrice(), 8.1},
		{"second ask qty", b.SecondAskQuantity(), 1},
		{"second bid qty", b.SecondBidQuantity(), 2},
		{"nth ask", b.NthAskPrice(4), 12},
		{"nth bid", b.NthBidPrice(3), 6.5},
		{"sum ask", b.SumAskQuantity(), 9},
		{"sum bid", b.SumBidQuantity(), 9},
		{"sum total", b.SumTotalAskBidQuantity(), 18},
		{"top3 asks", b.CumulativeQuantityOfTopNAsks(3), 5},
		{"top3 bids", b.CumulativeQuantityOfTopNBids(3), 5},
		{"top99 asks", b.CumulativeQuantityOfTopNAsks(99), 9},
		{"sum pq", b.SumOfPriceTimesQuantity(), 20 + 11 + 22.2 + 23 + 24 + 9 + 16.2 + 14 + 13 + 10},
	}
	for _, tt := range tests {
		if !almostEqual(tt.got, tt.want) {
			t.Errorf("%s: got %v want %v", tt.name, tt.got, tt.want)
		}
	}
	if b.AskCount() != 5 || b.BidCount() != 5 {
		t.Fatalf("counts: asks=%d bids=%d", b.AskCount(), b.BidCount())
	}
}

func TestOrderBookInsufficientLevelsReturnZero(t *testing.T) {
	b := New()
	b.Apply(true, 10, 1)
	if b.SecondAskPrice() != 0 || b.BestBidPrice() != 0 || b.NthAskPrice(-1) != 0 {
		t.Fatalf("expected zero sentinels on missing levels")
	}
	if _, ok := b.BidAt(0); ok {
		t.Fatalf("BidAt on empty side reported a level")
	}
	if l, ok := b.AskAt(0); !ok || l.Price != 10 {
		t.Fatalf("AskAt(0)=%v,%v", l, ok)
	}
}

func TestOrderBookUpdateExistingLevel(t *testing.T) {
	b := seededBook()
	b.Apply(true, 11.1, 7)
	if b.AskCount() != 5 {
		t.Fatalf("update in place must not add a level")
	}
	if l, _ := b.AskAt(2); l.Quantity != 7 {
		t.Fatalf("quantity not updated: %v", l)
	}
	if !almostEqual(b.SumAskQuantity(), 14) {
		t.Fatalf("sum ask=%v want 14", b.SumAskQuantity())
	}
}

func TestOrderBookTombstone(t *testing.T) {
	b := seededBook()

	b.Apply(false, 8.5, 0)
	if b.BidCount() != 5 || !almostEqual(b.SumBidQuantity(), 9) {
		t.Fatalf("removing an absent level must be a no-op")
	}
	if d := b.LastDelta(); d != (Delta{}) {
		t.Fatalf("no-op update produced delta %+v", d)
	}

	b.Apply(false, 8.1, 0)
	if b.BidCount() != 4 {
		t.Fatalf("bid count=%d want 4", b.BidCount())
	}
	if !almostEqual(b.SumBidQuantity(), 7) {
		t.Fatalf("sum bid=%v want 7", b.SumBidQuantity())
	}
	if b.SecondBidPrice() != 7 {
		t.Fatalf("second bid=%v want 7", b.SecondBidPrice())
	}
	d := b.LastDelta()
	if d.BidCount != -1 || !almostEqual(d.SumBidQuantity, -2) || d.BestBidPrice != 0 {
		t.Fatalf("unexpected delta %+v", d)
	}
}

func TestOrderBookDelta(t *testing.T) {
	b := seededBook()

	b.Apply(true, 9.5, 3)
	d := b.LastDelta()
	if !almostEqual(d.BestAskPrice, -0.5) || d.BestAskQuantity != 1 || d.AskCount != 1 || d.SumAskQuantity != 3 {
		t.Fatalf("new best ask delta %+v", d)
	}
	if d.BestBidPrice != 0 || d.BidCount != 0 {
		t.Fatalf("bid side should be untouched: %+v", d)
	}

	b.Apply(true, 12, 5)
	d = b.LastDelta()
	if d.BestAskPrice != 0 || d.BestAskQuantity != 0 || d.AskCount != 0 || d.SumAskQuantity != 3 {
		t.Fatalf("deep ask delta %+v", d)
	}

	b.Apply(false, 9, 4)
	d = b.LastDelta()
	if d.BestBidPrice != 0 || d.BestBidQuantity != 3 || d.SumBidQuantity != 3 {
		t.Fatalf("best bid qty delta %+v", d)
	}
}

func TestOrderBookDeltaFromEmptySide(t *testing.T) {
	b := New()
	b.Apply(false, 100, 2)
	d := b.LastDelta()
	if d.BestBidPrice != 100 || d.BestBidQuantity != 2 || d.BidCount != 1 {
		t.Fatalf("delta from empty side %+v", d)
	}
}

func TestOrderBookRandomUpdatesKeepInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	b := New()
	ref := map[bool]map[float64]float64{true: {}, false: {}}

	for i := 0; i < 5000; i++ {
		isAsk := r.Intn(2) == 0
		price := float64(r.Intn(200)) / 4
		qty := 0.0
		if r.Intn(3) > 0 {
			qty = float64(r.Intn(10) + 1)
		}
		b.Apply(isAsk, price, qty)
		if qty == 0 {
			delete(ref[isAsk], price)
		} else {
			ref[isAsk][price] = qty
		}

		asks, bids := b.Asks(), b.Bids()
		for j := 1; j < len(asks); j++ {
			if asks[j-1].Price >= asks[j].Price {
				t.Fatalf("step %d: asks not strictly ascending at %d", i, j)
			}
		}
		for j := 1; j < len(bids); j++ {
			if bids[j-1].Price <= bids[j].Price {
				t.Fatalf("step %d: bids not strictly descending at %d", i, j)
			}
		}
		if len(asks) != len(ref[true]) || len(bids) != len(ref[false]) {
			t.Fatalf("step %d: level count mismatch", i)
		}
	}

	sum := 0.0
	for _, q := range ref[true] {
		sum += q
	}
	if !almostEqual(sum, b.SumAskQuantity()) {
		t.Fatalf("running ask sum %v want %v", b.SumAskQuantity(), sum)
	}
}

func TestOrderBookCloneIsIndependent(t *testing.T) {
	b := seededBook()
	c := b.Clone()
	b.Apply(true, 10, 0)
	if c.BestAskPrice() != 10 || c.AskCount() != 5 {
		t.Fatalf("clone changed with original")
	}
	b.Reset()
	if b.AskCount() != 0 || b.SumTotalAskBidQuantity() != 0 {
		t.Fatalf("reset left data behind")
	}
}

func TestOrderBookTopScan(t *testing.T) {
	b := seededBook()
	tests := []struct {
		n      int
		isAsk  bool
		prices []float64
	}{
		{0, true, nil},
		{2, true, []float64{10, 11}},
		{3, false, []float64{9, 8.1, 7}},
		{50, false, []float64{9, 8.1, 7, 6.5, 5}},
	}
	for _, tt := range tests {
		var got []float64
		collect := func(i int, l PriceLevel) bool {
			if i != len(got) {
				t.Fatalf("index %d after %d levels", i, len(got))
			}
			got = append(got, l.Price)
			return true
		}
		if tt.isAsk {
			b.TopAsks(tt.n, collect)
		} else {
			b.TopBids(tt.n, collect)
		}
		if len(got) != len(tt.prices) {
			t.Fatalf("n=%d ask=%v: got %v want %v", tt.n, tt.isAsk, got, tt.prices)
		}
		for i := range got {
			if got[i] != tt.prices[i] {
				t.Errorf("n=%d ask=%v: level %d = %v want %v", tt.n, tt.isAsk, i, got[i], tt.prices[i])
			}
		}
	}

	seen := 0
	b.TopAsks(5, func(int, PriceLevel) bool {
		seen++
		return seen < 2
	})
	if seen != 2 {
		t.Fatalf("scan did not stop early: %d levels", seen)
	}
}

func TestOrderBookCloneCopyOnWrite(t *testing.T) {
	b := seededBook()
	c := b.Clone()
	c.Apply(false, 9.5, 4)
	c.Apply(true, 11, 7)
	if b.BestBidPrice() != 9 || b.NthAskQuantity(1) != 1 || b.BidCount() != 5 {
		t.Fatalf("original changed through clone")
	}
	if c.BestBidPrice() != 9.5 || c.NthAskQuantity(1) != 7 || !almostEqual(c.SumBidQuantity(), 13) {
		t.Fatalf("clone did not apply updates: bid %v ask qty %v", c.BestBidPrice(), c.NthAskQuantity(1))
	}
}
