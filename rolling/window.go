package rolling

// HorizonCount is the number of lookback horizons tracked per instrument.
const HorizonCount = 7

// Horizons are the lookback windows in seconds, shortest first.
var Horizons = [HorizonCount]int64{1, 3, 5, 10, 15, 30, 60}

const microsPerSecond int64 = 1_000_000

// Side indexes the two sides a sample can belong to. For trades A is the buy
// aggressor and B the sell aggressor; for depth rows A is bid and B is ask.
const (
	sideA = 0
	sideB = 1
)

type sample struct {
	ts    int64
	side  int
	qty   float64
	price float64
}

// Aggregate is the state of one horizon at the current clock.
type Aggregate struct {
	Count  [2]int
	Volume [2]float64
	// PriceSum is the sum of sample prices inside the horizon.
	PriceSum float64
	// Max is the largest sample quantity per side (only with extremes on).
	Max [2]float64
	// StartPrice is the price of the newest sample that has already left the
	// horizon; HasStart is false until one has.
	StartPrice float64
	HasStart   bool
}

// Samples is the total number of samples inside the horizon.
func (a Aggregate) Samples() int { return a.Count[sideA] + a.Count[sideB] }

type horizonState struct {
	span  int64
	start int64 // absolute sequence of the first sample inside the horizon
	agg   Aggregate
	maxq  [2]maxDeque
}

// window is a deque of samples pruned to the longest horizon. Every horizon
// keeps an absolute start pointer and running sums, so pushing a sample and
// moving the clock are O(1) amortized.
//
// A sample is inside a horizon while ts >= now - span.
type window struct {
	samples  []sample
	head     int64 // absolute sequence of samples[0]
	now      int64
	extremes bool
	h        [HorizonCount]horizonState
}

func newWindow(extremes bool) *window {
	w := &window{extremes: extremes}
	for i, s := range Horizons {
		w.h[i].span = s * microsPerSecond
	}
	return w
}

func (w *window) at(seq int64) *sample { return &w.samples[seq-w.head] }

func (w *window) end() int64 { return w.head + int64(len(w.samples)) }

func (w *window) push(s sample) {
	if s.ts > w.now {
		w.now = s.ts
	}
	seq := w.end()
	w.samples = append(w.samples, s)
	for i := range w.h {
		h := &w.h[i]
		h.agg.Count[s.side]++
		h.agg.Volume[s.side] += s.qty
		h.agg.PriceSum += s.price
		if w.extremes {
			h.maxq[s.side].push(seq, s.qty, w)
		}
	}
	w.evict()
}

// advance moves the clock forward without adding a sample.
func (w *window) advance(ts int64) {
	if ts <= w.now {
		return
	}
	w.now = ts
	w.evict()
}

func (w *window) evict() {
	end := w.end()
	for i := range w.h {
		h := &w.h[i]
		cutoff := w.now - h.span
		for h.start < end {
			s := w.at(h.start)
			if s.ts >= cutoff {
				break
			}
			h.agg.Count[s.side]--
			h.agg.Volume[s.side] -= s.qty
			h.agg.PriceSum -= s.price
			if h.agg.Count[s.side] == 0 {
				h.agg.Volume[s.side] = 0
			}
			if h.agg.Samples() == 0 {
				h.agg.PriceSum = 0
			}
			h.agg.StartPrice = s.price
			h.agg.HasStart = true
			h.start++
		}
		if w.extremes {
			h.maxq[sideA].evict(h.start)
			h.maxq[sideB].evict(h.start)
		}
	}

	// The longest horizon has the earliest start; nothing before it is needed.
	oldest := w.h[HorizonCount-1].start
	if drop := oldest - w.head; drop > 0 {
		w.samples = w.samples[drop:]
		w.head = oldest
	}
}

func (w *window) aggregate(i int) Aggregate {
	h := &w.h[i]
	a := h.agg
	if w.extremes {
		a.Max[sideA] = h.maxq[sideA].max(w)
		a.Max[sideB] = h.maxq[sideB].max(w)
	}
	return a
}

// maxDeque holds sample sequences with strictly decreasing quantities; the
// front is the largest sample still inside the horizon.
type maxDeque struct {
	seqs []int64
}

func (d *maxDeque) push(seq int64, qty float64, w *window) {
	for len(d.seqs) > 0 && w.at(d.seqs[len(d.seqs)-1]).qty <= qty {
		d.seqs = d.seqs[:len(d.seqs)-1]
	}
	d.seqs = append(d.seqs, seq)
}

func (d *maxDeque) evict(start int64) {
	n := 0
	for n < len(d.seqs) && d.seqs[n] < start {
		n++
	}
	if n > 0 {
		d.seqs = d.seqs[n:]
	}
}

func (d *maxDeque) max(w *window) float64 {
	if len(d.seqs) == 0 {
		return 0
	}
	return w.at(d.seqs[0]).qty
}
