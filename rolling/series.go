package rolling

const (
	rsiPeriods    = 14
	stochLookback = 14
	macdFast      = 24
	macdSlow      = 52
)

// maxGapFill bounds how many empty buckets are carried forward after a long
// silence. Beyond this the indicators are already fully flat.
const maxGapFill = macdSlow + rsiPeriods*4

// ring is a fixed capacity FIFO of float64 values.
type ring struct {
	buf  []float64
	next int
	full bool
}

func newRing(capacity int) *ring { return &ring{buf: make([]float64, capacity)} }

func (r *ring) push(v float64) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// newest returns the i-th most recent value, 0 being the latest.
func (r *ring) newest(i int) float64 {
	idx := r.next - 1 - i
	for idx < 0 {
		idx += len(r.buf)
	}
	return r.buf[idx]
}

// bucketSeries samples a price into fixed width time buckets. The close of a
// bucket is the last price seen in it and empty buckets repeat the previous
// close. The open bucket is included provisionally in every indicator.
type bucketSeries struct {
	width int64

	started bool
	bucket  int64
	close   float64

	hasPrev   bool
	prevClose float64

	diffs            int
	sumGain, sumLoss float64
	avgGain, avgLoss float64

	closes *ring // finalized closes, newest last
	rsis   *ring // RSI after each finalized bucket
}

func newBucketSeries(widthSeconds int64) *bucketSeries {
	return &bucketSeries{
		width:  widthSeconds * microsPerSecond,
		closes: newRing(macdSlow - 1),
		rsis:   newRing(stochLookback - 1),
	}
}

func (s *bucketSeries) add(ts int64, price float64) {
	b := ts / s.width
	if !s.started {
		s.started = true
		s.bucket = b
		s.close = price
		return
	}
	if b <= s.bucket {
		s.close = price
		return
	}

	s.finalize(s.close)
	gaps := b - s.bucket - 1
	if gaps > maxGapFill {
		gaps = maxGapFill
	}
	for i := int64(0); i < gaps; i++ {
		s.finalize(s.close)
	}
	s.bucket = b
	s.close = price
}

func (s *bucketSeries) finalize(c float64) {
	if s.hasPrev {
		s.applyDiff(c - s.prevClose)
	}
	s.hasPrev = true
	s.prevClose = c
	s.closes.push(c)
	g, l := s.finalAverages()
	s.rsis.push(rsiValue(g, l))
}

// applyDiff folds one finalized bucket change into Wilder's averages. The
// first rsiPeriods changes seed the averages with a simple mean.
func (s *bucketSeries) applyDiff(d float64) {
	g, l := gainLoss(d)
	s.diffs++
	if s.diffs <= rsiPeriods {
		s.sumGain += g
		s.sumLoss += l
		if s.diffs == rsiPeriods {
			s.avgGain = s.sumGain / rsiPeriods
			s.avgLoss = s.sumLoss / rsiPeriods
		}
		return
	}
	s.avgGain = (s.avgGain*(rsiPeriods-1) + g) / rsiPeriods
	s.avgLoss = (s.avgLoss*(rsiPeriods-1) + l) / rsiPeriods
}

func (s *bucketSeries) finalAverages() (float64, float64) {
	switch {
	case s.diffs == 0:
		return 0, 0
	case s.diffs < rsiPeriods:
		n := float64(s.diffs)
		return s.sumGain / n, s.sumLoss / n
	default:
		return s.avgGain, s.avgLoss
	}
}

func gainLoss(d float64) (float64, float64) {
	if d > 0 {
		return d, 0
	}
	return 0, -d
}

// rsiValue maps average gain and loss to the 0..100 scale. A flat series is
// neutral (50) and a series without losses is 100.
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgGain == 0 && avgLoss == 0 {
		return 50
	}
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// rsi is the RSI including the open bucket.
func (s *bucketSeries) rsi() float64 {
	if !s.hasPrev {
		return 50
	}
	g, l := gainLoss(s.close - s.prevClose)
	n := s.diffs + 1
	if n <= rsiPeriods {
		fn := float64(n)
		return rsiValue((s.sumGain+g)/fn, (s.sumLoss+l)/fn)
	}
	return rsiValue(
		(s.avgGain*(rsiPeriods-1)+g)/rsiPeriods,
		(s.avgLoss*(rsiPeriods-1)+l)/rsiPeriods,
	)
}

// stochRSI positions the current RSI within the range of the last
// stochLookback RSI samples. A zero range yields 0.
func (s *bucketSeries) stochRSI() float64 {
	if !s.started {
		return 0
	}
	cur := s.rsi()
	lo, hi := cur, cur
	for i := 0; i < s.rsis.len(); i++ {
		v := s.rsis.newest(i)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return 0
	}
	return (cur - lo) / (hi - lo)
}

// macd is SMA(fast) - SMA(slow) of bucket closes, open bucket included. With
// fewer closes than a window the available ones are averaged.
func (s *bucketSeries) macd() float64 {
	if !s.started {
		return 0
	}
	return s.sma(macdFast) - s.sma(macdSlow)
}

func (s *bucketSeries) sma(n int) float64 {
	avail := s.closes.len() + 1
	if n > avail {
		n = avail
	}
	sum := s.close
	for i := 0; i < n-1; i++ {
		sum += s.closes.newest(i)
	}
	return sum / float64(n)
}
