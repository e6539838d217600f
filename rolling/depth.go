package rolling

import "depthflow/models"

// DepthWindow counts difference depth rows per side inside one horizon.
type DepthWindow struct {
	BidUpdates int
	AskUpdates int
}

// DepthStatistics tracks how often each side of the book is touched.
type DepthStatistics struct {
	w *window
}

func NewDepthStatistics() *DepthStatistics {
	return &DepthStatistics{w: newWindow(false)}
}

func (s *DepthStatistics) Update(e models.DepthEntry) {
	side := sideA
	if e.IsAsk {
		side = sideB
	}
	s.w.push(sample{ts: e.TimestampOfReceive, side: side})
}

func (s *DepthStatistics) Advance(ts int64) { s.w.advance(ts) }

// Window returns the update counts of Horizons[i].
func (s *DepthStatistics) Window(i int) DepthWindow {
	a := s.w.aggregate(i)
	return DepthWindow{BidUpdates: a.Count[sideA], AskUpdates: a.Count[sideB]}
}
