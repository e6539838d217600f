package rolling

import "depthflow/models"

// Bucket widths of the technical indicators, in seconds.
const (
	RSIBucketSeconds  = 5
	MACDBucketSeconds = 2
)

// TradeWindow is the trade-side view of one horizon.
type TradeWindow struct {
	BuyCount   int
	SellCount  int
	BuyVolume  float64
	SellVolume float64
	// BiggestBuy and BiggestSell are the largest single trade quantities.
	BiggestBuy  float64
	BiggestSell float64
	// StartPrice is the price of the newest trade that has left the horizon.
	// HasStart is false until one has, and StartPrice is then 0.
	StartPrice float64
	HasStart   bool
	// LastPrice is the most recent trade price.
	LastPrice float64
	// AveragePrice is the mean trade price inside the horizon.
	AveragePrice float64
}

// PriceDifference is LastPrice - StartPrice, or 0 while the history is
// shorter than the horizon.
func (w TradeWindow) PriceDifference() float64 {
	if !w.HasStart {
		return 0
	}
	return w.LastPrice - w.StartPrice
}

// TradeStatistics maintains trade aggregates for every horizon plus the
// bucketed price series behind RSI, StochRSI and MACD.
type TradeStatistics struct {
	w         *window
	lastPrice float64
	hasTrade  bool

	rsiSeries  *bucketSeries
	macdSeries *bucketSeries
}

func NewTradeStatistics() *TradeStatistics {
	return &TradeStatistics{
		w:          newWindow(true),
		rsiSeries:  newBucketSeries(RSIBucketSeconds),
		macdSeries: newBucketSeries(MACDBucketSeconds),
	}
}

// Update records a trade. The buy side is the taker buy
// (IsBuyerMarketMaker == false).
func (s *TradeStatistics) Update(e models.TradeEntry) {
	side := sideA
	if e.IsBuyerMarketMaker {
		side = sideB
	}
	s.w.push(sample{ts: e.TimestampOfReceive, side: side, qty: e.Quantity, price: e.Price})
	s.lastPrice = e.Price
	s.hasTrade = true
	s.rsiSeries.add(e.TimestampOfReceive, e.Price)
	s.macdSeries.add(e.TimestampOfReceive, e.Price)
}

// Advance moves the clock to ts, evicting trades that fell out of every
// horizon.
func (s *TradeStatistics) Advance(ts int64) { s.w.advance(ts) }

// Window returns the aggregates of Horizons[i].
func (s *TradeStatistics) Window(i int) TradeWindow {
	a := s.w.aggregate(i)
	tw := TradeWindow{
		BuyCount:    a.Count[sideA],
		SellCount:   a.Count[sideB],
		BuyVolume:   a.Volume[sideA],
		SellVolume:  a.Volume[sideB],
		BiggestBuy:  a.Max[sideA],
		BiggestSell: a.Max[sideB],
		LastPrice:   s.lastPrice,
	}
	if n := a.Samples(); n > 0 {
		tw.AveragePrice = a.PriceSum / float64(n)
	}
	if a.HasStart {
		tw.StartPrice, tw.HasStart = a.StartPrice, true
	}
	return tw
}

func (s *TradeStatistics) LastTradePrice() float64 { return s.lastPrice }
func (s *TradeStatistics) HasTrade() bool          { return s.hasTrade }

// RSI is the 14 period Wilder RSI over 5 second buckets.
func (s *TradeStatistics) RSI() float64 { return s.rsiSeries.rsi() }

// StochRSI is the stochastic RSI over the last 14 RSI samples of 5 second
// buckets.
func (s *TradeStatistics) StochRSI() float64 { return s.rsiSeries.stochRSI() }

// MACD is SMA(24) - SMA(52) over 2 second buckets.
func (s *TradeStatistics) MACD() float64 { return s.macdSeries.macd() }
