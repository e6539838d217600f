package market

import (
	"depthflow/metrics"
	"depthflow/models"
	"depthflow/orderbook"
	"depthflow/rolling"
)

// MarketState is the live view of one instrument: its order book, the last
// trade and the rolling trade and depth statistics. It is not safe for
// concurrent use; one goroutine owns each instrument.
type MarketState struct {
	symbol models.Symbol
	market models.Market

	book      *orderbook.OrderBook
	lastTrade models.TradeEntry
	hasTrade  bool
	trades    *rolling.TradeStatistics
	depth     *rolling.DepthStatistics

	lastTimestampOfReceive int64
}

func NewMarketState(symbol models.Symbol, market models.Market) *MarketState {
	return &MarketState{
		symbol: symbol,
		market: market,
		book:   orderbook.New(),
		trades: rolling.NewTradeStatistics(),
		depth:  rolling.NewDepthStatistics(),
	}
}

// Update applies one row. Timestamps are not checked for monotonicity.
func (s *MarketState) Update(e models.Entry) {
	switch v := e.(type) {
	case models.DepthEntry:
		s.updateDepth(v)
	case *models.DepthEntry:
		s.updateDepth(*v)
	case models.TradeEntry:
		s.updateTrade(v)
	case *models.TradeEntry:
		s.updateTrade(*v)
	}
}

func (s *MarketState) updateDepth(e models.DepthEntry) {
	s.book.Update(e)
	s.lastTimestampOfReceive = e.TimestampOfReceive
	s.depth.Update(e)
	s.trades.Advance(e.TimestampOfReceive)
}

func (s *MarketState) updateTrade(e models.TradeEntry) {
	s.lastTrade = e
	s.hasTrade = true
	s.lastTimestampOfReceive = e.TimestampOfReceive
	s.trades.Update(e)
	s.depth.Advance(e.TimestampOfReceive)
}

// CountMarketStateMetrics computes the masked variables, false while the
// instrument is still warming up.
func (s *MarketState) CountMarketStateMetrics(mask metrics.Mask) (metrics.Entry, bool) {
	return metrics.Calculate(s, mask)
}

func (s *MarketState) OrderBook() *orderbook.OrderBook { return s.book }

func (s *MarketState) LastTrade() (models.TradeEntry, bool) { return s.lastTrade, s.hasTrade }

func (s *MarketState) Trades() *rolling.TradeStatistics { return s.trades }

func (s *MarketState) Depth() *rolling.DepthStatistics { return s.depth }

func (s *MarketState) LastTimestampOfReceive() int64 { return s.lastTimestampOfReceive }

func (s *MarketState) Instrument() (models.Symbol, models.Market) { return s.symbol, s.market }
