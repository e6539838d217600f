package metrics

import (
	"math"

	"depthflow/models"
	"depthflow/orderbook"
	"depthflow/rolling"
)

// slopeDepth is the number of levels per side used by the slope metrics.
const slopeDepth = 5

// State is the per-instrument view the calculator reads from.
type State interface {
	OrderBook() *orderbook.OrderBook
	LastTrade() (models.TradeEntry, bool)
	Trades() *rolling.TradeStatistics
	Depth() *rolling.DepthStatistics
	LastTimestampOfReceive() int64
	Instrument() (models.Symbol, models.Market)
}

// Calculate computes the variables selected by mask. It returns false while
// the state is warming up: fewer than two levels on a side or no trade yet.
func Calculate(s State, mask Mask) (Entry, bool) {
	book := s.OrderBook()
	trade, ok := s.LastTrade()
	if !ok || book.AskCount() < 2 || book.BidCount() < 2 {
		return Entry{}, false
	}

	e := Entry{
		TimestampOfReceive: s.LastTimestampOfReceive(),
		IsAggressorAsk:     trade.IsBuyerMarketMaker,
		Mask:               mask,
	}
	e.Symbol, e.Market = s.Instrument()

	c := calc{e: &e, mask: mask, book: book}
	c.prices(trade)
	c.totals()
	c.depthVolumes(trade)
	c.deltas()
	c.flows()
	c.vwap()
	c.slopes()
	c.indicators(s.Trades())
	c.horizons(s.Trades(), s.Depth())
	return e, true
}

type calc struct {
	e    *Entry
	mask Mask
	book *orderbook.OrderBook
}

func (c *calc) put(m Metric, v float64) {
	if c.mask.Has(m) {
		c.e.set(m, v)
	}
}

func (c *calc) mid() float64 {
	return (c.book.BestAskPrice() + c.book.BestBidPrice()) / 2
}

func (c *calc) prices(trade models.TradeEntry) {
	b := c.book
	ask, bid := b.BestAskPrice(), b.BestBidPrice()
	askQty, bidQty := b.BestAskQuantity(), b.BestBidQuantity()
	mid := (ask + bid) / 2

	c.put(BestAskPrice, ask)
	c.put(BestBidPrice, bid)
	c.put(BestAskQuantity, askQty)
	c.put(BestBidQuantity, bidQty)
	c.put(SecondAskPrice, b.SecondAskPrice())
	c.put(SecondBidPrice, b.SecondBidPrice())
	c.put(MidPrice, mid)
	if c.mask.HasAny(MicroPrice, MicroPriceDeviation, MicroPriceLogRatio, MicroPriceFisherImbalance) {
		micro := ratio(ask*bidQty+bid*askQty, askQty+bidQty)
		c.put(MicroPrice, micro)
		c.put(MicroPriceDeviation, micro-mid)
		c.put(MicroPriceLogRatio, logRatio(micro, mid))
		c.put(MicroPriceFisherImbalance, fisher(ratio(micro-mid, (ask-bid)/2)))
	}
	c.put(Spread, ask-bid)
	c.put(RelativeSpread, ratio(ask-bid, mid))
	c.put(Gap, (b.SecondBidPrice()+b.SecondAskPrice())-(bid+ask))
	c.put(LastTradePrice, trade.Price)
	c.put(LastTradeQuantity, trade.Quantity)
}

func (c *calc) totals() {
	b := c.book
	askCount, bidCount := float64(b.AskCount()), float64(b.BidCount())
	sumAsk, sumBid := b.SumAskQuantity(), b.SumBidQuantity()

	c.put(AskCount, askCount)
	c.put(BidCount, bidCount)
	c.put(SumAskQuantity, sumAsk)
	c.put(SumBidQuantity, sumBid)
	c.put(QueueImbalance, imbalance(bidCount, askCount))
	c.put(QueueDiff, diff(bidCount, askCount))
	c.put(QueueLogRatio, logRatio(bidCount, askCount))
	c.put(QueueLogRatioXVolume, logRatio(bidCount, askCount)*(sumBid+sumAsk))
	c.put(VolumeImbalance, imbalance(sumBid, sumAsk))
	c.put(VolumeDiff, diff(sumBid, sumAsk))
	c.put(VolumeLogRatio, logRatio(sumBid, sumAsk))
	c.put(VolumeLogRatioXVolume, logRatio(sumBid, sumAsk)*(sumBid+sumAsk))
}

func (c *calc) depthVolumes(trade models.TradeEntry) {
	for i, n := range Depths {
		imb := BestVolumeImbalance + Metric(3*i)
		if !c.mask.HasAny(imb, imb+1, imb+2) {
			continue
		}
		bid := c.book.CumulativeQuantityOfTopNBids(n)
		ask := c.book.CumulativeQuantityOfTopNAsks(n)
		c.put(imb, imbalance(bid, ask))
		c.put(imb+1, diff(bid, ask))
		c.put(imb+2, logRatio(bid, ask))
	}

	b := c.book
	bidQty, askQty := b.BestBidQuantity(), b.BestAskQuantity()
	c.put(BestVolumeFisherImbalance, fisher(imbalance(bidQty, askQty)))
	c.put(BestVolumeSignedLogRatioXVolume, aggressorSign(trade)*logRatio(bidQty, askQty)*(bidQty+askQty))
	c.depthLogRatioXVolume(BestFiveVolumeLogRatioXVolume, 5)
	c.depthLogRatioXVolume(BestFiftyVolumeLogRatioXVolume, 50)
}

func (c *calc) depthLogRatioXVolume(m Metric, n int) {
	if !c.mask.Has(m) {
		return
	}
	bid := c.book.CumulativeQuantityOfTopNBids(n)
	ask := c.book.CumulativeQuantityOfTopNAsks(n)
	c.put(m, logRatio(bid, ask)*(bid+ask))
}

// aggressorSign is +1 for a taker buy and -1 for a taker sell.
func aggressorSign(t models.TradeEntry) float64 {
	if t.IsBuyerMarketMaker {
		return -1
	}
	return 1
}

func (c *calc) deltas() {
	d := c.book.LastDelta()
	c.put(DeltaBestAskPrice, d.BestAskPrice)
	c.put(DeltaBestBidPrice, d.BestBidPrice)
	c.put(DeltaBestAskQuantity, d.BestAskQuantity)
	c.put(DeltaBestBidQuantity, d.BestBidQuantity)
	c.put(DeltaAskCount, float64(d.AskCount))
	c.put(DeltaBidCount, float64(d.BidCount))
	c.put(DeltaSumAskQuantity, d.SumAskQuantity)
	c.put(DeltaSumBidQuantity, d.SumBidQuantity)
}

// flows compare what the last applied update added to the bid side with what
// it added to the ask side.
func (c *calc) flows() {
	d := c.book.LastDelta()
	c.flow(OrderFlowDiff, d.SumBidQuantity, d.SumAskQuantity)
	c.flow(BestOrderFlowDiff, d.BestBidQuantity, d.BestAskQuantity)
	c.flow(QueueCountFlowDiff, float64(d.BidCount), float64(d.AskCount))
	if c.mask.HasAny(BestOrderFlowCKSDiff, BestOrderFlowCKSImbalance, BestOrderFlowCKSFisherImbalance) {
		bid, ask := c.cksFlow(d)
		c.flow(BestOrderFlowCKSDiff, bid, ask)
	}
}

// flow fills a Diff, Imbalance, FisherImbalance triple starting at m.
func (c *calc) flow(m Metric, bid, ask float64) {
	imb := signedImbalance(bid, ask)
	c.put(m, diff(bid, ask))
	c.put(m+1, imb)
	c.put(m+2, fisher(imb))
}

// cksFlow is the best level order flow of Cont, Kukanov and Stoikov. A side
// whose best price improved contributes its new quantity, an unchanged price
// contributes the quantity change and a worse price removes the old quantity.
func (c *calc) cksFlow(d orderbook.Delta) (bid, ask float64) {
	b := c.book
	bidQty, askQty := b.BestBidQuantity(), b.BestAskQuantity()
	prevBidQty := bidQty - d.BestBidQuantity
	prevAskQty := askQty - d.BestAskQuantity
	prevAsk := b.BestAskPrice() - d.BestAskPrice

	switch {
	case d.BestBidPrice > 0:
		bid = bidQty
	case d.BestBidPrice == 0:
		bid = d.BestBidQuantity
	default:
		bid = -prevBidQty
	}
	switch {
	case d.BestAskPrice < 0 || prevAsk == 0:
		ask = askQty
	case d.BestAskPrice == 0:
		ask = d.BestAskQuantity
	default:
		ask = -prevAskQty
	}
	return bid, ask
}

func (c *calc) vwap() {
	if !c.mask.HasAny(VWAP, VWAPDeviation, VWAPLogRatio) {
		return
	}
	b := c.book
	askPQ, bidPQ := b.SumAskPriceTimesQuantity(), b.SumBidPriceTimesQuantity()
	total := askPQ + bidPQ
	c.put(VWAP, ratio(total, b.SumTotalAskBidQuantity()))
	c.put(VWAPDeviation, ratio(bidPQ-askPQ, total))
	c.put(VWAPLogRatio, logRatio(bidPQ, askPQ))
}

func (c *calc) slopes() {
	if c.mask.HasAny(SimplifiedSlopeImbalance, SimplifiedSlopeDiff, SimplifiedSlopeLogRatio) {
		c.slopeTriple(SimplifiedSlopeImbalance, c.simplifiedSlope)
	}
	if c.mask.HasAny(CKSSlopeImbalance, CKSSlopeDiff, CKSSlopeLogRatio) {
		c.slopeTriple(CKSSlopeImbalance, c.cksSlope)
	}
}

// slopeTriple fills an Imbalance, Diff, LogRatio triple starting at m.
func (c *calc) slopeTriple(m Metric, slope func() (bid, ask float64)) {
	bid, ask := slope()
	c.put(m, imbalance(bid, ask))
	c.put(m+1, diff(bid, ask))
	c.put(m+2, logRatio(bid, ask))
}

// simplifiedSlope is the quantity needed to move each side by the distance
// between the mid price and its 5th level (or deepest level).
func (c *calc) simplifiedSlope() (float64, float64) {
	b := c.book
	mid := c.mid()

	nb := min(slopeDepth, b.BidCount())
	na := min(slopeDepth, b.AskCount())
	bidSlope := ratio(b.CumulativeQuantityOfTopNBids(nb), mid-b.NthBidPrice(nb-1))
	askSlope := ratio(b.CumulativeQuantityOfTopNAsks(na), b.NthAskPrice(na-1)-mid)
	return bidSlope, askSlope
}

// cksSlope averages the cumulative quantity per unit of distance from the
// mid price over the top levels of each side.
func (c *calc) cksSlope() (float64, float64) {
	mid := c.mid()
	return levelSlope(c.book.TopBids, mid), levelSlope(c.book.TopAsks, mid)
}

func levelSlope(top func(int, func(int, orderbook.PriceLevel) bool), mid float64) float64 {
	n := 0
	cum, sum := 0.0, 0.0
	top(slopeDepth, func(_ int, l orderbook.PriceLevel) bool {
		n++
		cum += l.Quantity
		sum += ratio(cum, math.Abs(l.Price-mid))
		return true
	})
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (c *calc) indicators(ts *rolling.TradeStatistics) {
	if c.mask.Has(RSI5Seconds) {
		c.put(RSI5Seconds, ts.RSI())
	}
	if c.mask.Has(StochRSI5Seconds) {
		c.put(StochRSI5Seconds, ts.StochRSI())
	}
	if c.mask.Has(MACD2Seconds) {
		c.put(MACD2Seconds, ts.MACD())
	}
}

func (c *calc) horizons(ts *rolling.TradeStatistics, ds *rolling.DepthStatistics) {
	for h := 0; h < rolling.HorizonCount; h++ {
		if c.mask.HasAny(horizonTradeMetrics(h)...) {
			c.tradeHorizon(h, ts.Window(h))
		}
		if c.mask.HasAny(horizonDepthMetrics(h)...) {
			c.depthHorizon(h, ds.Window(h))
		}
	}
}

var tradeFamilies = []Family{
	TradeCount, TradeCountDiff, TradeCountImbalance, TradeCountLogRatio, TradeCountFisher,
	CumulativeDelta, TradeVolumeImbalance, TradeVolumeLogRatio, TradeVolumeFisher,
	PriceDifference, RateOfReturn, LogReturn, LogKylesLambda,
	AverageTradeSizeDiff, AverageTradeSizeImbalance, AverageTradeSizeLogRatio,
	BiggestTradeImbalance, BiggestSingleBuyTradeVolume, BiggestSingleSellTradeVolume,
	SimpleMovingAverage,
}

var depthFamilies = []Family{
	DifferenceDepthCount, DifferenceDepthCountDiff, DifferenceDepthVolatilityImbalance,
	DifferenceDepthCountLogRatio, DifferenceDepthCountFisher,
	DifferenceDepthCountLogRatioXEventCount,
}

var (
	tradeByHorizon [rolling.HorizonCount][]Metric
	depthByHorizon [rolling.HorizonCount][]Metric
)

func init() {
	for h := 0; h < rolling.HorizonCount; h++ {
		for _, f := range tradeFamilies {
			tradeByHorizon[h] = append(tradeByHorizon[h], HorizonMetric(f, h))
		}
		for _, f := range depthFamilies {
			depthByHorizon[h] = append(depthByHorizon[h], HorizonMetric(f, h))
		}
	}
}

func horizonTradeMetrics(h int) []Metric { return tradeByHorizon[h] }
func horizonDepthMetrics(h int) []Metric { return depthByHorizon[h] }

func (c *calc) tradeHorizon(h int, w rolling.TradeWindow) {
	buys, sells := float64(w.BuyCount), float64(w.SellCount)
	countImb := imbalance(buys, sells)
	volImb := imbalance(w.BuyVolume, w.SellVolume)
	buyAvg := ratio(w.BuyVolume, buys)
	sellAvg := ratio(w.SellVolume, sells)
	netVolume := diff(w.BuyVolume, w.SellVolume)

	c.put(HorizonMetric(TradeCount, h), buys+sells)
	c.put(HorizonMetric(TradeCountDiff, h), diff(buys, sells))
	c.put(HorizonMetric(TradeCountImbalance, h), countImb)
	c.put(HorizonMetric(TradeCountLogRatio, h), logRatio(buys, sells))
	c.put(HorizonMetric(TradeCountFisher, h), fisher(countImb))
	c.put(HorizonMetric(CumulativeDelta, h), netVolume)
	c.put(HorizonMetric(TradeVolumeImbalance, h), volImb)
	c.put(HorizonMetric(TradeVolumeLogRatio, h), logRatio(w.BuyVolume, w.SellVolume))
	c.put(HorizonMetric(TradeVolumeFisher, h), fisher(volImb))
	if w.HasStart {
		priceDiff := w.PriceDifference()
		c.put(HorizonMetric(PriceDifference, h), priceDiff)
		c.put(HorizonMetric(RateOfReturn, h), ratio(priceDiff, w.StartPrice))
		c.put(HorizonMetric(LogReturn, h), logRatio(w.LastPrice, w.StartPrice))
		c.put(HorizonMetric(LogKylesLambda, h), logRatio(math.Abs(priceDiff), math.Abs(netVolume)))
	}
	c.put(HorizonMetric(AverageTradeSizeDiff, h), diff(buyAvg, sellAvg))
	c.put(HorizonMetric(AverageTradeSizeImbalance, h), imbalance(buyAvg, sellAvg))
	c.put(HorizonMetric(AverageTradeSizeLogRatio, h), logRatio(buyAvg, sellAvg))
	c.put(HorizonMetric(BiggestTradeImbalance, h), imbalance(w.BiggestBuy, w.BiggestSell))
	c.put(HorizonMetric(BiggestSingleBuyTradeVolume, h), w.BiggestBuy)
	c.put(HorizonMetric(BiggestSingleSellTradeVolume, h), w.BiggestSell)
	c.put(HorizonMetric(SimpleMovingAverage, h), w.AveragePrice)
}

func (c *calc) depthHorizon(h int, w rolling.DepthWindow) {
	bids, asks := float64(w.BidUpdates), float64(w.AskUpdates)
	imb := imbalance(bids, asks)

	c.put(HorizonMetric(DifferenceDepthCount, h), bids+asks)
	c.put(HorizonMetric(DifferenceDepthCountDiff, h), diff(bids, asks))
	c.put(HorizonMetric(DifferenceDepthVolatilityImbalance, h), imb)
	c.put(HorizonMetric(DifferenceDepthCountLogRatio, h), logRatio(bids, asks))
	c.put(HorizonMetric(DifferenceDepthCountFisher, h), fisher(imb))
	c.put(HorizonMetric(DifferenceDepthCountLogRatioXEventCount, h), logRatio(bids, asks)*(bids+asks))
}
