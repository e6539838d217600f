package metrics

import (
	"strconv"

	"depthflow/rolling"
)

// Metric is the bit position of a catalog variable.
type Metric uint16

// Book, trade and indicator metrics. Horizon metrics follow horizonBase and
// are addressed with HorizonMetric.
const (
	TimestampOfReceive Metric = iota
	MarketField
	SymbolField

	BestAskPrice
	BestBidPrice
	BestAskQuantity
	BestBidQuantity
	SecondAskPrice
	SecondBidPrice
	MidPrice
	MicroPrice
	MicroPriceDeviation
	MicroPriceLogRatio
	MicroPriceFisherImbalance
	Spread
	RelativeSpread
	Gap
	IsAggressorAsk
	LastTradePrice
	LastTradeQuantity

	AskCount
	BidCount
	SumAskQuantity
	SumBidQuantity

	QueueImbalance
	QueueDiff
	QueueLogRatio
	QueueLogRatioXVolume
	VolumeImbalance
	VolumeDiff
	VolumeLogRatio
	VolumeLogRatioXVolume

	// depth limited volume, one triple per entry of Depths
	BestVolumeImbalance
	BestVolumeDiff
	BestVolumeLogRatio
	BestTwoVolumeImbalance
	BestTwoVolumeDiff
	BestTwoVolumeLogRatio
	BestThreeVolumeImbalance
	BestThreeVolumeDiff
	BestThreeVolumeLogRatio
	BestFiveVolumeImbalance
	BestFiveVolumeDiff
	BestFiveVolumeLogRatio
	BestTenVolumeImbalance
	BestTenVolumeDiff
	BestTenVolumeLogRatio
	BestFifteenVolumeImbalance
	BestFifteenVolumeDiff
	BestFifteenVolumeLogRatio
	BestTwentyVolumeImbalance
	BestTwentyVolumeDiff
	BestTwentyVolumeLogRatio
	BestThirtyVolumeImbalance
	BestThirtyVolumeDiff
	BestThirtyVolumeLogRatio
	BestFiftyVolumeImbalance
	BestFiftyVolumeDiff
	BestFiftyVolumeLogRatio

	BestVolumeFisherImbalance
	BestVolumeSignedLogRatioXVolume
	BestFiveVolumeLogRatioXVolume
	BestFiftyVolumeLogRatioXVolume

	DeltaBestAskPrice
	DeltaBestBidPrice
	DeltaBestAskQuantity
	DeltaBestBidQuantity
	DeltaAskCount
	DeltaBidCount
	DeltaSumAskQuantity
	DeltaSumBidQuantity

	// flows of the last applied update, bid minus ask
	OrderFlowDiff
	OrderFlowImbalance
	OrderFlowFisherImbalance
	BestOrderFlowDiff
	BestOrderFlowImbalance
	BestOrderFlowFisherImbalance
	BestOrderFlowCKSDiff
	BestOrderFlowCKSImbalance
	BestOrderFlowCKSFisherImbalance
	QueueCountFlowDiff
	QueueCountFlowImbalance
	QueueCountFlowFisherImbalance

	VWAP
	VWAPDeviation
	VWAPLogRatio

	SimplifiedSlopeImbalance
	SimplifiedSlopeDiff
	SimplifiedSlopeLogRatio
	CKSSlopeImbalance
	CKSSlopeDiff
	CKSSlopeLogRatio

	RSI5Seconds
	StochRSI5Seconds
	MACD2Seconds

	horizonBase
)

// Depths are the book depths of the depth limited volume family, in the
// order their triples appear above.
var Depths = [...]int{1, 2, 3, 5, 10, 15, 20, 30, 50}

// Family is a per-horizon metric family.
type Family uint8

const (
	TradeCount Family = iota
	TradeCountDiff
	TradeCountImbalance
	TradeCountLogRatio
	TradeCountFisher
	CumulativeDelta
	TradeVolumeImbalance
	TradeVolumeLogRatio
	TradeVolumeFisher
	PriceDifference
	RateOfReturn
	LogReturn
	DifferenceDepthCountDiff
	DifferenceDepthVolatilityImbalance
	DifferenceDepthCountLogRatio
	DifferenceDepthCountFisher
	AverageTradeSizeDiff
	AverageTradeSizeImbalance
	AverageTradeSizeLogRatio
	BiggestTradeImbalance
	BiggestSingleBuyTradeVolume
	BiggestSingleSellTradeVolume
	LogKylesLambda
	DifferenceDepthCount
	DifferenceDepthCountLogRatioXEventCount
	SimpleMovingAverage
	familyCount
)

// Count is the number of catalog variables.
const Count = int(horizonBase) + int(familyCount)*rolling.HorizonCount

// HorizonMetric returns the metric of family f at rolling.Horizons[h].
func HorizonMetric(f Family, h int) Metric {
	return horizonBase + Metric(int(f)*rolling.HorizonCount+h)
}

// Kind is the value type of a metric column.
type Kind uint8

const (
	KindFloat Kind = iota
	KindInt
	KindString
	KindBool
)

var bookNames = [horizonBase]string{
	TimestampOfReceive: "timestampOfReceive",
	MarketField:        "market",
	SymbolField:        "symbol",

	BestAskPrice:              "bestAskPrice",
	BestBidPrice:              "bestBidPrice",
	BestAskQuantity:           "bestAskQuantity",
	BestBidQuantity:           "bestBidQuantity",
	SecondAskPrice:            "secondAskPrice",
	SecondBidPrice:            "secondBidPrice",
	MidPrice:                  "midPrice",
	MicroPrice:                "microPrice",
	MicroPriceDeviation:       "microPriceDeviation",
	MicroPriceLogRatio:        "microPriceLogRatio",
	MicroPriceFisherImbalance: "microPriceFisherImbalance",
	Spread:                    "spread",
	RelativeSpread:            "relativeSpread",
	Gap:                       "gap",
	IsAggressorAsk:            "isAggressorAsk",
	LastTradePrice:            "lastTradePrice",
	LastTradeQuantity:         "lastTradeQuantity",

	AskCount:       "askCount",
	BidCount:       "bidCount",
	SumAskQuantity: "sumAskQuantity",
	SumBidQuantity: "sumBidQuantity",

	QueueImbalance:        "queueImbalance",
	QueueDiff:             "queueDiff",
	QueueLogRatio:         "queueLogRatio",
	QueueLogRatioXVolume:  "queueLogRatioXVolume",
	VolumeImbalance:       "volumeImbalance",
	VolumeDiff:            "volumeDiff",
	VolumeLogRatio:        "volumeLogRatio",
	VolumeLogRatioXVolume: "volumeLogRatioXVolume",

	BestVolumeImbalance:        "bestVolumeImbalance",
	BestVolumeDiff:             "bestVolumeDiff",
	BestVolumeLogRatio:         "bestVolumeLogRatio",
	BestTwoVolumeImbalance:     "bestTwoVolumeImbalance",
	BestTwoVolumeDiff:          "bestTwoVolumeDiff",
	BestTwoVolumeLogRatio:      "bestTwoVolumeLogRatio",
	BestThreeVolumeImbalance:   "bestThreeVolumeImbalance",
	BestThreeVolumeDiff:        "bestThreeVolumeDiff",
	BestThreeVolumeLogRatio:    "bestThreeVolumeLogRatio",
	BestFiveVolumeImbalance:    "bestFiveVolumeImbalance",
	BestFiveVolumeDiff:         "bestFiveVolumeDiff",
	BestFiveVolumeLogRatio:     "bestFiveVolumeLogRatio",
	BestTenVolumeImbalance:     "bestTenVolumeImbalance",
	BestTenVolumeDiff:          "bestTenVolumeDiff",
	BestTenVolumeLogRatio:      "bestTenVolumeLogRatio",
	BestFifteenVolumeImbalance: "bestFifteenVolumeImbalance",
	BestFifteenVolumeDiff:      "bestFifteenVolumeDiff",
	BestFifteenVolumeLogRatio:  "bestFifteenVolumeLogRatio",
	BestTwentyVolumeImbalance:  "bestTwentyVolumeImbalance",
	BestTwentyVolumeDiff:       "bestTwentyVolumeDiff",
	BestTwentyVolumeLogRatio:   "bestTwentyVolumeLogRatio",
	BestThirtyVolumeImbalance:  "bestThirtyVolumeImbalance",
	BestThirtyVolumeDiff:       "bestThirtyVolumeDiff",
	BestThirtyVolumeLogRatio:   "bestThirtyVolumeLogRatio",
	BestFiftyVolumeImbalance:   "bestFiftyVolumeImbalance",
	BestFiftyVolumeDiff:        "bestFiftyVolumeDiff",
	BestFiftyVolumeLogRatio:    "bestFiftyVolumeLogRatio",

	BestVolumeFisherImbalance:       "bestVolumeFisherImbalance",
	BestVolumeSignedLogRatioXVolume: "bestVolumeSignedLogRatioXVolume",
	BestFiveVolumeLogRatioXVolume:   "bestFiveVolumeLogRatioXVolume",
	BestFiftyVolumeLogRatioXVolume:  "bestFiftyVolumeLogRatioXVolume",

	DeltaBestAskPrice:    "deltaBestAskPrice",
	DeltaBestBidPrice:    "deltaBestBidPrice",
	DeltaBestAskQuantity: "deltaBestAskQuantity",
	DeltaBestBidQuantity: "deltaBestBidQuantity",
	DeltaAskCount:        "deltaAskCount",
	DeltaBidCount:        "deltaBidCount",
	DeltaSumAskQuantity:  "deltaSumAskQuantity",
	DeltaSumBidQuantity:  "deltaSumBidQuantity",

	OrderFlowDiff:                   "orderFlowDiff",
	OrderFlowImbalance:              "orderFlowImbalance",
	OrderFlowFisherImbalance:        "orderFlowFisherImbalance",
	BestOrderFlowDiff:               "bestOrderFlowDiff",
	BestOrderFlowImbalance:          "bestOrderFlowImbalance",
	BestOrderFlowFisherImbalance:    "bestOrderFlowFisherImbalance",
	BestOrderFlowCKSDiff:            "bestOrderFlowCKSDiff",
	BestOrderFlowCKSImbalance:       "bestOrderFlowCKSImbalance",
	BestOrderFlowCKSFisherImbalance: "bestOrderFlowCKSFisherImbalance",
	QueueCountFlowDiff:              "queueCountFlowDiff",
	QueueCountFlowImbalance:         "queueCountFlowImbalance",
	QueueCountFlowFisherImbalance:   "queueCountFlowFisherImbalance",

	VWAP:          "vwap",
	VWAPDeviation: "vwapDeviation",
	VWAPLogRatio:  "vwapLogRatio",

	SimplifiedSlopeImbalance: "simplifiedSlopeImbalance",
	SimplifiedSlopeDiff:      "simplifiedSlopeDiff",
	SimplifiedSlopeLogRatio:  "simplifiedSlopeLogRatio",
	CKSSlopeImbalance:        "cksSlopeImbalance",
	CKSSlopeDiff:             "cksSlopeDiff",
	CKSSlopeLogRatio:         "cksSlopeLogRatio",

	RSI5Seconds:      "rsi5Seconds",
	StochRSI5Seconds: "stochRsi5Seconds",
	MACD2Seconds:     "macd2Seconds",
}

var familyPrefixes = [familyCount]string{
	TradeCount:                         "tradeCount",
	TradeCountDiff:                     "tradeCountDiff",
	TradeCountImbalance:                "tradeCountImbalance",
	TradeCountLogRatio:                 "tradeCountLogRatio",
	TradeCountFisher:                   "tradeCountFisher",
	CumulativeDelta:                    "cumulativeDelta",
	TradeVolumeImbalance:               "tradeVolumeImbalance",
	TradeVolumeLogRatio:                "tradeVolumeLogRatio",
	TradeVolumeFisher:                  "tradeVolumeFisher",
	PriceDifference:                    "priceDifference",
	RateOfReturn:                       "rateOfReturn",
	LogReturn:                          "logReturn",
	DifferenceDepthCountDiff:           "differenceDepthCountDiff",
	DifferenceDepthVolatilityImbalance: "differenceDepthVolatilityImbalance",
	DifferenceDepthCountLogRatio:       "differenceDepthCountLogRatio",
	DifferenceDepthCountFisher:         "differenceDepthCountFisher",
	AverageTradeSizeDiff:               "averageTradeSizeDiff",
	AverageTradeSizeImbalance:          "averageTradeSizeImbalance",
	AverageTradeSizeLogRatio:           "averageTradeSizeLogRatio",
	BiggestTradeImbalance:              "biggestTradeImbalance",
	BiggestSingleBuyTradeVolume:        "biggestSingleBuyTradeVolume",
	BiggestSingleSellTradeVolume:       "biggestSingleSellTradeVolume",
	LogKylesLambda:                     "logKylesLambda",
	DifferenceDepthCount:               "differenceDepthCount",
	SimpleMovingAverage:                "simpleMovingAverage",

	DifferenceDepthCountLogRatioXEventCount: "differenceDepthCountLogRatioXEventCount",
}

// Alternative names accepted by Lookup and ParseMask. They resolve to the
// metric of the same value and are never reported by Names.
var bookAliases = map[string]Metric{
	"bgcSlopeImbalance": CKSSlopeImbalance,
	"bgcSlopeDiff":      CKSSlopeDiff,
	"bgcSlopeLogRatio":  CKSSlopeLogRatio,
}

var familyAliases = map[string]Family{
	"tradeCountFisherImbalance":           TradeCountFisher,
	"tradeVolumeDiff":                     CumulativeDelta,
	"tradeVolumeFisherImbalance":          TradeVolumeFisher,
	"logReturnRatio":                      LogReturn,
	"differenceDepthCountImbalance":       DifferenceDepthVolatilityImbalance,
	"differenceDepthCountFisherImbalance": DifferenceDepthCountFisher,
	"avgTradeSizeDiff":                    AverageTradeSizeDiff,
	"avgTradeSizeImbalance":               AverageTradeSizeImbalance,
	"avgTradeSizeLogRatio":                AverageTradeSizeLogRatio,
}

var (
	names  [Count]string
	lookup map[string]Metric
)

func horizonName(prefix string, secs int64) string {
	return prefix + strconv.FormatInt(secs, 10) + "Seconds"
}

func init() {
	lookup = make(map[string]Metric, Count+len(bookAliases)+len(familyAliases)*rolling.HorizonCount)
	for m := Metric(0); m < horizonBase; m++ {
		names[m] = bookNames[m]
	}
	for f := Family(0); f < familyCount; f++ {
		for h, secs := range rolling.Horizons {
			names[HorizonMetric(f, h)] = horizonName(familyPrefixes[f], secs)
		}
	}
	for i, n := range names {
		lookup[n] = Metric(i)
	}
	for n, m := range bookAliases {
		lookup[n] = m
	}
	for prefix, f := range familyAliases {
		for h, secs := range rolling.Horizons {
			lookup[horizonName(prefix, secs)] = HorizonMetric(f, h)
		}
	}
}

func (m Metric) String() string {
	if int(m) >= Count {
		return "metric(" + strconv.Itoa(int(m)) + ")"
	}
	return names[m]
}

// Kind reports the column type of the metric.
func (m Metric) Kind() Kind {
	switch m {
	case TimestampOfReceive:
		return KindInt
	case MarketField, SymbolField:
		return KindString
	case IsAggressorAsk:
		return KindBool
	default:
		return KindFloat
	}
}

// Lookup resolves a catalog name or one of its alternative names.
func Lookup(name string) (Metric, bool) {
	m, ok := lookup[name]
	return m, ok
}

// Names lists every catalog name in bit order.
func Names() []string {
	out := make([]string, Count)
	copy(out, names[:])
	return out
}
