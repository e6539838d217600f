package metrics

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"depthflow/models"
	"depthflow/orderbook"
	"depthflow/rolling"
)

type fakeState struct {
	book     *orderbook.OrderBook
	trade    models.TradeEntry
	hasTrade bool
	trades   *rolling.TradeStatistics
	depth    *rolling.DepthStatistics
	ts       int64
}

func newFakeState() *fakeState {
	return &fakeState{
		book:   orderbook.New(),
		trades: rolling.NewTradeStatistics(),
		depth:  rolling.NewDepthStatistics(),
	}
}

func (f *fakeState) OrderBook() *orderbook.OrderBook            { return f.book }
func (f *fakeState) LastTrade() (models.TradeEntry, bool)       { return f.trade, f.hasTrade }
func (f *fakeState) Trades() *rolling.TradeStatistics           { return f.trades }
func (f *fakeState) Depth() *rolling.DepthStatistics            { return f.depth }
func (f *fakeState) LastTimestampOfReceive() int64              { return f.ts }
func (f *fakeState) Instrument() (models.Symbol, models.Market) { return models.BTCUSDT, models.Spot }

func (f *fakeState) addTrade(tr models.TradeEntry) {
	f.trade, f.hasTrade = tr, true
	f.trades.Update(tr)
	f.ts = tr.TimestampOfReceive
}

func scenarioState() *fakeState {
	s := newFakeState()
	for _, l := range []orderbook.PriceLevel{{Price: 10, Quantity: 2}, {Price: 11, Quantity: 1}, {Price: 11.1, Quantity: 2}, {Price: 11.5, Quantity: 2}, {Price: 12, Quantity: 2}} {
		s.book.Apply(true, l.Price, l.Quantity)
	}
	for _, l := range []orderbook.PriceLevel{{Price: 9, Quantity: 1}, {Price: 8.1, Quantity: 2}, {Price: 7, Quantity: 2}, {Price: 6.5, Quantity: 2}, {Price: 5, Quantity: 2}} {
		s.book.Apply(false, l.Price, l.Quantity)
	}
	s.addTrade(models.TradeEntry{TimestampOfReceive: 1_000_000, Price: 9.5, Quantity: 1, IsBuyerMarketMaker: true})
	return s
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCatalogNames(t *testing.T) {
	if Count <= 128 {
		t.Fatalf("catalog has %d variables, expected a mask wider than two words", Count)
	}
	seen := make(map[string]bool, Count)
	for i, n := range Names() {
		if n == "" {
			t.Fatalf("metric %d has no name", i)
		}
		if seen[n] {
			t.Fatalf("duplicate name %q", n)
		}
		seen[n] = true
	}

	tests := []struct {
		m    Metric
		name string
	}{
		{TimestampOfReceive, "timestampOfReceive"},
		{MidPrice, "midPrice"},
		{BestFiftyVolumeLogRatio, "bestFiftyVolumeLogRatio"},
		{HorizonMetric(TradeCountDiff, 0), "tradeCountDiff1Seconds"},
		{HorizonMetric(DifferenceDepthVolatilityImbalance, 3), "differenceDepthVolatilityImbalance10Seconds"},
		{HorizonMetric(SimpleMovingAverage, rolling.HorizonCount-1), "simpleMovingAverage60Seconds"},
		{HorizonMetric(TradeCount, 2), "tradeCount5Seconds"},
		{HorizonMetric(LogKylesLambda, 6), "logKylesLambda60Seconds"},
		{HorizonMetric(DifferenceDepthCountLogRatioXEventCount, 0), "differenceDepthCountLogRatioXEventCount1Seconds"},
		{BestOrderFlowCKSFisherImbalance, "bestOrderFlowCKSFisherImbalance"},
		{BestVolumeSignedLogRatioXVolume, "bestVolumeSignedLogRatioXVolume"},
	}
	for _, tt := range tests {
		if tt.m.String() != tt.name {
			t.Errorf("metric %d: name %q want %q", tt.m, tt.m.String(), tt.name)
		}
		if m, ok := Lookup(tt.name); !ok || m != tt.m {
			t.Errorf("Lookup(%q) = %d, %v", tt.name, m, ok)
		}
	}
	if int(HorizonMetric(familyCount-1, rolling.HorizonCount-1)) != Count-1 {
		t.Fatalf("last horizon metric is not the last bit")
	}
}

func TestLookupAlternativeNames(t *testing.T) {
	tests := []struct {
		name string
		want Metric
	}{
		{"avgTradeSizeDiff1Seconds", HorizonMetric(AverageTradeSizeDiff, 0)},
		{"avgTradeSizeImbalance3Seconds", HorizonMetric(AverageTradeSizeImbalance, 1)},
		{"avgTradeSizeLogRatio60Seconds", HorizonMetric(AverageTradeSizeLogRatio, 6)},
		{"logReturnRatio5Seconds", HorizonMetric(LogReturn, 2)},
		{"differenceDepthCountImbalance10Seconds", HorizonMetric(DifferenceDepthVolatilityImbalance, 3)},
		{"differenceDepthCountFisherImbalance15Seconds", HorizonMetric(DifferenceDepthCountFisher, 4)},
		{"tradeCountFisherImbalance30Seconds", HorizonMetric(TradeCountFisher, 5)},
		{"tradeVolumeFisherImbalance1Seconds", HorizonMetric(TradeVolumeFisher, 0)},
		{"tradeVolumeDiff1Seconds", HorizonMetric(CumulativeDelta, 0)},
		{"bgcSlopeImbalance", CKSSlopeImbalance},
		{"bgcSlopeLogRatio", CKSSlopeLogRatio},
	}
	for _, tt := range tests {
		m, ok := Lookup(tt.name)
		if !ok || m != tt.want {
			t.Errorf("Lookup(%q) = %s, %v want %s", tt.name, m, ok, tt.want)
		}
	}

	names := make([]string, len(tests))
	for i, tt := range tests {
		names[i] = tt.name
	}
	mask, err := ParseMask(names)
	if err != nil {
		t.Fatalf("ParseMask: %v", err)
	}
	for _, n := range mask.Names() {
		if n == "avgTradeSizeDiff1Seconds" || n == "bgcSlopeImbalance" {
			t.Fatalf("mask reports alternative name %q", n)
		}
	}

	e, ok := Calculate(scenarioState(), mask)
	if !ok {
		t.Fatalf("expected a record")
	}
	if _, ok := e.Lookup("logReturnRatio5Seconds"); !ok {
		t.Fatalf("entry lookup by alternative name failed")
	}
}

func TestMetricKinds(t *testing.T) {
	tests := map[Metric]Kind{
		TimestampOfReceive: KindInt,
		SymbolField:        KindString,
		MarketField:        KindString,
		IsAggressorAsk:     KindBool,
		MidPrice:           KindFloat,
	}
	for m, want := range tests {
		if m.Kind() != want {
			t.Errorf("%s kind %d want %d", m, m.Kind(), want)
		}
	}
}

func TestParseMaskSelectsExactBits(t *testing.T) {
	mask, err := ParseMask([]string{"timestampOfReceive", "midPrice"})
	if err != nil {
		t.Fatalf("ParseMask: %v", err)
	}
	got := mask.Metrics()
	if len(got) != 2 || got[0] != TimestampOfReceive || got[1] != MidPrice {
		t.Fatalf("active bits %v", got)
	}
	if mask.Count() != 2 || !mask.Has(MidPrice) || mask.Has(BestAskPrice) {
		t.Fatalf("unexpected mask %v", mask.Names())
	}
}

func TestParseMaskUnknownName(t *testing.T) {
	tests := []struct {
		names []string
		msg   string
	}{
		{[]string{"bogus"}, "Unknown variable name: bogus"},
		{[]string{"midPrice", "crap", "bogus"}, "Unknown variable name: crap"},
	}
	for _, tt := range tests {
		mask, err := ParseMask(tt.names)
		if err == nil {
			t.Fatalf("%v: expected an error", tt.names)
		}
		if err.Error() != tt.msg {
			t.Errorf("message %q want %q", err.Error(), tt.msg)
		}
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%v does not wrap ErrInvalidArgument", err)
		}
		var uv *UnknownVariableError
		if !errors.As(err, &uv) {
			t.Errorf("%v is not an UnknownVariableError", err)
		}
		if !mask.IsZero() {
			t.Errorf("failed parse returned a partial mask")
		}
	}
}

func TestMaskOperations(t *testing.T) {
	last := Metric(Count - 1)
	m := NewMask(BestAskPrice, last)
	if !m.Has(last) || !m.Has(BestAskPrice) || m.Count() != 2 {
		t.Fatalf("NewMask: %v", m.Names())
	}
	m.Clear(BestAskPrice)
	if m.Has(BestAskPrice) || m.Count() != 1 {
		t.Fatalf("Clear left bit set")
	}
	m.Set(Metric(Count + 10))
	if m.Count() != 1 {
		t.Fatalf("out of range Set changed the mask")
	}
	if len(m.Bytes()) != 8*maskWords {
		t.Fatalf("Bytes length %d", len(m.Bytes()))
	}
	if AllMetrics().Count() != Count {
		t.Fatalf("AllMetrics count %d want %d", AllMetrics().Count(), Count)
	}
}

func TestCalculateScenario(t *testing.T) {
	e, ok := Calculate(scenarioState(), AllMetrics())
	if !ok {
		t.Fatalf("expected a record")
	}
	if !e.IsAggressorAsk {
		t.Fatalf("isAggressorAsk should follow IsBuyerMarketMaker")
	}
	if e.TimestampOfReceive != 1_000_000 || e.Symbol != models.BTCUSDT || e.Market != models.Spot {
		t.Fatalf("identity fields %+v", e)
	}

	askPQ := 10*2 + 11*1 + 11.1*2 + 11.5*2 + 12*2.0
	bidPQ := 9*1 + 8.1*2 + 7*2 + 6.5*2 + 5*2.0
	tests := []struct {
		m    Metric
		want float64
	}{
		{BestAskPrice, 10},
		{BestBidPrice, 9},
		{MidPrice, 9.5},
		{QueueImbalance, 0},
		{VolumeImbalance, 0},
		{Gap, 0.1},
		{Spread, 1},
		{MicroPrice, 28.0 / 3},
		{SecondAskPrice, 11},
		{SecondBidPrice, 8.1},
		{BestVolumeImbalance, -1.0 / 3},
		{BestTwoVolumeDiff, 0},
		{VWAP, (askPQ + bidPQ) / 18},
		{VWAPDeviation, (bidPQ - askPQ) / (askPQ + bidPQ)},
		{VWAPLogRatio, math.Log(bidPQ / askPQ)},
		{SimplifiedSlopeImbalance, (2 - 3.6) / 5.6},
		{SimplifiedSlopeDiff, 2 - 3.6},
		{SimplifiedSlopeLogRatio, math.Log(2 / 3.6)},
		{MicroPriceDeviation, 28.0/3 - 9.5},
		{MicroPriceLogRatio, math.Log(28.0 / 3 / 9.5)},
		{MicroPriceFisherImbalance, math.Atanh(-1.0 / 3)},
		{BestVolumeFisherImbalance, math.Atanh(-1.0 / 3)},
		{BestVolumeSignedLogRatioXVolume, 3 * math.Log(2)},
		{BestFiveVolumeLogRatioXVolume, 0},
		{QueueLogRatioXVolume, 0},
		{VolumeLogRatioXVolume, 0},
		{LastTradePrice, 9.5},
		{IsAggressorAsk, 1},
	}
	for _, tt := range tests {
		if got := e.Value(tt.m); !near(got, tt.want) {
			t.Errorf("%s = %v want %v", tt.m, got, tt.want)
		}
	}
}

func TestCalculateOnlyMaskedFields(t *testing.T) {
	mask, _ := ParseMask([]string{"midPrice"})
	e, ok := Calculate(scenarioState(), mask)
	if !ok {
		t.Fatalf("expected a record")
	}
	if v, ok := e.Lookup("midPrice"); !ok || v != 9.5 {
		t.Fatalf("midPrice = %v, %v", v, ok)
	}
	if _, ok := e.Lookup("bestAskPrice"); ok {
		t.Fatalf("unselected variable reported")
	}
	if e.Value(BestAskPrice) != 0 {
		t.Fatalf("unselected variable was computed")
	}
}

func TestCalculateGating(t *testing.T) {
	tests := []struct {
		name  string
		build func() *fakeState
	}{
		{"empty", newFakeState},
		{"one ask", func() *fakeState {
			s := scenarioState()
			for _, p := range []float64{11, 11.1, 11.5, 12} {
				s.book.Apply(true, p, 0)
			}
			return s
		}},
		{"one bid", func() *fakeState {
			s := scenarioState()
			for _, p := range []float64{8.1, 7, 6.5, 5} {
				s.book.Apply(false, p, 0)
			}
			return s
		}},
		{"no trade", func() *fakeState {
			s := scenarioState()
			s.hasTrade = false
			return s
		}},
	}
	for _, tt := range tests {
		if _, ok := Calculate(tt.build(), AllMetrics()); ok {
			t.Errorf("%s: expected no record", tt.name)
		}
	}
}

func TestCalculateHorizons(t *testing.T) {
	s := scenarioState()
	s.addTrade(models.TradeEntry{TimestampOfReceive: 1_200_000, Price: 10, Quantity: 1})
	s.addTrade(models.TradeEntry{TimestampOfReceive: 1_400_000, Price: 11, Quantity: 1})
	s.depth.Update(models.DepthEntry{TimestampOfReceive: 1_400_000, IsAsk: false})

	e, ok := Calculate(s, AllMetrics())
	if !ok {
		t.Fatalf("expected a record")
	}
	tests := []struct {
		m    Metric
		want float64
	}{
		{HorizonMetric(TradeCountDiff, 0), 1},
		{HorizonMetric(TradeCountImbalance, 0), 1.0 / 3},
		{HorizonMetric(CumulativeDelta, 0), 1},
		{HorizonMetric(TradeCount, 0), 3},
		{HorizonMetric(PriceDifference, 0), 0},
		{HorizonMetric(RateOfReturn, 0), 0},
		{HorizonMetric(LogReturn, 0), 0},
		{HorizonMetric(LogKylesLambda, 0), 0},
		{HorizonMetric(BiggestSingleBuyTradeVolume, 0), 1},
		{HorizonMetric(BiggestSingleSellTradeVolume, 0), 1},
		{HorizonMetric(SimpleMovingAverage, 0), (9.5 + 10 + 11) / 3},
		{HorizonMetric(AverageTradeSizeDiff, 0), 0},
		{HorizonMetric(DifferenceDepthCount, 0), 1},
		{HorizonMetric(DifferenceDepthCountDiff, 0), 1},
		{HorizonMetric(DifferenceDepthCountLogRatioXEventCount, 0), 0},
		{HorizonMetric(DifferenceDepthVolatilityImbalance, 0), 1},
		{HorizonMetric(DifferenceDepthCountLogRatio, 0), 0},
	}
	for _, tt := range tests {
		if got := e.Value(tt.m); !near(got, tt.want) {
			t.Errorf("%s = %v want %v", tt.m, got, tt.want)
		}
	}
	if f := e.Value(HorizonMetric(DifferenceDepthCountFisher, 0)); math.IsInf(f, 0) || math.IsNaN(f) {
		t.Fatalf("fisher transform not clamped: %v", f)
	}

	// Every earlier trade leaves the 1 second horizon, the newest of them
	// (price 11) becomes its start price.
	s.addTrade(models.TradeEntry{TimestampOfReceive: 2_500_000, Price: 12, Quantity: 2})
	e, ok = Calculate(s, AllMetrics())
	if !ok {
		t.Fatalf("expected a record")
	}
	tests = []struct {
		m    Metric
		want float64
	}{
		{HorizonMetric(TradeCount, 0), 1},
		{HorizonMetric(CumulativeDelta, 0), 2},
		{HorizonMetric(PriceDifference, 0), 1},
		{HorizonMetric(RateOfReturn, 0), 1.0 / 11},
		{HorizonMetric(LogReturn, 0), math.Log(12.0 / 11)},
		{HorizonMetric(LogKylesLambda, 0), math.Log(1.0 / 2)},
		{HorizonMetric(TradeCount, 1), 4},
		{HorizonMetric(PriceDifference, 1), 0},
		{HorizonMetric(LogReturn, 1), 0},
	}
	for _, tt := range tests {
		if got := e.Value(tt.m); !near(got, tt.want) {
			t.Errorf("after eviction %s = %v want %v", tt.m, got, tt.want)
		}
	}
}

func TestCalculateOrderFlow(t *testing.T) {
	tests := []struct {
		name     string
		isAsk    bool
		price    float64
		quantity float64
		want     map[Metric]float64
	}{
		{"bid improves", false, 9.2, 3, map[Metric]float64{
			BestOrderFlowCKSDiff:      3,
			BestOrderFlowCKSImbalance: 1,
			BestOrderFlowDiff:         2,
			BestOrderFlowImbalance:    1,
			OrderFlowDiff:             3,
			QueueCountFlowDiff:        1,
			QueueCountFlowImbalance:   1,
		}},
		{"best ask removed", true, 10, 0, map[Metric]float64{
			BestOrderFlowCKSDiff:      2,
			BestOrderFlowCKSImbalance: 1,
			BestOrderFlowDiff:         1,
			OrderFlowDiff:             2,
			OrderFlowImbalance:        1,
			QueueCountFlowDiff:        1,
		}},
		{"ask quantity grows", true, 10, 5, map[Metric]float64{
			BestOrderFlowCKSDiff:      -3,
			BestOrderFlowCKSImbalance: -1,
			BestOrderFlowDiff:         -3,
			OrderFlowDiff:             -3,
			QueueCountFlowDiff:        0,
			QueueCountFlowImbalance:   0,
		}},
	}
	for _, tt := range tests {
		s := scenarioState()
		s.book.Apply(tt.isAsk, tt.price, tt.quantity)
		e, ok := Calculate(s, AllMetrics())
		if !ok {
			t.Fatalf("%s: expected a record", tt.name)
		}
		for m, want := range tt.want {
			if got := e.Value(m); !near(got, want) {
				t.Errorf("%s: %s = %v want %v", tt.name, m, got, want)
			}
		}
		if f := e.Value(QueueCountFlowFisherImbalance); math.IsInf(f, 0) || math.IsNaN(f) {
			t.Errorf("%s: fisher transform not clamped: %v", tt.name, f)
		}
	}
}

func TestFormulas(t *testing.T) {
	if signedImbalance(-2, 0) != -1 || signedImbalance(-1, -1) != 0 || signedImbalance(0, 0) != 0 {
		t.Fatalf("signedImbalance")
	}
	if imbalance(0, 0) != 0 || logRatio(0, 1) != 0 || logRatio(1, 0) != 0 || ratio(1, 0) != 0 {
		t.Fatalf("zero guards failed")
	}
	if !near(fisher(0.5), math.Atanh(0.5)) {
		t.Fatalf("fisher(0.5) = %v", fisher(0.5))
	}
	if !near(fisher(1), fisher(fisherClamp)) || !near(fisher(-1), -fisher(fisherClamp)) {
		t.Fatalf("fisher not clamped")
	}
}

func TestEntryFieldsAndColumns(t *testing.T) {
	mask, _ := ParseMask([]string{"timestampOfReceive", "symbol", "market", "isAggressorAsk", "midPrice"})
	e, ok := Calculate(scenarioState(), mask)
	if !ok {
		t.Fatalf("expected a record")
	}

	f := e.Fields()
	if f["symbol"] != "BTCUSDT" || f["market"] != "SPOT" || f["isAggressorAsk"] != true {
		t.Fatalf("identity fields %v", f)
	}
	if f["timestampOfReceive"] != int64(1_000_000) || f["midPrice"] != 9.5 {
		t.Fatalf("values %v", f)
	}
	if len(e.Row()) != 5 {
		t.Fatalf("row width %d", len(e.Row()))
	}

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["midPrice"] != 9.5 || len(decoded) != 5 {
		t.Fatalf("json %s", raw)
	}

	cols := Columns([]Entry{e, e}, mask)
	if len(cols) != 5 || len(cols["midPrice"]) != 2 || cols["midPrice"][1] != 9.5 {
		t.Fatalf("columns %v", cols)
	}
	if cols["isAggressorAsk"][0] != 1 {
		t.Fatalf("bool column %v", cols["isAggressorAsk"])
	}
}
