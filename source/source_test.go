package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"depthflow/models"
)

func drain(t *testing.T, s Source) []models.Entry {
	t.Helper()
	var out []models.Entry
	for {
		e, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, e)
	}
}

const mergedCSV = `# exported by the capture service
TimestampOfReceive,StreamType,Market,Symbol,IsAsk,Price,Quantity,IsBuyerMarketMaker,IsLast
1000,DEPTH_SNAPSHOT,USD_M_FUTURES,TRXUSDT,1,0.2501,100,,0
1000,DEPTH_SNAPSHOT,USD_M_FUTURES,TRXUSDT,0,0.2499,50,,1

2000,DIFFERENCE_DEPTH_STREAM,USD_M_FUTURES,TRXUSDT,1,0.2502,10,,1
3000,TRADE_STREAM,USD_M_FUTURES,TRXUSDT,,0.2500,7,1,1
# comment in the middle
4000,TRADE_STREAM,USD_M_FUTURES,TRXUSDT,,not-a-price,7,1,1
5000,TRADE_STREAM,USD_M_FUTURES,TRXUSDT,,0.2503,2,0,1
`

func TestCSVSourceMergedFile(t *testing.T) {
	s, err := NewCSVSource(strings.NewReader(mergedCSV), "merged.csv", nil)
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}
	entries := drain(t, s)
	if len(entries) != 5 {
		t.Fatalf("decoded %d rows want 5", len(entries))
	}
	if s.Skipped() != 1 {
		t.Fatalf("skipped %d want 1", s.Skipped())
	}

	snap, ok := entries[0].(models.DepthEntry)
	if !ok {
		t.Fatalf("row 0 is %T", entries[0])
	}
	if snap.Stream != models.DepthSnapshot || !snap.IsAsk || snap.Price != 0.2501 || snap.Quantity != 100 || snap.IsLast {
		t.Fatalf("snapshot row %+v", snap)
	}
	if snap.Symbol != models.TRXUSDT || snap.Market != models.USDMFutures {
		t.Fatalf("instrument %v %v", snap.Symbol, snap.Market)
	}
	if !entries[1].Last() {
		t.Fatalf("row 1 closes the snapshot batch")
	}

	tr, ok := entries[3].(models.TradeEntry)
	if !ok {
		t.Fatalf("row 3 is %T", entries[3])
	}
	if !tr.IsBuyerMarketMaker || tr.Price != 0.25 || tr.Quantity != 7 || tr.TimestampOfReceive != 3000 {
		t.Fatalf("trade row %+v", tr)
	}
	if tr4 := entries[4].(models.TradeEntry); tr4.IsBuyerMarketMaker || tr4.Price != 0.2503 {
		t.Fatalf("last trade %+v", tr4)
	}
}

func TestCSVSourceDerivesIsLast(t *testing.T) {
	const raw = `TimestampOfReceiveUS,Stream,EventType,EventTime,Symbol,FirstUpdateId,FinalUpdateId,IsAsk,Price,Quantity
100,trxusdt@depth@100ms,depthUpdate,90,TRXUSDT,1,5,1,0.25,10
100,trxusdt@depth@100ms,depthUpdate,90,TRXUSDT,1,5,0,0.24,10
200,trxusdt@depth@100ms,depthUpdate,190,TRXUSDT,6,9,1,0.26,3
`
	asset, err := ParseAssetParameters("binance_difference_depth_stream_spot_trxusdt_14-04-2025.csv")
	if err != nil {
		t.Fatalf("ParseAssetParameters: %v", err)
	}
	s, err := NewCSVSource(strings.NewReader(raw), "single.csv", &asset)
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}
	entries := drain(t, s)
	if len(entries) != 3 {
		t.Fatalf("decoded %d rows", len(entries))
	}
	wantLast := []bool{false, true, true}
	for i, e := range entries {
		if e.Last() != wantLast[i] {
			t.Errorf("row %d last=%v want %v", i, e.Last(), wantLast[i])
		}
	}
	d := entries[0].(models.DepthEntry)
	if d.Market != models.Spot || d.Symbol != models.TRXUSDT || d.FinalUpdateID != 5 || d.EventTime != 90 {
		t.Fatalf("row 0 %+v", d)
	}
}

func TestCSVSourceOrdinalEnums(t *testing.T) {
	const raw = `TimestampOfReceive,StreamType,Market,Symbol,IsAsk,Price,Quantity,IsBuyerMarketMaker,IsLast
1,0,1,11,1,1.5,2,,1
2,1,2,1,,1.5,2,0,1
`
	entries := drain(t, mustSource(t, raw))
	d := entries[0].(models.DepthEntry)
	if d.Stream != models.DifferenceDepthStream || d.Market != models.USDMFutures || d.Symbol != models.TRXUSDT {
		t.Fatalf("ordinal depth row %+v", d)
	}
	tr := entries[1].(models.TradeEntry)
	if tr.Market != models.CoinMFutures || tr.Symbol != models.BTCUSDT {
		t.Fatalf("ordinal trade row %+v", tr)
	}
}

func mustSource(t *testing.T, raw string) *CSVSource {
	t.Helper()
	s, err := NewCSVSource(strings.NewReader(raw), "test.csv", nil)
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}
	return s
}

func TestCSVSourceHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"only comments", "# nothing here\n"},
		{"no price", "TimestampOfReceive,Symbol,Market,Quantity\n"},
		{"no instrument", "TimestampOfReceive,IsAsk,Price,Quantity\n"},
	}
	for _, tt := range tests {
		if _, err := NewCSVSource(strings.NewReader(tt.raw), tt.name, nil); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}
	_, err := NewCSVSource(strings.NewReader("TimestampOfReceive,Symbol,Market,Quantity\n"), "x", nil)
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestParseAssetParameters(t *testing.T) {
	tests := []struct {
		path   string
		market models.Market
		stream models.StreamType
		symbol models.Symbol
		pair   string
		date   string
	}{
		{"data/binance_difference_depth_stream_usd_m_futures_trxusdt_14-04-2025.csv",
			models.USDMFutures, models.DifferenceDepthStream, models.TRXUSDT, "trxusdt", "14-04-2025"},
		{"binance_trade_stream_spot_btcusdt_01-01-2025.csv",
			models.Spot, models.TradeStream, models.BTCUSDT, "btcusdt", "01-01-2025"},
		{"binance_depth_snapshot_coin_m_futures_btcusd_perp_14-04-2025.csv",
			models.CoinMFutures, models.DepthSnapshot, models.SymbolUnknown, "btcusd_perp", "14-04-2025"},
	}
	for _, tt := range tests {
		p, err := ParseAssetParameters(tt.path)
		if err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		if p.Market != tt.market || p.Stream != tt.stream || p.Symbol != tt.symbol || p.Pair != tt.pair || p.Date != tt.date {
			t.Errorf("%s: got %+v", tt.path, p)
		}
	}

	for _, bad := range []string{"prices_2025.csv", "spot_orders_2025.csv", "spot_trade.csv"} {
		if _, err := ParseAssetParameters(bad); !errors.Is(err, ErrAssetName) {
			t.Errorf("%s: expected ErrAssetName, got %v", bad, err)
		}
	}
}

func TestSliceAndMultiSource(t *testing.T) {
	a := NewSliceSource(models.DepthEntry{TimestampOfReceive: 1}, models.DepthEntry{TimestampOfReceive: 2})
	b := NewSliceSource()
	c := NewSliceSource(models.TradeEntry{TimestampOfReceive: 3})

	got := drain(t, NewMultiSource(a, b, c))
	if len(got) != 3 {
		t.Fatalf("got %d entries", len(got))
	}
	for i, e := range got {
		if e.ReceiveTime() != int64(i+1) {
			t.Fatalf("order broken at %d: %d", i, e.ReceiveTime())
		}
	}
}

func TestOpenFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "merged_a.csv")
	second := filepath.Join(dir, "merged_b.csv")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(mergedCSV), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	src, err := Open(first, second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(src)
	if n := len(drain(t, src)); n != 10 {
		t.Fatalf("read %d rows from two files, want 10", n)
	}

	if _, err := Open(filepath.Join(dir, "missing.csv")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
	if _, err := Open(filepath.Join(dir, "data.parquet")); err == nil {
		t.Fatalf("expected error for an unsupported extension")
	}
}

func TestMergeSourceOrdersByReceiveTime(t *testing.T) {
	depth := NewSliceSource(
		models.DepthEntry{TimestampOfReceive: 1, Price: 1},
		models.DepthEntry{TimestampOfReceive: 3, Price: 2},
		models.DepthEntry{TimestampOfReceive: 3, Price: 3, IsLast: true},
		models.DepthEntry{TimestampOfReceive: 7, Price: 4, IsLast: true},
	)
	trades := NewSliceSource(
		models.TradeEntry{TimestampOfReceive: 2, Price: 10, IsLast: true},
		models.TradeEntry{TimestampOfReceive: 3, Price: 11, IsLast: true},
		models.TradeEntry{TimestampOfReceive: 9, Price: 12, IsLast: true},
	)

	got := drain(t, NewMergeSource(depth, trades, NewSliceSource()))
	wantTS := []int64{1, 2, 3, 3, 3, 7, 9}
	if len(got) != len(wantTS) {
		t.Fatalf("merged %d rows want %d", len(got), len(wantTS))
	}
	for i, e := range got {
		if e.ReceiveTime() != wantTS[i] {
			t.Fatalf("row %d at %d want %d", i, e.ReceiveTime(), wantTS[i])
		}
	}
	// both depth rows of the message at 3 come before the trade at 3
	if _, ok := got[3].(models.DepthEntry); !ok {
		t.Fatalf("row 3 is %T, the depth message was split", got[3])
	}
	if _, ok := got[4].(models.TradeEntry); !ok {
		t.Fatalf("row 4 is %T", got[4])
	}
}

func TestOpenMerged(t *testing.T) {
	dir := t.TempDir()
	depthPath := filepath.Join(dir, "binance_difference_depth_stream_spot_trxusdt_14-04-2025.csv")
	tradePath := filepath.Join(dir, "binance_trade_stream_spot_trxusdt_14-04-2025.csv")
	depthCSV := "TimestampOfReceive,Symbol,IsAsk,Price,Quantity,IsLast\n100,TRXUSDT,1,0.25,1,1\n300,TRXUSDT,0,0.24,1,1\n"
	tradeCSV := "TimestampOfReceive,Symbol,Price,Quantity,IsBuyerMarketMaker,IsLast\n200,TRXUSDT,0.245,3,0,1\n"
	for p, body := range map[string]string{depthPath: depthCSV, tradePath: tradeCSV} {
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	src, err := OpenMerged(depthPath, tradePath)
	if err != nil {
		t.Fatalf("OpenMerged: %v", err)
	}
	defer Close(src)
	got := drain(t, src)
	if len(got) != 3 {
		t.Fatalf("rows %d", len(got))
	}
	if tr, ok := got[1].(models.TradeEntry); !ok || tr.Price != 0.245 || tr.Market != models.Spot {
		t.Fatalf("middle row should be the trade, got %+v", got[1])
	}
}
