package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"depthflow/logger"
	"depthflow/models"
)

// ErrMissingColumn is returned when a header lacks a column needed to decode
// rows.
var ErrMissingColumn = errors.New("missing column")

type column int

const (
	colTimestamp column = iota
	colStreamType
	colEventType
	colEventTime
	colSymbol
	colMarket
	colFirstUpdateID
	colFinalUpdateID
	colIsAsk
	colPrice
	colQuantity
	colTradeID
	colIsBuyerMarketMaker
	colIsLast
	columnCount
)

var headerNames = map[string]column{
	"TimestampOfReceive":   colTimestamp,
	"TimestampOfReceiveUS": colTimestamp,
	"StreamType":           colStreamType,
	"EventType":            colEventType,
	"EventTime":            colEventTime,
	"Symbol":               colSymbol,
	"Market":               colMarket,
	"FirstUpdateId":        colFirstUpdateID,
	"FinalUpdateId":        colFinalUpdateID,
	"IsAsk":                colIsAsk,
	"Price":                colPrice,
	"Quantity":             colQuantity,
	"TradeId":              colTradeID,
	"IsBuyerMarketMaker":   colIsBuyerMarketMaker,
	"IsLast":               colIsLast,
}

// CSVSource decodes the captured exchange CSV format. Columns are found by
// header name so that spot, futures and merged files share one decoder.
// Lines starting with '#' and blank lines are ignored.
//
// Rows that fail to decode are logged, counted and skipped. When the file has
// no IsLast column, a row is last when the next row belongs to another
// exchange message (receive time, stream or update id differ).
type CSVSource struct {
	name   string
	r      *csv.Reader
	closer io.Closer
	cols   [columnCount]int
	asset  *AssetParameters

	pending models.Entry
	skipped int
	log     *logger.Entry
}

// OpenCSV opens path. File names that encode an instrument
// (see ParseAssetParameters) supply the symbol, market and stream of rows
// that do not carry them.
func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var asset *AssetParameters
	if p, err := ParseAssetParameters(path); err == nil {
		asset = &p
	}
	s, err := NewCSVSource(f, path, asset)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// NewCSVSource reads the header from r. asset may be nil.
func NewCSVSource(r io.Reader, name string, asset *AssetParameters) (*CSVSource, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	s := &CSVSource{
		name:  name,
		r:     cr,
		asset: asset,
		log:   logger.GetLogger().WithComponent("csv_source").WithFields(logger.Fields{"file": name}),
	}
	for i := range s.cols {
		s.cols[i] = -1
	}

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty file", name)
		}
		return nil, fmt.Errorf("%s: read header: %w", name, err)
	}
	for i, h := range header {
		if c, ok := headerNames[strings.TrimSpace(h)]; ok && s.cols[c] < 0 {
			s.cols[c] = i
		}
	}

	for _, c := range []column{colTimestamp, colPrice, colQuantity} {
		if s.cols[c] < 0 {
			return nil, fmt.Errorf("%s: %w %s", name, ErrMissingColumn, columnName(c))
		}
	}
	if asset == nil {
		if s.cols[colSymbol] < 0 || s.cols[colMarket] < 0 {
			return nil, fmt.Errorf("%s: %w Symbol/Market and the file name does not name an instrument", name, ErrMissingColumn)
		}
	}
	return s, nil
}

func columnName(c column) string {
	for n, v := range headerNames {
		if v == c && n != "TimestampOfReceiveUS" {
			return n
		}
	}
	return strconv.Itoa(int(c))
}

// Skipped is the number of malformed rows dropped so far.
func (s *CSVSource) Skipped() int { return s.skipped }

func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

func (s *CSVSource) Next() (models.Entry, error) {
	if s.cols[colIsLast] >= 0 {
		return s.read()
	}

	if s.pending == nil {
		e, err := s.read()
		if err != nil {
			return nil, err
		}
		s.pending = e
	}
	cur := s.pending
	next, err := s.read()
	if errors.Is(err, io.EOF) {
		s.pending = nil
		return withLast(cur, true), nil
	}
	if err != nil {
		return nil, err
	}
	s.pending = next
	return withLast(cur, messageKey(cur) != messageKey(next)), nil
}

type msgKey struct {
	ts     int64
	stream models.StreamType
	id     int64
}

func messageKey(e models.Entry) msgKey {
	switch v := e.(type) {
	case models.DepthEntry:
		return msgKey{ts: v.TimestampOfReceive, stream: v.Stream, id: v.FinalUpdateID}
	case models.TradeEntry:
		return msgKey{ts: v.TimestampOfReceive, stream: models.TradeStream, id: v.TradeID}
	}
	return msgKey{}
}

func withLast(e models.Entry, last bool) models.Entry {
	switch v := e.(type) {
	case models.DepthEntry:
		v.IsLast = last
		return v
	case models.TradeEntry:
		v.IsLast = last
		return v
	}
	return e
}

// read returns the next decodable row.
func (s *CSVSource) read() (models.Entry, error) {
	for {
		rec, err := s.r.Read()
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				s.skip(perr.Line, err)
				continue
			}
			return nil, err
		}
		e, err := s.decode(rec)
		if err != nil {
			line, _ := s.r.FieldPos(0)
			s.skip(line, err)
			continue
		}
		return e, nil
	}
}

func (s *CSVSource) skip(line int, err error) {
	s.skipped++
	logger.IncrementSkippedRow()
	s.log.WithError(err).WithField("line", line).Warn("skipping malformed row")
}

func (s *CSVSource) field(rec []string, c column) string {
	i := s.cols[c]
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (s *CSVSource) decode(rec []string) (models.Entry, error) {
	ts, err := strconv.ParseInt(s.field(rec, colTimestamp), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	price, err := parseDecimal(s.field(rec, colPrice))
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	qty, err := parseDecimal(s.field(rec, colQuantity))
	if err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}
	sym, mkt, err := s.instrument(rec)
	if err != nil {
		return nil, err
	}
	isLast, err := parseOptionalFlag(s.field(rec, colIsLast))
	if err != nil {
		return nil, fmt.Errorf("IsLast: %w", err)
	}
	eventTime, err := parseOptionalInt(s.field(rec, colEventTime))
	if err != nil {
		return nil, fmt.Errorf("EventTime: %w", err)
	}

	switch stream := s.stream(rec); stream {
	case models.DifferenceDepthStream, models.DepthSnapshot:
		isAsk, err := parseFlag(s.field(rec, colIsAsk))
		if err != nil {
			return nil, fmt.Errorf("IsAsk: %w", err)
		}
		first, err := parseOptionalInt(s.field(rec, colFirstUpdateID))
		if err != nil {
			return nil, fmt.Errorf("FirstUpdateId: %w", err)
		}
		final, err := parseOptionalInt(s.field(rec, colFinalUpdateID))
		if err != nil {
			return nil, fmt.Errorf("FinalUpdateId: %w", err)
		}
		return models.DepthEntry{
			TimestampOfReceive: ts,
			Symbol:             sym,
			Market:             mkt,
			Stream:             stream,
			IsAsk:              isAsk,
			Price:              price,
			Quantity:           qty,
			IsLast:             isLast,
			EventTime:          eventTime,
			FirstUpdateID:      first,
			FinalUpdateID:      final,
		}, nil
	case models.TradeStream:
		maker, err := parseFlag(s.field(rec, colIsBuyerMarketMaker))
		if err != nil {
			return nil, fmt.Errorf("IsBuyerMarketMaker: %w", err)
		}
		tradeID, err := parseOptionalInt(s.field(rec, colTradeID))
		if err != nil {
			return nil, fmt.Errorf("TradeId: %w", err)
		}
		return models.TradeEntry{
			TimestampOfReceive: ts,
			Symbol:             sym,
			Market:             mkt,
			Price:              price,
			Quantity:           qty,
			IsBuyerMarketMaker: maker,
			IsLast:             isLast,
			EventTime:          eventTime,
			TradeID:            tradeID,
		}, nil
	default:
		return nil, errors.New("cannot tell the stream type of the row")
	}
}

// stream resolves the row kind: the StreamType column, then the file name,
// then the exchange EventType, then which side columns are filled.
func (s *CSVSource) stream(rec []string) models.StreamType {
	if v := s.field(rec, colStreamType); v != "" {
		return parseStreamField(v)
	}
	if s.asset != nil {
		return s.asset.Stream
	}
	if v := s.field(rec, colEventType); v != "" {
		return models.ParseStreamType(v)
	}
	switch {
	case s.field(rec, colIsBuyerMarketMaker) != "":
		return models.TradeStream
	case s.field(rec, colIsAsk) != "":
		return models.DifferenceDepthStream
	}
	return models.StreamUnknown
}

func (s *CSVSource) instrument(rec []string) (models.Symbol, models.Market, error) {
	var sym models.Symbol
	var mkt models.Market
	if v := s.field(rec, colSymbol); v != "" {
		sym = parseSymbolField(v)
	} else if s.asset != nil {
		sym = s.asset.Symbol
	}
	if v := s.field(rec, colMarket); v != "" {
		mkt = parseMarketField(v)
	} else if s.asset != nil {
		mkt = s.asset.Market
	}
	if mkt == models.MarketUnknown {
		return sym, mkt, errors.New("unknown market")
	}
	return sym, mkt, nil
}

// Exported merged files may store enums as ordinals. Market and stream
// ordinals there have no UNKNOWN slot, so they are shifted by one.

func parseSymbolField(v string) models.Symbol {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 || n > 255 || models.Symbol(n).String() == models.SymbolUnknown.String() {
			return models.SymbolUnknown
		}
		return models.Symbol(n)
	}
	return models.ParseSymbol(v)
}

func parseMarketField(v string) models.Market {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 || n > 2 {
			return models.MarketUnknown
		}
		return models.Market(n + 1)
	}
	return models.ParseMarket(v)
}

func parseStreamField(v string) models.StreamType {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 || n > 2 {
			return models.StreamUnknown
		}
		return models.StreamType(n + 1)
	}
	return models.ParseStreamType(v)
}

func parseDecimal(v string) (float64, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

func parseFlag(v string) (bool, error) {
	if v == "" {
		return false, errors.New("empty flag")
	}
	return strconv.ParseBool(v)
}

func parseOptionalFlag(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func parseOptionalInt(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
