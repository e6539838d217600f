package snapshot

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"depthflow/orderbook"
)

var ErrBadSnapshot = errors.New("bad depth snapshot")

// Level is one published price level, kept as decimals as printed by the
// exchange.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Published is an exchange depth snapshot. Asks ascend and bids descend by
// price, the same order as orderbook.OrderBook.
type Published struct {
	LastUpdateID int64
	Asks         []Level
	Bids         []Level
}

// Load reads a published snapshot CSV.
func Load(path string) (*Published, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer f.Close()
	p, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Read decodes a snapshot from r. The IsAsk, Price and Quantity columns are
// required; LastUpdateId is optional and every other column is ignored.
// Zero quantity levels are dropped.
func Read(r io.Reader) (*Published, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrBadSnapshot, err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	isAskCol, okA := cols["IsAsk"]
	priceCol, okP := cols["Price"]
	qtyCol, okQ := cols["Quantity"]
	if !okA || !okP || !okQ {
		return nil, fmt.Errorf("%w: header needs IsAsk, Price and Quantity", ErrBadSnapshot)
	}
	updateCol, hasUpdate := cols["LastUpdateId"]

	p := &Published{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		field := func(i int) string {
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		isAsk, err := strconv.ParseBool(field(isAskCol))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d IsAsk: %v", ErrBadSnapshot, line, err)
		}
		price, err := decimal.NewFromString(field(priceCol))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d Price: %v", ErrBadSnapshot, line, err)
		}
		qty, err := decimal.NewFromString(field(qtyCol))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d Quantity: %v", ErrBadSnapshot, line, err)
		}
		if hasUpdate && p.LastUpdateID == 0 {
			if id, err := strconv.ParseInt(field(updateCol), 10, 64); err == nil {
				p.LastUpdateID = id
			}
		}

		if !qty.IsPositive() {
			continue
		}
		if isAsk {
			p.Asks = append(p.Asks, Level{Price: price, Quantity: qty})
		} else {
			p.Bids = append(p.Bids, Level{Price: price, Quantity: qty})
		}
	}

	sort.SliceStable(p.Asks, func(i, j int) bool { return p.Asks[i].Price.LessThan(p.Asks[j].Price) })
	sort.SliceStable(p.Bids, func(i, j int) bool { return p.Bids[i].Price.GreaterThan(p.Bids[j].Price) })
	return p, nil
}

// Mismatch is one difference between a replayed book and a snapshot.
// A level missing on one side has a zero Level there.
type Mismatch struct {
	Side  string
	Index int
	Book  Level
	Want  Level
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s[%d]: book %s@%s, snapshot %s@%s", m.Side, m.Index,
		m.Book.Quantity, m.Book.Price, m.Want.Quantity, m.Want.Price)
}

// Compare checks book against p level by level on both sides. An empty
// result means the books are equal.
func Compare(book *orderbook.OrderBook, p *Published) []Mismatch {
	var out []Mismatch
	out = append(out, compareSide("ask", book.Asks(), p.Asks)...)
	out = append(out, compareSide("bid", book.Bids(), p.Bids)...)
	return out
}

func compareSide(side string, got []orderbook.PriceLevel, want []Level) []Mismatch {
	var out []Mismatch
	n := max(len(got), len(want))
	for i := 0; i < n; i++ {
		var g, w Level
		if i < len(got) {
			g = Level{Price: decimal.NewFromFloat(got[i].Price), Quantity: decimal.NewFromFloat(got[i].Quantity)}
		}
		if i < len(want) {
			w = want[i]
		}
		if i < len(got) && i < len(want) && g.Price.Equal(w.Price) && g.Quantity.Equal(w.Quantity) {
			continue
		}
		out = append(out, Mismatch{Side: side, Index: i, Book: g, Want: w})
	}
	return out
}
