package models

// Entry is a single row of the ordered event log: either a DepthEntry or a
// TradeEntry. Timestamps are microseconds of local receive time.
type Entry interface {
	ReceiveTime() int64
	Instrument() (Symbol, Market)
	// Last reports whether the row closes an atomic update batch.
	Last() bool
}

// ===== DEPTH =====

// DepthEntry is one price level row of an order book delta or snapshot.
// A zero quantity removes the level.
type DepthEntry struct {
	TimestampOfReceive int64      `json:"timestampOfReceive"`
	Symbol             Symbol     `json:"symbol"`
	Market             Market     `json:"market"`
	Stream             StreamType `json:"stream"`
	IsAsk              bool       `json:"isAsk"`
	Price              float64    `json:"price"`
	Quantity           float64    `json:"quantity"`
	IsLast             bool       `json:"isLast"`

	EventTime     int64 `json:"eventTime,omitempty"`
	FirstUpdateID int64 `json:"firstUpdateId,omitempty"`
	FinalUpdateID int64 `json:"finalUpdateId,omitempty"`
}

func (e DepthEntry) ReceiveTime() int64           { return e.TimestampOfReceive }
func (e DepthEntry) Instrument() (Symbol, Market) { return e.Symbol, e.Market }
func (e DepthEntry) Last() bool                   { return e.IsLast }

// ===== TRADE =====

// TradeEntry is one executed trade print. IsBuyerMarketMaker means the seller
// was the aggressor.
type TradeEntry struct {
	TimestampOfReceive int64   `json:"timestampOfReceive"`
	Symbol             Symbol  `json:"symbol"`
	Market             Market  `json:"market"`
	Price              float64 `json:"price"`
	Quantity           float64 `json:"quantity"`
	IsBuyerMarketMaker bool    `json:"isBuyerMarketMaker"`
	IsLast             bool    `json:"isLast"`

	EventTime int64 `json:"eventTime,omitempty"`
	TradeID   int64 `json:"tradeId,omitempty"`
}

func (e TradeEntry) ReceiveTime() int64           { return e.TimestampOfReceive }
func (e TradeEntry) Instrument() (Symbol, Market) { return e.Symbol, e.Market }
func (e TradeEntry) Last() bool                   { return e.IsLast }

// IsBuy reports whether the buyer initiated the trade.
func (e TradeEntry) IsBuy() bool { return !e.IsBuyerMarketMaker }
