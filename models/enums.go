package models

import (
	"strings"

	"depthflow/internal/symbols"
)

// Symbol is an interned instrument ticker. Strings are converted once at the
// ingestion boundary so that routing never compares strings.
type Symbol uint8

const (
	SymbolUnknown Symbol = iota
	BTCUSDT
	ETHUSDT
	BNBUSDT
	SOLUSDT
	XRPUSDT
	DOGEUSDT
	ADAUSDT
	SHIBUSDT
	LTCUSDT
	AVAXUSDT
	TRXUSDT
	DOTUSDT
	BCHUSDT
	SUIUSDT
	symbolCount
)

var symbolNames = [symbolCount]string{
	SymbolUnknown: "UNKNOWN",
	BTCUSDT:       "BTCUSDT",
	ETHUSDT:       "ETHUSDT",
	BNBUSDT:       "BNBUSDT",
	SOLUSDT:       "SOLUSDT",
	XRPUSDT:       "XRPUSDT",
	DOGEUSDT:      "DOGEUSDT",
	ADAUSDT:       "ADAUSDT",
	SHIBUSDT:      "SHIBUSDT",
	LTCUSDT:       "LTCUSDT",
	AVAXUSDT:      "AVAXUSDT",
	TRXUSDT:       "TRXUSDT",
	DOTUSDT:       "DOTUSDT",
	BCHUSDT:       "BCHUSDT",
	SUIUSDT:       "SUIUSDT",
}

var symbolLookup = func() map[string]Symbol {
	m := make(map[string]Symbol, symbolCount)
	for s := SymbolUnknown + 1; s < symbolCount; s++ {
		m[symbolNames[s]] = s
	}
	return m
}()

func (s Symbol) String() string {
	if s >= symbolCount {
		return symbolNames[SymbolUnknown]
	}
	return symbolNames[s]
}

// ParseSymbol interns a raw ticker. Exchange aliases (1000SHIBUSDT, BTC-USDT)
// are normalized first; anything else maps to SymbolUnknown.
func ParseSymbol(raw string) Symbol {
	if s, ok := symbolLookup[symbols.Normalize(raw)]; ok {
		return s
	}
	return SymbolUnknown
}

// Market identifies the venue segment an instrument trades on.
type Market uint8

const (
	MarketUnknown Market = iota
	Spot
	USDMFutures
	CoinMFutures
)

func (m Market) String() string {
	switch m {
	case Spot:
		return "SPOT"
	case USDMFutures:
		return "USD_M_FUTURES"
	case CoinMFutures:
		return "COIN_M_FUTURES"
	default:
		return "UNKNOWN"
	}
}

// ParseMarket accepts the canonical names as well as the lower case forms used
// in file names (usd_m_futures).
func ParseMarket(raw string) Market {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SPOT":
		return Spot
	case "USD_M_FUTURES", "USDM", "UM":
		return USDMFutures
	case "COIN_M_FUTURES", "COINM", "CM":
		return CoinMFutures
	default:
		return MarketUnknown
	}
}

// StreamType is the exchange stream a row was captured from.
type StreamType uint8

const (
	StreamUnknown StreamType = iota
	DifferenceDepthStream
	TradeStream
	DepthSnapshot
)

func (t StreamType) String() string {
	switch t {
	case DifferenceDepthStream:
		return "DIFFERENCE_DEPTH_STREAM"
	case TradeStream:
		return "TRADE_STREAM"
	case DepthSnapshot:
		return "DEPTH_SNAPSHOT"
	default:
		return "UNKNOWN"
	}
}

func ParseStreamType(raw string) StreamType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DIFFERENCE_DEPTH_STREAM", "DIFFERENCE_DEPTH", "DEPTHUPDATE":
		return DifferenceDepthStream
	case "TRADE_STREAM", "TRADE":
		return TradeStream
	case "DEPTH_SNAPSHOT":
		return DepthSnapshot
	default:
		return StreamUnknown
	}
}
