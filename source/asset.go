package source

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"depthflow/models"
)

// ErrAssetName is returned for file names that do not encode an instrument.
var ErrAssetName = errors.New("unrecognized asset file name")

// AssetParameters is what a single-asset file name says about its rows.
type AssetParameters struct {
	Market models.Market
	Stream models.StreamType
	Symbol models.Symbol
	// Pair is the raw ticker segment, e.g. "trxusdt" or "btcusd_perp".
	Pair string
	Date string
}

// ParseAssetParameters decodes names such as
// binance_difference_depth_stream_usd_m_futures_trxusdt_14-04-2025.csv.
// The market and stream are found by substring, the pair is the segment
// before the date (two segments for COIN-M contracts) and the date is last.
func ParseAssetParameters(path string) (AssetParameters, error) {
	base := strings.TrimSuffix(filepath.Base(path), ".csv")

	var p AssetParameters
	switch {
	case strings.Contains(base, "usd_m_futures"):
		p.Market = models.USDMFutures
	case strings.Contains(base, "coin_m_futures"):
		p.Market = models.CoinMFutures
	case strings.Contains(base, "spot"):
		p.Market = models.Spot
	default:
		return AssetParameters{}, fmt.Errorf("%w: unknown market in %q", ErrAssetName, base)
	}

	switch {
	case strings.Contains(base, "difference_depth"):
		p.Stream = models.DifferenceDepthStream
	case strings.Contains(base, "trade"):
		p.Stream = models.TradeStream
	case strings.Contains(base, "depth_snapshot"):
		p.Stream = models.DepthSnapshot
	default:
		return AssetParameters{}, fmt.Errorf("%w: unknown stream type in %q", ErrAssetName, base)
	}

	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return AssetParameters{}, fmt.Errorf("%w: %q has too few segments", ErrAssetName, base)
	}
	n := len(parts)
	if p.Market == models.CoinMFutures {
		p.Pair = parts[n-3] + "_" + parts[n-2]
	} else {
		p.Pair = parts[n-2]
	}
	p.Date = parts[n-1]
	p.Symbol = models.ParseSymbol(p.Pair)
	return p, nil
}
