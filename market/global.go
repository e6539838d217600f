package market

import (
	"errors"
	"fmt"
	"sync"

	"depthflow/logger"
	"depthflow/metrics"
	"depthflow/models"
)

// ErrNoSpecifiedMarket is returned when an instrument has never been seen.
var ErrNoSpecifiedMarket = errors.New("no specified market")

// Key identifies an instrument.
type Key struct {
	Symbol models.Symbol
	Market models.Market
}

func (k Key) String() string { return k.Symbol.String() + "|" + k.Market.String() }

// KeyOf returns the instrument key of an entry.
func KeyOf(e models.Entry) Key {
	s, m := e.Instrument()
	return Key{Symbol: s, Market: m}
}

// GlobalMarketState routes entries to per-instrument MarketStates, creating
// them on first sight. The registry lock is only taken for writing when a new
// instrument appears; each MarketState must be updated by a single goroutine.
type GlobalMarketState struct {
	mu     sync.RWMutex
	states map[Key]*MarketState
	order  []Key

	maskMu sync.RWMutex
	mask   metrics.Mask
}

func NewGlobalMarketState(mask metrics.Mask) *GlobalMarketState {
	return &GlobalMarketState{
		states: make(map[Key]*MarketState),
		mask:   mask,
	}
}

// Update forwards e to the state of its instrument and returns that state.
func (g *GlobalMarketState) Update(e models.Entry) *MarketState {
	st := g.getOrCreate(KeyOf(e))
	st.Update(e)
	return st
}

func (g *GlobalMarketState) getOrCreate(k Key) *MarketState {
	g.mu.RLock()
	st, ok := g.states[k]
	g.mu.RUnlock()
	if ok {
		return st
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok = g.states[k]; !ok {
		st = NewMarketState(k.Symbol, k.Market)
		g.states[k] = st
		g.order = append(g.order, k)
		logger.GetLogger().WithComponent("market").WithFields(logger.Fields{
			"symbol": k.Symbol.String(),
			"market": k.Market.String(),
		}).Debug("market state created")
	}
	return st
}

// GetMarketState returns the state of an instrument seen before.
func (g *GlobalMarketState) GetMarketState(symbol models.Symbol, market models.Market) (*MarketState, error) {
	g.mu.RLock()
	st, ok := g.states[Key{Symbol: symbol, Market: market}]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNoSpecifiedMarket, symbol, market)
	}
	return st, nil
}

// CountMarketStateMetrics computes the registry mask for one instrument. The
// bool is false while the instrument is warming up.
func (g *GlobalMarketState) CountMarketStateMetrics(symbol models.Symbol, market models.Market) (metrics.Entry, bool, error) {
	st, err := g.GetMarketState(symbol, market)
	if err != nil {
		return metrics.Entry{}, false, err
	}
	e, ok := st.CountMarketStateMetrics(g.Mask())
	return e, ok, nil
}

func (g *GlobalMarketState) MarketStateCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.states)
}

// MarketStateList returns the known instruments in first-seen order.
func (g *GlobalMarketState) MarketStateList() []Key {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Key, len(g.order))
	copy(out, g.order)
	return out
}

func (g *GlobalMarketState) Mask() metrics.Mask {
	g.maskMu.RLock()
	defer g.maskMu.RUnlock()
	return g.mask
}

func (g *GlobalMarketState) SetMask(m metrics.Mask) {
	g.maskMu.Lock()
	g.mask = m
	g.maskMu.Unlock()
}
