package simulator

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"depthflow/logger"
	"depthflow/market"
	"depthflow/metrics"
	"depthflow/models"
	"depthflow/orderbook"
	"depthflow/source"
)

// ErrMixedInstruments is returned when a single-instrument session sees a
// second (symbol, market) pair.
var ErrMixedInstruments = errors.New("single instrument session received another instrument")

// SessionSimulator replays an ordered event source. Rows are applied as they
// arrive; a row flagged is_last closes an atomic update batch, and only then
// are metrics computed and, when available, emitted.
//
// In single mode one MarketState is created from the first row of each
// replay and every row must belong to that instrument. In multi mode rows are
// routed through a GlobalMarketState owned by the caller, which keeps its
// states between calls.
type SessionSimulator struct {
	global *market.GlobalMarketState
	single *market.MarketState

	log *logger.Entry
}

// NewSessionSimulator replays a single instrument.
func NewSessionSimulator() *SessionSimulator {
	return &SessionSimulator{log: logger.GetLogger().WithComponent("simulator")}
}

// NewMultiSessionSimulator replays any number of instruments into g. Its
// mask is replaced by the variables of each compute call.
func NewMultiSessionSimulator(g *market.GlobalMarketState) *SessionSimulator {
	return &SessionSimulator{global: g, log: logger.GetLogger().WithComponent("simulator")}
}

// Result summarizes one replay.
type Result struct {
	RunID    string
	Events   int
	Batches  int
	Emitted  int
	Duration time.Duration
}

// ComputeVariables replays src and returns every emitted record in order.
func (s *SessionSimulator) ComputeVariables(src source.Source, variables []string) ([]metrics.Entry, error) {
	var out []metrics.Entry
	err := s.ComputeBacktest(src, variables, func(e metrics.Entry) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ComputeBacktest replays src and hands each emitted record to cb instead of
// buffering. An error from cb stops the replay and is returned.
func (s *SessionSimulator) ComputeBacktest(src source.Source, variables []string, cb func(metrics.Entry) error) error {
	_, err := s.Run(src, variables, cb)
	return err
}

// Run is ComputeBacktest with replay statistics.
func (s *SessionSimulator) Run(src source.Source, variables []string, cb func(metrics.Entry) error) (Result, error) {
	mask, err := metrics.ParseMask(variables)
	if err != nil {
		return Result{}, err
	}
	if s.global != nil {
		s.global.SetMask(mask)
	}

	res := Result{RunID: uuid.NewString()}
	log := s.log.WithFields(logger.Fields{"run_id": res.RunID, "variables": mask.Count()})
	log.Info("replay started")
	start := time.Now()

	err = s.replay(src, func(st *market.MarketState, e models.Entry) error {
		res.Events++
		if !e.Last() {
			return nil
		}
		res.Batches++
		entry, ok := st.CountMarketStateMetrics(mask)
		if !ok {
			return nil
		}
		res.Emitted++
		logger.IncrementEmission()
		return cb(entry)
	})
	res.Duration = time.Since(start)
	if err != nil {
		log.WithError(err).Error("replay aborted")
		return res, err
	}

	logger.LogPerformanceEntry(log, "simulator", "replay", res.Duration, logger.Fields{
		"events":  res.Events,
		"batches": res.Batches,
		"emitted": res.Emitted,
	})
	return res, nil
}

// ComputeFinalDepthSnapshot replays src without computing metrics and
// returns a copy of the final book of its single instrument.
func (s *SessionSimulator) ComputeFinalDepthSnapshot(src source.Source) (*orderbook.OrderBook, error) {
	if s.global != nil {
		books, err := s.ComputeFinalDepthSnapshots(src)
		if err != nil {
			return nil, err
		}
		if len(books) != 1 {
			return nil, fmt.Errorf("final snapshot needs exactly one instrument, replay saw %d", len(books))
		}
		for _, b := range books {
			return b, nil
		}
	}

	if err := s.replay(src, nil); err != nil {
		return nil, err
	}
	if s.single == nil {
		return orderbook.New(), nil
	}
	return s.single.OrderBook().Clone(), nil
}

// ComputeFinalDepthSnapshots replays src without computing metrics and
// returns the final book of every instrument seen.
func (s *SessionSimulator) ComputeFinalDepthSnapshots(src source.Source) (map[market.Key]*orderbook.OrderBook, error) {
	if err := s.replay(src, nil); err != nil {
		return nil, err
	}
	out := make(map[market.Key]*orderbook.OrderBook)
	if s.global == nil {
		if s.single != nil {
			sym, mkt := s.single.Instrument()
			out[market.Key{Symbol: sym, Market: mkt}] = s.single.OrderBook().Clone()
		}
		return out, nil
	}
	for _, k := range s.global.MarketStateList() {
		st, err := s.global.GetMarketState(k.Symbol, k.Market)
		if err != nil {
			return nil, err
		}
		out[k] = st.OrderBook().Clone()
	}
	return out, nil
}

// replay applies every row of src and calls visit after each one. In single
// mode every replay starts from an empty MarketState, so repeated calls on
// one simulator do not see each other's rows.
func (s *SessionSimulator) replay(src source.Source, visit func(*market.MarketState, models.Entry) error) error {
	s.single = nil
	for {
		e, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}

		st, err := s.apply(e)
		if err != nil {
			return err
		}
		if visit != nil {
			if err := visit(st, e); err != nil {
				return err
			}
		}
	}
}

func (s *SessionSimulator) apply(e models.Entry) (*market.MarketState, error) {
	switch e.(type) {
	case models.DepthEntry, *models.DepthEntry:
		logger.IncrementDepthEvent()
	case models.TradeEntry, *models.TradeEntry:
		logger.IncrementTradeEvent()
	}

	if s.global != nil {
		return s.global.Update(e), nil
	}

	sym, mkt := e.Instrument()
	if s.single == nil {
		s.single = market.NewMarketState(sym, mkt)
	} else if gs, gm := s.single.Instrument(); gs != sym || gm != mkt {
		return nil, fmt.Errorf("%w: %s %s after %s %s", ErrMixedInstruments, sym, mkt, gs, gm)
	}
	s.single.Update(e)
	return s.single, nil
}
