package metrics

import (
	"encoding/json"

	"depthflow/models"
)

// Entry is one computed metrics record. Identity fields are typed; every
// other variable lives in a dense value array indexed by Metric. Only the
// variables selected by Mask are meaningful.
type Entry struct {
	TimestampOfReceive int64
	Symbol             models.Symbol
	Market             models.Market
	IsAggressorAsk     bool
	Mask               Mask

	values [Count]float64
}

// Value returns the numeric value of a metric. Identity fields are converted:
// the timestamp as float, the aggressor flag as 0/1, symbol and market as
// their enum ordinal.
func (e *Entry) Value(m Metric) float64 {
	switch m {
	case TimestampOfReceive:
		return float64(e.TimestampOfReceive)
	case SymbolField:
		return float64(e.Symbol)
	case MarketField:
		return float64(e.Market)
	case IsAggressorAsk:
		if e.IsAggressorAsk {
			return 1
		}
		return 0
	}
	if int(m) >= Count {
		return 0
	}
	return e.values[m]
}

// Lookup returns the value of a named metric, false when the name is unknown
// or not selected.
func (e *Entry) Lookup(name string) (float64, bool) {
	m, ok := lookup[name]
	if !ok || !e.Mask.Has(m) {
		return 0, false
	}
	return e.Value(m), true
}

func (e *Entry) set(m Metric, v float64) { e.values[m] = v }

// Fields returns the selected variables keyed by name, with identity fields
// in their natural types.
func (e *Entry) Fields() map[string]interface{} {
	out := make(map[string]interface{}, e.Mask.Count())
	for _, m := range e.Mask.Metrics() {
		out[names[m]] = e.typed(m)
	}
	return out
}

// Row returns the selected variables in bit order, typed as in Fields.
func (e *Entry) Row() []interface{} {
	ids := e.Mask.Metrics()
	out := make([]interface{}, len(ids))
	for i, m := range ids {
		out[i] = e.typed(m)
	}
	return out
}

func (e *Entry) typed(m Metric) interface{} {
	switch m {
	case TimestampOfReceive:
		return e.TimestampOfReceive
	case SymbolField:
		return e.Symbol.String()
	case MarketField:
		return e.Market.String()
	case IsAggressorAsk:
		return e.IsAggressorAsk
	default:
		return e.values[m]
	}
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Fields())
}
