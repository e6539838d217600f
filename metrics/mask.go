package metrics

import (
	"encoding/binary"
	"errors"
	"math/bits"
)

// ErrInvalidArgument is wrapped by every mask construction failure.
var ErrInvalidArgument = errors.New("invalid argument")

// UnknownVariableError reports the first name ParseMask could not resolve.
type UnknownVariableError struct {
	Name string
}

func (e *UnknownVariableError) Error() string {
	return "Unknown variable name: " + e.Name
}

func (e *UnknownVariableError) Unwrap() error { return ErrInvalidArgument }

const maskWords = (Count + 63) / 64

// Mask selects catalog variables by bit position. The zero value selects
// nothing. Masks are small values and are passed by copy.
type Mask [maskWords]uint64

// NewMask builds a mask from metric ids.
func NewMask(ms ...Metric) Mask {
	var m Mask
	for _, id := range ms {
		m.Set(id)
	}
	return m
}

// AllMetrics selects the whole catalog.
func AllMetrics() Mask {
	var m Mask
	for i := 0; i < Count; i++ {
		m.Set(Metric(i))
	}
	return m
}

// ParseMask resolves names into a mask. It stops at the first unknown name.
func ParseMask(names []string) (Mask, error) {
	var m Mask
	for _, n := range names {
		id, ok := lookup[n]
		if !ok {
			return Mask{}, &UnknownVariableError{Name: n}
		}
		m.Set(id)
	}
	return m, nil
}

func (m Mask) Has(id Metric) bool {
	if int(id) >= Count {
		return false
	}
	return m[id/64]&(1<<(id%64)) != 0
}

func (m *Mask) Set(id Metric) {
	if int(id) >= Count {
		return
	}
	m[id/64] |= 1 << (id % 64)
}

func (m *Mask) Clear(id Metric) {
	if int(id) >= Count {
		return
	}
	m[id/64] &^= 1 << (id % 64)
}

// Count returns the number of selected variables.
func (m Mask) Count() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount64(w)
	}
	return n
}

func (m Mask) IsZero() bool { return m == Mask{} }

// HasAny reports whether any of ids is selected.
func (m Mask) HasAny(ids ...Metric) bool {
	for _, id := range ids {
		if m.Has(id) {
			return true
		}
	}
	return false
}

// Metrics lists the selected ids in bit order.
func (m Mask) Metrics() []Metric {
	out := make([]Metric, 0, m.Count())
	for wi, w := range m {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			out = append(out, Metric(wi*64+b))
			w &= w - 1
		}
	}
	return out
}

// Names lists the selected names in bit order.
func (m Mask) Names() []string {
	ids := m.Metrics()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = names[id]
	}
	return out
}

// Bytes is the little-endian encoding of the mask words.
func (m Mask) Bytes() []byte {
	out := make([]byte, 8*maskWords)
	for i, w := range m {
		binary.LittleEndian.PutUint64(out[i*8:], w)
	}
	return out
}
