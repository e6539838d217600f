package source

import (
	"container/heap"
	"errors"
	"io"

	"depthflow/models"
)

// MergeSource interleaves several time ordered sources into one stream
// ordered by receive time. On equal timestamps the earlier source wins, so
// the rows of one exchange message stay contiguous.
type MergeSource struct {
	sources []Source
	heads   mergeHeap
	started bool
}

func NewMergeSource(sources ...Source) *MergeSource {
	return &MergeSource{sources: sources}
}

type mergeHead struct {
	entry models.Entry
	index int
}

type mergeHeap []mergeHead

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	ti, tj := h[i].entry.ReceiveTime(), h[j].entry.ReceiveTime()
	if ti != tj {
		return ti < tj
	}
	return h[i].index < h[j].index
}
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(mergeHead)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// advance loads the next row of source i, closing it when drained.
func (m *MergeSource) advance(i int) error {
	e, err := m.sources[i].Next()
	if errors.Is(err, io.EOF) {
		return closeSource(m.sources[i])
	}
	if err != nil {
		return err
	}
	heap.Push(&m.heads, mergeHead{entry: e, index: i})
	return nil
}

func (m *MergeSource) Next() (models.Entry, error) {
	if !m.started {
		m.started = true
		for i := range m.sources {
			if err := m.advance(i); err != nil {
				return nil, err
			}
		}
	}
	if m.heads.Len() == 0 {
		return nil, io.EOF
	}
	head := heap.Pop(&m.heads).(mergeHead)
	if err := m.advance(head.index); err != nil {
		return nil, err
	}
	return head.entry, nil
}

// Close releases every source.
func (m *MergeSource) Close() error {
	var errs []error
	for _, s := range m.sources {
		if err := closeSource(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenMerged opens event files and merges them by receive time, e.g. the
// difference depth and trade files of one instrument and day.
func OpenMerged(paths ...string) (Source, error) {
	sources, err := openAll(paths)
	if err != nil {
		return nil, err
	}
	if len(sources) == 1 {
		return sources[0], nil
	}
	return NewMergeSource(sources...), nil
}
