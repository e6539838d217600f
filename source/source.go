package source

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"depthflow/models"
)

// Source yields events in replay order. Next returns io.EOF once exhausted.
type Source interface {
	Next() (models.Entry, error)
}

// SliceSource replays entries held in memory.
type SliceSource struct {
	entries []models.Entry
	pos     int
}

func NewSliceSource(entries ...models.Entry) *SliceSource {
	return &SliceSource{entries: entries}
}

func (s *SliceSource) Next() (models.Entry, error) {
	if s.pos >= len(s.entries) {
		return nil, io.EOF
	}
	e := s.entries[s.pos]
	s.pos++
	return e, nil
}

// MultiSource drains its sources one after another, closing each as it is
// exhausted.
type MultiSource struct {
	sources []Source
	cur     int
}

func NewMultiSource(sources ...Source) *MultiSource {
	return &MultiSource{sources: sources}
}

func (m *MultiSource) Next() (models.Entry, error) {
	for m.cur < len(m.sources) {
		e, err := m.sources[m.cur].Next()
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := closeSource(m.sources[m.cur]); err != nil {
			return nil, err
		}
		m.cur++
	}
	return nil, io.EOF
}

// Close releases the sources not yet drained.
func (m *MultiSource) Close() error {
	var errs []error
	for ; m.cur < len(m.sources); m.cur++ {
		if err := closeSource(m.sources[m.cur]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeSource(s Source) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Close closes s when it holds resources.
func Close(s Source) error { return closeSource(s) }

// Open opens one or more event files as a single source, in argument order.
func Open(paths ...string) (Source, error) {
	sources, err := openAll(paths)
	if err != nil {
		return nil, err
	}
	if len(sources) == 1 {
		return sources[0], nil
	}
	return NewMultiSource(sources...), nil
}

func openAll(paths []string) ([]Source, error) {
	if len(paths) == 0 {
		return nil, errors.New("no input files")
	}
	sources := make([]Source, 0, len(paths))
	for _, p := range paths {
		if ext := strings.ToLower(filepath.Ext(p)); ext != ".csv" {
			_ = NewMultiSource(sources...).Close()
			return nil, fmt.Errorf("unsupported input %s: extension %q", p, ext)
		}
		src, err := OpenCSV(p)
		if err != nil {
			_ = NewMultiSource(sources...).Close()
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}
