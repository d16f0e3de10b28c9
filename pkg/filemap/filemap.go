// Package filemap maps named byte streams onto the data chunks of a RAID
// engine, packing consecutive files back to back across slice boundaries
// instead of giving every file its own slice.
package filemap

import (
	"github.com/pkg/errors"
)

// ErrUnknownFile is returned by ReadFile for a name AddFile never saw.
var ErrUnknownFile = errors.New("filemap: unknown file")

// Engine is the subset of pkg/raid.Engine and pkg/agent.Controller the
// mapper needs. Both satisfy it without any adapter.
type Engine interface {
	AddSlice(s int, data [][]byte) error
	UpdateChunk(s, dataIdx int, newData []byte) error
	ReadChunk(s, dataIdx int) ([]byte, error)
}

type fileLocation struct {
	startSlice   int
	startDataIdx int
	length       int
}

// Mapper packs files across the data chunks of an Engine, tracking where
// each named file begins and how long it is.
type Mapper struct {
	engine Engine
	d, x   int

	locations map[string]fileLocation

	currentSlice   int
	currentDataIdx int
}

// New returns a Mapper over engine, whose data chunks are d-wide per slice
// and x bytes each.
func New(engine Engine, d, x int) *Mapper {
	return &Mapper{
		engine:    engine,
		d:         d,
		x:         x,
		locations: make(map[string]fileLocation),
	}
}

func (m *Mapper) advance() {
	m.currentDataIdx++
	if m.currentDataIdx == m.d {
		m.currentDataIdx = 0
		m.currentSlice++
	}
}

func chunkify(content []byte, x int) [][]byte {
	var chunks [][]byte
	for len(content) >= x {
		chunks = append(chunks, content[:x])
		content = content[x:]
	}
	if len(content) > 0 {
		last := make([]byte, x)
		copy(last, content)
		chunks = append(chunks, last)
	}
	return chunks
}

// AddFile records name starting at the mapper's current write cursor and
// appends content's chunks from there, filling out any partial slice left
// by a previous file before opening new slices.
func (m *Mapper) AddFile(name string, content []byte) error {
	m.locations[name] = fileLocation{
		startSlice:   m.currentSlice,
		startDataIdx: m.currentDataIdx,
		length:       len(content),
	}

	chunks := chunkify(content, m.x)
	idx := 0

	for m.currentDataIdx != 0 && idx < len(chunks) {
		if err := m.engine.UpdateChunk(m.currentSlice, m.currentDataIdx, chunks[idx]); err != nil {
			return errors.Wrap(err, "filemap: fill partial slice")
		}
		m.advance()
		idx++
	}

	for idx+m.d-1 < len(chunks) {
		if err := m.engine.AddSlice(m.currentSlice, chunks[idx:idx+m.d]); err != nil {
			return errors.Wrap(err, "filemap: add full slice")
		}
		m.currentSlice++
		idx += m.d
	}

	if idx >= len(chunks) {
		return nil
	}

	zeroSlice := make([][]byte, m.d)
	for i := range zeroSlice {
		zeroSlice[i] = make([]byte, m.x)
	}
	if err := m.engine.AddSlice(m.currentSlice, zeroSlice); err != nil {
		return errors.Wrap(err, "filemap: open trailing slice")
	}
	for idx < len(chunks) {
		if err := m.engine.UpdateChunk(m.currentSlice, m.currentDataIdx, chunks[idx]); err != nil {
			return errors.Wrap(err, "filemap: fill trailing slice")
		}
		m.advance()
		idx++
	}
	return nil
}

// ReadFile reassembles a file previously recorded by AddFile.
func (m *Mapper) ReadFile(name string) ([]byte, error) {
	loc, ok := m.locations[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownFile, "%q", name)
	}

	result := make([]byte, 0, loc.length)
	slice, dataIdx := loc.startSlice, loc.startDataIdx
	read := 0

	for read+m.x-1 < loc.length {
		chunk, err := m.engine.ReadChunk(slice, dataIdx)
		if err != nil {
			return nil, errors.Wrapf(err, "filemap: read chunk for %q", name)
		}
		result = append(result, chunk...)
		dataIdx++
		if dataIdx == m.d {
			dataIdx = 0
			slice++
		}
		read += m.x
	}

	left := loc.length - read
	if left == 0 {
		return result, nil
	}

	chunk, err := m.engine.ReadChunk(slice, dataIdx)
	if err != nil {
		return nil, errors.Wrapf(err, "filemap: read trailing chunk for %q", name)
	}
	result = append(result, chunk[:left]...)
	return result, nil
}
