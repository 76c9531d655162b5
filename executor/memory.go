package executor

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
)

const (
	pageWords = 1024
	pageShift = 10 // log2(pageWords)
)

type memPage struct {
	words   [pageWords]uint32
	clks    [pageWords]uint32
	touched *bitset.BitSet
}

// Memory is the sparse, paged guest memory. Every cell carries the clock of
// its last access so each new access can report the pair the offline memory
// argument consumes. Untouched cells read as zero at clock zero.
type Memory struct {
	pages map[uint32]*memPage
}

// NewMemory returns empty memory.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint32]*memPage)}
}

func (m *Memory) page(idx uint32) *memPage {
	p, ok := m.pages[idx]
	if !ok {
		p = &memPage{touched: bitset.New(pageWords)}
		m.pages[idx] = p
	}
	return p
}

// Preload installs a word without generating an access record, used for the
// initial image. Preloaded cells keep clock zero: the memory argument sees
// them as initialization values.
func (m *Memory) Preload(addr, value uint32) {
	p := m.page(addr / 4 >> pageShift)
	p.words[(addr/4)&(pageWords-1)] = value
}

// Peek reads a word without generating an access record and without marking
// the cell touched. Host-side I/O uses it; proved execution must not.
func (m *Memory) Peek(addr uint32) uint32 {
	p, ok := m.pages[addr/4>>pageShift]
	if !ok {
		return 0
	}
	return p.words[(addr/4)&(pageWords-1)]
}

// Read performs a proved read at the given clock.
func (m *Memory) Read(addr, clk uint32) MemoryRecord {
	p := m.page(addr / 4 >> pageShift)
	off := (addr / 4) & (pageWords - 1)
	rec := MemoryRecord{
		Addr:      addr,
		Value:     p.words[off],
		PrevValue: p.words[off],
		Clk:       clk,
		PrevClk:   p.clks[off],
	}
	p.clks[off] = clk
	p.touched.Set(uint(off))
	return rec
}

// Write performs a proved write at the given clock.
func (m *Memory) Write(addr, clk, value uint32) MemoryRecord {
	p := m.page(addr / 4 >> pageShift)
	off := (addr / 4) & (pageWords - 1)
	rec := MemoryRecord{
		Addr:      addr,
		Value:     value,
		PrevValue: p.words[off],
		Clk:       clk,
		PrevClk:   p.clks[off],
	}
	p.words[off] = value
	p.clks[off] = clk
	p.touched.Set(uint(off))
	return rec
}

// TouchedCount returns the number of cells accessed by proved execution.
func (m *Memory) TouchedCount() int {
	n := 0
	for _, p := range m.pages {
		n += int(p.touched.Count())
	}
	return n
}

// TouchedCell is the final state of one accessed memory word.
type TouchedCell struct {
	Addr  uint32
	Value uint32
	Clk   uint32
}

// Touched enumerates all accessed cells in ascending address order. The
// memory finalization chip consumes exactly this.
func (m *Memory) Touched() []TouchedCell {
	pageIdxs := make([]uint32, 0, len(m.pages))
	for idx := range m.pages {
		if m.pages[idx].touched.Any() {
			pageIdxs = append(pageIdxs, idx)
		}
	}
	sort.Slice(pageIdxs, func(i, j int) bool { return pageIdxs[i] < pageIdxs[j] })

	var cells []TouchedCell
	for _, idx := range pageIdxs {
		p := m.pages[idx]
		base := idx << pageShift
		for off, ok := p.touched.NextSet(0); ok; off, ok = p.touched.NextSet(off + 1) {
			cells = append(cells, TouchedCell{
				Addr:  (base + uint32(off)) * 4,
				Value: p.words[off],
				Clk:   p.clks[off],
			})
		}
	}
	return cells
}
