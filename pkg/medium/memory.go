package medium

import "sync"

// Memory is an in-process medium. Fresh cells hold ErasedByte. It counts the
// physical programs applied to each cell so wear can be inspected.
type Memory struct {
	mu    sync.RWMutex
	cells []byte
	wear  []uint64
}

// WearStats summarises the physical programs applied to a range of cells
type WearStats struct {
	Min   uint64
	Max   uint64
	Total uint64
	Cells int
}

// NewMemory creates an erased in-memory medium of the given size
func NewMemory(size int) *Memory {
	cells := make([]byte, size)
	for i := range cells {
		cells[i] = ErasedByte
	}
	return &Memory{
		cells: cells,
		wear:  make([]uint64, size),
	}
}

// Load returns the byte stored at addr
func (m *Memory) Load(addr Addr) (byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := checkAddr(addr, len(m.cells)); err != nil {
		return 0, err
	}
	return m.cells[addr], nil
}

// Store programs the cell at addr
func (m *Memory) Store(addr Addr, value byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkAddr(addr, len(m.cells)); err != nil {
		return err
	}
	m.cells[addr] = value
	m.wear[addr]++
	return nil
}

// Size returns the number of cells
func (m *Memory) Size() int {
	return len(m.cells)
}

// Wear returns how many times the cell at addr has been programmed
func (m *Memory) Wear(addr Addr) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if int(addr) >= len(m.wear) {
		return 0
	}
	return m.wear[addr]
}

// WearStats returns wear statistics for the cells in [start, stop).
func (m *Memory) WearStats(start, stop Addr) WearStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if int(stop) > len(m.wear) {
		stop = Addr(len(m.wear))
	}

	var ws WearStats
	for addr := start; addr < stop; addr++ {
		w := m.wear[addr]
		if ws.Cells == 0 || w < ws.Min {
			ws.Min = w
		}
		if w > ws.Max {
			ws.Max = w
		}
		ws.Total += w
		ws.Cells++
	}
	return ws
}

// Bytes returns a copy of the cells in [start, stop).
func (m *Memory) Bytes(start, stop Addr) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if int(stop) > len(m.cells) {
		stop = Addr(len(m.cells))
	}
	if start >= stop {
		return nil
	}
	out := make([]byte, stop-start)
	copy(out, m.cells[start:stop])
	return out
}
