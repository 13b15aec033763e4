package wearlevel

import (
	"fmt"

	"github.com/KevoDB/wearlevel/pkg/medium"
)

// State is a snapshot of the store's cursor and layout
type State struct {
	BlockAddr  medium.Addr
	CountAddr  medium.Addr
	WriteCount uint8
	BlockSize  int
	StartAddr  medium.Addr
	EndAddr    medium.Addr
}

// Empty reports whether no active block is known
func (st State) Empty() bool {
	return st.BlockAddr == 0
}

func (st State) String() string {
	return fmt.Sprintf("BlockAddr: %d CountAddr: %d WriteCount: %d BlockSize: %d StartAddr: %d EndAddr: %d",
		st.BlockAddr, st.CountAddr, st.WriteCount, st.BlockSize, st.StartAddr, st.EndAddr)
}

// State returns the current cursor
func (s *Store) State() State {
	return State{
		BlockAddr:  s.blockAddr,
		CountAddr:  s.countAddr,
		WriteCount: s.writeCount,
		BlockSize:  s.geo.BlockSize,
		StartAddr:  s.geo.StartAddr,
		EndAddr:    s.geo.EndAddr,
	}
}

// BlockInfo describes one block position in the ring as found on the medium
type BlockInfo struct {
	Addr       medium.Addr
	Marked     bool
	WriteCount uint8
	Erased     bool
	Active     bool
}

// Blocks reads the marker and write count of every block in the ring. More
// than one marked block means a rotation was interrupted; Recover resolves
// that by taking the lowest address and Blocks does not change it.
func (s *Store) Blocks() ([]BlockInfo, error) {
	infos := make([]BlockInfo, 0, s.geo.Slots())

	for addr := s.geo.StartAddr; addr < s.geo.EndAddr; addr += medium.Addr(s.geo.BlockSize) {
		info := BlockInfo{
			Addr:   addr,
			Erased: true,
			Active: addr == s.blockAddr,
		}

		for i := 0; i < s.geo.BlockSize; i++ {
			b, err := s.medium.Load(addr + medium.Addr(i))
			if err != nil {
				return nil, fmt.Errorf("failed to inspect block %d: %w", addr, err)
			}
			switch i {
			case 0:
				info.Marked = b == BlockMarker
			case 1:
				info.WriteCount = b
			}
			if b != medium.ErasedByte {
				info.Erased = false
			}
		}

		infos = append(infos, info)
	}

	return infos, nil
}
