package wearlevel

import (
	"fmt"

	"github.com/KevoDB/wearlevel/pkg/config"
	"github.com/KevoDB/wearlevel/pkg/medium"
)

const (
	// BlockMarker identifies the block holding the live record
	BlockMarker byte = 0xFE

	// BlockOverhead is the marker byte plus the write-count byte
	BlockOverhead = 2

	// MinAddr is the lowest usable start address; address 0 is reserved
	MinAddr medium.Addr = 1

	// MinBlockCount is the fewest blocks that still allow rotation
	MinBlockCount = 2

	MinWriteLimit     = 1
	MaxWriteLimit     = 254
	DefaultWriteLimit = 5

	// MaxExtent is the highest value Geometry.Extent may take
	MaxExtent = int64(^medium.Addr(0))
)

// Geometry is the effective layout of a store's reserved range.
type Geometry struct {
	RecordSize int
	BlockSize  int
	BlockCount int
	StartAddr  medium.Addr
	EndAddr    medium.Addr
	WriteLimit uint8
	Legacy     bool
}

// Adjustment records a configuration value the store replaced with a valid one.
type Adjustment struct {
	Field     string
	Requested int64
	Effective int64
}

func (a Adjustment) String() string {
	return fmt.Sprintf("%s %d -> %d", a.Field, a.Requested, a.Effective)
}

// ComputeGeometry derives the effective layout from cfg. Out-of-range start
// address, block count and write limit are clamped and reported as
// adjustments; a non-positive record size is an error, as is a layout whose
// blocks reach past the last address.
//
// EndAddr is StartAddr + BlockSize*BlockCount. With cfg.LegacyGeometry it is
// StartAddr + BlockSize + BlockCount, the range used by existing EEPROM
// images in this format. Under the legacy formula the ring may
// hold fewer than BlockCount blocks and the last block may extend past
// EndAddr.
func ComputeGeometry(cfg *config.Config) (Geometry, []Adjustment, error) {
	layout := cfg.Layout()

	if layout.RecordSize < 1 {
		return Geometry{}, nil, fmt.Errorf("%w: %d", ErrInvalidRecordSize, layout.RecordSize)
	}

	var adjustments []Adjustment

	start := medium.Addr(layout.StartAddr)
	if start < MinAddr {
		adjustments = append(adjustments, Adjustment{"start_addr", int64(layout.StartAddr), int64(MinAddr)})
		start = MinAddr
	}

	blockCount := layout.BlockCount
	if blockCount < MinBlockCount {
		adjustments = append(adjustments, Adjustment{"block_count", int64(layout.BlockCount), MinBlockCount})
		blockCount = MinBlockCount
	}

	writeLimit := layout.WriteLimit
	if writeLimit < MinWriteLimit || writeLimit > MaxWriteLimit {
		adjustments = append(adjustments, Adjustment{"write_limit", int64(layout.WriteLimit), DefaultWriteLimit})
		writeLimit = DefaultWriteLimit
	}

	blockSize := layout.RecordSize + BlockOverhead

	var span int64
	if layout.LegacyGeometry {
		span = int64(blockSize) + int64(blockCount)
	} else {
		span = int64(blockSize) * int64(blockCount)
	}
	end := int64(start) + span
	if end > MaxExtent {
		return Geometry{}, nil, fmt.Errorf("%w: range end %d overflows the address space", ErrRangeExceedsMedium, end)
	}

	geo := Geometry{
		RecordSize: layout.RecordSize,
		BlockSize:  blockSize,
		BlockCount: blockCount,
		StartAddr:  start,
		EndAddr:    medium.Addr(end),
		WriteLimit: uint8(writeLimit),
		Legacy:     layout.LegacyGeometry,
	}

	// The cursor steps to Extent() before wrapping, so it must stay addressable
	if geo.Extent() > MaxExtent {
		return Geometry{}, nil, fmt.Errorf("%w: blocks reach %d, past the address space", ErrRangeExceedsMedium, geo.Extent())
	}

	return geo, adjustments, nil
}

// Slots returns the number of block positions in the ring, i.e. how many
// blocks start inside [StartAddr, EndAddr).
func (g Geometry) Slots() int {
	span := int(g.EndAddr - g.StartAddr)
	return (span + g.BlockSize - 1) / g.BlockSize
}

// Extent returns one past the last byte any block can touch. It equals
// EndAddr unless the legacy formula lets the last block overhang.
func (g Geometry) Extent() int64 {
	return int64(g.StartAddr) + int64(g.Slots())*int64(g.BlockSize)
}
