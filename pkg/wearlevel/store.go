// Package wearlevel spreads repeated writes of one fixed-size record across a
// ring of blocks on a medium with limited write endurance.
//
// Each block is laid out as
//
//	[0]              BlockMarker when the block holds the live record
//	[1]              write count of the block
//	[2:BlockSize]    record bytes
//
// After WriteLimit writes to a block the next write moves to the following
// block in the ring and erases the one it left. A Store is not safe for
// concurrent use.
package wearlevel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevoDB/wearlevel/pkg/common/log"
	"github.com/KevoDB/wearlevel/pkg/config"
	"github.com/KevoDB/wearlevel/pkg/medium"
	"github.com/KevoDB/wearlevel/pkg/record"
	"github.com/KevoDB/wearlevel/pkg/stats"
	"github.com/KevoDB/wearlevel/pkg/telemetry"
)

// Store is a wear-leveled slot for a single record.
type Store struct {
	geo         Geometry
	adjustments []Adjustment
	medium      medium.Medium

	// cursor; blockAddr == 0 means no active block
	blockAddr  medium.Addr
	countAddr  medium.Addr
	writeCount uint8

	logger  log.Logger
	stats   stats.Collector
	metrics StoreMetrics
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store's logger
func WithLogger(logger log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithStats makes the store report operations to collector
func WithStats(collector stats.Collector) Option {
	return func(s *Store) {
		s.stats = collector
	}
}

// WithTelemetry makes the store record metrics through tel
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(s *Store) {
		s.metrics = NewStoreMetrics(tel)
	}
}

// New creates a store over m using the geometry in cfg. Out-of-range
// geometry is clamped, logged at WARN and reported by Adjustments. The
// cursor starts empty; call Recover to locate existing data.
func New(cfg *config.Config, m medium.Medium, opts ...Option) (*Store, error) {
	geo, adjustments, err := ComputeGeometry(cfg)
	if err != nil {
		return nil, err
	}

	if geo.Extent() > int64(m.Size()) {
		return nil, fmt.Errorf("%w: blocks reach address %d, medium holds %d bytes",
			ErrRangeExceedsMedium, geo.Extent(), m.Size())
	}

	s := &Store{
		geo:         geo,
		adjustments: adjustments,
		medium:      m,
		logger:      log.GetDefaultLogger().WithField("component", "wearlevel"),
		metrics:     NewNoopStoreMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, adj := range adjustments {
		s.logger.Warn("configuration clamped: %s", adj)
	}

	return s, nil
}

// Geometry returns the effective layout
func (s *Store) Geometry() Geometry {
	return s.geo
}

// Adjustments returns the configuration values that were clamped by New
func (s *Store) Adjustments() []Adjustment {
	out := make([]Adjustment, len(s.adjustments))
	copy(out, s.adjustments)
	return out
}

// Recover rebuilds the cursor from the medium. Blocks are scanned in
// ascending address order and the first one bearing the marker becomes the
// active block; later marked blocks are ignored. Recover only reads and may
// be called any number of times.
func (s *Store) Recover() error {
	start := time.Now()
	var recoveryStart time.Time
	if s.stats != nil {
		recoveryStart = s.stats.StartRecovery()
	}

	s.resetCursor()

	scanned := 0
	for addr := s.geo.StartAddr; addr < s.geo.EndAddr; addr += medium.Addr(s.geo.BlockSize) {
		scanned++
		marker, err := s.medium.Load(addr)
		if err != nil {
			return s.fail(stats.OpRecover, telemetry.OpTypeRecover, fmt.Errorf("failed to scan block %d: %w", addr, err))
		}
		if marker != BlockMarker {
			continue
		}

		count, err := s.medium.Load(addr + 1)
		if err != nil {
			return s.fail(stats.OpRecover, telemetry.OpTypeRecover, fmt.Errorf("failed to read write count of block %d: %w", addr, err))
		}
		s.blockAddr = addr
		s.countAddr = addr + 1
		s.writeCount = count
		break
	}

	found := s.blockAddr != 0
	elapsed := time.Since(start)
	if s.stats != nil {
		s.stats.TrackOperationWithLatency(stats.OpRecover, uint64(elapsed.Nanoseconds()))
		s.stats.FinishRecovery(recoveryStart, uint64(scanned), found, uint32(s.blockAddr))
	}
	s.metrics.RecordRecover(context.Background(), elapsed, scanned, found)

	if found {
		s.logger.Debug("recovered active block %d with write count %d", s.blockAddr, s.writeCount)
	} else {
		s.logger.Debug("no active block in [%d, %d)", s.geo.StartAddr, s.geo.EndAddr)
	}
	return nil
}

// Read copies the current record into rec. It returns false, with rec
// untouched, when no record has been written or recovered. The bytes are
// returned as stored; nothing is validated.
func (s *Store) Read(rec record.Record) (bool, error) {
	start := time.Now()

	if rec.Size() != s.geo.RecordSize {
		return false, s.fail(stats.OpRead, telemetry.OpTypeRead,
			fmt.Errorf("%w: got %d, want %d", ErrRecordSize, rec.Size(), s.geo.RecordSize))
	}

	if s.blockAddr == 0 {
		s.trackRead(start, false, 0)
		return false, nil
	}

	count, err := s.medium.Load(s.countAddr)
	if err != nil {
		return false, s.fail(stats.OpRead, telemetry.OpTypeRead, fmt.Errorf("failed to read write count: %w", err))
	}
	s.writeCount = count

	buf := make([]byte, s.geo.RecordSize)
	dataAddr := s.blockAddr + BlockOverhead
	for i := range buf {
		b, err := s.medium.Load(dataAddr + medium.Addr(i))
		if err != nil {
			return false, s.fail(stats.OpRead, telemetry.OpTypeRead, fmt.Errorf("failed to read record: %w", err))
		}
		buf[i] = b
	}

	if err := rec.UnmarshalBinary(buf); err != nil {
		return false, s.fail(stats.OpRead, telemetry.OpTypeRead, fmt.Errorf("failed to decode record: %w", err))
	}

	s.trackRead(start, true, len(buf))
	return true, nil
}

// Write stores rec as the current record. The first write ever lands on the
// start block. Once the active block has taken WriteLimit writes the cursor
// moves to the next block, wrapping to the start at the end of the range, and
// the vacated block is erased. Cells already holding the target value are
// not reprogrammed.
//
// Write is not atomic. If it is interrupted after the new block is marked
// but before the old block is erased, two blocks carry the marker and the
// next Recover picks the lower address.
func (s *Store) Write(rec record.Record) error {
	start := time.Now()

	data, err := rec.MarshalBinary()
	if err != nil {
		return s.fail(stats.OpWrite, telemetry.OpTypeWrite, fmt.Errorf("failed to encode record: %w", err))
	}
	if len(data) != s.geo.RecordSize {
		return s.fail(stats.OpWrite, telemetry.OpTypeWrite,
			fmt.Errorf("%w: got %d, want %d", ErrRecordSize, len(data), s.geo.RecordSize))
	}

	if s.blockAddr == 0 {
		s.blockAddr = s.geo.StartAddr
		s.countAddr = s.blockAddr + 1
		s.writeCount = 0
	}

	w := cellWriter{m: s.medium}

	rotated := false
	if s.writeCount >= s.geo.WriteLimit {
		if err := s.rotate(&w); err != nil {
			return s.fail(stats.OpWrite, telemetry.OpTypeWrite, err)
		}
		rotated = true
	}

	s.writeCount++

	w.update(s.blockAddr, BlockMarker)
	w.update(s.countAddr, s.writeCount)
	dataAddr := s.blockAddr + BlockOverhead
	for i, b := range data {
		w.update(dataAddr+medium.Addr(i), b)
	}
	if w.err != nil {
		return s.fail(stats.OpWrite, telemetry.OpTypeWrite, fmt.Errorf("failed to write block %d: %w", s.blockAddr, w.err))
	}

	elapsed := time.Since(start)
	if s.stats != nil {
		s.stats.TrackOperationWithLatency(stats.OpWrite, uint64(elapsed.Nanoseconds()))
		s.stats.TrackCells(uint64(w.programmed), uint64(w.skipped))
	}
	s.metrics.RecordWrite(context.Background(), elapsed, w.programmed, w.skipped, rotated)

	return nil
}

// rotate advances the cursor to the next block and erases the old one
// through w
func (s *Store) rotate(w *cellWriter) error {
	oldAddr := s.blockAddr

	s.blockAddr += medium.Addr(s.geo.BlockSize)
	if s.blockAddr >= s.geo.EndAddr {
		s.blockAddr = s.geo.StartAddr
	}
	s.countAddr = s.blockAddr + 1
	s.writeCount = 0

	s.logger.Debug("rotating from block %d to block %d", oldAddr, s.blockAddr)

	if s.stats != nil {
		s.stats.TrackOperation(stats.OpRotate)
		s.stats.TrackRotation()
	}
	s.metrics.RecordRotation(context.Background(), oldAddr, s.blockAddr)

	w.erase(oldAddr, oldAddr+medium.Addr(s.geo.BlockSize))
	if w.err != nil {
		return fmt.Errorf("failed to erase block %d: %w", oldAddr, w.err)
	}
	return nil
}

// FormatAll erases every byte of the reserved range. The cursor is left as
// is; call Recover afterwards.
func (s *Store) FormatAll() error {
	return s.FormatRange(s.geo.StartAddr, s.geo.EndAddr)
}

// FormatRange erases every byte in [start, stop)
func (s *Store) FormatRange(start, stop medium.Addr) error {
	began := time.Now()

	if stop < start {
		return s.fail(stats.OpFormat, telemetry.OpTypeFormat,
			fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, start, stop))
	}

	w := cellWriter{m: s.medium}
	w.erase(start, stop)
	if w.err != nil {
		return s.fail(stats.OpFormat, telemetry.OpTypeFormat, fmt.Errorf("failed to erase [%d, %d): %w", start, stop, w.err))
	}

	elapsed := time.Since(began)
	if s.stats != nil {
		s.stats.TrackOperationWithLatency(stats.OpFormat, uint64(elapsed.Nanoseconds()))
		s.stats.TrackCells(uint64(w.programmed), uint64(w.skipped))
	}
	s.metrics.RecordFormat(context.Background(), elapsed, int(stop-start), w.programmed)

	return nil
}

func (s *Store) resetCursor() {
	s.blockAddr = 0
	s.countAddr = 0
	s.writeCount = 0
}

func (s *Store) trackRead(start time.Time, found bool, n int) {
	elapsed := time.Since(start)
	if s.stats != nil {
		s.stats.TrackOperationWithLatency(stats.OpRead, uint64(elapsed.Nanoseconds()))
		s.stats.TrackBytesRead(uint64(n))
	}
	s.metrics.RecordRead(context.Background(), elapsed, found)
}

func (s *Store) fail(op stats.OperationType, opType string, err error) error {
	if s.stats != nil {
		s.stats.TrackError(string(op) + "_" + errorType(err))
	}
	s.metrics.RecordError(context.Background(), opType, err)
	s.logger.Error("%s failed: %v", op, err)
	return err
}

func errorType(err error) string {
	switch {
	case errors.Is(err, medium.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, medium.ErrClosed):
		return "closed"
	case errors.Is(err, ErrRecordSize), errors.Is(err, record.ErrSizeMismatch):
		return "record_size"
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	default:
		return "medium"
	}
}

// cellWriter applies update-if-changed writes and counts them. After the
// first error further updates are ignored.
type cellWriter struct {
	m          medium.Medium
	programmed int
	skipped    int
	err        error
}

func (w *cellWriter) update(addr medium.Addr, value byte) {
	if w.err != nil {
		return
	}
	wrote, err := medium.Update(w.m, addr, value)
	if err != nil {
		w.err = err
		return
	}
	if wrote {
		w.programmed++
	} else {
		w.skipped++
	}
}

func (w *cellWriter) erase(start, stop medium.Addr) {
	for addr := start; addr < stop && w.err == nil; addr++ {
		w.update(addr, medium.ErasedByte)
	}
}
