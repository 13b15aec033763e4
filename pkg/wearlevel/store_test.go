package wearlevel

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/wearlevel/pkg/common/log"
	"github.com/KevoDB/wearlevel/pkg/config"
	"github.com/KevoDB/wearlevel/pkg/medium"
	"github.com/KevoDB/wearlevel/pkg/record"
	"github.com/KevoDB/wearlevel/pkg/stats"
)

type settings struct {
	Brightness uint8
	Volume     uint8
	Boots      uint32
	Offset     int16
}

func createTestConfig(recordSize, blockCount int, startAddr uint32, writeLimit int) *config.Config {
	cfg := config.NewDefaultConfig("/tmp/wearlevel_test")
	cfg.Medium.Kind = config.MediumMemory
	cfg.RecordSize = recordSize
	cfg.BlockCount = blockCount
	cfg.StartAddr = startAddr
	cfg.WriteLimit = writeLimit
	return cfg
}

func openTestStore(t *testing.T, cfg *config.Config, m medium.Medium, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(log.NewDiscard())}, opts...)
	s, err := New(cfg, m, opts...)
	require.NoError(t, err)
	return s
}

func load(t *testing.T, m medium.Medium, addr medium.Addr) byte {
	t.Helper()
	b, err := m.Load(addr)
	require.NoError(t, err)
	return b
}

func loadRange(t *testing.T, m medium.Medium, start, stop medium.Addr) []byte {
	t.Helper()
	out := make([]byte, 0, stop-start)
	for addr := start; addr < stop; addr++ {
		out = append(out, load(t, m, addr))
	}
	return out
}

func erased(n int) []byte {
	return bytes.Repeat([]byte{medium.ErasedByte}, n)
}

func TestConcreteScenario(t *testing.T) {
	for _, legacy := range []bool{false, true} {
		t.Run(map[bool]string{false: "default", true: "legacy"}[legacy], func(t *testing.T) {
			m := medium.NewMemory(64)
			cfg := createTestConfig(4, 3, 10, 2)
			cfg.LegacyGeometry = legacy
			s := openTestStore(t, cfg, m)
			require.Equal(t, 6, s.Geometry().BlockSize)

			require.NoError(t, s.Write(record.BytesOf([]byte{1, 2, 3, 4})))
			assert.Equal(t, BlockMarker, load(t, m, 10))
			assert.Equal(t, byte(1), load(t, m, 11))
			assert.Equal(t, []byte{1, 2, 3, 4}, loadRange(t, m, 12, 16))
			assert.Equal(t, medium.Addr(10), s.State().BlockAddr)

			require.NoError(t, s.Write(record.BytesOf([]byte{5, 6, 7, 8})))
			assert.Equal(t, byte(2), load(t, m, 11))
			assert.Equal(t, medium.Addr(10), s.State().BlockAddr)

			require.NoError(t, s.Write(record.BytesOf([]byte{9, 10, 11, 12})))
			assert.Equal(t, erased(6), loadRange(t, m, 10, 16), "old block must be erased")
			assert.Equal(t, medium.Addr(16), s.State().BlockAddr)
			assert.Equal(t, BlockMarker, load(t, m, 16))
			assert.Equal(t, byte(1), load(t, m, 17))
			assert.Equal(t, []byte{9, 10, 11, 12}, loadRange(t, m, 18, 22))

			out := record.NewBytes(4)
			ok, err := s.Read(out)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte{9, 10, 11, 12}, out.Bytes())
		})
	}
}

func TestEmptyStoreRead(t *testing.T) {
	m := medium.NewMemory(64)
	s := openTestStore(t, createTestConfig(4, 3, 10, 2), m)

	out := record.BytesOf([]byte{7, 7, 7, 7})

	// Before recovery the cursor is empty
	ok, err := s.Read(out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Recover())
	assert.True(t, s.State().Empty())

	ok, err = s.Read(out)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []byte{7, 7, 7, 7}, out.Bytes(), "record must be untouched")
}

func TestRecoveryRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		blockCount int
		startAddr  uint32
		writeLimit int
		legacy     bool
	}{
		{"two blocks", 2, 1, 1, false},
		{"five blocks", 5, 100, 3, false},
		{"clamped", 8, 0, 300, false},
		{"legacy", 3, 10, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := medium.NewMemory(256)
			cfg := createTestConfig(8, tt.blockCount, tt.startAddr, tt.writeLimit)
			cfg.LegacyGeometry = tt.legacy
			writer := openTestStore(t, cfg, m)

			for i := 0; i < 40; i++ {
				in := record.NewFixed(settings{
					Brightness: uint8(i),
					Volume:     uint8(255 - i),
					Boots:      uint32(i * 1000),
					Offset:     int16(-i),
				})
				require.NoError(t, writer.Write(in))

				reader := openTestStore(t, cfg, m)
				require.NoError(t, reader.Recover())
				assert.Equal(t, writer.State(), reader.State())

				var out record.Fixed[settings]
				ok, err := reader.Read(&out)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, in.Value, out.Value, "write %d", i)
			}
		})
	}
}

func TestRotationTriggersAtLimit(t *testing.T) {
	for _, limit := range []int{1, 3, 17, MaxWriteLimit} {
		m := medium.NewMemory(64)
		s := openTestStore(t, createTestConfig(2, 3, 4, limit), m)

		rec := record.BytesOf([]byte{0xAA, 0x55})
		for i := 0; i < limit; i++ {
			require.NoError(t, s.Write(rec))
			require.Equal(t, medium.Addr(4), s.State().BlockAddr, "limit %d write %d", limit, i+1)
		}
		assert.Equal(t, uint8(limit), s.State().WriteCount)

		require.NoError(t, s.Write(rec))
		assert.Equal(t, medium.Addr(8), s.State().BlockAddr, "limit %d", limit)
		assert.Equal(t, uint8(1), s.State().WriteCount)
	}
}

func TestRingWraparound(t *testing.T) {
	const blocks = 4
	for _, limit := range []int{1, 2} {
		m := medium.NewMemory(64)
		s := openTestStore(t, createTestConfig(4, blocks, 1, limit), m)
		geo := s.Geometry()
		require.Equal(t, medium.Addr(25), geo.EndAddr)

		rec := record.BytesOf([]byte{1, 2, 3, 4})
		require.NoError(t, s.Write(rec))

		var visited []medium.Addr
		for rotation := 1; rotation <= blocks; rotation++ {
			for i := 0; i < limit; i++ {
				require.NoError(t, s.Write(rec))
			}
			visited = append(visited, s.State().BlockAddr)
		}

		assert.Equal(t, []medium.Addr{7, 13, 19, 1}, visited, "limit %d", limit)
	}
}

func TestOldBlockErasedOnRotation(t *testing.T) {
	m := medium.NewMemory(64)
	s := openTestStore(t, createTestConfig(4, 3, 10, 1), m)

	for i := 0; i < 7; i++ {
		before := s.State().BlockAddr
		require.NoError(t, s.Write(record.BytesOf([]byte{byte(i), 1, 2, 3})))
		after := s.State().BlockAddr

		if i > 0 {
			require.NotEqual(t, before, after)
			assert.Equal(t, erased(6), loadRange(t, m, before, before+6), "vacated block %d", before)
		}

		blocks, err := s.Blocks()
		require.NoError(t, err)
		marked := 0
		for _, b := range blocks {
			if b.Marked {
				marked++
				assert.True(t, b.Active)
			}
		}
		assert.Equal(t, 1, marked, "exactly one active block after write %d", i)
	}
}

func TestRecoverIsIdempotent(t *testing.T) {
	m := medium.NewMemory(64)
	s := openTestStore(t, createTestConfig(4, 3, 10, 2), m)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Write(record.BytesOf([]byte{byte(i), 0, 0, 0})))
	}
	written := s.State()

	require.NoError(t, s.Recover())
	first := s.State()
	require.NoError(t, s.Recover())
	second := s.State()

	assert.Equal(t, written, first)
	assert.Equal(t, first, second)
}

func TestRecoverDiscardsInMemoryCursor(t *testing.T) {
	m := medium.NewMemory(64)
	cfg := createTestConfig(4, 3, 10, 2)
	s := openTestStore(t, cfg, m)
	require.NoError(t, s.Write(record.BytesOf([]byte{1, 2, 3, 4})))

	// Another writer resets the range behind this store's back
	other := openTestStore(t, cfg, m)
	require.NoError(t, other.FormatAll())

	require.NoError(t, s.Recover())
	assert.True(t, s.State().Empty())
}

func TestLowestMarkedBlockWins(t *testing.T) {
	m := medium.NewMemory(64)
	cfg := createTestConfig(4, 3, 10, 1)
	s := openTestStore(t, cfg, m)

	require.NoError(t, s.Write(record.BytesOf([]byte{1, 1, 1, 1})))
	require.NoError(t, s.Write(record.BytesOf([]byte{2, 2, 2, 2})))
	require.Equal(t, medium.Addr(16), s.State().BlockAddr)

	// Simulate a rotation interrupted before the old block was erased
	for i, b := range []byte{BlockMarker, 1, 1, 1, 1, 1} {
		require.NoError(t, m.Store(10+medium.Addr(i), b))
	}

	blocks, err := s.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.True(t, blocks[0].Marked)
	assert.True(t, blocks[1].Marked)
	assert.True(t, blocks[2].Erased)

	require.NoError(t, s.Recover())
	assert.Equal(t, medium.Addr(10), s.State().BlockAddr)

	out := record.NewBytes(4)
	ok, err := s.Read(out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 1, 1, 1}, out.Bytes())
}

func TestWriteSkipsUnchangedCells(t *testing.T) {
	m := medium.NewMemory(64)
	collector := stats.NewAtomicCollector()
	s := openTestStore(t, createTestConfig(4, 3, 10, 5), m, WithStats(collector))

	rec := record.BytesOf([]byte{1, 2, 3, 4})
	require.NoError(t, s.Write(rec))
	require.NoError(t, s.Write(rec))
	require.NoError(t, s.Write(rec))

	assert.Equal(t, uint64(1), m.Wear(10), "marker programmed once")
	assert.Equal(t, uint64(3), m.Wear(11), "count programmed every write")
	for addr := medium.Addr(12); addr < 16; addr++ {
		assert.Equal(t, uint64(1), m.Wear(addr), "data cell %d", addr)
	}

	st := collector.GetStats()
	assert.Equal(t, uint64(6+1+1), st["cells_programmed"])
	assert.Equal(t, uint64(5+5), st["cells_skipped"])
	assert.Equal(t, uint64(3), st["write_ops"])
}

func TestWearIsSpreadAcrossBlocks(t *testing.T) {
	const (
		blocks = 4
		limit  = 5
		writes = blocks * limit * 10
	)
	m := medium.NewMemory(64)
	s := openTestStore(t, createTestConfig(4, blocks, 1, limit), m)

	for i := 0; i < writes; i++ {
		require.NoError(t, s.Write(record.BytesOf([]byte{byte(i), byte(i >> 8), 0, 0})))
	}

	geo := s.Geometry()
	for b := 0; b < blocks; b++ {
		countAddr := geo.StartAddr + medium.Addr(b*geo.BlockSize) + 1
		// one program per write plus one erase per departure
		want := writes/blocks + writes/(blocks*limit)
		assert.InDelta(t, want, m.Wear(countAddr), 1, "block %d", b)
	}
	ws := m.WearStats(geo.StartAddr, geo.EndAddr)
	assert.Less(t, ws.Max, uint64(writes), "no cell takes every write")
}

func TestFormatAll(t *testing.T) {
	m := medium.NewMemory(64)
	s := openTestStore(t, createTestConfig(4, 3, 10, 2), m)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(record.BytesOf([]byte{9, 9, 9, 9})))
	}
	require.NoError(t, m.Store(9, 0x01))
	require.NoError(t, m.Store(28, 0x02))
	before := s.State()

	require.NoError(t, s.FormatAll())
	assert.Equal(t, erased(18), loadRange(t, m, 10, 28))
	assert.Equal(t, byte(0x01), load(t, m, 9), "bytes outside the range are kept")
	assert.Equal(t, byte(0x02), load(t, m, 28), "bytes outside the range are kept")
	assert.Equal(t, before, s.State(), "cursor untouched until Recover")

	require.NoError(t, s.Recover())
	ok, err := s.Read(record.NewBytes(4))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFormatRange(t *testing.T) {
	m := medium.NewMemory(16)
	s := openTestStore(t, createTestConfig(1, 2, 1, 1), m)

	for addr := medium.Addr(0); addr < 16; addr++ {
		require.NoError(t, m.Store(addr, 0))
	}

	require.NoError(t, s.FormatRange(4, 8))
	assert.Equal(t, []byte{0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0, 0}, loadRange(t, m, 0, 10))

	require.NoError(t, s.FormatRange(5, 5))

	err := s.FormatRange(8, 4)
	assert.ErrorIs(t, err, ErrInvalidRange)

	err = s.FormatRange(15, 17)
	assert.ErrorIs(t, err, medium.ErrOutOfRange)
}

func TestClampingIsObservable(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewStandardLogger(log.WithOutput(&buf), log.WithLevel(log.LevelWarn))

	m := medium.NewMemory(64)
	s, err := New(createTestConfig(4, 1, 0, 0), m, WithLogger(logger))
	require.NoError(t, err)

	geo := s.Geometry()
	assert.Equal(t, MinAddr, geo.StartAddr)
	assert.Equal(t, MinBlockCount, geo.BlockCount)
	assert.Equal(t, uint8(DefaultWriteLimit), geo.WriteLimit)

	assert.Equal(t, []Adjustment{
		{"start_addr", 0, 1},
		{"block_count", 1, 2},
		{"write_limit", 0, 5},
	}, s.Adjustments())

	out := buf.String()
	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "configuration clamped: start_addr 0 -> 1")
	assert.Contains(t, out, "configuration clamped: block_count 1 -> 2")
	assert.Contains(t, out, "configuration clamped: write_limit 0 -> 5")
}

func TestNewRejectsInvalidSetup(t *testing.T) {
	_, err := New(createTestConfig(0, 3, 10, 2), medium.NewMemory(64))
	assert.ErrorIs(t, err, ErrInvalidRecordSize)

	_, err = New(createTestConfig(4, 10, 10, 2), medium.NewMemory(64), WithLogger(log.NewDiscard()))
	assert.ErrorIs(t, err, ErrRangeExceedsMedium)
}

func TestRecordSizeMismatch(t *testing.T) {
	m := medium.NewMemory(64)
	collector := stats.NewAtomicCollector()
	s := openTestStore(t, createTestConfig(4, 3, 10, 2), m, WithStats(collector))

	err := s.Write(record.BytesOf([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, ErrRecordSize)
	assert.True(t, s.State().Empty(), "failed write must not move the cursor")
	assert.Equal(t, erased(18), loadRange(t, m, 10, 28))

	_, err = s.Read(record.NewBytes(5))
	assert.ErrorIs(t, err, ErrRecordSize)

	errs := collector.GetStats()["errors"].(map[string]uint64)
	assert.Equal(t, uint64(1), errs["write_record_size"])
	assert.Equal(t, uint64(1), errs["read_record_size"])
}

var errInjected = errors.New("cell stuck")

// flakyMedium fails every Store after the first okStores
type flakyMedium struct {
	*medium.Memory
	okStores int
}

func (f *flakyMedium) Store(addr medium.Addr, value byte) error {
	if f.okStores == 0 {
		return errInjected
	}
	f.okStores--
	return f.Memory.Store(addr, value)
}

func TestMediumErrorsPropagate(t *testing.T) {
	m := &flakyMedium{Memory: medium.NewMemory(64), okStores: 2}
	collector := stats.NewAtomicCollector()
	s := openTestStore(t, createTestConfig(4, 3, 10, 2), m, WithStats(collector))

	err := s.Write(record.BytesOf([]byte{1, 2, 3, 4}))
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)

	err = s.FormatAll()
	assert.ErrorIs(t, err, errInjected)

	errs := collector.GetStats()["errors"].(map[string]uint64)
	assert.Equal(t, uint64(1), errs["write_medium"])
	assert.Equal(t, uint64(1), errs["format_medium"])
}

func TestFileBackedStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eeprom.img")
	cfg := createTestConfig(8, 4, 1, 3)

	f, err := medium.OpenFile(path, 128, true)
	require.NoError(t, err)
	s := openTestStore(t, cfg, f)
	require.NoError(t, s.Recover())

	last := record.NewFixed(settings{})
	for i := 0; i < 10; i++ {
		last = record.NewFixed(settings{Brightness: uint8(i), Boots: uint32(i)})
		require.NoError(t, s.Write(last))
	}
	state := s.State()
	require.NoError(t, f.Close())

	f, err = medium.OpenFile(path, 128, true)
	require.NoError(t, err)
	defer f.Close()

	s = openTestStore(t, cfg, f)
	require.NoError(t, s.Recover())
	assert.Equal(t, state, s.State())

	var out record.Fixed[settings]
	ok, err := s.Read(&out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, last.Value, out.Value)
}

func TestPebbleBackedStoreSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cells")
	cfg := createTestConfig(4, 3, 1, 2)

	p, err := medium.OpenPebble(dir, 64, true)
	require.NoError(t, err)
	s := openTestStore(t, cfg, p)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Write(record.BytesOf([]byte{byte(i), 0xFF, 0, byte(i)})))
	}
	require.NoError(t, p.Close())

	p, err = medium.OpenPebble(dir, 64, true)
	require.NoError(t, err)
	defer p.Close()

	s = openTestStore(t, cfg, p)
	require.NoError(t, s.Recover())

	out := record.NewBytes(4)
	ok, err := s.Read(out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{4, 0xFF, 0, 4}, out.Bytes())
}

func TestStateString(t *testing.T) {
	m := medium.NewMemory(64)
	s := openTestStore(t, createTestConfig(4, 3, 10, 2), m)
	require.NoError(t, s.Write(record.BytesOf([]byte{1, 2, 3, 4})))

	assert.Equal(t,
		"BlockAddr: 10 CountAddr: 11 WriteCount: 1 BlockSize: 6 StartAddr: 10 EndAddr: 28",
		s.State().String())
}

func TestStatsTrackRecoveryAndRotation(t *testing.T) {
	m := medium.NewMemory(64)
	collector := stats.NewAtomicCollector()
	s := openTestStore(t, createTestConfig(4, 3, 10, 1), m, WithStats(collector))

	require.NoError(t, s.Write(record.BytesOf([]byte{1, 2, 3, 4})))
	require.NoError(t, s.Write(record.BytesOf([]byte{1, 2, 3, 4})))
	require.NoError(t, s.Recover())

	st := collector.GetStats()
	assert.Equal(t, uint64(1), st["rotations"])
	assert.Equal(t, uint64(1), st["rotate_ops"])
	assert.Equal(t, uint64(1), st["recover_ops"])

	recovery := st["recovery"].(map[string]interface{})
	assert.Equal(t, true, recovery["found"])
	assert.Equal(t, uint32(16), recovery["block_addr"])
	assert.Equal(t, uint64(2), recovery["blocks_scanned"])
}
