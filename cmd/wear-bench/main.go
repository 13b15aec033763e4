package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/KevoDB/wearlevel/pkg/common/log"
	"github.com/KevoDB/wearlevel/pkg/config"
	"github.com/KevoDB/wearlevel/pkg/medium"
	"github.com/KevoDB/wearlevel/pkg/record"
	"github.com/KevoDB/wearlevel/pkg/stats"
	"github.com/KevoDB/wearlevel/pkg/wearlevel"
)

var (
	// Command line flags
	recordSize  = flag.Int("record-size", 16, "Size of the record in bytes")
	blockCounts = flag.String("blocks", "8", "Comma separated block counts to simulate")
	startAddr   = flag.Uint("start", 1, "First address of the reserved range")
	writeLimit  = flag.Int("limit", 5, "Writes per block before rotating")
	numWrites   = flag.Int("writes", 100000, "Number of record writes to simulate")
	mediumSize  = flag.Int("medium-size", 1024, "Size of the simulated medium in bytes")
	pattern     = flag.String("pattern", "random", "Record contents: random, counter or constant")
	legacy      = flag.Bool("legacy", false, "Use the legacy end address formula")
	seed        = flag.Int64("seed", 1, "Random seed")
	resultsFile = flag.String("results", "", "CSV file to write results to (in addition to stdout)")
)

// BenchParams describes one simulation
type BenchParams struct {
	RecordSize int
	BlockCount int
	StartAddr  uint32
	WriteLimit int
	Writes     int
	MediumSize int
	Pattern    string
	Legacy     bool
	Seed       int64
}

func main() {
	flag.Parse()

	counts, err := parseCounts(*blockCounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -blocks: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewStandardLogger(log.WithLevel(log.LevelWarn), log.WithOutput(os.Stderr))

	fmt.Printf("Wear Report (%s)\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Record Size: %d bytes, Writes: %d, Limit: %d, Pattern: %s\n\n",
		*recordSize, *numWrites, *writeLimit, *pattern)

	var results []WearResult
	for _, count := range counts {
		params := BenchParams{
			RecordSize: *recordSize,
			BlockCount: count,
			StartAddr:  uint32(*startAddr),
			WriteLimit: *writeLimit,
			Writes:     *numWrites,
			MediumSize: *mediumSize,
			Pattern:    *pattern,
			Legacy:     *legacy,
			Seed:       *seed,
		}

		result, err := runWearBenchmark(params, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Simulation with %d blocks failed: %v\n", count, err)
			os.Exit(1)
		}
		results = append(results, result)
	}

	PrintResultTable(results)

	if *resultsFile != "" {
		if err := SaveResultCSV(results, *resultsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nResults saved to %s\n", *resultsFile)
	}
}

func parseCounts(s string) ([]int, error) {
	var counts []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		counts = append(counts, n)
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("no block counts in %q", s)
	}
	return counts, nil
}

// recordSource produces the record contents for each write
type recordSource func(i int, buf []byte)

func newRecordSource(pattern string, seed int64) (recordSource, error) {
	switch pattern {
	case "random":
		r := rand.New(rand.NewSource(seed))
		return func(_ int, buf []byte) {
			r.Read(buf)
		}, nil
	case "counter":
		return func(i int, buf []byte) {
			for j := range buf {
				buf[j] = 0
			}
			for j := 0; j < len(buf) && j < 8; j++ {
				buf[j] = byte(i >> (8 * j))
			}
		}, nil
	case "constant":
		return func(_ int, buf []byte) {
			for j := range buf {
				buf[j] = 0x5A
			}
		}, nil
	default:
		return nil, fmt.Errorf("unknown pattern %q", pattern)
	}
}

// runWearBenchmark writes params.Writes records through a store on a
// simulated medium and reports how the programs were spread over the cells
func runWearBenchmark(params BenchParams, logger log.Logger) (WearResult, error) {
	source, err := newRecordSource(params.Pattern, params.Seed)
	if err != nil {
		return WearResult{}, err
	}

	cfg := config.NewDefaultConfig("")
	cfg.Update(func(c *config.Config) {
		c.RecordSize = params.RecordSize
		c.BlockCount = params.BlockCount
		c.StartAddr = params.StartAddr
		c.WriteLimit = params.WriteLimit
		c.LegacyGeometry = params.Legacy
		c.Medium = config.MediumConfig{Kind: config.MediumMemory, Size: params.MediumSize}
	})
	if err := cfg.Validate(); err != nil {
		return WearResult{}, err
	}

	m := medium.NewMemory(params.MediumSize)
	collector := stats.NewAtomicCollector()
	store, err := wearlevel.New(cfg, m, wearlevel.WithLogger(logger), wearlevel.WithStats(collector))
	if err != nil {
		return WearResult{}, err
	}
	if err := store.Recover(); err != nil {
		return WearResult{}, err
	}

	rec := record.NewBytes(params.RecordSize)
	buf := make([]byte, params.RecordSize)

	start := time.Now()
	for i := 0; i < params.Writes; i++ {
		source(i, buf)
		if err := rec.UnmarshalBinary(buf); err != nil {
			return WearResult{}, err
		}
		if err := store.Write(rec); err != nil {
			return WearResult{}, fmt.Errorf("write %d: %w", i, err)
		}
	}
	elapsed := time.Since(start)

	geo := store.Geometry()
	ws := m.WearStats(geo.StartAddr, medium.Addr(geo.Extent()))
	st := collector.GetStats()

	result := WearResult{
		Timestamp:       time.Now(),
		RecordSize:      geo.RecordSize,
		BlockCount:      geo.Slots(),
		WriteLimit:      int(geo.WriteLimit),
		Pattern:         params.Pattern,
		Writes:          params.Writes,
		Duration:        elapsed.Seconds(),
		Rotations:       getUint64(st, "rotations"),
		CellsProgrammed: getUint64(st, "cells_programmed"),
		CellsSkipped:    getUint64(st, "cells_skipped"),
		MinWear:         ws.Min,
		MaxWear:         ws.Max,
		TotalWear:       ws.Total,
	}
	if elapsed > 0 {
		result.Throughput = float64(params.Writes) / elapsed.Seconds()
	}
	if ws.Max > 0 {
		result.LevelingFactor = float64(params.Writes) / float64(ws.Max)
	}

	return result, nil
}

func getUint64(m map[string]interface{}, key string) uint64 {
	if v, ok := m[key].(uint64); ok {
		return v
	}
	return 0
}
