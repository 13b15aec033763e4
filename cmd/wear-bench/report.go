package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// WearResult stores the outcome of one simulation
type WearResult struct {
	Timestamp       time.Time
	RecordSize      int
	BlockCount      int
	WriteLimit      int
	Pattern         string
	Writes          int
	Duration        float64
	Throughput      float64 // writes per second
	Rotations       uint64
	CellsProgrammed uint64
	CellsSkipped    uint64
	MinWear         uint64
	MaxWear         uint64
	TotalWear       uint64
	LevelingFactor  float64 // writes per program of the hottest cell
}

var csvHeader = []string{
	"Timestamp", "RecordSize", "BlockCount", "WriteLimit", "Pattern",
	"Writes", "Duration", "Throughput", "Rotations", "CellsProgrammed",
	"CellsSkipped", "MinWear", "MaxWear", "TotalWear", "LevelingFactor",
}

// SaveResultCSV saves results to a CSV file
func SaveResultCSV(results []WearResult, filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range results {
		row := []string{
			r.Timestamp.Format(time.RFC3339),
			strconv.Itoa(r.RecordSize),
			strconv.Itoa(r.BlockCount),
			strconv.Itoa(r.WriteLimit),
			r.Pattern,
			strconv.Itoa(r.Writes),
			fmt.Sprintf("%.4f", r.Duration),
			fmt.Sprintf("%.2f", r.Throughput),
			strconv.FormatUint(r.Rotations, 10),
			strconv.FormatUint(r.CellsProgrammed, 10),
			strconv.FormatUint(r.CellsSkipped, 10),
			strconv.FormatUint(r.MinWear, 10),
			strconv.FormatUint(r.MaxWear, 10),
			strconv.FormatUint(r.TotalWear, 10),
			fmt.Sprintf("%.2f", r.LevelingFactor),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// LoadResultCSV loads results from a CSV file
func LoadResultCSV(filename string) ([]WearResult, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	// Skip header
	if len(rows) <= 1 {
		return []WearResult{}, nil
	}
	rows = rows[1:]

	results := make([]WearResult, 0, len(rows))
	for _, row := range rows {
		if len(row) < len(csvHeader) {
			continue
		}

		timestamp, _ := time.Parse(time.RFC3339, row[0])
		recordSize, _ := strconv.Atoi(row[1])
		blockCount, _ := strconv.Atoi(row[2])
		writeLimit, _ := strconv.Atoi(row[3])
		writes, _ := strconv.Atoi(row[5])
		duration, _ := strconv.ParseFloat(row[6], 64)
		throughput, _ := strconv.ParseFloat(row[7], 64)
		rotations, _ := strconv.ParseUint(row[8], 10, 64)
		programmed, _ := strconv.ParseUint(row[9], 10, 64)
		skipped, _ := strconv.ParseUint(row[10], 10, 64)
		minWear, _ := strconv.ParseUint(row[11], 10, 64)
		maxWear, _ := strconv.ParseUint(row[12], 10, 64)
		totalWear, _ := strconv.ParseUint(row[13], 10, 64)
		factor, _ := strconv.ParseFloat(row[14], 64)

		results = append(results, WearResult{
			Timestamp:       timestamp,
			RecordSize:      recordSize,
			BlockCount:      blockCount,
			WriteLimit:      writeLimit,
			Pattern:         row[4],
			Writes:          writes,
			Duration:        duration,
			Throughput:      throughput,
			Rotations:       rotations,
			CellsProgrammed: programmed,
			CellsSkipped:    skipped,
			MinWear:         minWear,
			MaxWear:         maxWear,
			TotalWear:       totalWear,
			LevelingFactor:  factor,
		})
	}

	return results, nil
}

// PrintResultTable prints a formatted table of results
func PrintResultTable(results []WearResult) {
	if len(results) == 0 {
		fmt.Println("No results to display")
		return
	}

	fmt.Println("+--------+-------+-----------+------------+------------+----------+----------+----------+")
	fmt.Println("| Blocks | Limit | Rotations | Programmed |    Skipped | Min Wear | Max Wear | Leveling |")
	fmt.Println("+--------+-------+-----------+------------+------------+----------+----------+----------+")

	for _, r := range results {
		fmt.Printf("| %6d | %5d | %9d | %10d | %10d | %8d | %8d | %7.2fx |\n",
			r.BlockCount,
			r.WriteLimit,
			r.Rotations,
			r.CellsProgrammed,
			r.CellsSkipped,
			r.MinWear,
			r.MaxWear,
			r.LevelingFactor)
	}
	fmt.Println("+--------+-------+-----------+------------+------------+----------+----------+----------+")
}
