package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

const (
	DefaultManifestFileName = "MANIFEST"
	CurrentManifestVersion  = 1
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

// MediumKind names a persistent medium implementation
type MediumKind string

const (
	MediumMemory MediumKind = "memory"
	MediumFile   MediumKind = "file"
	MediumPebble MediumKind = "pebble"
)

// MediumConfig describes where the store's cells live
type MediumConfig struct {
	Kind MediumKind `json:"kind"`
	Path string     `json:"path"`
	Size int        `json:"size"`
	Sync bool       `json:"sync"`
}

type Config struct {
	Version int `json:"version"`

	// Store geometry. Out-of-range StartAddr, BlockCount and WriteLimit are
	// clamped by the store rather than rejected here.
	RecordSize int    `json:"record_size"`
	BlockCount int    `json:"block_count"`
	StartAddr  uint32 `json:"start_addr"`
	WriteLimit int    `json:"write_limit"`

	// LegacyGeometry ends the range at StartAddr + BlockSize + BlockCount
	// instead of StartAddr + BlockSize*BlockCount. This matches EEPROM images
	// written by existing firmware, but the ring then holds fewer than
	// BlockCount blocks (3 blocks of 6 bytes give 2 slots) and the last block
	// can overhang the end address. Leave it off for new images.
	LegacyGeometry bool `json:"legacy_geometry"`

	Medium MediumConfig `json:"medium"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(dataPath string) *Config {
	return &Config{
		Version: CurrentManifestVersion,

		RecordSize: 16,
		BlockCount: 8,
		StartAddr:  1,
		WriteLimit: 5,

		Medium: MediumConfig{
			Kind: MediumFile,
			Path: filepath.Join(dataPath, "eeprom.img"),
			Size: 1024, // ATmega328P EEPROM
			Sync: true,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.RecordSize <= 0 {
		return fmt.Errorf("%w: record size must be positive", ErrInvalidConfig)
	}

	if c.Medium.Size <= 0 {
		return fmt.Errorf("%w: medium size must be positive", ErrInvalidConfig)
	}

	switch c.Medium.Kind {
	case MediumMemory:
	case MediumFile, MediumPebble:
		if c.Medium.Path == "" {
			return fmt.Errorf("%w: %s medium requires a path", ErrInvalidConfig, c.Medium.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown medium kind %q", ErrInvalidConfig, c.Medium.Kind)
	}

	return nil
}

// LoadFromEnv overrides configuration values from WEARLEVEL_* environment variables
func (c *Config) LoadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if val := os.Getenv("WEARLEVEL_RECORD_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.RecordSize = n
		}
	}

	if val := os.Getenv("WEARLEVEL_BLOCK_COUNT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.BlockCount = n
		}
	}

	if val := os.Getenv("WEARLEVEL_START_ADDR"); val != "" {
		if n, err := strconv.ParseUint(val, 0, 32); err == nil {
			c.StartAddr = uint32(n)
		}
	}

	if val := os.Getenv("WEARLEVEL_WRITE_LIMIT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.WriteLimit = n
		}
	}

	if val := os.Getenv("WEARLEVEL_LEGACY_GEOMETRY"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.LegacyGeometry = b
		}
	}

	if val := os.Getenv("WEARLEVEL_MEDIUM_KIND"); val != "" {
		c.Medium.Kind = MediumKind(val)
	}

	if val := os.Getenv("WEARLEVEL_MEDIUM_PATH"); val != "" {
		c.Medium.Path = val
	}

	if val := os.Getenv("WEARLEVEL_MEDIUM_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Medium.Size = n
		}
	}

	if val := os.Getenv("WEARLEVEL_MEDIUM_SYNC"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Medium.Sync = b
		}
	}
}

// LoadConfigFromManifest loads the configuration stored in dir's manifest file
func LoadConfigFromManifest(dir string) (*Config, error) {
	manifestPath := filepath.Join(dir, DefaultManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveManifest saves the configuration to the manifest file
func (c *Config) SaveManifest(dir string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	manifestPath := filepath.Join(dir, DefaultManifestFileName)
	tempPath := manifestPath + ".tmp"

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tempPath, manifestPath); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	return nil
}

// Layout is the store geometry part of a Config
type Layout struct {
	RecordSize     int
	BlockCount     int
	StartAddr      uint32
	WriteLimit     int
	LegacyGeometry bool
}

// Layout returns a consistent copy of the geometry fields
func (c *Config) Layout() Layout {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Layout{
		RecordSize:     c.RecordSize,
		BlockCount:     c.BlockCount,
		StartAddr:      c.StartAddr,
		WriteLimit:     c.WriteLimit,
		LegacyGeometry: c.LegacyGeometry,
	}
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
