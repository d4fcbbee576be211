// Package config holds the tuning parameters for sorted record files.
package config

import (
	"errors"
	"fmt"

	"github.com/sortedfile/sortedfile/pkg/codec"
)

const (
	// CurrentVersion is the current manifest format version
	CurrentVersion = 1

	// DefaultMaxScanDistance bounds a resynchronization scan when no
	// larger record has been observed
	DefaultMaxScanDistance = 64 * 1024 // 64KB

	// DefaultFallbackShrink is the minimum fractional window shrinkage a
	// probe must achieve before it counts as a stalled iteration
	DefaultFallbackShrink = 0.10

	// DefaultFallbackStrikes is the number of consecutive stalled
	// iterations after which probes fall back to plain bisection
	DefaultFallbackStrikes = 2

	// DefaultBoundaryCacheSize is the number of record boundaries
	// remembered between searches
	DefaultBoundaryCacheSize = 4096
)

var (
	// ErrInvalidConfig indicates a configuration that fails validation
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config carries every tunable of a sorted record file.
type Config struct {
	Version int `json:"version"`

	// Record layout
	MaxKeySize  int                   `json:"max_key_size"`
	Compression codec.CompressionType `json:"compression"`

	// Locator tuning
	MaxScanDistance      int64   `json:"max_scan_distance"`
	InterpolationEnabled bool    `json:"interpolation_enabled"`
	FallbackShrink       float64 `json:"fallback_shrink"`
	FallbackStrikes      int     `json:"fallback_strikes"`
	BoundaryCacheSize    int     `json:"boundary_cache_size"`

	// Write path
	ShiftChunkSize int64 `json:"shift_chunk_size"`
	SyncOnInsert   bool  `json:"sync_on_insert"`
	UseFileLock    bool  `json:"use_file_lock"`
}

// NewDefaultConfig creates a Config with recommended default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,

		MaxKeySize:  codec.DefaultMaxKeySize,
		Compression: codec.NoCompression,

		MaxScanDistance:      DefaultMaxScanDistance,
		InterpolationEnabled: true,
		FallbackShrink:       DefaultFallbackShrink,
		FallbackStrikes:      DefaultFallbackStrikes,
		BoundaryCacheSize:    DefaultBoundaryCacheSize,

		ShiftChunkSize: 1 << 20, // 1MB
		SyncOnInsert:   false,
		UseFileLock:    false,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
	}
	if c.Version <= 0 {
		return fmt.Errorf("%w: version must be positive", ErrInvalidConfig)
	}
	if c.MaxKeySize <= 0 || c.MaxKeySize > 65535 {
		return fmt.Errorf("%w: max key size %d out of range [1, 65535]", ErrInvalidConfig, c.MaxKeySize)
	}
	switch c.Compression {
	case codec.NoCompression, codec.SnappyCompression, codec.ZstdCompression:
	default:
		return fmt.Errorf("%w: unknown compression type %q", ErrInvalidConfig, c.Compression)
	}
	if c.MaxScanDistance <= 0 {
		return fmt.Errorf("%w: max scan distance must be positive", ErrInvalidConfig)
	}
	if c.MaxScanDistance < int64(codec.PrefixSize+c.MaxKeySize) {
		return fmt.Errorf("%w: max scan distance %d smaller than the largest header (%d)",
			ErrInvalidConfig, c.MaxScanDistance, codec.PrefixSize+c.MaxKeySize)
	}
	if c.FallbackShrink <= 0 || c.FallbackShrink >= 1 {
		return fmt.Errorf("%w: fallback shrink %v out of range (0, 1)", ErrInvalidConfig, c.FallbackShrink)
	}
	if c.FallbackStrikes <= 0 {
		return fmt.Errorf("%w: fallback strikes must be positive", ErrInvalidConfig)
	}
	if c.BoundaryCacheSize < 0 {
		return fmt.Errorf("%w: boundary cache size cannot be negative", ErrInvalidConfig)
	}
	if c.ShiftChunkSize <= 0 {
		return fmt.Errorf("%w: shift chunk size must be positive", ErrInvalidConfig)
	}
	return nil
}
