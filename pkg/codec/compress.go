package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// CompressionType selects the algorithm applied to record bodies before
// they are encoded into the file. Headers are never compressed, so the
// locator's navigation is unaffected by the choice.
type CompressionType string

const (
	// NoCompression stores record bodies verbatim
	NoCompression CompressionType = "none"
	// SnappyCompression compresses bodies with snappy
	SnappyCompression CompressionType = "snappy"
	// ZstdCompression compresses bodies with zstd at the default level
	ZstdCompression CompressionType = "zstd"
)

var (
	// ErrUnknownCompression is returned for an unsupported compression type
	ErrUnknownCompression = errors.New("unknown compression type")
	// ErrInvalidCompressedData is returned when a body cannot be decompressed
	ErrInvalidCompressedData = errors.New("invalid compressed data")
)

// Compressor compresses and decompresses record bodies.
type Compressor struct {
	typ         CompressionType
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	mu          sync.Mutex
}

// NewCompressor creates a compressor for the given type. The zstd encoder
// and decoder are created eagerly so configuration errors surface at open
// time rather than on the first insert.
func NewCompressor(typ CompressionType) (*Compressor, error) {
	c := &Compressor{typ: typ}

	switch typ {
	case NoCompression, SnappyCompression:
	case ZstdCompression:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			enc.Close()
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		c.zstdEncoder = enc
		c.zstdDecoder = dec
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, typ)
	}

	return c, nil
}

// Type returns the compression type this compressor applies.
func (c *Compressor) Type() CompressionType {
	return c.typ
}

// Compress compresses a record body.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	switch c.typ {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Encode(nil, data), nil
	case ZstdCompression:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.zstdEncoder.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, c.typ)
	}
}

// Decompress reverses Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	switch c.typ {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("snappy decompression failed: %w", ErrInvalidCompressedData)
		}
		return out, nil
	case ZstdCompression:
		c.mu.Lock()
		defer c.mu.Unlock()
		out, err := c.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompression failed: %w", ErrInvalidCompressedData)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, c.typ)
	}
}

// Close releases compressor resources.
func (c *Compressor) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
		c.zstdEncoder = nil
	}
	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
		c.zstdDecoder = nil
	}
}
