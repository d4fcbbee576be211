// Package codec defines the record header encoding used by sorted record
// files. A header is the bounded-size prefix of a record from which the
// record's key and total length can be determined, which is what makes a
// file of variable-length records navigable from an arbitrary offset.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

const (
	// headerMagic marks the start of an encoded record header
	headerMagic = uint16(0x5EC5)

	// PrefixSize is the fixed portion of a header:
	// magic (2) + key length (2) + body length (4) + checksum (8)
	PrefixSize = 16

	// DefaultMaxKeySize bounds key lengths accepted by the default codec
	DefaultMaxKeySize = 1024

	// MaxBodySize bounds record body lengths
	MaxBodySize = math.MaxUint32
)

var (
	// ErrBadHeader indicates bytes that do not parse as a valid header
	ErrBadHeader = errors.New("invalid record header")
	// ErrKeyTooLarge indicates a key exceeding the codec's key size bound
	ErrKeyTooLarge = errors.New("key exceeds maximum key size")
	// ErrBodyTooLarge indicates a record body exceeding MaxBodySize
	ErrBodyTooLarge = errors.New("body exceeds maximum body size")
)

// Header describes one record: its key and the length of its body.
type Header struct {
	Key     []byte
	BodyLen uint32
}

// HeaderLen returns the encoded length of the header itself.
func (h *Header) HeaderLen() int64 {
	return int64(PrefixSize + len(h.Key))
}

// RecordLen returns the total encoded length of the record the header
// describes, header included.
func (h *Header) RecordLen() int64 {
	return h.HeaderLen() + int64(h.BodyLen)
}

// Codec translates between record headers and their byte encoding. The
// locator and store depend only on this interface, so callers may swap in
// fixed-width keys, alternate checksums, and so on.
type Codec interface {
	// EncodeHeader serializes a header for the given key and body length.
	EncodeHeader(key []byte, bodyLen uint32) ([]byte, error)

	// ParseHeader parses a header from the start of data, returning the
	// header and the number of bytes it occupies. Data that does not begin
	// with a valid header yields ErrBadHeader.
	ParseHeader(data []byte) (*Header, int, error)

	// PrefixSize returns the fixed number of bytes that must be read
	// before the full header size is known.
	PrefixSize() int

	// MaxHeaderSize returns the largest possible encoded header size.
	MaxHeaderSize() int
}

// BinaryCodec is the default header codec. The encoded layout is:
//
//	[0:2]   magic
//	[2:4]   key length (uint16, little-endian)
//	[4:8]   body length (uint32, little-endian)
//	[8:16]  xxhash64 of bytes [0:8] plus the key
//	[16:]   key bytes
//
// The checksum covers the key, so a resynchronization scan that happens to
// hit the magic bytes inside a record body is rejected rather than
// misinterpreted as a boundary.
type BinaryCodec struct {
	maxKeySize int
}

// NewBinaryCodec creates a BinaryCodec with the default key size bound.
func NewBinaryCodec() *BinaryCodec {
	return &BinaryCodec{maxKeySize: DefaultMaxKeySize}
}

// NewBinaryCodecWithMaxKey creates a BinaryCodec accepting keys up to
// maxKeySize bytes. Sizes above 64KiB-1 are rejected by the encoding.
func NewBinaryCodecWithMaxKey(maxKeySize int) (*BinaryCodec, error) {
	if maxKeySize <= 0 || maxKeySize > math.MaxUint16 {
		return nil, fmt.Errorf("max key size %d out of range [1, %d]", maxKeySize, math.MaxUint16)
	}
	return &BinaryCodec{maxKeySize: maxKeySize}, nil
}

// EncodeHeader serializes a header for key and bodyLen.
func (c *BinaryCodec) EncodeHeader(key []byte, bodyLen uint32) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("empty key: %w", ErrBadHeader)
	}
	if len(key) > c.maxKeySize {
		return nil, fmt.Errorf("key length %d exceeds %d: %w", len(key), c.maxKeySize, ErrKeyTooLarge)
	}

	buf := make([]byte, PrefixSize+len(key))
	binary.LittleEndian.PutUint16(buf[0:2], headerMagic)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(key)))
	binary.LittleEndian.PutUint32(buf[4:8], bodyLen)
	copy(buf[PrefixSize:], key)

	digest := xxhash.New()
	digest.Write(buf[0:8])
	digest.Write(key)
	binary.LittleEndian.PutUint64(buf[8:16], digest.Sum64())

	return buf, nil
}

// ParseHeader parses a header from the start of data.
func (c *BinaryCodec) ParseHeader(data []byte) (*Header, int, error) {
	if len(data) < PrefixSize {
		return nil, 0, fmt.Errorf("header prefix truncated (%d bytes): %w", len(data), ErrBadHeader)
	}

	if binary.LittleEndian.Uint16(data[0:2]) != headerMagic {
		return nil, 0, fmt.Errorf("bad header magic: %w", ErrBadHeader)
	}

	keyLen := int(binary.LittleEndian.Uint16(data[2:4]))
	if keyLen == 0 || keyLen > c.maxKeySize {
		return nil, 0, fmt.Errorf("key length %d out of range: %w", keyLen, ErrBadHeader)
	}
	if len(data) < PrefixSize+keyLen {
		return nil, 0, fmt.Errorf("header key truncated: %w", ErrBadHeader)
	}

	bodyLen := binary.LittleEndian.Uint32(data[4:8])
	key := data[PrefixSize : PrefixSize+keyLen]

	digest := xxhash.New()
	digest.Write(data[0:8])
	digest.Write(key)
	if digest.Sum64() != binary.LittleEndian.Uint64(data[8:16]) {
		return nil, 0, fmt.Errorf("header checksum mismatch: %w", ErrBadHeader)
	}

	hdr := &Header{
		Key:     append([]byte(nil), key...),
		BodyLen: bodyLen,
	}
	return hdr, PrefixSize + keyLen, nil
}

// PrefixSize returns the fixed header prefix size.
func (c *BinaryCodec) PrefixSize() int {
	return PrefixSize
}

// MaxHeaderSize returns the largest encoded header this codec can produce.
func (c *BinaryCodec) MaxHeaderSize() int {
	return PrefixSize + c.maxKeySize
}
