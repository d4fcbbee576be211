// Package store implements the record store: a thin layer over a
// random-access byte store holding contiguous, back-to-back records. It is
// the only package that touches the backing file directly.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sortedfile/sortedfile/pkg/codec"
)

const (
	// DefaultShiftChunkSize is the buffer size used when shifting the tail
	// of the file to make room for an inserted record.
	DefaultShiftChunkSize = 1 << 20 // 1MB
)

var (
	// ErrCorruptStore indicates bytes that must form a valid record do not
	ErrCorruptStore = errors.New("store corruption detected")
	// ErrInvalidOffset indicates an offset outside the store bounds
	ErrInvalidOffset = errors.New("offset out of store bounds")
	// ErrStoreClosed indicates an operation on a closed store
	ErrStoreClosed = errors.New("store is closed")
)

// Record is a keyed byte sequence held by the store. The body is opaque to
// this package; callers that compress bodies do so before encoding.
type Record struct {
	Key  []byte
	Body []byte
}

// BackingFile is the byte store boundary. A *os.File satisfies it; any
// random-access store with truncate-or-extend semantics will do.
type BackingFile interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
}

// Options configures a Store.
type Options struct {
	// Codec parses and encodes record headers. Defaults to the binary codec.
	Codec codec.Codec
	// ShiftChunkSize is the buffer size for ShiftRegion byte moves.
	ShiftChunkSize int64
	// UseFileLock acquires an advisory lock on a sidecar lock file when the
	// store is opened from a path, guarding against concurrent processes.
	UseFileLock bool
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Codec == nil {
		out.Codec = codec.NewBinaryCodec()
	}
	if out.ShiftChunkSize <= 0 {
		out.ShiftChunkSize = DefaultShiftChunkSize
	}
	return out
}

// Store provides read-at-offset, write-at-offset, shift and length
// operations over a backing file of contiguous records.
//
// The store's own mutex makes individual operations safe; the
// single-writer discipline spanning a ShiftRegion plus the following
// WriteRecordAt is enforced one level up, by the table lock.
type Store struct {
	mu        sync.RWMutex
	file      BackingFile
	codec     codec.Codec
	size      int64
	chunkSize int64
	closed    bool
	lockFile  *os.File
}

// New creates a Store over an already-open backing file of the given size.
func New(f BackingFile, size int64, opts *Options) *Store {
	o := opts.withDefaults()
	return &Store{
		file:      f,
		codec:     o.Codec,
		size:      size,
		chunkSize: o.ShiftChunkSize,
	}
}

// OpenFile opens (creating if absent) a record store file at path.
func OpenFile(path string, opts *Options) (*Store, error) {
	o := opts.withDefaults()

	var lock *os.File
	if o.UseFileLock {
		var err error
		lock, err = acquireLockFile(path)
		if err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		if lock != nil {
			releaseLockFile(lock)
		}
		return nil, fmt.Errorf("failed to open store file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		if lock != nil {
			releaseLockFile(lock)
		}
		return nil, fmt.Errorf("failed to stat store file: %w", err)
	}

	st := New(f, stat.Size(), &o)
	st.lockFile = lock
	return st, nil
}

// Codec returns the header codec the store was opened with.
func (s *Store) Codec() codec.Codec {
	return s.codec
}

// Size returns the current end-of-file offset.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// ReadHeaderAt reads and parses the record header at offset. Reading at
// exactly end-of-file returns io.EOF; an unparsable header or a record
// extending past end-of-file returns ErrCorruptStore.
func (s *Store) ReadHeaderAt(offset int64) (*codec.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readHeaderLocked(offset)
}

func (s *Store) readHeaderLocked(offset int64) (*codec.Header, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if offset < 0 || offset > s.size {
		return nil, fmt.Errorf("offset %d outside [0, %d]: %w", offset, s.size, ErrInvalidOffset)
	}
	if offset == s.size {
		return nil, io.EOF
	}

	n := int64(s.codec.MaxHeaderSize())
	if remaining := s.size - offset; remaining < n {
		n = remaining
	}

	buf := make([]byte, n)
	if _, err := s.file.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read header at offset %d: %w", offset, err)
	}

	hdr, _, err := s.codec.ParseHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("unparsable header at offset %d: %v: %w", offset, err, ErrCorruptStore)
	}
	if offset+hdr.RecordLen() > s.size {
		return nil, fmt.Errorf("record at offset %d extends past end-of-file %d: %w",
			offset, s.size, ErrCorruptStore)
	}
	return hdr, nil
}

// ReadRecordAt reads the full record starting at offset, returning the
// record and its encoded length.
func (s *Store) ReadRecordAt(offset int64) (*Record, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hdr, err := s.readHeaderLocked(offset)
	if err != nil {
		return nil, 0, err
	}

	body := make([]byte, hdr.BodyLen)
	if hdr.BodyLen > 0 {
		if _, err := s.file.ReadAt(body, offset+hdr.HeaderLen()); err != nil {
			return nil, 0, fmt.Errorf("truncated record body at offset %d: %w", offset, ErrCorruptStore)
		}
	}

	rec := &Record{Key: hdr.Key, Body: body}
	return rec, hdr.RecordLen(), nil
}

// ReadRaw reads up to len(buf) bytes at offset, returning the count read.
// Used by the locator's resynchronization scan.
func (s *Store) ReadRaw(buf []byte, offset int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	if offset < 0 || offset > s.size {
		return 0, fmt.Errorf("offset %d outside [0, %d]: %w", offset, s.size, ErrInvalidOffset)
	}

	n := int64(len(buf))
	if remaining := s.size - offset; remaining < n {
		n = remaining
	}
	if n == 0 {
		return 0, io.EOF
	}

	read, err := s.file.ReadAt(buf[:n], offset)
	if err != nil && err != io.EOF {
		return read, fmt.Errorf("read %d bytes at offset %d: %w", n, offset, err)
	}
	return read, nil
}

// EncodeRecord serializes key and body into the store's record encoding.
func (s *Store) EncodeRecord(key, body []byte) ([]byte, error) {
	if uint64(len(body)) > uint64(codec.MaxBodySize) {
		return nil, fmt.Errorf("body length %d exceeds %d: %w",
			len(body), uint64(codec.MaxBodySize), codec.ErrBodyTooLarge)
	}
	hdr, err := s.codec.EncodeHeader(key, uint32(len(body)))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(hdr)+len(body))
	out = append(out, hdr...)
	out = append(out, body...)
	return out, nil
}

// WriteRecordAt writes an encoded record at offset. The caller must have
// ensured room via ShiftRegion; writing at end-of-file appends.
func (s *Store) WriteRecordAt(offset int64, encoded []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if offset < 0 || offset > s.size {
		return fmt.Errorf("offset %d outside [0, %d]: %w", offset, s.size, ErrInvalidOffset)
	}

	if _, err := s.file.WriteAt(encoded, offset); err != nil {
		return fmt.Errorf("write record at offset %d: %w", offset, err)
	}
	if end := offset + int64(len(encoded)); end > s.size {
		s.size = end
	}
	return nil
}

// ShiftRegion moves every byte from offset to end-of-file forward by count
// bytes, growing the file. The move is chunked from the tail backwards so
// no region is overwritten before it is copied, and the whole file is
// never buffered in memory.
//
// Cost is O(size - offset) byte moves; this is the accepted bottleneck of
// single-record insertion.
func (s *Store) ShiftRegion(offset, count int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if offset < 0 || offset > s.size {
		return fmt.Errorf("offset %d outside [0, %d]: %w", offset, s.size, ErrInvalidOffset)
	}
	if count < 0 {
		return fmt.Errorf("negative shift %d: %w", count, ErrInvalidOffset)
	}
	if count == 0 {
		return nil
	}

	if err := s.file.Truncate(s.size + count); err != nil {
		return fmt.Errorf("extend file to %d bytes: %w", s.size+count, err)
	}

	buf := make([]byte, s.chunkSize)
	src := s.size
	for src > offset {
		n := s.chunkSize
		if src-offset < n {
			n = src - offset
		}
		src -= n

		if _, err := s.file.ReadAt(buf[:n], src); err != nil {
			return fmt.Errorf("shift read at offset %d: %w", src, err)
		}
		if _, err := s.file.WriteAt(buf[:n], src+count); err != nil {
			return fmt.Errorf("shift write at offset %d: %w", src+count, err)
		}
	}

	s.size += count
	return nil
}

// Sync flushes the backing file to stable storage when it supports it.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if syncer, ok := s.file.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

// Close closes the backing file and releases the advisory lock, if held.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if closer, ok := s.file.(io.Closer); ok {
		err = closer.Close()
	}
	if s.lockFile != nil {
		releaseLockFile(s.lockFile)
		s.lockFile = nil
	}
	return err
}
