// Package table ties the store, locator and inserter together behind a
// single handle with the store-wide locking discipline: searches share the
// read side of one RWMutex, insertions hold the write side for their full
// critical section.
package table

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sortedfile/sortedfile/pkg/codec"
	"github.com/sortedfile/sortedfile/pkg/common/log"
	"github.com/sortedfile/sortedfile/pkg/config"
	"github.com/sortedfile/sortedfile/pkg/locator"
	"github.com/sortedfile/sortedfile/pkg/splice"
	"github.com/sortedfile/sortedfile/pkg/stats"
	"github.com/sortedfile/sortedfile/pkg/store"
)

var (
	// ErrNotFound indicates a key that is not present in the table
	ErrNotFound = errors.New("key not found in table")
	// ErrTableClosed indicates an operation on a closed table
	ErrTableClosed = errors.New("table is closed")
)

// Table is a sorted record file opened for searching and insertion.
//
// At most one insertion runs at a time; read-only operations may run
// concurrently with each other but never with an in-progress insertion.
// A crash during an insertion can leave the file inconsistent. Verify
// detects this, and callers needing crash safety must layer transactional
// semantics externally.
type Table struct {
	mu sync.RWMutex

	path       string
	cfg        *config.Config
	store      *store.Store
	locator    *locator.Locator
	inserter   *splice.Inserter
	compressor *codec.Compressor
	logger     log.Logger
	collector  *stats.Collector
	closed     bool
}

// Open opens (creating if absent) the sorted record file at path. A
// manifest sidecar records the record layout; when one exists its layout
// fields override cfg so an existing file is always decoded the way it was
// written.
func Open(path string, cfg *config.Config) (*Table, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	manifest, err := loadManifest(path)
	if err != nil && !errors.Is(err, ErrManifestNotFound) {
		return nil, err
	}
	if manifest != nil {
		cfg = mergeLayout(cfg, manifest.Config)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hc, err := codec.NewBinaryCodecWithMaxKey(cfg.MaxKeySize)
	if err != nil {
		return nil, err
	}

	st, err := store.OpenFile(path, &store.Options{
		Codec:          hc,
		ShiftChunkSize: cfg.ShiftChunkSize,
		UseFileLock:    cfg.UseFileLock,
	})
	if err != nil {
		return nil, err
	}

	compressor, err := codec.NewCompressor(cfg.Compression)
	if err != nil {
		st.Close()
		return nil, err
	}

	logger := log.GetDefaultLogger().WithField("table", filepath.Base(path))
	collector := stats.NewCollector()

	t := &Table{
		path:       path,
		cfg:        cfg,
		store:      st,
		locator:    locator.New(st, cfg, logger, collector),
		compressor: compressor,
		logger:     logger,
		collector:  collector,
	}
	t.inserter = splice.New(st, t.locator, logger, collector)

	if manifest == nil {
		if err := saveManifest(path, cfg); err != nil {
			t.Close()
			return nil, err
		}
	}

	return t, nil
}

// Get returns the value stored for key.
func (t *Table) Get(key []byte) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrTableClosed
	}

	start := time.Now()
	res, err := t.locator.Locate(key, nil)
	t.collector.TrackOperationWithLatency(stats.OpLocate, time.Since(start))
	if err != nil {
		return nil, err
	}
	if res.Status != locator.Found {
		return nil, fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	return t.compressor.Decompress(res.Record.Body)
}

// Has reports whether key is present.
func (t *Table) Has(key []byte) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return false, ErrTableClosed
	}

	res, err := t.locator.Locate(key, nil)
	if err != nil {
		return false, err
	}
	return res.Status == locator.Found, nil
}

// Locate runs a raw search with an optional caller hint, returning the
// locator's result. The record body in a Found result is the stored
// (possibly compressed) bytes.
func (t *Table) Locate(key []byte, hint *locator.SearchHint) (*locator.Result, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrTableClosed
	}

	start := time.Now()
	res, err := t.locator.Locate(key, hint)
	t.collector.TrackOperationWithLatency(stats.OpLocate, time.Since(start))
	return res, err
}

// Insert writes a new record for key at its sorted position. Inserting a
// key that is already present fails with splice.ErrDuplicateKey and leaves
// the file byte-for-byte unchanged.
func (t *Table) Insert(key, value []byte) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrTableClosed
	}

	body, err := t.compressor.Compress(value)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	offset, err := t.inserter.Insert(key, body)
	t.collector.TrackOperationWithLatency(stats.OpInsert, time.Since(start))
	if err != nil {
		return 0, err
	}

	if t.cfg.SyncOnInsert {
		if err := t.store.Sync(); err != nil {
			return 0, err
		}
	}
	return offset, nil
}

// Update overwrites the value for an existing key in place. The encoded
// record must keep its stored length; see splice.Inserter.Update.
func (t *Table) Update(key, value []byte) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrTableClosed
	}

	body, err := t.compressor.Compress(value)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	offset, err := t.inserter.Update(key, body)
	t.collector.TrackOperationWithLatency(stats.OpUpdate, time.Since(start))
	if err != nil {
		return 0, err
	}

	if t.cfg.SyncOnInsert {
		if err := t.store.Sync(); err != nil {
			return 0, err
		}
	}
	return offset, nil
}

// Size returns the table file size in bytes.
func (t *Table) Size() int64 {
	return t.store.Size()
}

// Verify walks the whole file checking that every header parses and that
// keys ascend strictly. It reports the offset of the first inconsistency.
func (t *Table) Verify() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrTableClosed
	}

	start := time.Now()
	defer func() {
		t.collector.TrackOperationWithLatency(stats.OpVerify, time.Since(start))
	}()

	size := t.store.Size()
	var prevKey []byte
	prevOffset := int64(-1)

	for offset := int64(0); offset < size; {
		hdr, err := t.store.ReadHeaderAt(offset)
		if err != nil {
			return err
		}
		if prevKey != nil && bytes.Compare(hdr.Key, prevKey) <= 0 {
			return fmt.Errorf("record %q at offset %d not above record %q at offset %d: %w",
				hdr.Key, offset, prevKey, prevOffset, locator.ErrKeyOrderViolation)
		}
		prevKey = hdr.Key
		prevOffset = offset
		offset += hdr.RecordLen()
	}
	return nil
}

// Stats returns a snapshot of the table's collected metrics.
func (t *Table) Stats() stats.Snapshot {
	return t.collector.GetStats()
}

// Sync flushes the file to stable storage.
func (t *Table) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTableClosed
	}
	return t.store.Sync()
}

// Close closes the table and its backing file.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	t.compressor.Close()
	return t.store.Close()
}
