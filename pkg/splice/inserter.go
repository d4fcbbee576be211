// Package splice inserts records into a sorted record file by shifting the
// file tail forward and writing the new record into the opened gap, so the
// contiguous, padding-free, sorted invariant holds after every insert.
package splice

import (
	"errors"
	"fmt"
	"time"

	"github.com/sortedfile/sortedfile/pkg/common/log"
	"github.com/sortedfile/sortedfile/pkg/locator"
	"github.com/sortedfile/sortedfile/pkg/stats"
	"github.com/sortedfile/sortedfile/pkg/store"
)

var (
	// ErrDuplicateKey indicates an insert target that is already present.
	// This is a normal outcome for insert-if-absent workflows, distinct
	// from the structural store errors.
	ErrDuplicateKey = errors.New("key already present")

	// ErrNotFound indicates an update target that is not present
	ErrNotFound = errors.New("key not found")

	// ErrSizeMismatch indicates an in-place update whose encoded length
	// differs from the stored record's length
	ErrSizeMismatch = errors.New("encoded length differs from stored record")
)

// Inserter splices records into one store. Callers must hold the store's
// writer lock for the full duration of Insert and Update: a partially
// shifted file is not self-consistent, and a concurrent search could
// resynchronize onto spurious byte patterns.
type Inserter struct {
	store   *store.Store
	locator *locator.Locator
	logger  log.Logger
	stats   *stats.Collector
}

// New creates an Inserter over the given store and locator.
func New(st *store.Store, loc *locator.Locator, logger log.Logger, collector *stats.Collector) *Inserter {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Inserter{
		store:   st,
		locator: loc,
		logger:  logger.WithField("component", "splice"),
		stats:   collector,
	}
}

// Insert writes a new record for key at its sorted position, returning the
// offset it was written at. Inserting a key that is already present fails
// with ErrDuplicateKey and leaves the store byte-for-byte unchanged.
//
// The shift step costs O(fileSize - insertionOffset) byte moves; repeated
// single-record insertion into a large file is the known bottleneck of
// this design.
func (ins *Inserter) Insert(key, body []byte) (int64, error) {
	encoded, err := ins.store.EncodeRecord(key, body)
	if err != nil {
		return 0, err
	}

	res, err := ins.locator.Locate(key, nil)
	if err != nil {
		return 0, err
	}
	if res.Status == locator.Found {
		return 0, fmt.Errorf("key %q at offset %d: %w", key, res.Offset, ErrDuplicateKey)
	}

	p := res.Offset
	tail := ins.store.Size() - p

	if tail > 0 {
		start := time.Now()
		if err := ins.store.ShiftRegion(p, int64(len(encoded))); err != nil {
			return 0, err
		}
		if ins.stats != nil {
			ins.stats.TrackShift(tail)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			ins.logger.Warn("shifted %d bytes at offset %d in %v", tail, p, elapsed)
		}
	}
	// Inserting at end-of-file (tail == 0) needs no shift; the empty-store
	// case is the trivial instance of this with p == 0.

	if err := ins.store.WriteRecordAt(p, encoded); err != nil {
		return 0, err
	}

	ins.locator.InvalidateFrom(p)
	return p, nil
}

// Update overwrites the record for key in place. The new record must
// encode to exactly the stored record's length; Update never shifts, so a
// different length fails with ErrSizeMismatch. This is the fast path for
// same-size value changes.
func (ins *Inserter) Update(key, body []byte) (int64, error) {
	encoded, err := ins.store.EncodeRecord(key, body)
	if err != nil {
		return 0, err
	}

	res, err := ins.locator.Locate(key, nil)
	if err != nil {
		return 0, err
	}
	if res.Status != locator.Found {
		return 0, fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	if int64(len(encoded)) != res.EncodedLen {
		return 0, fmt.Errorf("key %q: new length %d, stored length %d at offset %d: %w",
			key, len(encoded), res.EncodedLen, res.Offset, ErrSizeMismatch)
	}

	if err := ins.store.WriteRecordAt(res.Offset, encoded); err != nil {
		return 0, err
	}
	return res.Offset, nil
}
