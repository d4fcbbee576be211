package table

import (
	"errors"
	"io"

	"github.com/sortedfile/sortedfile/pkg/stats"
	"github.com/sortedfile/sortedfile/pkg/store"
)

// Iterator walks the table's records in key order. Each positioning call
// takes the table's read lock, so iteration interleaves safely with other
// readers; records inserted mid-iteration may or may not be observed.
type Iterator struct {
	table  *Table
	offset int64
	encLen int64
	record *store.Record
	value  []byte
	valid  bool
	err    error
}

// NewIterator returns an iterator positioned before the first record.
func (t *Table) NewIterator() *Iterator {
	return &Iterator{table: t}
}

// SeekToFirst positions the iterator at the first record.
func (it *Iterator) SeekToFirst() {
	it.table.collector.TrackOperation(stats.OpScan)
	it.load(0)
}

// Seek positions the iterator at the first record with key >= target. The
// search and the read of the landed-on record happen under one read lock,
// so no insertion can shift the file between them.
func (it *Iterator) Seek(target []byte) {
	it.table.mu.RLock()
	defer it.table.mu.RUnlock()

	if it.table.closed {
		it.fail(ErrTableClosed)
		return
	}

	res, err := it.table.locator.Locate(target, nil)
	if err != nil {
		it.fail(err)
		return
	}
	// An insertion point is by definition the start of the first record
	// with a larger key (or end-of-file).
	it.loadLocked(res.Offset)
}

// Next advances to the record after the current one. The saved offset is
// only meaningful against the file as it was when the current record was
// read; an insertion interleaved between positioning calls shifts the
// tail, and the stale offset can then surface a structural error that is
// an artifact of the race, not store damage. Callers interleaving inserts
// with iteration must re-Seek instead of trusting Next.
func (it *Iterator) Next() {
	if !it.valid {
		return
	}
	it.load(it.offset + it.encLen)
}

// Valid reports whether the iterator is positioned at a record.
func (it *Iterator) Valid() bool {
	return it.valid
}

// Key returns the current record's key. Only valid while Valid is true.
func (it *Iterator) Key() []byte {
	if !it.valid {
		return nil
	}
	return it.record.Key
}

// Value returns the current record's decompressed value. Only valid while
// Valid is true.
func (it *Iterator) Value() []byte {
	if !it.valid {
		return nil
	}
	return it.value
}

// Offset returns the file offset of the current record.
func (it *Iterator) Offset() int64 {
	return it.offset
}

// Err returns the error that invalidated the iterator, if any. Reaching
// end-of-file is not an error.
func (it *Iterator) Err() error {
	return it.err
}

func (it *Iterator) load(offset int64) {
	it.table.mu.RLock()
	defer it.table.mu.RUnlock()
	it.loadLocked(offset)
}

func (it *Iterator) loadLocked(offset int64) {
	if it.table.closed {
		it.fail(ErrTableClosed)
		return
	}

	rec, encLen, err := it.table.store.ReadRecordAt(offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			it.valid = false
			it.record = nil
			it.value = nil
			return
		}
		it.fail(err)
		return
	}

	value, err := it.table.compressor.Decompress(rec.Body)
	if err != nil {
		it.fail(err)
		return
	}

	it.offset = offset
	it.encLen = encLen
	it.record = rec
	it.value = value
	it.valid = true
	it.err = nil
}

func (it *Iterator) fail(err error) {
	it.valid = false
	it.record = nil
	it.value = nil
	it.err = err
}
