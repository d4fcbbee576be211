package locator

import (
	"fmt"

	"github.com/sortedfile/sortedfile/pkg/store"
)

// resync locates the first record boundary at or after candidate. Because
// probe offsets are chosen by byte position, they usually land inside a
// record body; resync scans forward, attempting a header parse at each
// offset, until a checksummed header validates.
//
// The scan is bounded: it never examines more than scanBound bytes and
// never crosses limit (an offset known to be a boundary or end-of-file).
// The tagged result is (offset, true) for a boundary strictly below limit,
// (0, false) when the region [candidate, limit) provably contains no
// boundary, and ErrDesync when the bound was exhausted first. In a well-
// formed store a boundary always appears within the largest record length,
// so exhaustion signals corruption or a mis-estimated size hint.
func (l *Locator) resync(candidate, limit, scanBound int64) (int64, bool, error) {
	if candidate <= 0 {
		// Offset 0 is a boundary by definition.
		return 0, true, nil
	}

	size := l.store.Size()
	if candidate >= limit {
		return 0, false, nil
	}

	scanEnd := candidate + scanBound
	bounded := true
	if scanEnd >= limit {
		scanEnd = limit
		bounded = false
	}

	// Read enough past scanEnd that a header starting just before it can
	// still be parsed in full.
	hc := l.store.Codec()
	bufLen := scanEnd - candidate + int64(hc.MaxHeaderSize())
	if avail := size - candidate; bufLen > avail {
		bufLen = avail
	}

	buf := make([]byte, bufLen)
	n, err := l.store.ReadRaw(buf, candidate)
	if err != nil {
		return 0, false, err
	}
	if l.stats != nil {
		l.stats.TrackResync(int64(n))
	}

	for off := int64(0); candidate+off < scanEnd; off++ {
		if off >= int64(n) {
			break
		}
		hdr, _, perr := hc.ParseHeader(buf[off:n])
		if perr != nil {
			continue
		}

		boundary := candidate + off
		if boundary+hdr.RecordLen() > size {
			// A validated header whose record runs past end-of-file means
			// the store was truncated mid-record.
			return 0, false, fmt.Errorf("record at offset %d extends past end-of-file %d: %w",
				boundary, size, store.ErrCorruptStore)
		}
		return boundary, true, nil
	}

	if !bounded {
		// Scanned all the way to a known boundary without finding a record
		// start: the region is the tail of a record beginning earlier.
		return 0, false, nil
	}

	return 0, false, fmt.Errorf("scanned %d bytes from offset %d without finding a record boundary: %w",
		scanBound, candidate, ErrDesync)
}
