// Package locator implements heuristic-guided search over a file of
// contiguous, sorted, variable-length records. It finds the offset of a
// record by key, or the offset at which a record for that key would have
// to be spliced in, using O(log N)-like access patterns even though probe
// offsets rarely land on record boundaries.
package locator

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/sortedfile/sortedfile/pkg/common/log"
	"github.com/sortedfile/sortedfile/pkg/config"
	"github.com/sortedfile/sortedfile/pkg/stats"
	"github.com/sortedfile/sortedfile/pkg/store"
)

var (
	// ErrDesync indicates a resynchronization scan exceeded its bound
	// without finding a valid record boundary. This signals store
	// corruption or a badly mis-estimated record size hint.
	ErrDesync = errors.New("no record boundary found within scan bound")

	// ErrKeyOrderViolation indicates stored records violate the
	// ascending-key invariant.
	ErrKeyOrderViolation = errors.New("records out of key order")
)

// SearchHint is optional caller-supplied metadata biasing a search. It is
// purely advisory: a hint inconsistent with the store bounds is logged and
// discarded, never surfaced as an error.
type SearchHint struct {
	// Low and High delimit a believed offset range for the key. A zero
	// High means no range hint.
	Low  int64
	High int64
	// AvgRecordSize is an estimated typical record size. It widens the
	// resynchronization scan bound when records are believed large.
	AvgRecordSize int64
}

// Status is the terminal state of a search.
type Status int

const (
	// Found means a record with the target key exists at Result.Offset.
	Found Status = iota
	// InsertionPoint means no record matches; Result.Offset is where a
	// record for the key must be spliced in to preserve sort order.
	InsertionPoint
)

// Result describes the outcome of a Locate call.
type Result struct {
	Status Status
	// Offset is the record start (Found) or the splice offset
	// (InsertionPoint). It is always 0, end-of-file, or a record start,
	// never an offset inside a record body.
	Offset int64
	// Record is the decoded record when Status is Found.
	Record *store.Record
	// EncodedLen is the found record's total encoded length.
	EncodedLen int64
	// Probes is the number of probe iterations the search used.
	Probes int
}

// Locator performs heuristic searches against one store.
type Locator struct {
	store  *store.Store
	logger log.Logger
	stats  *stats.Collector
	cache  *boundaryCache

	interpolation   bool
	fallbackShrink  float64
	fallbackStrikes int
	maxScanDistance int64

	// largest record length observed so far, used to widen the resync
	// scan bound for stores with records bigger than the configured
	// default
	seenMu  sync.Mutex
	maxSeen int64
}

// New creates a Locator over the given store.
func New(st *store.Store, cfg *config.Config, logger log.Logger, collector *stats.Collector) *Locator {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	l := &Locator{
		store:           st,
		logger:          logger.WithField("component", "locator"),
		stats:           collector,
		interpolation:   cfg.InterpolationEnabled,
		fallbackShrink:  cfg.FallbackShrink,
		fallbackStrikes: cfg.FallbackStrikes,
		maxScanDistance: cfg.MaxScanDistance,
	}
	if cfg.BoundaryCacheSize > 0 {
		l.cache = newBoundaryCache(cfg.BoundaryCacheSize)
	}
	return l
}

// Locate finds the record with the target key, or the offset at which a
// record for that key would be inserted. Concurrent Locate calls are safe
// with each other; callers must serialize Locate against insertions.
func (l *Locator) Locate(key []byte, hint *SearchHint) (*Result, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("empty search key")
	}

	size := l.store.Size()
	if size == 0 {
		return &Result{Status: InsertionPoint, Offset: 0}, nil
	}

	scanBound := l.scanBound(hint)

	if l.cache != nil {
		if off, ok := l.cache.exact(key); ok {
			if res, ok := l.verifyCached(key, off); ok {
				if l.stats != nil {
					l.stats.TrackCacheHit()
				}
				return res, nil
			}
		}
	}

	low, high := int64(0), size
	var lowKey, highKey []byte

	if hint != nil && hint.High > 0 {
		var err error
		low, high, err = l.applyHint(hint, low, high, scanBound)
		if err != nil {
			l.trackError(err)
			return nil, err
		}
	}
	if l.cache != nil {
		low, high, lowKey, highKey = l.cache.tighten(key, low, high, lowKey, highKey)
	}

	probes := 0
	strikes := 0
	for low < high {
		probes++
		window := high - low

		var candidate int64
		if l.interpolation && strikes < l.fallbackStrikes {
			candidate = probeOffset(low, high, lowKey, highKey, key)
		} else {
			// Heuristic estimates failed to shrink the window; force
			// convergence with plain bisection for this probe.
			candidate = low + window/2
		}

		boundary, ok, err := l.resync(candidate, high, scanBound)
		if err != nil {
			l.trackError(err)
			return nil, err
		}
		if !ok {
			// No record starts in [candidate, high): the record covering
			// candidate begins before it. Compare the record at low, which
			// is always a known boundary; the window then shrinks by at
			// least that one record.
			boundary = low
		}

		hdr, err := l.store.ReadHeaderAt(boundary)
		if err != nil {
			l.trackError(err)
			return nil, err
		}
		l.observeRecordLen(hdr.RecordLen())
		recordEnd := boundary + hdr.RecordLen()

		if lowKey != nil && bytes.Compare(hdr.Key, lowKey) <= 0 {
			err := fmt.Errorf("record %q at offset %d not above preceding key %q: %w",
				hdr.Key, boundary, lowKey, ErrKeyOrderViolation)
			l.trackError(err)
			return nil, err
		}
		if highKey != nil && bytes.Compare(hdr.Key, highKey) >= 0 {
			err := fmt.Errorf("record %q at offset %d not below following key %q at offset %d: %w",
				hdr.Key, boundary, highKey, high, ErrKeyOrderViolation)
			l.trackError(err)
			return nil, err
		}

		if l.cache != nil {
			l.cache.add(hdr.Key, boundary)
		}

		switch cmp := bytes.Compare(key, hdr.Key); {
		case cmp == 0:
			rec, encLen, err := l.store.ReadRecordAt(boundary)
			if err != nil {
				l.trackError(err)
				return nil, err
			}
			if l.stats != nil {
				l.stats.TrackProbes(probes)
			}
			return &Result{
				Status:     Found,
				Offset:     boundary,
				Record:     rec,
				EncodedLen: encLen,
				Probes:     probes,
			}, nil
		case cmp < 0:
			high = boundary
			highKey = hdr.Key
		default:
			low = recordEnd
			lowKey = hdr.Key
		}

		if low > high {
			err := fmt.Errorf("record at offset %d extends past boundary %d: %w",
				boundary, high, store.ErrCorruptStore)
			l.trackError(err)
			return nil, err
		}

		if shrunk := window - (high - low); float64(shrunk) < l.fallbackShrink*float64(window) {
			strikes++
		} else {
			strikes = 0
		}
	}

	if l.stats != nil {
		l.stats.TrackProbes(probes)
	}
	return &Result{Status: InsertionPoint, Offset: low, Probes: probes}, nil
}

// InvalidateFrom drops cached boundaries at or beyond offset. The inserter
// calls this after a splice, since every boundary past the splice point
// has moved.
func (l *Locator) InvalidateFrom(offset int64) {
	if l.cache != nil {
		l.cache.invalidateFrom(offset)
	}
}

// verifyCached re-reads a cached record offset. The cache is advisory, so
// a hit is never trusted without decoding the record at that offset.
func (l *Locator) verifyCached(key []byte, offset int64) (*Result, bool) {
	rec, encLen, err := l.store.ReadRecordAt(offset)
	if err != nil || !bytes.Equal(rec.Key, key) {
		return nil, false
	}
	return &Result{
		Status:     Found,
		Offset:     offset,
		Record:     rec,
		EncodedLen: encLen,
		Probes:     0,
	}, true
}

// applyHint intersects a caller-supplied offset range with the store
// bounds and resynchronizes its edges onto record boundaries. A hint that
// cannot be reconciled with the store is discarded; only advisory
// failures (an out-of-bounds window, a scan bound exhausted because of a
// mis-estimated size) are downgraded this way. Structural errors found
// while reconciling the edges, such as detected corruption, abort the
// search itself.
func (l *Locator) applyHint(hint *SearchHint, low, high, scanBound int64) (int64, int64, error) {
	hLow, hHigh := hint.Low, hint.High
	if hLow < low {
		hLow = low
	}
	if hHigh > high {
		hHigh = high
	}
	if hLow < 0 || hLow >= hHigh {
		l.logger.Warn("discarding inconsistent search hint [%d, %d) for store of %d bytes",
			hint.Low, hint.High, high)
		if l.stats != nil {
			l.stats.TrackHint(false)
		}
		return low, high, nil
	}

	b, ok, err := l.resync(hLow, hHigh, scanBound)
	if err != nil && !errors.Is(err, ErrDesync) {
		return 0, 0, err
	}
	if err != nil || !ok {
		l.logger.Warn("discarding search hint: no record boundary near offset %d", hLow)
		if l.stats != nil {
			l.stats.TrackHint(false)
		}
		return low, high, nil
	}
	hLow = b

	if hHigh < high {
		b, ok, err = l.resync(hHigh, high, scanBound)
		if err != nil {
			if !errors.Is(err, ErrDesync) {
				return 0, 0, err
			}
			l.logger.Warn("discarding search hint: %v", err)
			if l.stats != nil {
				l.stats.TrackHint(false)
			}
			return low, high, nil
		}
		if ok {
			hHigh = b
		} else {
			hHigh = high
		}
	}

	if hLow >= hHigh {
		if l.stats != nil {
			l.stats.TrackHint(false)
		}
		return low, high, nil
	}
	if l.stats != nil {
		l.stats.TrackHint(true)
	}
	return hLow, hHigh, nil
}

// scanBound returns the resynchronization scan limit: the configured
// distance, widened by the largest record seen and by the caller's size
// estimate when present.
func (l *Locator) scanBound(hint *SearchHint) int64 {
	bound := l.maxScanDistance

	l.seenMu.Lock()
	if l.maxSeen > bound {
		bound = l.maxSeen
	}
	l.seenMu.Unlock()

	if hint != nil && hint.AvgRecordSize > 0 {
		if est := 2 * hint.AvgRecordSize; est > bound {
			bound = est
		}
	}
	return bound
}

func (l *Locator) observeRecordLen(n int64) {
	l.seenMu.Lock()
	if n > l.maxSeen {
		l.maxSeen = n
	}
	l.seenMu.Unlock()
}

func (l *Locator) trackError(err error) {
	if l.stats == nil {
		return
	}
	switch {
	case errors.Is(err, ErrDesync):
		l.stats.TrackError("desync")
	case errors.Is(err, ErrKeyOrderViolation):
		l.stats.TrackError("key_order_violation")
	case errors.Is(err, store.ErrCorruptStore):
		l.stats.TrackError("corrupt_store")
	default:
		l.stats.TrackError("other")
	}
}
