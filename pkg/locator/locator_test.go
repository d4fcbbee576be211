package locator

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sortedfile/sortedfile/pkg/codec"
	"github.com/sortedfile/sortedfile/pkg/config"
	"github.com/sortedfile/sortedfile/pkg/store"
)

// fixture is a store built from sorted records with every record's start
// and end offset remembered, so locate results can be checked against the
// ground truth.
type fixture struct {
	st      *store.Store
	keys    [][]byte
	starts  map[string]int64
	ends    map[string]int64
	bodies  map[string][]byte
	path    string
	locator *Locator
}

func buildFixture(t *testing.T, cfg *config.Config, entries [][2][]byte) *fixture {
	t.Helper()

	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	path := filepath.Join(t.TempDir(), "fixture.sorted")
	hc, err := codec.NewBinaryCodecWithMaxKey(cfg.MaxKeySize)
	require.NoError(t, err)

	st, err := store.OpenFile(path, &store.Options{Codec: hc})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		st:     st,
		starts: make(map[string]int64),
		ends:   make(map[string]int64),
		bodies: make(map[string][]byte),
		path:   path,
	}

	for _, entry := range entries {
		key, body := entry[0], entry[1]
		encoded, err := st.EncodeRecord(key, body)
		require.NoError(t, err)

		offset := st.Size()
		require.NoError(t, st.WriteRecordAt(offset, encoded))

		f.keys = append(f.keys, key)
		f.starts[string(key)] = offset
		f.ends[string(key)] = offset + int64(len(encoded))
		f.bodies[string(key)] = body
	}

	f.locator = New(st, cfg, nil, nil)
	return f
}

// insertionOffset computes the ground-truth insertion offset for a key not
// present: the start of the first stored key above it, or end-of-file.
func (f *fixture) insertionOffset(key []byte) int64 {
	for _, k := range f.keys {
		if bytes.Compare(k, key) > 0 {
			return f.starts[string(k)]
		}
	}
	return f.st.Size()
}

func randomEntries(rng *rand.Rand, n int) [][2][]byte {
	entries := make([][2][]byte, 0, n)
	for i := 0; i < n; i++ {
		// Even suffixes only, so odd suffixes are guaranteed absent.
		key := []byte(fmt.Sprintf("key%06d", i*2))
		body := make([]byte, rng.Intn(120))
		rng.Read(body)
		entries = append(entries, [2][]byte{key, body})
	}
	return entries
}

func TestLocateEmptyStore(t *testing.T) {
	f := buildFixture(t, nil, nil)

	res, err := f.locator.Locate([]byte("anything"), nil)
	require.NoError(t, err)
	require.Equal(t, InsertionPoint, res.Status)
	require.Equal(t, int64(0), res.Offset)
}

func TestLocateEmptyKey(t *testing.T) {
	f := buildFixture(t, nil, nil)

	_, err := f.locator.Locate(nil, nil)
	require.Error(t, err)
}

func TestLocateSingleRecord(t *testing.T) {
	f := buildFixture(t, nil, [][2][]byte{{[]byte("mango"), []byte("fruit")}})

	res, err := f.locator.Locate([]byte("mango"), nil)
	require.NoError(t, err)
	require.Equal(t, Found, res.Status)
	require.Equal(t, int64(0), res.Offset)
	require.Equal(t, []byte("fruit"), res.Record.Body)

	res, err = f.locator.Locate([]byte("apple"), nil)
	require.NoError(t, err)
	require.Equal(t, InsertionPoint, res.Status)
	require.Equal(t, int64(0), res.Offset)

	res, err = f.locator.Locate([]byte("zebra"), nil)
	require.NoError(t, err)
	require.Equal(t, InsertionPoint, res.Status)
	require.Equal(t, f.st.Size(), res.Offset)
}

func TestLocateAllPresentKeys(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	f := buildFixture(t, nil, randomEntries(rng, 250))

	for _, key := range f.keys {
		res, err := f.locator.Locate(key, nil)
		require.NoError(t, err, "locate %q", key)
		require.Equal(t, Found, res.Status, "locate %q", key)
		require.Equal(t, f.starts[string(key)], res.Offset, "locate %q", key)
		require.Equal(t, f.bodies[string(key)], res.Record.Body, "locate %q", key)
	}
}

func TestLocateInsertionPoints(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	f := buildFixture(t, nil, randomEntries(rng, 250))

	for i := -1; i < 250; i++ {
		// Odd suffixes never exist in the fixture.
		key := []byte(fmt.Sprintf("key%06d", i*2+1))
		res, err := f.locator.Locate(key, nil)
		require.NoError(t, err, "locate %q", key)
		require.Equal(t, InsertionPoint, res.Status, "locate %q", key)
		require.Equal(t, f.insertionOffset(key), res.Offset, "locate %q", key)
	}
}

func TestLocateProbeBound(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	n := 1024
	f := buildFixture(t, nil, randomEntries(rng, n))

	// Probes stay within a small multiple of log2(N) even with
	// interpolation misestimates, thanks to the bisection fallback.
	maxAllowed := 64 // a small multiple of log2(file/minRecord)
	for i := 0; i < n; i += 37 {
		key := f.keys[i]
		res, err := f.locator.Locate(key, nil)
		require.NoError(t, err)
		require.Equal(t, Found, res.Status)
		require.LessOrEqual(t, res.Probes, maxAllowed, "locate %q", key)
	}
}

func TestLocateWithGoodHint(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	f := buildFixture(t, nil, randomEntries(rng, 250))

	target := f.keys[137]
	hint := &SearchHint{
		Low:  f.starts[string(f.keys[100])],
		High: f.ends[string(f.keys[180])],
	}

	res, err := f.locator.Locate(target, hint)
	require.NoError(t, err)
	require.Equal(t, Found, res.Status)
	require.Equal(t, f.starts[string(target)], res.Offset)
}

func TestLocateDiscardsInconsistentHints(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	f := buildFixture(t, nil, randomEntries(rng, 100))
	target := f.keys[42]

	hints := []*SearchHint{
		{Low: -500, High: -100},
		{Low: 10, High: 5},
		{Low: f.st.Size() + 100, High: f.st.Size() + 900},
		{Low: 0, High: 0, AvgRecordSize: -3},
	}
	for _, hint := range hints {
		res, err := f.locator.Locate(target, hint)
		require.NoError(t, err, "hint %+v", hint)
		require.Equal(t, Found, res.Status, "hint %+v", hint)
		require.Equal(t, f.starts[string(target)], res.Offset, "hint %+v", hint)
	}
}

func TestLocateCachedBoundary(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	f := buildFixture(t, nil, randomEntries(rng, 250))

	target := f.keys[90]
	first, err := f.locator.Locate(target, nil)
	require.NoError(t, err)
	require.Equal(t, Found, first.Status)
	require.Greater(t, first.Probes, 0)

	// The second search hits the boundary cache and verifies the record
	// without probing.
	second, err := f.locator.Locate(target, nil)
	require.NoError(t, err)
	require.Equal(t, Found, second.Status)
	require.Equal(t, first.Offset, second.Offset)
	require.Equal(t, 0, second.Probes)
}

func bigRecordConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.MaxKeySize = 16
	cfg.MaxScanDistance = 64
	return cfg
}

func TestLocateDesyncOnUnderestimatedScan(t *testing.T) {
	// One record far larger than the scan bound: a midpoint probe lands
	// inside it and the bounded resynchronization scan must give up
	// rather than loop.
	entries := [][2][]byte{
		{[]byte("aaaa"), bytes.Repeat([]byte{0x11}, 5000)},
	}
	for i := 0; i < 10; i++ {
		entries = append(entries, [2][]byte{
			[]byte(fmt.Sprintf("k%04d", i)), []byte("small"),
		})
	}
	f := buildFixture(t, bigRecordConfig(), entries)

	_, err := f.locator.Locate([]byte("k0005"), nil)
	require.ErrorIs(t, err, ErrDesync)
}

func TestLocateAvgSizeHintWidensScan(t *testing.T) {
	entries := [][2][]byte{
		{[]byte("aaaa"), bytes.Repeat([]byte{0x11}, 5000)},
	}
	for i := 0; i < 10; i++ {
		entries = append(entries, [2][]byte{
			[]byte(fmt.Sprintf("k%04d", i)), []byte("small"),
		})
	}
	f := buildFixture(t, bigRecordConfig(), entries)

	// The same search succeeds when the caller's size estimate widens the
	// scan bound past the big record.
	res, err := f.locator.Locate([]byte("k0005"), &SearchHint{AvgRecordSize: 6000})
	require.NoError(t, err)
	require.Equal(t, Found, res.Status)
	require.Equal(t, f.starts["k0005"], res.Offset)
}

func TestLocateKeyOrderViolation(t *testing.T) {
	// A small record followed by a big one with a smaller key: narrowing
	// from the left reads "mango" first, then trips over "apple" sitting
	// above it.
	f := buildFixture(t, nil, [][2][]byte{
		{[]byte("mango"), []byte("ok")},
		{[]byte("apple"), bytes.Repeat([]byte{0x22}, 200)},
	})

	_, err := f.locator.Locate([]byte("peach"), nil)
	require.ErrorIs(t, err, ErrKeyOrderViolation)
}

func TestLocateHintEdgeOnTruncatedRecord(t *testing.T) {
	f := buildFixture(t, nil, [][2][]byte{
		{[]byte("aaa"), []byte("small")},
		{[]byte("zzz"), bytes.Repeat([]byte{0x33}, 40)},
	})
	tailStart := f.starts["zzz"]

	// Chop the tail record's body, behind the store's back.
	require.NoError(t, os.Truncate(f.path, f.st.Size()-7))

	st, err := store.OpenFile(f.path, nil)
	require.NoError(t, err)
	defer st.Close()
	loc := New(st, nil, nil, nil)

	// Reconciling the hint edge reads the truncated record and detects it
	// running past end-of-file. That is corruption, not hint inconsistency:
	// the search must abort rather than quietly drop the hint and go on to
	// answer from an untrustworthy store.
	_, err = loc.Locate([]byte("aaa"), &SearchHint{Low: tailStart, High: st.Size()})
	require.ErrorIs(t, err, store.ErrCorruptStore)
}

func TestLocateTruncatedStore(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	f := buildFixture(t, nil, randomEntries(rng, 50))

	// Chop the file mid-record, behind the store's back.
	require.NoError(t, os.Truncate(f.path, f.st.Size()-7))

	st, err := store.OpenFile(f.path, nil)
	require.NoError(t, err)
	defer st.Close()
	loc := New(st, nil, nil, nil)

	// Resolving the last key requires reading the truncated record; the
	// search must fail structurally, never return a silently wrong match.
	lastKey := f.keys[len(f.keys)-1]
	_, err = loc.Locate(lastKey, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, store.ErrCorruptStore) || errors.Is(err, ErrDesync),
		"unexpected error class: %v", err)
}
